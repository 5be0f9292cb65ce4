// Package engine wires the earnings and payout services from configuration.
// The HTTP server and payoutctl share it.
package engine

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/billing"
	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
	"github.com/ManuelReschke/TipQueue/internal/pkg/earnings"
	"github.com/ManuelReschke/TipQueue/internal/pkg/fees"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
	"github.com/ManuelReschke/TipQueue/internal/pkg/payouts"
	"github.com/ManuelReschke/TipQueue/internal/pkg/s3archive"
	"github.com/ManuelReschke/TipQueue/internal/pkg/tickets"
)

// Engine holds one instance of every service. All of them share the same
// fee policy and repositories.
type Engine struct {
	Config    *config.Config
	DB        *gorm.DB
	Repos     *repository.Repositories
	Policy    fees.Policy
	Ledger    *ledger.Service
	Provider  billing.PaymentProvider
	Tickets   *tickets.Service
	Ingestor  *billing.Ingestor
	Checkout  *billing.CheckoutService
	Earnings  *earnings.Service
	Scheduler *payouts.Scheduler
	// Archive is nil unless S3_ARCHIVE_ENABLED is set.
	Archive *s3archive.Client
}

// Option adjusts the engine before services are built.
type Option func(*Engine)

// WithProvider replaces the Stripe client, e.g. with a fake in tests.
func WithProvider(p billing.PaymentProvider) Option {
	return func(e *Engine) { e.Provider = p }
}

// New builds the services. An unreachable archive bucket is logged and the
// archive left off; payouts never depend on it.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, opts ...Option) (*Engine, error) {
	policy, err := cfg.FeePolicy()
	if err != nil {
		return nil, fmt.Errorf("fee policy: %w", err)
	}

	e := &Engine{
		Config: cfg,
		DB:     db,
		Repos:  repository.NewRepositories(db),
		Policy: policy,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Provider == nil {
		e.Provider = billing.NewStripeClient(cfg.Stripe)
	}
	if cfg.Stripe.WebhookSecret == "" {
		log.Warn("[Engine] STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	e.Ledger = ledger.NewService(e.Repos.Payment)
	e.Tickets = tickets.NewService(e.Repos.Ticket, e.Provider, e.Ledger).WithTimeout(cfg.OperationTimeout)
	e.Ingestor = billing.NewIngestor(cfg.Stripe.WebhookSecret, billing.NewEventLog(e.Repos.WebhookEvent), e.Ledger, e.Tickets, e.Repos.Creator).
		WithTolerance(cfg.Stripe.SigTolerance)
	e.Checkout = billing.NewCheckoutService(e.Repos.Creator, e.Repos.Ticket, e.Provider).
		WithDefaultCurrency(cfg.DefaultCurrency).
		WithTimeout(cfg.OperationTimeout)
	e.Earnings = earnings.NewService(e.Ledger, e.Repos.Payout, e.Repos.Creator, policy)

	schedulerOpts := []payouts.Option{
		payouts.WithTimeout(cfg.OperationTimeout),
		payouts.WithDefaultCurrency(cfg.DefaultCurrency),
	}
	if cfg.Archive.Enabled {
		archive, err := s3archive.NewClient(ctx, cfg.Archive)
		if err != nil {
			log.Errorf("[Engine] Payout run archive disabled: %v", err)
		} else {
			e.Archive = archive
			schedulerOpts = append(schedulerOpts, payouts.WithArchiver(archive))
		}
	}
	e.Scheduler = payouts.NewScheduler(e.Ledger, e.Repos.Creator, e.Repos.Payout, policy, schedulerOpts...)

	log.Infof("[Engine] Ready (fee policy %s, currency %s)", policy.Name(), cfg.DefaultCurrency)
	return e, nil
}
