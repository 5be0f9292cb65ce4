package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
)

// CreatorRepository defines the creator lookups used by onboarding, checkout
// and the payout scheduler.
type CreatorRepository interface {
	Create(ctx context.Context, creator *models.Creator) error
	GetBySlug(ctx context.Context, slug string) (*models.Creator, error)
	GetByStripeAccountID(ctx context.Context, accountID string) (*models.Creator, error)
	// SetStripeAccountID stores the account id only if none is set yet and
	// returns the creator as stored.
	SetStripeAccountID(ctx context.Context, slug, accountID string) (*models.Creator, error)
	SetPayoutEnabled(ctx context.Context, accountID string, enabled bool) (*models.Creator, error)
	// ListWithStripeAccount pages creators that started onboarding, ordered by id.
	ListWithStripeAccount(ctx context.Context, afterID uint, limit int) ([]models.Creator, error)
}

// PaymentRepository is the append-only payment ledger store.
type PaymentRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Payment, error)
	// CreateIfNotExists inserts the payment unless its external id exists and
	// returns the stored row either way.
	CreateIfNotExists(ctx context.Context, payment *models.Payment) (bool, *models.Payment, error)
	// SumSucceeded sums succeeded payments of a creator within [fromMs, toMs).
	// A nil bound is open.
	SumSucceeded(ctx context.Context, creatorSlug string, fromMs, toMs *int64) (PaymentSums, error)
	// SumSucceededByCurrency is SumSucceeded grouped by payment currency.
	SumSucceededByCurrency(ctx context.Context, creatorSlug string, fromMs, toMs *int64) ([]CurrencySums, error)
	ListSucceededAmounts(ctx context.Context, creatorSlug string) ([]PaymentAmount, error)
}

// PayoutRepository stores one payout per creator and period.
type PayoutRepository interface {
	GetByPeriod(ctx context.Context, creatorSlug string, start, end time.Time) (*models.Payout, error)
	Create(ctx context.Context, payout *models.Payout) error
	// OverwriteAmounts replaces monetary fields and resets the status to pending.
	OverwriteAmounts(ctx context.Context, id uint, payout *models.Payout) error
	// OverwritePendingAmounts replaces monetary fields only while the row is
	// still pending. It reports false when the row has been settled.
	OverwritePendingAmounts(ctx context.Context, id uint, payout *models.Payout) (bool, error)
	LatestPending(ctx context.Context, creatorSlug string) (*models.Payout, error)
	ListByCreator(ctx context.Context, creatorSlug string, limit int) ([]models.Payout, error)
	ListByPeriod(ctx context.Context, start, end time.Time) ([]models.Payout, error)
}

// TicketRepository covers the payment fields of tickets.
type TicketRepository interface {
	Create(ctx context.Context, ticket *models.Ticket) error
	GetByRef(ctx context.Context, ref string) (*models.Ticket, error)
	GetByPaymentIntentID(ctx context.Context, intentID string) (*models.Ticket, error)
	SetCheckoutSession(ctx context.Context, id uint, sessionID string) error
	// CompareAndSetState moves a ticket from one state to another. It returns
	// false when the ticket was not in the expected state.
	CompareAndSetState(ctx context.Context, id uint, from, to models.TicketState, intentID string) (bool, error)
}

// WebhookEventRepository is the provider event audit log.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
}

// PaymentSums are SQL-side sums over succeeded payments.
type PaymentSums struct {
	GrossCents       int64
	ProviderFeeCents int64
	NetCents         int64
	Count            int64
}

// CurrencySums are the PaymentSums of one currency.
type CurrencySums struct {
	Currency         string
	GrossCents       int64
	ProviderFeeCents int64
	NetCents         int64
	Count            int64
}

// PaymentAmount is the minimal projection used for per-month grouping.
type PaymentAmount struct {
	AmountGross      int64
	ProviderFeeCents *int64
	NetCents         *int64
	CreatedAtMs      int64
}

// Repositories struct holds all repository instances
type Repositories struct {
	Creator      CreatorRepository
	Payment      PaymentRepository
	Payout       PayoutRepository
	Ticket       TicketRepository
	WebhookEvent WebhookEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Creator:      NewCreatorRepository(db),
		Payment:      NewPaymentRepository(db),
		Payout:       NewPayoutRepository(db),
		Ticket:       NewTicketRepository(db),
		WebhookEvent: NewWebhookEventRepository(db),
	}
}
