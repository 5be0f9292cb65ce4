package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

var (
	ErrInvalidInput = errors.New("invalid payment input")
	// ErrStorage wraps store failures. Callers may retry.
	ErrStorage = errors.New("ledger storage failure")
)

// Totals are sums over succeeded payments.
type Totals struct {
	GrossCents       int64 `json:"grossCents"`
	ProviderFeeCents int64 `json:"providerFeeCents"`
	NetCents         int64 `json:"netCents"`
}

// MonthTotals are the totals of one UTC calendar month.
type MonthTotals struct {
	Period period.Period `json:"period"`
	Totals
}

// RecordPaymentInput describes a payment to append to the ledger.
type RecordPaymentInput struct {
	CreatorSlug      string
	AmountGross      int64
	Currency         string
	ExternalID       string
	Provider         string
	Status           string
	CreatedAt        *time.Time
	TicketRef        string
	ProviderFeeCents *int64
	NetCents         *int64
}

// Recorded is the result of RecordPayment. Created is false when the
// external id was already in the ledger.
type Recorded struct {
	PaymentID uint
	Created   bool
}

// Service is the append-only payment ledger.
type Service struct {
	repo repository.PaymentRepository
	now  func() time.Time
}

// NewService creates a ledger over an injected payment repository.
func NewService(repo repository.PaymentRepository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithClock overrides the ingestion clock.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SumForPeriod sums the creator's succeeded payments with event time in p.
func (s *Service) SumForPeriod(ctx context.Context, creatorSlug string, p period.Period) (Totals, error) {
	from, to := p.StartMs(), p.EndMs()
	sums, err := s.repo.SumSucceeded(ctx, creatorSlug, &from, &to)
	if err != nil {
		return Totals{}, fmt.Errorf("%w: sum %s for %s: %w", ErrStorage, p.Key(), creatorSlug, err)
	}
	return Totals{GrossCents: sums.GrossCents, ProviderFeeCents: sums.ProviderFeeCents, NetCents: sums.NetCents}, nil
}

// SumForPeriodByCurrency is SumForPeriod keyed by lower-case currency. Months
// without payments return an empty map.
func (s *Service) SumForPeriodByCurrency(ctx context.Context, creatorSlug string, p period.Period) (map[string]Totals, error) {
	from, to := p.StartMs(), p.EndMs()
	rows, err := s.repo.SumSucceededByCurrency(ctx, creatorSlug, &from, &to)
	if err != nil {
		return nil, fmt.Errorf("%w: sum %s by currency for %s: %w", ErrStorage, p.Key(), creatorSlug, err)
	}
	out := make(map[string]Totals, len(rows))
	for _, r := range rows {
		cur := models.NormalizeCurrency(r.Currency)
		t := out[cur]
		t.GrossCents += r.GrossCents
		t.ProviderFeeCents += r.ProviderFeeCents
		t.NetCents += r.NetCents
		out[cur] = t
	}
	return out, nil
}

// AllTimeTotals sums every succeeded payment of the creator.
func (s *Service) AllTimeTotals(ctx context.Context, creatorSlug string) (Totals, error) {
	sums, err := s.repo.SumSucceeded(ctx, creatorSlug, nil, nil)
	if err != nil {
		return Totals{}, fmt.Errorf("%w: all-time sum for %s: %w", ErrStorage, creatorSlug, err)
	}
	return Totals{GrossCents: sums.GrossCents, ProviderFeeCents: sums.ProviderFeeCents, NetCents: sums.NetCents}, nil
}

// MonthlyTotals groups the creator's succeeded payments by UTC month, oldest first.
func (s *Service) MonthlyTotals(ctx context.Context, creatorSlug string) ([]MonthTotals, error) {
	rows, err := s.repo.ListSucceededAmounts(ctx, creatorSlug)
	if err != nil {
		return nil, fmt.Errorf("%w: monthly totals for %s: %w", ErrStorage, creatorSlug, err)
	}

	byKey := make(map[string]*MonthTotals)
	for _, r := range rows {
		key := period.KeyForMillis(r.CreatedAtMs)
		mt, ok := byKey[key]
		if !ok {
			p, err := period.ParseKey(key)
			if err != nil {
				return nil, err
			}
			mt = &MonthTotals{Period: p}
			byKey[key] = mt
		}
		fee := int64(0)
		if r.ProviderFeeCents != nil {
			fee = *r.ProviderFeeCents
		}
		net := r.AmountGross - fee
		if r.NetCents != nil {
			net = *r.NetCents
		}
		mt.GrossCents += r.AmountGross
		mt.ProviderFeeCents += fee
		mt.NetCents += net
	}

	out := make([]MonthTotals, 0, len(byKey))
	for _, mt := range byKey {
		out = append(out, *mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period.Start.Before(out[j].Period.Start) })
	return out, nil
}

// RecordPayment appends a payment unless its external id is already known.
// A duplicate returns the existing id and writes nothing.
func (s *Service) RecordPayment(ctx context.Context, in RecordPaymentInput) (Recorded, error) {
	p, err := s.buildPayment(in)
	if err != nil {
		return Recorded{}, err
	}

	existing, err := s.repo.GetByExternalID(ctx, p.ExternalID)
	if err == nil {
		metrics.PaymentsRecorded.WithLabelValues(p.Provider, "duplicate").Inc()
		return Recorded{PaymentID: existing.ID, Created: false}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Recorded{}, fmt.Errorf("%w: lookup %s: %w", ErrStorage, p.ExternalID, err)
	}

	created, stored, err := s.repo.CreateIfNotExists(ctx, p)
	if err != nil {
		return Recorded{}, fmt.Errorf("%w: insert %s: %w", ErrStorage, p.ExternalID, err)
	}
	if created {
		log.Infof("[Ledger] Recorded payment %s for %s: %d %s", p.ExternalID, p.CreatorSlug, p.AmountGross, p.Currency)
		metrics.PaymentsRecorded.WithLabelValues(p.Provider, "created").Inc()
	} else {
		metrics.PaymentsRecorded.WithLabelValues(p.Provider, "duplicate").Inc()
	}
	return Recorded{PaymentID: stored.ID, Created: created}, nil
}

func (s *Service) buildPayment(in RecordPaymentInput) (*models.Payment, error) {
	status := strings.ToLower(strings.TrimSpace(in.Status))
	if status == "" {
		status = models.PaymentStatusSucceeded
	}
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		provider = models.ProviderStripe
	}
	createdAt := s.now()
	if in.CreatedAt != nil && !in.CreatedAt.IsZero() {
		createdAt = *in.CreatedAt
	}

	p := &models.Payment{
		CreatorSlug:      models.NormalizeSlug(in.CreatorSlug),
		AmountGross:      in.AmountGross,
		Currency:         models.NormalizeCurrency(in.Currency),
		Status:           status,
		Provider:         provider,
		ExternalID:       strings.TrimSpace(in.ExternalID),
		CreatedAtMs:      createdAt.UnixMilli(),
		ProviderFeeCents: in.ProviderFeeCents,
		NetCents:         in.NetCents,
	}
	if ref := strings.TrimSpace(in.TicketRef); ref != "" {
		p.TicketRef = &ref
	}
	if p.ProviderFeeCents != nil && *p.ProviderFeeCents < 0 {
		return nil, fmt.Errorf("%w: provider fee must not be negative", ErrInvalidInput)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return p, nil
}
