package earnings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/fees"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

const (
	// TrailingMonths is the number of closed months shown on the dashboard.
	TrailingMonths = 3
	// PayoutHistoryLimit caps the payout history on the dashboard.
	PayoutHistoryLimit = 50
)

var ErrCreatorNotFound = errors.New("creator not found")

// Ledger is the read side of the payment ledger.
type Ledger interface {
	SumForPeriod(ctx context.Context, creatorSlug string, p period.Period) (ledger.Totals, error)
	AllTimeTotals(ctx context.Context, creatorSlug string) (ledger.Totals, error)
	MonthlyTotals(ctx context.Context, creatorSlug string) ([]ledger.MonthTotals, error)
}

// PeriodSummary is the earnings view of one month.
type PeriodSummary struct {
	Period             period.Period `json:"period"`
	Key                string        `json:"key"`
	GrossCents         int64         `json:"grossCents"`
	ProviderFeeCents   int64         `json:"providerFeeCents"`
	PlatformFeeCents   int64         `json:"platformFeeCents"`
	PayoutCents        int64         `json:"payoutCents"`
	NetCents           int64         `json:"netCents"`
	ThresholdReached   bool          `json:"thresholdReached"`
	PlatformFeeRateBps int64         `json:"platformFeeRateBps"`
}

// AllTimeSummary sums every month, with the platform fee applied per month.
type AllTimeSummary struct {
	GrossCents       int64 `json:"grossCents"`
	ProviderFeeCents int64 `json:"providerFeeCents"`
	PlatformFeeCents int64 `json:"platformFeeCents"`
	PayoutCents      int64 `json:"payoutCents"`
	NetCents         int64 `json:"netCents"`
	Months           int   `json:"months"`
}

// Dashboard is the composite earnings view of a creator.
type Dashboard struct {
	CreatorSlug       string          `json:"creatorSlug"`
	DisplayName       string          `json:"displayName"`
	Currency          string          `json:"currency"`
	Connected         bool            `json:"connected"`
	OnboardingStarted bool            `json:"onboardingStarted"`
	FeePolicy         string          `json:"feePolicy"`
	Current           PeriodSummary   `json:"current"`
	Trailing          []PeriodSummary `json:"trailing"`
	AllTime           AllTimeSummary  `json:"allTime"`
	PendingPayout     *models.Payout  `json:"pendingPayout,omitempty"`
	PayoutHistory     []models.Payout `json:"payoutHistory"`
}

// Service derives earnings from the ledger on every call. Nothing is cached.
type Service struct {
	ledger   Ledger
	payouts  repository.PayoutRepository
	creators repository.CreatorRepository
	policy   fees.Policy
	now      func() time.Time
}

// NewService wires the aggregator with the shared fee policy.
func NewService(l Ledger, payouts repository.PayoutRepository, creators repository.CreatorRepository, policy fees.Policy) *Service {
	return &Service{ledger: l, payouts: payouts, creators: creators, policy: policy, now: time.Now}
}

// WithClock overrides the clock used to find the current month.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CurrentPeriod summarizes the current UTC month.
func (s *Service) CurrentPeriod(ctx context.Context, creatorSlug string) (PeriodSummary, error) {
	return s.summarize(ctx, creatorSlug, period.CurrentMonthRangeUTC(s.now()))
}

// TrailingPeriods summarizes the n closed months before the current one, most recent first.
func (s *Service) TrailingPeriods(ctx context.Context, creatorSlug string, n int) ([]PeriodSummary, error) {
	periods := period.Trailing(s.now(), n)
	out := make([]PeriodSummary, 0, len(periods))
	for _, p := range periods {
		sum, err := s.summarize(ctx, creatorSlug, p)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// AllTime recomputes the platform fee month by month so the figure matches
// what the payout scheduler charges.
func (s *Service) AllTime(ctx context.Context, creatorSlug string) (AllTimeSummary, error) {
	totals, err := s.ledger.AllTimeTotals(ctx, creatorSlug)
	if err != nil {
		return AllTimeSummary{}, err
	}
	months, err := s.ledger.MonthlyTotals(ctx, creatorSlug)
	if err != nil {
		return AllTimeSummary{}, err
	}

	var platformFee, monthlyPayout int64
	for _, m := range months {
		res, err := s.policy.Compute(m.GrossCents)
		if err != nil {
			return AllTimeSummary{}, fmt.Errorf("fee for %s: %w", m.Period.Key(), err)
		}
		platformFee += res.PlatformFeeCents
		monthlyPayout += res.PayoutCents
	}

	return AllTimeSummary{
		GrossCents:       clamp(totals.GrossCents),
		ProviderFeeCents: clamp(totals.ProviderFeeCents),
		PlatformFeeCents: clamp(platformFee),
		PayoutCents:      clamp(monthlyPayout - totals.ProviderFeeCents),
		NetCents:         clamp(totals.GrossCents - totals.ProviderFeeCents),
		Months:           len(months),
	}, nil
}

// Dashboard joins connection status, earnings and payouts of a creator.
func (s *Service) Dashboard(ctx context.Context, creatorSlug string) (*Dashboard, error) {
	slug := models.NormalizeSlug(creatorSlug)
	creator, err := s.creators.GetBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCreatorNotFound
		}
		return nil, err
	}

	current, err := s.CurrentPeriod(ctx, slug)
	if err != nil {
		return nil, err
	}
	trailing, err := s.TrailingPeriods(ctx, slug, TrailingMonths)
	if err != nil {
		return nil, err
	}
	allTime, err := s.AllTime(ctx, slug)
	if err != nil {
		return nil, err
	}

	d := &Dashboard{
		CreatorSlug:       creator.Slug,
		DisplayName:       creator.DisplayName,
		Currency:          creator.Currency,
		Connected:         creator.IsConnected(),
		OnboardingStarted: creator.HasStripeAccount(),
		FeePolicy:         s.policy.Name(),
		Current:           current,
		Trailing:          trailing,
		AllTime:           allTime,
	}

	pending, err := s.payouts.LatestPending(ctx, slug)
	switch {
	case err == nil:
		d.PendingPayout = pending
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	history, err := s.payouts.ListByCreator(ctx, slug, PayoutHistoryLimit)
	if err != nil {
		return nil, err
	}
	if history == nil {
		history = []models.Payout{}
	}
	d.PayoutHistory = history
	return d, nil
}

func (s *Service) summarize(ctx context.Context, creatorSlug string, p period.Period) (PeriodSummary, error) {
	totals, err := s.ledger.SumForPeriod(ctx, creatorSlug, p)
	if err != nil {
		return PeriodSummary{}, err
	}
	res, err := s.policy.Compute(clamp(totals.GrossCents))
	if err != nil {
		return PeriodSummary{}, fmt.Errorf("fee for %s: %w", p.Key(), err)
	}
	return PeriodSummary{
		Period:             p,
		Key:                p.Key(),
		GrossCents:         clamp(totals.GrossCents),
		ProviderFeeCents:   clamp(totals.ProviderFeeCents),
		PlatformFeeCents:   res.PlatformFeeCents,
		PayoutCents:        clamp(totals.GrossCents - res.PlatformFeeCents - totals.ProviderFeeCents),
		NetCents:           clamp(totals.GrossCents - totals.ProviderFeeCents),
		ThresholdReached:   res.ThresholdReached,
		PlatformFeeRateBps: res.PlatformFeeRateBps,
	}, nil
}

func clamp(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
