package payouts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/fees"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
	"github.com/ManuelReschke/TipQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

const (
	DefaultPageSize = 100
	DefaultTimeout  = 10 * time.Second
)

var ErrInvalidPeriod = errors.New("invalid payout period")

// Ledger is the part of the payment ledger the scheduler reads.
type Ledger interface {
	SumForPeriodByCurrency(ctx context.Context, creatorSlug string, p period.Period) (map[string]ledger.Totals, error)
}

// ReportArchiver stores a copy of every run result.
type ReportArchiver interface {
	ArchiveRun(ctx context.Context, result *RunResult) error
}

// CreatorFailure names a creator whose payout could not be written.
type CreatorFailure struct {
	CreatorSlug string `json:"creatorSlug"`
	Error       string `json:"error"`
}

// Discrepancy reasons.
const (
	// ReasonCurrencyMismatch marks payments in a currency other than the
	// creator's. They are not part of the payout.
	ReasonCurrencyMismatch = "currency_mismatch"
	// ReasonSettledChanged marks a settled payout whose ledger amounts
	// changed after it left pending. A sweep does not touch it.
	ReasonSettledChanged = "settled_changed"
)

// Discrepancy is ledger money a run could not reflect in a payout row.
// GrossCents is the foreign-currency total or the change since settlement.
type Discrepancy struct {
	CreatorSlug string `json:"creatorSlug"`
	Reason      string `json:"reason"`
	Currency    string `json:"currency"`
	GrossCents  int64  `json:"grossCents"`
	PayoutID    uint   `json:"payoutId,omitempty"`
}

// RunResult reports one scheduler run. Created counts inserted rows only.
// Settled counts rows a sweep left alone because they were no longer pending.
type RunResult struct {
	Period        period.Period    `json:"period"`
	FeePolicy     string           `json:"feePolicy"`
	Mode          string           `json:"mode"`
	Created       int              `json:"created"`
	Updated       int              `json:"updated"`
	Skipped       int              `json:"skipped"`
	Settled       int              `json:"settled"`
	Failed        []CreatorFailure `json:"failed"`
	Discrepancies []Discrepancy    `json:"discrepancies"`
	StartedAt     time.Time        `json:"startedAt"`
	FinishedAt    time.Time        `json:"finishedAt"`
}

// FailedSlugs lists the creators that need a retry.
func (r *RunResult) FailedSlugs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, f.CreatorSlug)
	}
	return out
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeCreated
	outcomeUpdated
	outcomeSettled
)

// Run modes. A rerun is what an operator asks for and resets every row of
// the month to pending. A sweep only refreshes rows that are still pending.
const (
	ModeRerun = "rerun"
	ModeSweep = "sweep"
)

// Scheduler writes one pending payout per creator and month.
type Scheduler struct {
	ledger   Ledger
	creators repository.CreatorRepository
	payouts  repository.PayoutRepository
	policy   fees.Policy
	archiver ReportArchiver
	currency string
	timeout  time.Duration
	pageSize int
	now      func() time.Time
}

type Option func(*Scheduler)

// WithTimeout bounds the store calls made for a single creator.
func WithTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithArchiver(a ReportArchiver) Option {
	return func(s *Scheduler) { s.archiver = a }
}

func WithPageSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithDefaultCurrency is used for creators without a currency.
func WithDefaultCurrency(currency string) Option {
	return func(s *Scheduler) { s.currency = models.NormalizeCurrency(currency) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates a scheduler using the shared fee policy.
func NewScheduler(l Ledger, creators repository.CreatorRepository, payouts repository.PayoutRepository, policy fees.Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		ledger:   l,
		creators: creators,
		payouts:  payouts,
		policy:   policy,
		currency: "usd",
		timeout:  DefaultTimeout,
		pageSize: DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SchedulePreviousMonth runs the scheduler for the month before now.
func (s *Scheduler) SchedulePreviousMonth(ctx context.Context) (*RunResult, error) {
	p := period.Previous(s.now())
	return s.ScheduleMonthlyPayouts(ctx, p.Year(), p.Month())
}

// ScheduleMonthlyPayouts upserts a pending payout for every creator that
// started onboarding and earned something in the month. Reruns overwrite the
// existing rows and reset them to pending. A failing creator is reported in
// the result and does not stop the run; only a failure to list creators does.
func (s *Scheduler) ScheduleMonthlyPayouts(ctx context.Context, year, month int) (*RunResult, error) {
	return s.run(ctx, year, month, ModeRerun)
}

// SweepMonthlyPayouts is ScheduleMonthlyPayouts for unattended runs. Rows
// that left pending are never written; if their amounts no longer match the
// ledger they are reported as discrepancies.
func (s *Scheduler) SweepMonthlyPayouts(ctx context.Context, year, month int) (*RunResult, error) {
	return s.run(ctx, year, month, ModeSweep)
}

func (s *Scheduler) run(ctx context.Context, year, month int, mode string) (*RunResult, error) {
	if year <= 0 || month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: %04d-%02d", ErrInvalidPeriod, year, month)
	}
	p := period.MonthRangeUTC(year, month)
	result := &RunResult{
		Period:        p,
		FeePolicy:     s.policy.Name(),
		Mode:          mode,
		Failed:        []CreatorFailure{},
		Discrepancies: []Discrepancy{},
		StartedAt:     s.now().UTC(),
	}
	log.Infof("[Payouts] Scheduling payouts for %s (policy=%s, mode=%s)", p.Key(), s.policy.Name(), mode)

	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = s.now().UTC()
			return result, err
		}
		page, err := s.listPage(ctx, afterID)
		if err != nil {
			result.FinishedAt = s.now().UTC()
			return result, fmt.Errorf("list creators after id %d: %w", afterID, err)
		}
		for i := range page {
			c := &page[i]
			afterID = c.ID
			out, err := s.scheduleCreator(ctx, c, p, mode, result)
			if err != nil {
				log.Errorf("[Payouts] %s: creator %s failed: %v", p.Key(), c.Slug, err)
				result.Failed = append(result.Failed, CreatorFailure{CreatorSlug: c.Slug, Error: err.Error()})
				metrics.PayoutsScheduled.WithLabelValues("failed").Inc()
				continue
			}
			switch out {
			case outcomeCreated:
				result.Created++
				metrics.PayoutsScheduled.WithLabelValues("created").Inc()
			case outcomeUpdated:
				result.Updated++
				metrics.PayoutsScheduled.WithLabelValues("updated").Inc()
			case outcomeSettled:
				result.Settled++
				metrics.PayoutsScheduled.WithLabelValues("settled").Inc()
			default:
				result.Skipped++
				metrics.PayoutsScheduled.WithLabelValues("skipped").Inc()
			}
		}
		if len(page) < s.pageSize {
			break
		}
	}

	result.FinishedAt = s.now().UTC()
	log.Infof("[Payouts] %s done: created=%d updated=%d skipped=%d settled=%d failed=%d discrepancies=%d",
		p.Key(), result.Created, result.Updated, result.Skipped, result.Settled, len(result.Failed), len(result.Discrepancies))
	for _, d := range result.Discrepancies {
		log.Warnf("[Payouts] %s: %s for %s: %d %s (payout %d) needs reconciliation",
			p.Key(), d.Reason, d.CreatorSlug, d.GrossCents, d.Currency, d.PayoutID)
	}

	if s.archiver != nil {
		if err := s.archiver.ArchiveRun(ctx, result); err != nil {
			log.Warnf("[Payouts] Failed to archive run report for %s: %v", p.Key(), err)
		}
	}
	return result, nil
}

func (s *Scheduler) listPage(ctx context.Context, afterID uint) ([]models.Creator, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.creators.ListWithStripeAccount(ctx, afterID, s.pageSize)
}

func (s *Scheduler) scheduleCreator(ctx context.Context, c *models.Creator, p period.Period, mode string, result *RunResult) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	byCurrency, err := s.ledger.SumForPeriodByCurrency(ctx, c.Slug, p)
	if err != nil {
		return outcomeSkipped, err
	}

	currency := models.NormalizeCurrency(c.Currency)
	if currency == "" {
		currency = s.currency
	}
	foreign := make([]string, 0, len(byCurrency))
	for cur, t := range byCurrency {
		if cur != currency && t.GrossCents > 0 {
			foreign = append(foreign, cur)
		}
	}
	sort.Strings(foreign)
	for _, cur := range foreign {
		result.Discrepancies = append(result.Discrepancies, Discrepancy{
			CreatorSlug: c.Slug,
			Reason:      ReasonCurrencyMismatch,
			Currency:    cur,
			GrossCents:  byCurrency[cur].GrossCents,
		})
	}

	totals := byCurrency[currency]
	if totals.GrossCents <= 0 {
		return outcomeSkipped, nil
	}

	res, err := s.policy.Compute(totals.GrossCents)
	if err != nil {
		return outcomeSkipped, err
	}

	payout := &models.Payout{
		CreatorSlug:      c.Slug,
		PeriodStart:      p.Start,
		PeriodEnd:        p.End,
		GrossCents:       totals.GrossCents,
		PlatformFeeCents: res.PlatformFeeCents,
		PayoutCents:      res.PayoutCents,
		Currency:         currency,
		Status:           models.PayoutStatusPending,
		FeePolicy:        s.policy.Name(),
	}

	existing, err := s.payouts.GetByPeriod(ctx, c.Slug, p.Start, p.End)
	if err == nil {
		return s.overwrite(ctx, existing, payout, mode, result)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return outcomeSkipped, err
	}

	err = s.payouts.Create(ctx, payout)
	if err == nil {
		return outcomeCreated, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return outcomeSkipped, err
	}

	// A concurrent run inserted the row between our read and write.
	existing, err = s.payouts.GetByPeriod(ctx, c.Slug, p.Start, p.End)
	if err != nil {
		return outcomeSkipped, err
	}
	return s.overwrite(ctx, existing, payout, mode, result)
}

func (s *Scheduler) overwrite(ctx context.Context, existing, payout *models.Payout, mode string, result *RunResult) (outcome, error) {
	if mode != ModeSweep {
		return outcomeUpdated, s.payouts.OverwriteAmounts(ctx, existing.ID, payout)
	}

	if existing.IsPending() {
		ok, err := s.payouts.OverwritePendingAmounts(ctx, existing.ID, payout)
		if err != nil {
			return outcomeSkipped, err
		}
		if ok {
			return outcomeUpdated, nil
		}
		// Settled between our read and the guarded write.
		if existing, err = s.payouts.GetByPeriod(ctx, existing.CreatorSlug, existing.PeriodStart, existing.PeriodEnd); err != nil {
			return outcomeSkipped, err
		}
	}

	if !existing.SameAmounts(payout) {
		result.Discrepancies = append(result.Discrepancies, Discrepancy{
			CreatorSlug: existing.CreatorSlug,
			Reason:      ReasonSettledChanged,
			Currency:    payout.Currency,
			GrossCents:  payout.GrossCents - existing.GrossCents,
			PayoutID:    existing.ID,
		})
	}
	return outcomeSettled, nil
}
