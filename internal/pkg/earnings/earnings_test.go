package earnings

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/TipQueue/internal/pkg/fees"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

var now = time.Date(2025, 4, 15, 10, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	repos  *repository.Repositories
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.OpenTestDB(t)
	repos := repository.NewRepositories(db)
	l := ledger.NewService(repos.Payment)
	svc := NewService(l, repos.Payout, repos.Creator, fees.Default()).WithClock(func() time.Time { return now })
	return &fixture{svc: svc, ledger: l, repos: repos}
}

func (f *fixture) pay(t *testing.T, id string, gross int64, ts time.Time, providerFee int64) {
	t.Helper()
	in := ledger.RecordPaymentInput{CreatorSlug: "alice", AmountGross: gross, Currency: "usd", ExternalID: id, CreatedAt: &ts}
	if providerFee > 0 {
		in.ProviderFeeCents = &providerFee
	}
	_, err := f.ledger.RecordPayment(context.Background(), in)
	require.NoError(t, err)
}

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 8, 0, 0, 0, time.UTC)
}

func TestCurrentPeriod(t *testing.T) {
	f := newFixture(t)
	f.pay(t, "a", 6000, day(4, 1), 200)
	f.pay(t, "b", 4000, day(4, 14), 100)
	f.pay(t, "old", 9000, day(3, 31), 0)

	sum, err := f.svc.CurrentPeriod(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "2025-04", sum.Key)
	assert.Equal(t, int64(10000), sum.GrossCents)
	assert.Equal(t, int64(300), sum.ProviderFeeCents)
	assert.Equal(t, int64(666), sum.PlatformFeeCents)
	assert.Equal(t, int64(10000-666-300), sum.PayoutCents)
	assert.Equal(t, int64(9700), sum.NetCents)
	assert.True(t, sum.ThresholdReached)
}

func TestTrailingPeriods_MostRecentFirst(t *testing.T) {
	f := newFixture(t)
	f.pay(t, "mar", 5000, day(3, 3), 0)
	f.pay(t, "jan", 4999, day(1, 3), 0)

	got, err := f.svc.TrailingPeriods(context.Background(), "alice", TrailingMonths)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2025-03", "2025-02", "2025-01"}, []string{got[0].Key, got[1].Key, got[2].Key})
	assert.Equal(t, int64(333), got[0].PlatformFeeCents)
	assert.Equal(t, int64(0), got[1].GrossCents)
	assert.False(t, got[2].ThresholdReached)
	assert.Equal(t, int64(4999), got[2].PayoutCents)
}

func TestAllTime_FeePerMonth(t *testing.T) {
	f := newFixture(t)
	// two months just under the threshold: no fee, although the lifetime total crosses it
	f.pay(t, "jan", 4999, day(1, 10), 0)
	f.pay(t, "feb", 4999, day(2, 10), 0)
	f.pay(t, "mar", 10000, day(3, 10), 400)

	all, err := f.svc.AllTime(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Months)
	assert.Equal(t, int64(19998), all.GrossCents)
	assert.Equal(t, int64(666), all.PlatformFeeCents)
	assert.Equal(t, int64(400), all.ProviderFeeCents)
	assert.Equal(t, int64(4999+4999+(10000-666)-400), all.PayoutCents)
	assert.Equal(t, int64(19598), all.NetCents)
}

type stubLedger struct {
	totals ledger.Totals
}

func (s stubLedger) SumForPeriod(context.Context, string, period.Period) (ledger.Totals, error) {
	return s.totals, nil
}

func (s stubLedger) AllTimeTotals(context.Context, string) (ledger.Totals, error) {
	return s.totals, nil
}

func (s stubLedger) MonthlyTotals(context.Context, string) ([]ledger.MonthTotals, error) {
	return []ledger.MonthTotals{{Period: period.MonthRangeUTC(2025, 1), Totals: s.totals}}, nil
}

func TestSummaries_ClampNegative(t *testing.T) {
	// provider fees exceed gross, e.g. after a dispute
	svc := NewService(stubLedger{totals: ledger.Totals{GrossCents: 100, ProviderFeeCents: 500}}, nil, nil, fees.Default()).
		WithClock(func() time.Time { return now })

	cur, err := svc.CurrentPeriod(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cur.PayoutCents)
	assert.Equal(t, int64(0), cur.NetCents)

	all, err := svc.AllTime(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), all.PayoutCents)
	assert.Equal(t, int64(0), all.NetCents)
}

func TestDashboard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acct := "acct_1"
	require.NoError(t, f.repos.Creator.Create(ctx, &models.Creator{Slug: "alice", DisplayName: "Alice", Currency: "usd", StripeAccountID: &acct}))
	f.pay(t, "a", 7000, day(4, 2), 0)

	for m := 1; m <= 3; m++ {
		p := period.MonthRangeUTC(2025, m)
		require.NoError(t, f.repos.Payout.Create(ctx, &models.Payout{CreatorSlug: "alice", PeriodStart: p.Start, PeriodEnd: p.End, GrossCents: 100, PayoutCents: 100, Currency: "usd", Status: models.PayoutStatusPending}))
	}

	d, err := f.svc.Dashboard(ctx, "Alice")
	require.NoError(t, err)
	assert.False(t, d.Connected, "payout not enabled yet")
	assert.True(t, d.OnboardingStarted)
	assert.Equal(t, fees.PolicyBlockFlat, d.FeePolicy)
	assert.Equal(t, int64(7000), d.Current.GrossCents)
	assert.Len(t, d.Trailing, TrailingMonths)
	require.NotNil(t, d.PendingPayout)
	assert.Equal(t, time.March, d.PendingPayout.PeriodStart.UTC().Month())
	require.Len(t, d.PayoutHistory, 3)
	assert.Equal(t, time.March, d.PayoutHistory[0].PeriodStart.UTC().Month())

	_, err = f.svc.Dashboard(ctx, "nobody")
	assert.ErrorIs(t, err, ErrCreatorNotFound)
}

func TestDashboard_NoPayouts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.repos.Creator.Create(ctx, &models.Creator{Slug: "bob", Currency: "usd"}))

	d, err := f.svc.Dashboard(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, d.PendingPayout)
	assert.NotNil(t, d.PayoutHistory)
	assert.Empty(t, d.PayoutHistory)
	assert.Equal(t, AllTimeSummary{}, d.AllTime)
}

func TestConvertApprox(t *testing.T) {
	same, ok := ConvertApprox(1000, "usd", "USD")
	assert.True(t, ok)
	assert.False(t, same.Approximate)
	assert.Equal(t, int64(1000), same.AmountCents)

	eur, ok := ConvertApprox(1000, "usd", "eur")
	assert.True(t, ok)
	assert.True(t, eur.Approximate)
	assert.Equal(t, int64(920), eur.AmountCents)

	_, ok = ConvertApprox(1000, "usd", "xyz")
	assert.False(t, ok)
}
