package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/internal/pkg/database/dbtest"
)

func newTestRepos(t *testing.T) (*Repositories, *gorm.DB) {
	t.Helper()
	db := dbtest.OpenTestDB(t)
	return NewRepositories(db), db
}

func ms(y int, m time.Month, d int) int64 {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).UnixMilli()
}

func int64Ptr(v int64) *int64 { return &v }

func TestPaymentRepository_CreateIfNotExists(t *testing.T) {
	repos, db := newTestRepos(t)
	ctx := context.Background()

	first := &models.Payment{
		CreatorSlug: "alice", AmountGross: 1500, Currency: "usd",
		Status: models.PaymentStatusSucceeded, Provider: models.ProviderStripe,
		ExternalID: "pi_1", CreatedAtMs: ms(2025, 1, 10),
	}
	created, stored, err := repos.Payment.CreateIfNotExists(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	require.NotZero(t, stored.ID)

	dup := &models.Payment{
		CreatorSlug: "alice", AmountGross: 9999, Currency: "usd",
		Status: models.PaymentStatusSucceeded, Provider: models.ProviderStripe,
		ExternalID: "pi_1", CreatedAtMs: ms(2025, 1, 11),
	}
	created, again, err := repos.Payment.CreateIfNotExists(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)
	assert.Equal(t, int64(1500), again.AmountGross)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestPaymentRepository_SumSucceeded(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	rows := []models.Payment{
		{ExternalID: "a", AmountGross: 1000, CreatedAtMs: ms(2025, 1, 1), ProviderFeeCents: int64Ptr(59)},
		{ExternalID: "b", AmountGross: 2000, CreatedAtMs: ms(2025, 1, 31)},
		{ExternalID: "c", AmountGross: 3000, CreatedAtMs: ms(2025, 1, 15), ProviderFeeCents: int64Ptr(100), NetCents: int64Ptr(2800)},
		// end is exclusive
		{ExternalID: "d", AmountGross: 4000, CreatedAtMs: ms(2025, 2, 1)},
		{ExternalID: "e", AmountGross: 5000, CreatedAtMs: ms(2025, 1, 5), Status: models.PaymentStatusFailed},
		{ExternalID: "f", AmountGross: 6000, CreatedAtMs: ms(2025, 1, 5), CreatorSlug: "bob"},
	}
	for i := range rows {
		p := rows[i]
		if p.CreatorSlug == "" {
			p.CreatorSlug = "alice"
		}
		if p.Status == "" {
			p.Status = models.PaymentStatusSucceeded
		}
		p.Currency = "usd"
		p.Provider = models.ProviderStripe
		_, _, err := repos.Payment.CreateIfNotExists(ctx, &p)
		require.NoError(t, err)
	}

	from, to := ms(2025, 1, 1), ms(2025, 2, 1)
	sums, err := repos.Payment.SumSucceeded(ctx, "alice", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), sums.GrossCents)
	assert.Equal(t, int64(159), sums.ProviderFeeCents)
	assert.Equal(t, int64(941+2000+2800), sums.NetCents)
	assert.Equal(t, int64(3), sums.Count)

	all, err := repos.Payment.SumSucceeded(ctx, "alice", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), all.GrossCents)

	empty, err := repos.Payment.SumSucceeded(ctx, "nobody", &from, &to)
	require.NoError(t, err)
	assert.Equal(t, PaymentSums{}, empty)

	amounts, err := repos.Payment.ListSucceededAmounts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, amounts, 4)
	assert.Equal(t, ms(2025, 1, 1), amounts[0].CreatedAtMs)
	require.NotNil(t, amounts[0].ProviderFeeCents)
	assert.Equal(t, int64(59), *amounts[0].ProviderFeeCents)
	assert.Nil(t, amounts[1].ProviderFeeCents)
}

func TestPaymentRepository_SumSucceededByCurrency(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	rows := []models.Payment{
		{ExternalID: "eur_1", AmountGross: 1000, Currency: "eur", CreatedAtMs: ms(2025, 3, 2), ProviderFeeCents: int64Ptr(50)},
		{ExternalID: "eur_2", AmountGross: 2000, Currency: "eur", CreatedAtMs: ms(2025, 3, 9)},
		{ExternalID: "usd_1", AmountGross: 700, Currency: "usd", CreatedAtMs: ms(2025, 3, 4)},
		{ExternalID: "usd_apr", AmountGross: 900, Currency: "usd", CreatedAtMs: ms(2025, 4, 1)},
	}
	for i := range rows {
		p := rows[i]
		p.CreatorSlug = "alice"
		p.Status = models.PaymentStatusSucceeded
		p.Provider = models.ProviderStripe
		_, _, err := repos.Payment.CreateIfNotExists(ctx, &p)
		require.NoError(t, err)
	}

	from, to := ms(2025, 3, 1), ms(2025, 4, 1)
	sums, err := repos.Payment.SumSucceededByCurrency(ctx, "alice", &from, &to)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "eur", sums[0].Currency)
	assert.Equal(t, int64(3000), sums[0].GrossCents)
	assert.Equal(t, int64(50), sums[0].ProviderFeeCents)
	assert.Equal(t, int64(2950), sums[0].NetCents)
	assert.Equal(t, int64(2), sums[0].Count)
	assert.Equal(t, "usd", sums[1].Currency)
	assert.Equal(t, int64(700), sums[1].GrossCents)

	none, err := repos.Payment.SumSucceededByCurrency(ctx, "nobody", &from, &to)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPayoutRepository_UniquePeriod(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	p := &models.Payout{CreatorSlug: "alice", PeriodStart: start, PeriodEnd: end, GrossCents: 10000, PlatformFeeCents: 666, PayoutCents: 9334, Currency: "usd", Status: models.PayoutStatusPending}
	require.NoError(t, repos.Payout.Create(ctx, p))

	dup := &models.Payout{CreatorSlug: "alice", PeriodStart: start, PeriodEnd: end, Currency: "usd", Status: models.PayoutStatusPending}
	err := repos.Payout.Create(ctx, dup)
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)

	found, err := repos.Payout.GetByPeriod(ctx, "alice", start, end)
	require.NoError(t, err)
	assert.Equal(t, p.ID, found.ID)

	_, err = repos.Payout.GetByPeriod(ctx, "alice", end, end.AddDate(0, 1, 0))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestPayoutRepository_OverwriteResetsStatus(t *testing.T) {
	repos, db := newTestRepos(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	p := &models.Payout{CreatorSlug: "alice", PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0), GrossCents: 100, PayoutCents: 100, Currency: "usd", Status: models.PayoutStatusPending}
	require.NoError(t, repos.Payout.Create(ctx, p))
	require.NoError(t, db.Model(p).Update("status", models.PayoutStatusFailed).Error)

	require.NoError(t, repos.Payout.OverwriteAmounts(ctx, p.ID, &models.Payout{GrossCents: 5000, PlatformFeeCents: 333, PayoutCents: 4667, Currency: "usd", FeePolicy: "block_flat"}))

	got, err := repos.Payout.GetByPeriod(ctx, "alice", p.PeriodStart, p.PeriodEnd)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPending, got.Status)
	assert.Equal(t, int64(5000), got.GrossCents)
	assert.Equal(t, int64(4667), got.PayoutCents)
	assert.Equal(t, "block_flat", got.FeePolicy)

	latest, err := repos.Payout.LatestPending(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, p.ID, latest.ID)
}

func TestPayoutRepository_OverwritePendingAmountsLeavesSettledRows(t *testing.T) {
	repos, db := newTestRepos(t)
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	p := &models.Payout{CreatorSlug: "alice", PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0), GrossCents: 100, PayoutCents: 100, Currency: "usd", Status: models.PayoutStatusPending}
	require.NoError(t, repos.Payout.Create(ctx, p))

	next := &models.Payout{GrossCents: 5000, PlatformFeeCents: 333, PayoutCents: 4667, Currency: "usd", FeePolicy: "block_flat"}
	ok, err := repos.Payout.OverwritePendingAmounts(ctx, p.ID, next)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Payout.OverwritePendingAmounts(ctx, p.ID, next)
	require.NoError(t, err)
	assert.True(t, ok, "unchanged values still count as a pending row")

	require.NoError(t, db.Model(p).Update("status", models.PayoutStatusPaid).Error)
	ok, err = repos.Payout.OverwritePendingAmounts(ctx, p.ID, &models.Payout{GrossCents: 9000, PayoutCents: 9000, Currency: "usd"})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repos.Payout.GetByPeriod(ctx, "alice", p.PeriodStart, p.PeriodEnd)
	require.NoError(t, err)
	assert.Equal(t, models.PayoutStatusPaid, got.Status)
	assert.Equal(t, int64(5000), got.GrossCents)
	assert.Equal(t, int64(4667), got.PayoutCents)
}

func TestPayoutRepository_ListByCreatorNewestFirst(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()
	for m := 1; m <= 4; m++ {
		start := time.Date(2024, time.Month(m), 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, repos.Payout.Create(ctx, &models.Payout{CreatorSlug: "alice", PeriodStart: start, PeriodEnd: start.AddDate(0, 1, 0), Currency: "usd", Status: models.PayoutStatusPending}))
	}

	list, err := repos.Payout.ListByCreator(ctx, "alice", 3)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, time.April, list[0].PeriodStart.UTC().Month())
	assert.Equal(t, time.February, list[2].PeriodStart.UTC().Month())

	byPeriod, err := repos.Payout.ListByPeriod(ctx, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, byPeriod, 1)
}

func TestCreatorRepository_StripeAccount(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Creator.Create(ctx, &models.Creator{Slug: "alice", Currency: "usd"}))
	require.NoError(t, repos.Creator.Create(ctx, &models.Creator{Slug: "bob", Currency: "usd"}))
	require.NoError(t, repos.Creator.Create(ctx, &models.Creator{Slug: "carol", Currency: "usd"}))

	c, err := repos.Creator.SetStripeAccountID(ctx, "alice", "acct_1")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", c.StripeAccount())

	// existing account id is kept
	c, err = repos.Creator.SetStripeAccountID(ctx, "alice", "acct_2")
	require.NoError(t, err)
	assert.Equal(t, "acct_1", c.StripeAccount())

	_, err = repos.Creator.SetStripeAccountID(ctx, "carol", "acct_3")
	require.NoError(t, err)

	c, err = repos.Creator.SetPayoutEnabled(ctx, "acct_1", true)
	require.NoError(t, err)
	assert.True(t, c.IsConnected())

	page, err := repos.Creator.ListWithStripeAccount(ctx, 0, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "alice", page[0].Slug)

	page, err = repos.Creator.ListWithStripeAccount(ctx, page[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].Slug)

	_, err = repos.Creator.GetByStripeAccountID(ctx, "acct_missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestTicketRepository_CompareAndSetState(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	ticket := &models.Ticket{Ref: "t-1", CreatorSlug: "alice", AmountCents: 1000, Currency: "usd", State: models.TicketStatePending}
	require.NoError(t, repos.Ticket.Create(ctx, ticket))

	ok, err := repos.Ticket.CompareAndSetState(ctx, ticket.ID, models.TicketStatePending, models.TicketStateHeld, "pi_9")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.Ticket.CompareAndSetState(ctx, ticket.ID, models.TicketStatePending, models.TicketStateHeld, "")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repos.Ticket.GetByPaymentIntentID(ctx, "pi_9")
	require.NoError(t, err)
	assert.Equal(t, models.TicketStateHeld, got.State)
	assert.Nil(t, got.DecidedAt)
}

func TestWebhookEventRepository_Dedup(t *testing.T) {
	repos, _ := newTestRepos(t)
	ctx := context.Background()

	ev := &models.BillingWebhookEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "charge.succeeded", PayloadJSON: "{}"}
	created, stored, err := repos.WebhookEvent.CreateIfNotExists(ctx, ev)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, stored.Succeeded())

	require.NoError(t, repos.WebhookEvent.MarkProcessed(ctx, stored.ID, ""))

	created, stored, err = repos.WebhookEvent.CreateIfNotExists(ctx, &models.BillingWebhookEvent{Provider: "stripe", ProviderEventID: "evt_1", EventType: "charge.succeeded", PayloadJSON: "{}"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, stored.Succeeded())
}
