package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/internal/pkg/billing"
	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
	"github.com/ManuelReschke/TipQueue/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/TipQueue/internal/pkg/period"
)

const webhookSecret = "whsec_engine"

type fakeProvider struct {
	captured []string
	canceled []string
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params billing.CheckoutSessionParams) (*billing.CheckoutSession, error) {
	return &billing.CheckoutSession{ID: "cs_" + params.TicketRef, URL: "https://checkout.test/" + params.TicketRef}, nil
}

func (p *fakeProvider) CreateConnectedAccount(_ context.Context, slug string) (string, error) {
	return "acct_" + slug, nil
}

func (p *fakeProvider) CreateAccountLink(_ context.Context, accountID, _, _ string) (string, error) {
	return "https://connect.test/" + accountID, nil
}

func (p *fakeProvider) CapturePaymentIntent(_ context.Context, intentID string) error {
	p.captured = append(p.captured, intentID)
	return nil
}

func (p *fakeProvider) CancelPaymentIntent(_ context.Context, intentID string) error {
	p.canceled = append(p.canceled, intentID)
	return nil
}

func newTestEngine(t *testing.T, environ map[string]string) (*Engine, *fakeProvider) {
	t.Helper()
	base := map[string]string{"DB_DRIVER": "sqlite", "STRIPE_WEBHOOK_SECRET": webhookSecret}
	for k, v := range environ {
		base[k] = v
	}
	cfg, err := config.Parse(base)
	require.NoError(t, err)

	p := &fakeProvider{}
	e, err := New(context.Background(), cfg, dbtest.OpenTestDB(t), WithProvider(p))
	require.NoError(t, err)
	return e, p
}

func signedEvent(t *testing.T, id, typ string, object interface{}) ([]byte, string) {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	now := time.Now().UTC()
	payload, err := json.Marshal(map[string]interface{}{
		"id":      id,
		"type":    typ,
		"created": now.Unix(),
		"data":    map[string]json.RawMessage{"object": obj},
	})
	require.NoError(t, err)
	return payload, billing.SignStripePayload(payload, webhookSecret, now)
}

func TestNew_RejectsBadFeePolicy(t *testing.T) {
	cfg, err := config.Parse(map[string]string{"DB_DRIVER": "sqlite"})
	require.NoError(t, err)
	cfg.Fee.Policy = "percent"

	_, err = New(context.Background(), cfg, dbtest.OpenTestDB(t))
	assert.Error(t, err)
}

func TestNew_SharesFeePolicy(t *testing.T) {
	e, _ := newTestEngine(t, map[string]string{"FEE_POLICY": "bps_percentage"})
	assert.Equal(t, "bps_percentage", e.Policy.Name())
	assert.Nil(t, e.Archive)
	assert.NotNil(t, e.Scheduler)
	assert.NotNil(t, e.Ingestor)
}

// A tip goes from checkout through authorization and approval into the
// ledger, the dashboard and a payout row.
func TestEngine_TipLifecycle(t *testing.T) {
	e, provider := newTestEngine(t, nil)
	ctx := context.Background()

	acct := "acct_alice"
	require.NoError(t, e.Repos.Creator.Create(ctx, &models.Creator{
		Slug: "alice", DisplayName: "Alice", Currency: "usd", StripeAccountID: &acct, PayoutEnabled: true,
	}))

	checkout, err := e.Checkout.StartCheckout(ctx, billing.CheckoutRequest{
		CreatorSlug: "alice",
		AmountCents: 6000,
		SuccessURL:  "https://app.test/ok",
		CancelURL:   "https://app.test/cancel",
	})
	require.NoError(t, err)

	ticket, err := e.Tickets.Get(ctx, checkout.TicketRef)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatePending, ticket.State)

	payload, sig := signedEvent(t, "evt_auth", billing.EventPaymentIntentCapturable, map[string]interface{}{
		"id":                "pi_1",
		"status":            "requires_capture",
		"amount_capturable": 6000,
		"currency":          "usd",
		"metadata":          map[string]string{billing.MetadataTicketRef: checkout.TicketRef, billing.MetadataCreatorSlug: "alice"},
	})
	out, err := e.Ingestor.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.False(t, out.Ignored)

	ticket, err = e.Tickets.Approve(ctx, checkout.TicketRef)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStateApproved, ticket.State)
	assert.Equal(t, []string{"pi_1"}, provider.captured)

	// The capture webhook for the same intent must not double count.
	payload, sig = signedEvent(t, "evt_captured", billing.EventPaymentIntentSucceeded, map[string]interface{}{
		"id":              "pi_1",
		"status":          "succeeded",
		"amount_received": 6000,
		"currency":        "usd",
		"metadata":        map[string]string{billing.MetadataTicketRef: checkout.TicketRef, billing.MetadataCreatorSlug: "alice"},
	})
	out, err = e.Ingestor.Handle(ctx, payload, sig)
	require.NoError(t, err)
	assert.False(t, out.PaymentCreated)

	d, err := e.Earnings.Dashboard(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, d.Connected)
	assert.Equal(t, int64(6000), d.Current.GrossCents)
	assert.Equal(t, int64(333), d.Current.PlatformFeeCents)
	assert.Equal(t, int64(5667), d.Current.PayoutCents)

	current := period.CurrentMonthRangeUTC(time.Now())
	res, err := e.Scheduler.ScheduleMonthlyPayouts(ctx, current.Year(), current.Month())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Failed)

	rows, err := e.Repos.Payout.ListByPeriod(ctx, current.Start, current.End)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(5667), rows[0].PayoutCents)
	assert.Equal(t, models.PayoutStatusPending, rows[0].Status)
}
