package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestCreatorIsConnected(t *testing.T) {
	c := &Creator{Slug: "alice"}
	assert.False(t, c.IsConnected())

	c.PayoutEnabled = true
	assert.False(t, c.IsConnected(), "payout flag alone is not connected")

	c.PayoutEnabled = false
	c.StripeAccountID = strPtr("acct_123")
	assert.False(t, c.IsConnected(), "onboarding started but incomplete")
	assert.True(t, c.HasStripeAccount())

	c.PayoutEnabled = true
	assert.True(t, c.IsConnected())

	c.StripeAccountID = strPtr("  ")
	assert.False(t, c.IsConnected())
	assert.Equal(t, "", c.StripeAccount())
}

func TestCreatorAvgDaysPerTicketOrDefault(t *testing.T) {
	c := &Creator{}
	assert.Equal(t, DefaultAvgDaysPerTicket, c.AvgDaysPerTicketOrDefault())

	days := 4
	c.AvgDaysPerTicket = &days
	assert.Equal(t, 4, c.AvgDaysPerTicketOrDefault())
}

func TestCreatorValidate(t *testing.T) {
	c := &Creator{Slug: "alice-art", Currency: "usd"}
	require.NoError(t, c.Validate())

	for _, bad := range []string{"", "a", "Alice", "-alice", "alice-", "al ice", "al_ice"} {
		c.Slug = bad
		assert.Error(t, c.Validate(), "slug %q", bad)
	}

	c.Slug = "alice"
	c.MinPriorityTipCents = -1
	assert.Error(t, c.Validate())
}

func TestPaymentOptionalDefaults(t *testing.T) {
	p := &Payment{AmountGross: 1000}
	assert.Equal(t, int64(0), p.ProviderFeeOrZero())
	assert.Equal(t, int64(1000), p.NetOrDefault())

	fee := int64(59)
	p.ProviderFeeCents = &fee
	assert.Equal(t, int64(941), p.NetOrDefault())

	net := int64(900)
	p.NetCents = &net
	assert.Equal(t, int64(900), p.NetOrDefault())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "alice", NormalizeSlug("  Alice "))
	assert.Equal(t, "eur", NormalizeCurrency("EUR"))
}
