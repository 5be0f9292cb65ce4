package models

import (
	"strings"
	"time"
)

// DefaultAvgDaysPerTicket is used when a creator has not set a turnaround estimate.
const DefaultAvgDaysPerTicket = 1

// Creator receives tips and works through the ticket queue.
// StripeAccountID and PayoutEnabled are only written by onboarding.
type Creator struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Slug                string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_creators_slug" json:"slug" validate:"required,min=2,max=64,slug"`
	DisplayName         string    `gorm:"type:varchar(150);not null;default:''" json:"displayName" validate:"max=150"`
	MinPriorityTipCents int64     `gorm:"not null;default:0" json:"minPriorityTipCents" validate:"gte=0"`
	Currency            string    `gorm:"type:varchar(3);not null;default:'usd'" json:"currency" validate:"required,len=3"`
	StripeAccountID     *string   `gorm:"type:varchar(64);default:null;index:idx_creators_stripe_account" json:"stripeAccountId,omitempty"`
	PayoutEnabled       bool      `gorm:"not null;default:false" json:"payoutEnabled"`
	AvgDaysPerTicket    *int      `gorm:"default:null" json:"avgDaysPerTicket,omitempty" validate:"omitempty,gte=1,lte=365"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (c *Creator) Validate() error {
	return Validator().Struct(c)
}

// HasStripeAccount reports whether onboarding has at least started.
func (c *Creator) HasStripeAccount() bool {
	return c.StripeAccountID != nil && strings.TrimSpace(*c.StripeAccountID) != ""
}

// IsConnected reports whether the creator can receive payments. Both the
// account id and a completed onboarding are required.
func (c *Creator) IsConnected() bool {
	return c.HasStripeAccount() && c.PayoutEnabled
}

// StripeAccount returns the account id or "" when onboarding never started.
func (c *Creator) StripeAccount() string {
	if !c.HasStripeAccount() {
		return ""
	}
	return *c.StripeAccountID
}

// AvgDaysPerTicketOrDefault returns the configured turnaround or DefaultAvgDaysPerTicket.
func (c *Creator) AvgDaysPerTicketOrDefault() int {
	if c.AvgDaysPerTicket == nil || *c.AvgDaysPerTicket <= 0 {
		return DefaultAvgDaysPerTicket
	}
	return *c.AvgDaysPerTicket
}
