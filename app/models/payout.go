package models

import "time"

const (
	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
	PayoutStatusFailed  = "failed"
)

// Payout is the amount owed to a creator for one calendar month. There is at
// most one row per (creator, period); reruns overwrite it.
type Payout struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	CreatorSlug      string    `gorm:"type:varchar(64);not null;index:ux_payouts_creator_period,unique,priority:1" json:"creatorSlug"`
	PeriodStart      time.Time `gorm:"not null;index:ux_payouts_creator_period,unique,priority:2" json:"periodStart"`
	PeriodEnd        time.Time `gorm:"not null;index:ux_payouts_creator_period,unique,priority:3" json:"periodEnd"`
	GrossCents       int64     `gorm:"not null;default:0" json:"grossCents"`
	PlatformFeeCents int64     `gorm:"not null;default:0" json:"platformFeeCents"`
	PayoutCents      int64     `gorm:"not null;default:0" json:"payoutCents"`
	Currency         string    `gorm:"type:varchar(3);not null" json:"currency"`
	Status           string    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	FeePolicy        string    `gorm:"type:varchar(32);not null;default:''" json:"feePolicy"`
	CreatedAt        time.Time `gorm:"autoCreateTime;index" json:"createdAt"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (p *Payout) IsPending() bool {
	return p.Status == PayoutStatusPending
}

// SameAmounts reports whether both payouts carry identical monetary fields.
func (p *Payout) SameAmounts(o *Payout) bool {
	return p.GrossCents == o.GrossCents &&
		p.PlatformFeeCents == o.PlatformFeeCents &&
		p.PayoutCents == o.PayoutCents &&
		p.Currency == o.Currency
}
