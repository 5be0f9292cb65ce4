package models

import "time"

const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
	PaymentStatusPending   = "pending"
)

const (
	ProviderStripe = "stripe"
)

// Payment is one captured external charge. Rows are append-only and
// deduplicated by ExternalID.
type Payment struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	CreatorSlug string `gorm:"type:varchar(64);not null;index:idx_payments_creator_created,priority:1" json:"creatorSlug" validate:"required,max=64"`
	AmountGross int64  `gorm:"not null" json:"amountGross" validate:"gte=0"`
	Currency    string `gorm:"type:varchar(3);not null" json:"currency" validate:"required,len=3"`
	Status      string `gorm:"type:varchar(32);not null;index:idx_payments_creator_created,priority:3" json:"status" validate:"required,max=32"`
	Provider    string `gorm:"type:varchar(20);not null" json:"provider" validate:"required,max=20"`
	ExternalID  string `gorm:"type:varchar(191);not null;uniqueIndex:ux_payments_external_id" json:"externalId" validate:"required,max=191"`
	// CreatedAtMs is the provider event time in epoch millis.
	CreatedAtMs      int64     `gorm:"column:created_at_ms;not null;index:idx_payments_creator_created,priority:2" json:"createdAt"`
	TicketRef        *string   `gorm:"type:varchar(64);default:null;index" json:"ticketRef,omitempty"`
	ProviderFeeCents *int64    `gorm:"default:null" json:"providerFeeCents,omitempty"`
	NetCents         *int64    `gorm:"default:null" json:"netCents,omitempty"`
	IngestedAt       time.Time `gorm:"autoCreateTime" json:"ingestedAt"`
}

func (p *Payment) Validate() error {
	return Validator().Struct(p)
}

func (p *Payment) IsSucceeded() bool {
	return p.Status == PaymentStatusSucceeded
}

// ProviderFeeOrZero returns the provider fee, 0 when it was not reported.
func (p *Payment) ProviderFeeOrZero() int64 {
	if p.ProviderFeeCents == nil {
		return 0
	}
	return *p.ProviderFeeCents
}

// NetOrDefault returns the recorded net, falling back to gross minus provider fee.
func (p *Payment) NetOrDefault() int64 {
	if p.NetCents != nil {
		return *p.NetCents
	}
	return p.AmountGross - p.ProviderFeeOrZero()
}

// EventTime returns CreatedAtMs as a UTC time.
func (p *Payment) EventTime() time.Time {
	return time.UnixMilli(p.CreatedAtMs).UTC()
}
