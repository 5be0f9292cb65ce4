package models

import "time"

// TicketState is the payment state of a ticket.
type TicketState string

const (
	TicketStatePending  TicketState = "pending"
	TicketStateHeld     TicketState = "held"
	TicketStateOpen     TicketState = "open"
	TicketStateApproved TicketState = "approved"
	TicketStateRejected TicketState = "rejected"
	TicketStateClosed   TicketState = "closed"
)

// Ticket is a paid request in a creator's queue. Only the fields the payment
// flow needs are modelled here.
type Ticket struct {
	ID                uint        `gorm:"primaryKey" json:"id"`
	Ref               string      `gorm:"type:varchar(64);not null;uniqueIndex:ux_tickets_ref" json:"ref"`
	CreatorSlug       string      `gorm:"type:varchar(64);not null;index:idx_tickets_creator_state,priority:1" json:"creatorSlug"`
	AmountCents       int64       `gorm:"not null" json:"amountCents"`
	Currency          string      `gorm:"type:varchar(3);not null" json:"currency"`
	State             TicketState `gorm:"type:varchar(16);not null;default:'pending';index:idx_tickets_creator_state,priority:2" json:"state"`
	PaymentIntentID   *string     `gorm:"type:varchar(191);default:null;index" json:"paymentIntentId,omitempty"`
	CheckoutSessionID string      `gorm:"type:varchar(191);not null;default:''" json:"checkoutSessionId"`
	Message           string      `gorm:"type:text" json:"message"`
	DecidedAt         *time.Time  `gorm:"type:timestamp;default:null" json:"decidedAt,omitempty"`
	CreatedAt         time.Time   `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time   `gorm:"autoUpdateTime" json:"updatedAt"`
}

// PaymentIntent returns the intent id or "".
func (t *Ticket) PaymentIntent() string {
	if t.PaymentIntentID == nil {
		return ""
	}
	return *t.PaymentIntentID
}
