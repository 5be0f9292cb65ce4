package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Stripe event types handled by the ingestor.
const (
	EventCheckoutSessionCompleted      = "checkout.session.completed"
	EventCheckoutAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventChargeSucceeded               = "charge.succeeded"
	EventPaymentIntentCapturable       = "payment_intent.amount_capturable_updated"
	EventPaymentIntentSucceeded        = "payment_intent.succeeded"
	EventPaymentIntentCanceled         = "payment_intent.canceled"
	EventPaymentIntentFailed           = "payment_intent.payment_failed"
	EventAccountUpdated                = "account.updated"
)

var ErrInvalidPayload = errors.New("invalid webhook payload")

// StripeEvent is the envelope of every Stripe webhook delivery.
type StripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Account string `json:"account"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CreatedAt returns the event time, or nil when Stripe did not send one.
func (e *StripeEvent) CreatedAt() *time.Time {
	if e.Created <= 0 {
		return nil
	}
	t := time.Unix(e.Created, 0).UTC()
	return &t
}

// ObjectID extracts data.object.id for the audit log.
func (e *StripeEvent) ObjectID() string {
	var obj struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(e.Data.Object, &obj)
	return obj.ID
}

// ParseStripeEvent decodes the envelope of a verified payload.
func ParseStripeEvent(payload []byte) (*StripeEvent, error) {
	var ev StripeEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, errors.Join(ErrInvalidPayload, err)
	}
	ev.ID = strings.TrimSpace(ev.ID)
	ev.Type = strings.TrimSpace(ev.Type)
	if ev.Type == "" {
		return nil, errors.Join(ErrInvalidPayload, errors.New("event type is missing"))
	}
	return &ev, nil
}

type checkoutSessionObject struct {
	ID            string            `json:"id"`
	PaymentIntent string            `json:"payment_intent"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	ClientRefID   string            `json:"client_reference_id"`
	Metadata      map[string]string `json:"metadata"`
}

type chargeObject struct {
	ID                 string            `json:"id"`
	PaymentIntent      string            `json:"payment_intent"`
	Captured           bool              `json:"captured"`
	AmountCaptured     int64             `json:"amount_captured"`
	Currency           string            `json:"currency"`
	Metadata           map[string]string `json:"metadata"`
	BalanceTransaction json.RawMessage   `json:"balance_transaction"`
}

// fees returns provider fee and net when the balance transaction was expanded.
// An unexpanded balance transaction is a plain id string.
func (c *chargeObject) fees() (fee, net *int64) {
	if len(c.BalanceTransaction) == 0 || c.BalanceTransaction[0] != '{' {
		return nil, nil
	}
	var bt struct {
		Fee *int64 `json:"fee"`
		Net *int64 `json:"net"`
	}
	if err := json.Unmarshal(c.BalanceTransaction, &bt); err != nil {
		return nil, nil
	}
	return bt.Fee, bt.Net
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	AmountReceived   int64             `json:"amount_received"`
	AmountCapturable int64             `json:"amount_capturable"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type accountObject struct {
	ID               string `json:"id"`
	ChargesEnabled   bool   `json:"charges_enabled"`
	PayoutsEnabled   bool   `json:"payouts_enabled"`
	DetailsSubmitted bool   `json:"details_submitted"`
}

// onboarded mirrors Stripe's definition of a fully usable connected account.
func (a *accountObject) onboarded() bool {
	return a.ChargesEnabled && a.PayoutsEnabled && a.DetailsSubmitted
}

func metadataValue(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
