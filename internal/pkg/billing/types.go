package billing

import (
	"context"
	"errors"
)

var (
	ErrInvalidInput        = errors.New("invalid billing input")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrCreatorNotFound     = errors.New("creator not found")
	ErrCreatorNotConnected = errors.New("creator has not completed payment onboarding")
	// ErrProvider wraps failures of the payment provider API.
	ErrProvider = errors.New("payment provider failure")
)

// Metadata keys attached to checkout sessions and payment intents.
const (
	MetadataCreatorSlug = "creatorSlug"
	MetadataTicketRef   = "ticketRef"
)

// PaymentProvider is the subset of the Stripe API the engine calls. The real
// implementation is StripeClient; tests use fakes.
type PaymentProvider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutSessionParams) (*CheckoutSession, error)
	CreateConnectedAccount(ctx context.Context, creatorSlug string) (string, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	CapturePaymentIntent(ctx context.Context, intentID string) error
	CancelPaymentIntent(ctx context.Context, intentID string) error
}

// CheckoutSessionParams describes a hosted checkout for one ticket. Funds
// are authorized only and captured when the creator approves.
type CheckoutSessionParams struct {
	CreatorSlug string
	TicketRef   string
	AmountCents int64
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	ObjectID        string
	PayloadJSON     string
}
