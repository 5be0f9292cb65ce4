package billing

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
)

// StripeClient implements PaymentProvider on top of the stripe-go SDK.
type StripeClient struct {
	api       *client.API
	secretKey string
}

// stripeLogger routes SDK logs through the fiber logger.
type stripeLogger struct{}

func (stripeLogger) Debugf(format string, v ...interface{}) { log.Debugf("[Stripe] "+format, v...) }
func (stripeLogger) Infof(format string, v ...interface{})  { log.Debugf("[Stripe] "+format, v...) }
func (stripeLogger) Warnf(format string, v ...interface{})  { log.Warnf("[Stripe] "+format, v...) }
func (stripeLogger) Errorf(format string, v ...interface{}) { log.Errorf("[Stripe] "+format, v...) }

func NewStripeClient(cfg config.Stripe) *StripeClient {
	key := strings.TrimSpace(cfg.SecretKey)
	retries := cfg.MaxNetworkRetries
	httpClient := &http.Client{Timeout: 15 * time.Second}

	backendConfig := func() *stripe.BackendConfig {
		bc := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(retries),
			LeveledLogger:     stripeLogger{},
		}
		if base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/"); base != "" {
			bc.URL = stripe.String(base)
		}
		return bc
	}

	return &StripeClient{
		secretKey: key,
		api: client.New(key, &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig()),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig()),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig()),
		}),
	}
}

func (c *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutSessionParams) (*CheckoutSession, error) {
	if p.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := c.ready(); err != nil {
		return nil, err
	}
	name := p.ProductName
	if name == "" {
		name = "Priority ticket for " + p.CreatorSlug
	}
	metadata := map[string]string{
		MetadataCreatorSlug: p.CreatorSlug,
		MetadataTicketRef:   p.TicketRef,
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(p.SuccessURL),
		CancelURL:         stripe.String(p.CancelURL),
		ClientReferenceID: stripe.String(p.TicketRef),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(strings.ToLower(p.Currency)),
				UnitAmount:  stripe.Int64(p.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(name)},
			},
		}},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
			Metadata:      metadata,
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + p.TicketRef)

	s, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, err
	}
	if s.ID == "" || s.URL == "" {
		return nil, errors.New("stripe checkout session response missing id or url")
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

func (c *StripeClient) CreateConnectedAccount(ctx context.Context, creatorSlug string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	params := &stripe.AccountParams{Type: stripe.String(string(stripe.AccountTypeExpress))}
	params.AddMetadata(MetadataCreatorSlug, creatorSlug)
	params.Context = ctx
	params.SetIdempotencyKey("account-" + creatorSlug)

	acct, err := c.api.Accounts.New(params)
	if err != nil {
		return "", err
	}
	if acct.ID == "" {
		return "", errors.New("stripe account response missing id")
	}
	return acct.ID, nil
}

func (c *StripeClient) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := c.api.AccountLinks.New(params)
	if err != nil {
		return "", err
	}
	if link.URL == "" {
		return "", errors.New("stripe account link response missing url")
	}
	return link.URL, nil
}

func (c *StripeClient) CapturePaymentIntent(ctx context.Context, intentID string) error {
	if strings.TrimSpace(intentID) == "" {
		return errors.New("payment intent id is required")
	}
	if err := c.ready(); err != nil {
		return err
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + intentID)
	_, err := c.api.PaymentIntents.Capture(intentID, params)
	return err
}

func (c *StripeClient) CancelPaymentIntent(ctx context.Context, intentID string) error {
	if strings.TrimSpace(intentID) == "" {
		return errors.New("payment intent id is required")
	}
	if err := c.ready(); err != nil {
		return err
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	params.SetIdempotencyKey("cancel-" + intentID)
	_, err := c.api.PaymentIntents.Cancel(intentID, params)
	return err
}

func (c *StripeClient) ready() error {
	if c.secretKey == "" {
		return errors.New("STRIPE_SECRET_KEY is not configured")
	}
	return nil
}
