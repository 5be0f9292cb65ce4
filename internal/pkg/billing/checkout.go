package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
)

// CheckoutRequest starts a paid ticket for a creator.
type CheckoutRequest struct {
	CreatorSlug string `json:"creatorSlug" validate:"required,max=64"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency" validate:"omitempty,len=3"`
	SuccessURL  string `json:"successUrl" validate:"required,url"`
	CancelURL   string `json:"cancelUrl" validate:"required,url"`
	Message     string `json:"message" validate:"max=2000"`
}

type CheckoutResult struct {
	TicketRef string `json:"ticketRef"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// OnboardingRequest asks for a Stripe onboarding link for a creator.
type OnboardingRequest struct {
	RefreshURL string `json:"refreshUrl" validate:"required,url"`
	ReturnURL  string `json:"returnUrl" validate:"required,url"`
}

type OnboardingResult struct {
	AccountID string `json:"accountId"`
	URL       string `json:"url"`
}

// CheckoutService creates checkout sessions and onboarding links.
type CheckoutService struct {
	creators        repository.CreatorRepository
	tickets         repository.TicketRepository
	provider        PaymentProvider
	defaultCurrency string
	timeout         time.Duration
}

func NewCheckoutService(creators repository.CreatorRepository, tickets repository.TicketRepository, provider PaymentProvider) *CheckoutService {
	return &CheckoutService{
		creators:        creators,
		tickets:         tickets,
		provider:        provider,
		defaultCurrency: "usd",
		timeout:         10 * time.Second,
	}
}

func (s *CheckoutService) WithDefaultCurrency(currency string) *CheckoutService {
	if c := models.NormalizeCurrency(currency); c != "" {
		s.defaultCurrency = c
	}
	return s
}

// WithTimeout bounds each provider call.
func (s *CheckoutService) WithTimeout(d time.Duration) *CheckoutService {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// StartCheckout creates a pending ticket and a manual-capture checkout
// session for it. The creator must be payment-connected.
func (s *CheckoutService) StartCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	req.CreatorSlug = models.NormalizeSlug(req.CreatorSlug)
	if err := models.Validator().Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	creator, err := s.creator(ctx, req.CreatorSlug)
	if err != nil {
		return nil, err
	}
	if !creator.IsConnected() {
		return nil, fmt.Errorf("%w: %s", ErrCreatorNotConnected, creator.Slug)
	}

	// Payouts settle in the creator's currency, so tips must arrive in it.
	creatorCurrency := firstNonEmpty(models.NormalizeCurrency(creator.Currency), s.defaultCurrency)
	currency := firstNonEmpty(models.NormalizeCurrency(req.Currency), creatorCurrency)
	if currency != creatorCurrency {
		return nil, fmt.Errorf("%w: currency %s does not match creator currency %s", ErrInvalidInput, currency, creatorCurrency)
	}
	ticket := &models.Ticket{
		Ref:         uuid.NewString(),
		CreatorSlug: creator.Slug,
		AmountCents: req.AmountCents,
		Currency:    currency,
		State:       models.TicketStatePending,
		Message:     strings.TrimSpace(req.Message),
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	session, err := s.provider.CreateCheckoutSession(pctx, CheckoutSessionParams{
		CreatorSlug: creator.Slug,
		TicketRef:   ticket.Ref,
		AmountCents: req.AmountCents,
		Currency:    currency,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
	})
	cancel()
	if err != nil {
		// No session means no funds can ever arrive for this ticket.
		if _, rejErr := s.tickets.CompareAndSetState(ctx, ticket.ID, models.TicketStatePending, models.TicketStateRejected, ""); rejErr != nil {
			log.Errorf("[Checkout] Failed to reject orphaned ticket %s: %v", ticket.Ref, rejErr)
		}
		return nil, fmt.Errorf("%w: create checkout session: %w", ErrProvider, err)
	}

	if err := s.tickets.SetCheckoutSession(ctx, ticket.ID, session.ID); err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	log.Infof("[Checkout] Ticket %s for %s: %d %s (session %s)", ticket.Ref, creator.Slug, req.AmountCents, currency, session.ID)
	return &CheckoutResult{TicketRef: ticket.Ref, SessionID: session.ID, URL: session.URL}, nil
}

// StartOnboarding returns an onboarding link, creating the connected account
// on first use. An existing account id is always reused.
func (s *CheckoutService) StartOnboarding(ctx context.Context, slug string, req OnboardingRequest) (*OnboardingResult, error) {
	if err := models.Validator().Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	creator, err := s.creator(ctx, models.NormalizeSlug(slug))
	if err != nil {
		return nil, err
	}

	accountID := creator.StripeAccount()
	if accountID == "" {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		created, err := s.provider.CreateConnectedAccount(pctx, creator.Slug)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("%w: create account: %w", ErrProvider, err)
		}
		stored, err := s.creators.SetStripeAccountID(ctx, creator.Slug, created)
		if err != nil {
			return nil, fmt.Errorf("store account id: %w", err)
		}
		accountID = stored.StripeAccount()
		if accountID != created {
			log.Warnf("[Onboarding] Creator %s already had account %s, discarding %s", creator.Slug, accountID, created)
		}
	}

	pctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	link, err := s.provider.CreateAccountLink(pctx, accountID, req.RefreshURL, req.ReturnURL)
	if err != nil {
		return nil, fmt.Errorf("%w: create account link: %w", ErrProvider, err)
	}
	return &OnboardingResult{AccountID: accountID, URL: link}, nil
}

func (s *CheckoutService) creator(ctx context.Context, slug string) (*models.Creator, error) {
	c, err := s.creators.GetBySlug(ctx, slug)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrCreatorNotFound, slug)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}
