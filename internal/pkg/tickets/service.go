package tickets

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
	"github.com/ManuelReschke/TipQueue/internal/pkg/metrics"
)

var (
	ErrTicketNotFound = errors.New("ticket not found")
	// ErrNoPaymentIntent is returned when a ticket has no authorized payment to act on.
	ErrNoPaymentIntent = errors.New("ticket has no payment intent")
	// ErrProvider wraps payment provider failures. The ticket state is unchanged.
	ErrProvider = errors.New("payment provider failure")
	// ErrStateConflict means another request changed the ticket first.
	ErrStateConflict = errors.New("ticket state changed concurrently")
)

// PaymentProvider captures or releases held funds.
type PaymentProvider interface {
	CapturePaymentIntent(ctx context.Context, intentID string) error
	CancelPaymentIntent(ctx context.Context, intentID string) error
}

// Recorder appends captured payments to the ledger.
type Recorder interface {
	RecordPayment(ctx context.Context, in ledger.RecordPaymentInput) (ledger.Recorded, error)
}

// Service drives the payment side of a ticket: hold, capture or release, close.
type Service struct {
	repo     repository.TicketRepository
	provider PaymentProvider
	ledger   Recorder
	timeout  time.Duration
}

// NewService creates the ticket payment service. provider may be nil for
// webhook-only use; Approve and Reject then fail with ErrProvider.
func NewService(repo repository.TicketRepository, provider PaymentProvider, l Recorder) *Service {
	return &Service{repo: repo, provider: provider, ledger: l, timeout: 10 * time.Second}
}

// WithTimeout bounds each provider call.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Get returns a ticket by ref.
func (s *Service) Get(ctx context.Context, ref string) (*models.Ticket, error) {
	return s.find(ctx, ref, "")
}

// Lookup finds a ticket by ref, or by payment intent when ref is empty.
func (s *Service) Lookup(ctx context.Context, ref, intentID string) (*models.Ticket, error) {
	return s.find(ctx, ref, intentID)
}

// MarkHeld records that funds for the ticket's checkout are on hold. Tickets
// that already moved past pending are returned unchanged, since provider
// events may arrive out of order.
func (s *Service) MarkHeld(ctx context.Context, ref, intentID string) (*models.Ticket, error) {
	t, err := s.find(ctx, ref, intentID)
	if err != nil {
		return nil, err
	}
	if t.State != models.TicketStatePending {
		return t, nil
	}
	if err := s.move(ctx, t, models.TicketStateHeld, intentID); err != nil {
		return t, err
	}
	return t, nil
}

// MarkAuthorized confirms the authorization and opens the ticket for the
// creator. A pending ticket passes through held.
func (s *Service) MarkAuthorized(ctx context.Context, ref, intentID string) (*models.Ticket, error) {
	t, err := s.find(ctx, ref, intentID)
	if err != nil {
		return nil, err
	}
	switch t.State {
	case models.TicketStateApproved, models.TicketStateRejected, models.TicketStateClosed:
		return t, nil
	}
	if t.State == models.TicketStatePending {
		if err := s.move(ctx, t, models.TicketStateHeld, intentID); err != nil {
			return t, err
		}
	}
	if err := s.move(ctx, t, models.TicketStateOpen, intentID); err != nil {
		return t, err
	}
	return t, nil
}

// Approve captures the held funds, records the payment and marks the ticket
// approved. Nothing is written when the capture fails.
func (s *Service) Approve(ctx context.Context, ref string) (*models.Ticket, error) {
	t, err := s.find(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	if t.State == models.TicketStateApproved {
		return t, nil
	}
	if t.State != models.TicketStateOpen {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, models.TicketStateApproved)
	}
	intentID := t.PaymentIntent()
	if intentID == "" {
		return t, ErrNoPaymentIntent
	}

	if err := s.callProvider(ctx, func(ctx context.Context) error {
		return s.provider.CapturePaymentIntent(ctx, intentID)
	}); err != nil {
		log.Errorf("[Tickets] Capture failed for ticket %s (intent %s): %v", t.Ref, intentID, err)
		return t, err
	}

	if _, err := s.ledger.RecordPayment(ctx, ledger.RecordPaymentInput{
		CreatorSlug: t.CreatorSlug,
		AmountGross: t.AmountCents,
		Currency:    t.Currency,
		ExternalID:  intentID,
		Provider:    models.ProviderStripe,
		Status:      models.PaymentStatusSucceeded,
		TicketRef:   t.Ref,
	}); err != nil {
		// The capture webhook records the same intent id later.
		log.Errorf("[Tickets] Captured ticket %s but ledger write failed: %v", t.Ref, err)
		return t, err
	}

	if err := s.move(ctx, t, models.TicketStateApproved, ""); err != nil {
		return t, err
	}
	log.Infof("[Tickets] Ticket %s approved, captured %d %s", t.Ref, t.AmountCents, t.Currency)
	return t, nil
}

// Reject releases the hold if there is one and marks the ticket rejected.
func (s *Service) Reject(ctx context.Context, ref string) (*models.Ticket, error) {
	t, err := s.find(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	if t.State == models.TicketStateRejected {
		return t, nil
	}
	if !CanTransition(t.State, models.TicketStateRejected) {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.State, models.TicketStateRejected)
	}
	if intentID := t.PaymentIntent(); intentID != "" {
		if err := s.callProvider(ctx, func(ctx context.Context) error {
			return s.provider.CancelPaymentIntent(ctx, intentID)
		}); err != nil {
			log.Errorf("[Tickets] Cancel failed for ticket %s (intent %s): %v", t.Ref, intentID, err)
			return t, err
		}
	}
	if err := s.move(ctx, t, models.TicketStateRejected, ""); err != nil {
		return t, err
	}
	return t, nil
}

// Close archives a decided ticket.
func (s *Service) Close(ctx context.Context, ref string) (*models.Ticket, error) {
	t, err := s.find(ctx, ref, "")
	if err != nil {
		return nil, err
	}
	if err := s.move(ctx, t, models.TicketStateClosed, ""); err != nil {
		return t, err
	}
	return t, nil
}

// MarkCaptured handles a capture confirmed by the provider. Only open tickets
// move to approved; any other state is left alone.
func (s *Service) MarkCaptured(ctx context.Context, intentID string) (*models.Ticket, error) {
	t, err := s.find(ctx, "", intentID)
	if err != nil {
		return nil, err
	}
	if t.State != models.TicketStateOpen {
		return t, nil
	}
	if err := s.move(ctx, t, models.TicketStateApproved, ""); err != nil {
		return t, err
	}
	return t, nil
}

// MarkReleased handles a hold the provider released or that expired.
func (s *Service) MarkReleased(ctx context.Context, intentID string) (*models.Ticket, error) {
	t, err := s.find(ctx, "", intentID)
	if err != nil {
		return nil, err
	}
	if t.State == models.TicketStateClosed {
		return t, nil
	}
	if err := s.move(ctx, t, models.TicketStateRejected, ""); err != nil {
		return t, err
	}
	return t, nil
}

func (s *Service) find(ctx context.Context, ref, intentID string) (*models.Ticket, error) {
	var (
		t   *models.Ticket
		err error
	)
	switch {
	case ref != "":
		t, err = s.repo.GetByRef(ctx, ref)
	case intentID != "":
		t, err = s.repo.GetByPaymentIntentID(ctx, intentID)
	default:
		return nil, fmt.Errorf("%w: no ref or payment intent given", ErrTicketNotFound)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: ref=%q intent=%q", ErrTicketNotFound, ref, intentID)
	}
	return t, err
}

// move applies one transition with a compare-and-set on the stored state.
func (s *Service) move(ctx context.Context, t *models.Ticket, to models.TicketState, intentID string) error {
	from := t.State
	if from == to {
		return nil
	}
	if _, err := Transition(from, to); err != nil {
		return err
	}
	ok, err := s.repo.CompareAndSetState(ctx, t.ID, from, to, intentID)
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.repo.GetByRef(ctx, t.Ref)
		if err != nil {
			return err
		}
		*t = *current
		if current.State == to {
			return nil
		}
		return fmt.Errorf("%w: ticket %s is %s, wanted %s -> %s", ErrStateConflict, t.Ref, current.State, from, to)
	}
	t.State = to
	if intentID != "" {
		t.PaymentIntentID = &intentID
	}
	metrics.TicketTransitions.WithLabelValues(string(from), string(to)).Inc()
	log.Debugf("[Tickets] Ticket %s: %s -> %s", t.Ref, from, to)
	return nil
}

func (s *Service) callProvider(ctx context.Context, fn func(context.Context) error) error {
	if s.provider == nil {
		return fmt.Errorf("%w: no provider configured", ErrProvider)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrProvider, err)
	}
	return nil
}
