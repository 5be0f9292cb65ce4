package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/app/repository"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
	"github.com/ManuelReschke/TipQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/TipQueue/internal/pkg/tickets"
)

// ErrProcessing means a verified event could not be applied. The provider
// should redeliver it.
var ErrProcessing = errors.New("webhook processing failed")

// Recorder appends payments to the ledger.
type Recorder interface {
	RecordPayment(ctx context.Context, in ledger.RecordPaymentInput) (ledger.Recorded, error)
}

// TicketPayments applies provider events to ticket payment states.
type TicketPayments interface {
	Lookup(ctx context.Context, ref, intentID string) (*models.Ticket, error)
	MarkHeld(ctx context.Context, ref, intentID string) (*models.Ticket, error)
	MarkAuthorized(ctx context.Context, ref, intentID string) (*models.Ticket, error)
	MarkCaptured(ctx context.Context, intentID string) (*models.Ticket, error)
	MarkReleased(ctx context.Context, intentID string) (*models.Ticket, error)
}

// Outcome describes what a delivery did.
type Outcome struct {
	EventID        string `json:"eventId"`
	EventType      string `json:"eventType"`
	Duplicate      bool   `json:"duplicate"`
	Ignored        bool   `json:"ignored"`
	PaymentCreated bool   `json:"paymentCreated"`
}

// Ingestor verifies Stripe webhooks and applies them to the ledger, tickets
// and creators.
type Ingestor struct {
	secret    string
	tolerance time.Duration
	events    *EventLog
	ledger    Recorder
	tickets   TicketPayments
	creators  repository.CreatorRepository
	now       func() time.Time
}

func NewIngestor(webhookSecret string, events *EventLog, l Recorder, t TicketPayments, creators repository.CreatorRepository) *Ingestor {
	return &Ingestor{
		secret:    webhookSecret,
		tolerance: DefaultSignatureTolerance,
		events:    events,
		ledger:    l,
		tickets:   t,
		creators:  creators,
		now:       time.Now,
	}
}

func (in *Ingestor) WithTolerance(d time.Duration) *Ingestor {
	if d > 0 {
		in.tolerance = d
	}
	return in
}

func (in *Ingestor) WithClock(now func() time.Time) *Ingestor {
	in.now = now
	return in
}

// Handle verifies and applies one webhook delivery. Nothing is parsed or
// written before the signature is checked. Events already processed without
// error are acknowledged as duplicates; failed ones are applied again.
func (in *Ingestor) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	if err := VerifyStripeWebhookSignature(payload, signatureHeader, in.secret, in.now(), in.tolerance); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_signature").Inc()
		return Outcome{}, err
	}

	ev, err := ParseStripeEvent(payload)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "invalid_payload").Inc()
		return Outcome{}, err
	}
	out := Outcome{EventID: ev.ID, EventType: ev.Type}

	created, stored, err := in.events.RecordWebhookEvent(ctx, WebhookEventInput{
		Provider:        models.ProviderStripe,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		ObjectID:        ev.ObjectID(),
		PayloadJSON:     string(payload),
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		return out, fmt.Errorf("%w: record event %s: %w", ErrProcessing, ev.ID, err)
	}
	if !created && stored.Succeeded() {
		log.Infof("[Webhook] Event %s (%s) already processed", ev.ID, ev.Type)
		metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
		out.Duplicate = true
		return out, nil
	}

	handleErr := in.dispatch(ctx, ev, &out)
	if err := in.events.MarkWebhookProcessed(ctx, stored.ID, handleErr); err != nil {
		log.Errorf("[Webhook] Failed to mark event %s processed: %v", ev.ID, err)
		if handleErr == nil {
			handleErr = err
		}
	}
	if handleErr != nil {
		log.Errorf("[Webhook] Event %s (%s) failed: %v", ev.ID, ev.Type, handleErr)
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		return out, fmt.Errorf("%w: %s: %w", ErrProcessing, ev.Type, handleErr)
	}

	outcome := "processed"
	if out.Ignored {
		outcome = "ignored"
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, outcome).Inc()
	return out, nil
}

func (in *Ingestor) dispatch(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	switch ev.Type {
	case EventCheckoutSessionCompleted, EventCheckoutAsyncPaymentSucceeded:
		return in.onCheckoutCompleted(ctx, ev, out)
	case EventChargeSucceeded:
		return in.onChargeSucceeded(ctx, ev, out)
	case EventPaymentIntentCapturable:
		return in.onIntentCapturable(ctx, ev, out)
	case EventPaymentIntentSucceeded:
		return in.onIntentSucceeded(ctx, ev, out)
	case EventPaymentIntentCanceled:
		return in.onIntentCanceled(ctx, ev, out)
	case EventPaymentIntentFailed:
		return in.onIntentFailed(ev, out)
	case EventAccountUpdated:
		return in.onAccountUpdated(ctx, ev, out)
	default:
		log.Debugf("[Webhook] Ignoring event %s of type %s", ev.ID, ev.Type)
		out.Ignored = true
		return nil
	}
}

func (in *Ingestor) onCheckoutCompleted(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	var s checkoutSessionObject
	if err := json.Unmarshal(ev.Data.Object, &s); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	ticketRef := firstNonEmpty(metadataValue(s.Metadata, MetadataTicketRef, "ticket_ref"), s.ClientRefID)

	if s.PaymentStatus != "paid" {
		// Manual capture: the funds are only authorized.
		if ticketRef == "" || s.PaymentIntent == "" {
			out.Ignored = true
			return nil
		}
		_, err := in.tickets.MarkHeld(ctx, ticketRef, s.PaymentIntent)
		return in.ticketResult(ev, ticketRef, err, out)
	}

	return in.record(ctx, out, paymentEvent{
		externalID:  firstNonEmpty(s.PaymentIntent, s.ID),
		creatorSlug: metadataValue(s.Metadata, MetadataCreatorSlug, "creator_slug"),
		ticketRef:   ticketRef,
		intentID:    s.PaymentIntent,
		amount:      s.AmountTotal,
		currency:    s.Currency,
		createdAt:   ev.CreatedAt(),
	})
}

func (in *Ingestor) onChargeSucceeded(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	var c chargeObject
	if err := json.Unmarshal(ev.Data.Object, &c); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	if !c.Captured {
		// Authorization only; the capture arrives as its own event.
		out.Ignored = true
		return nil
	}
	fee, net := c.fees()
	return in.record(ctx, out, paymentEvent{
		externalID:  firstNonEmpty(c.PaymentIntent, c.ID),
		creatorSlug: metadataValue(c.Metadata, MetadataCreatorSlug, "creator_slug"),
		ticketRef:   metadataValue(c.Metadata, MetadataTicketRef, "ticket_ref"),
		intentID:    c.PaymentIntent,
		amount:      c.AmountCaptured,
		currency:    c.Currency,
		createdAt:   ev.CreatedAt(),
		providerFee: fee,
		net:         net,
	})
}

func (in *Ingestor) onIntentCapturable(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	var pi paymentIntentObject
	if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	ref := metadataValue(pi.Metadata, MetadataTicketRef, "ticket_ref")
	_, err := in.tickets.MarkAuthorized(ctx, ref, pi.ID)
	return in.ticketResult(ev, firstNonEmpty(ref, pi.ID), err, out)
}

func (in *Ingestor) onIntentSucceeded(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	var pi paymentIntentObject
	if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	err := in.record(ctx, out, paymentEvent{
		externalID:  pi.ID,
		creatorSlug: metadataValue(pi.Metadata, MetadataCreatorSlug, "creator_slug"),
		ticketRef:   metadataValue(pi.Metadata, MetadataTicketRef, "ticket_ref"),
		intentID:    pi.ID,
		amount:      pi.AmountReceived,
		currency:    pi.Currency,
		createdAt:   ev.CreatedAt(),
	})
	if err != nil || out.Ignored {
		return err
	}
	_, err = in.tickets.MarkCaptured(ctx, pi.ID)
	if errors.Is(err, tickets.ErrTicketNotFound) {
		return nil
	}
	return in.ticketResult(ev, pi.ID, err, out)
}

func (in *Ingestor) onIntentCanceled(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	var pi paymentIntentObject
	if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	_, err := in.tickets.MarkReleased(ctx, pi.ID)
	return in.ticketResult(ev, pi.ID, err, out)
}

func (in *Ingestor) onIntentFailed(ev *StripeEvent, out *Outcome) error {
	var pi paymentIntentObject
	if err := json.Unmarshal(ev.Data.Object, &pi); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	reason := "unknown"
	if pi.LastPaymentError != nil {
		reason = firstNonEmpty(pi.LastPaymentError.Code, pi.LastPaymentError.Message, reason)
	}
	log.Warnf("[Webhook] Payment intent %s failed: %s", pi.ID, reason)
	out.Ignored = true
	return nil
}

func (in *Ingestor) onAccountUpdated(ctx context.Context, ev *StripeEvent, out *Outcome) error {
	var a accountObject
	if err := json.Unmarshal(ev.Data.Object, &a); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}
	accountID := firstNonEmpty(a.ID, ev.Account)
	c, err := in.creators.SetPayoutEnabled(ctx, accountID, a.onboarded())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warnf("[Webhook] account.updated for unknown account %s", accountID)
		out.Ignored = true
		return nil
	}
	if err != nil {
		return err
	}
	log.Infof("[Webhook] Creator %s payoutEnabled=%t", c.Slug, c.PayoutEnabled)
	return nil
}

type paymentEvent struct {
	externalID  string
	creatorSlug string
	ticketRef   string
	intentID    string
	amount      int64
	currency    string
	createdAt   *time.Time
	providerFee *int64
	net         *int64
}

// record appends a captured payment. The creator comes from metadata or,
// failing that, from the ticket paid by the intent.
func (in *Ingestor) record(ctx context.Context, out *Outcome, p paymentEvent) error {
	if p.creatorSlug == "" && (p.ticketRef != "" || p.intentID != "") {
		t, err := in.tickets.Lookup(ctx, p.ticketRef, p.intentID)
		switch {
		case err == nil:
			p.creatorSlug = t.CreatorSlug
			p.ticketRef = firstNonEmpty(p.ticketRef, t.Ref)
		case !errors.Is(err, tickets.ErrTicketNotFound):
			return err
		}
	}
	if p.creatorSlug == "" {
		log.Warnf("[Webhook] Payment %s has no creator, not recorded", p.externalID)
		out.Ignored = true
		return nil
	}

	res, err := in.ledger.RecordPayment(ctx, ledger.RecordPaymentInput{
		CreatorSlug:      p.creatorSlug,
		AmountGross:      p.amount,
		Currency:         p.currency,
		ExternalID:       p.externalID,
		Provider:         models.ProviderStripe,
		Status:           models.PaymentStatusSucceeded,
		CreatedAt:        p.createdAt,
		TicketRef:        p.ticketRef,
		ProviderFeeCents: p.providerFee,
		NetCents:         p.net,
	})
	if err != nil {
		return err
	}
	out.PaymentCreated = res.Created
	return nil
}

// ticketResult acknowledges events for tickets we do not know or that already
// moved on, and surfaces everything else for redelivery.
func (in *Ingestor) ticketResult(ev *StripeEvent, key string, err error, out *Outcome) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, tickets.ErrTicketNotFound):
		log.Warnf("[Webhook] %s: no ticket for %s", ev.Type, key)
		out.Ignored = true
		return nil
	case errors.Is(err, tickets.ErrInvalidTransition):
		log.Warnf("[Webhook] %s: ticket %s: %v", ev.Type, key, err)
		out.Ignored = true
		return nil
	default:
		return err
	}
}
