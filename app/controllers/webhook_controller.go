package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TipQueue/internal/pkg/billing"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ledger"
)

// WebhookHandler applies one signed provider delivery.
type WebhookHandler interface {
	Handle(ctx context.Context, payload []byte, signatureHeader string) (billing.Outcome, error)
}

// WebhookController receives Stripe webhooks. The route carries no API key;
// the signature is the authentication.
type WebhookController struct {
	ingestor WebhookHandler
	timeout  time.Duration
}

func NewWebhookController(ingestor WebhookHandler, timeout time.Duration) *WebhookController {
	return &WebhookController{ingestor: ingestor, timeout: timeout}
}

// HandleStripeWebhook answers 2xx for applied, duplicate and ignored events,
// 400 for deliveries that will never succeed and 500 so Stripe redelivers.
func (wc *WebhookController) HandleStripeWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := c.Get("Stripe-Signature")

	ctx, cancel := requestContext(c, wc.timeout)
	defer cancel()

	out, err := wc.ingestor.Handle(ctx, rawBody, signature)
	switch {
	case err == nil:
	case errors.Is(err, billing.ErrInvalidSignature):
		ipv4, ipv6 := GetClientIP(c)
		log.Warnf("[Webhook] Rejected delivery with invalid signature from ipv4=%q ipv6=%q: %v", ipv4, ipv6, err)
		return errorJSON(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	case errors.Is(err, billing.ErrInvalidPayload):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payload", "Webhook payload could not be parsed")
	case errors.Is(err, ledger.ErrInvalidInput):
		// Stripe stops redelivering after a 400, so the payment must be reconciled by hand.
		log.Errorf("[Webhook] Event %s (%s) rejected by the ledger, needs reconciliation: %v", out.EventID, out.EventType, err)
		return errorJSON(c, fiber.StatusBadRequest, "invalid_payment", err.Error())
	default:
		return errorJSON(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Event could not be processed, retry later")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":             true,
		"eventId":        out.EventID,
		"duplicate":      out.Duplicate,
		"ignored":        out.Ignored,
		"paymentCreated": out.PaymentCreated,
	})
}
