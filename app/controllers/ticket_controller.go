package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TipQueue/app/models"
	"github.com/ManuelReschke/TipQueue/internal/pkg/tickets"
)

// TicketDecider exposes the creator decisions on a ticket.
type TicketDecider interface {
	Get(ctx context.Context, ref string) (*models.Ticket, error)
	Approve(ctx context.Context, ref string) (*models.Ticket, error)
	Reject(ctx context.Context, ref string) (*models.Ticket, error)
	Close(ctx context.Context, ref string) (*models.Ticket, error)
}

type TicketController struct {
	svc     TicketDecider
	timeout time.Duration
}

func NewTicketController(svc TicketDecider, timeout time.Duration) *TicketController {
	return &TicketController{svc: svc, timeout: timeout}
}

func (tc *TicketController) HandleGet(c *fiber.Ctx) error {
	return tc.run(c, tc.svc.Get)
}

// HandleApprove captures the held funds and records the payment.
func (tc *TicketController) HandleApprove(c *fiber.Ctx) error {
	return tc.run(c, tc.svc.Approve)
}

// HandleReject releases the hold.
func (tc *TicketController) HandleReject(c *fiber.Ctx) error {
	return tc.run(c, tc.svc.Reject)
}

func (tc *TicketController) HandleClose(c *fiber.Ctx) error {
	return tc.run(c, tc.svc.Close)
}

func (tc *TicketController) run(c *fiber.Ctx, fn func(context.Context, string) (*models.Ticket, error)) error {
	ctx, cancel := requestContext(c, tc.timeout)
	defer cancel()

	ref := c.Params("ref")
	t, err := fn(ctx, ref)
	if err != nil {
		return ticketError(c, ref, err)
	}
	return c.JSON(fiber.Map{
		"ticket":           t,
		"visibleToCreator": tickets.IsVisibleToCreator(t.State),
	})
}

func ticketError(c *fiber.Ctx, ref string, err error) error {
	switch {
	case errors.Is(err, tickets.ErrTicketNotFound):
		return errorJSON(c, fiber.StatusNotFound, "ticket_not_found", "Ticket not found")
	case errors.Is(err, tickets.ErrInvalidTransition):
		return errorJSON(c, fiber.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, tickets.ErrStateConflict):
		return errorJSON(c, fiber.StatusConflict, "state_conflict", "Ticket changed concurrently, reload and retry")
	case errors.Is(err, tickets.ErrNoPaymentIntent):
		return errorJSON(c, fiber.StatusConflict, "no_payment_intent", "Ticket has no authorized payment yet")
	case errors.Is(err, tickets.ErrProvider):
		log.Errorf("[Tickets] Provider call for %s failed: %v", ref, err)
		return errorJSON(c, fiber.StatusBadGateway, "provider_error", "Payment provider request failed")
	default:
		log.Errorf("[Tickets] Request for %s failed: %v", ref, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Request failed")
	}
}
