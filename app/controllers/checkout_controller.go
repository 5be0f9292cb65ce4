package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/TipQueue/internal/pkg/billing"
)

// CheckoutStarter opens provider checkouts and onboarding links.
type CheckoutStarter interface {
	StartCheckout(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
	StartOnboarding(ctx context.Context, slug string, req billing.OnboardingRequest) (*billing.OnboardingResult, error)
}

type CheckoutController struct {
	svc     CheckoutStarter
	timeout time.Duration
}

func NewCheckoutController(svc CheckoutStarter, timeout time.Duration) *CheckoutController {
	return &CheckoutController{svc: svc, timeout: timeout}
}

// HandleCheckout creates a pending ticket and a manual-capture checkout session.
func (cc *CheckoutController) HandleCheckout(c *fiber.Ctx) error {
	var req billing.CheckoutRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
	}

	ctx, cancel := requestContext(c, cc.timeout)
	defer cancel()

	res, err := cc.svc.StartCheckout(ctx, req)
	if err != nil {
		return billingError(c, "[Checkout]", err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HandleOnboarding returns a Stripe onboarding link, creating the connected
// account on first use.
func (cc *CheckoutController) HandleOnboarding(c *fiber.Ctx) error {
	var req billing.OnboardingRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, fiber.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
	}

	ctx, cancel := requestContext(c, cc.timeout)
	defer cancel()

	res, err := cc.svc.StartOnboarding(ctx, c.Params("slug"), req)
	if err != nil {
		return billingError(c, "[Onboarding]", err)
	}
	return c.JSON(res)
}

func billingError(c *fiber.Ctx, component string, err error) error {
	switch {
	case errors.Is(err, billing.ErrInvalidAmount):
		return errorJSON(c, fiber.StatusBadRequest, "invalid_amount", "amountCents must be positive")
	case errors.Is(err, billing.ErrInvalidInput):
		return errorJSON(c, fiber.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, billing.ErrCreatorNotFound):
		return errorJSON(c, fiber.StatusNotFound, "creator_not_found", "Creator not found")
	case errors.Is(err, billing.ErrCreatorNotConnected):
		return errorJSON(c, fiber.StatusConflict, "creator_not_connected", "Creator has not completed payment onboarding")
	case errors.Is(err, billing.ErrProvider):
		log.Errorf("%s Provider call failed: %v", component, err)
		return errorJSON(c, fiber.StatusBadGateway, "provider_error", "Payment provider request failed")
	default:
		log.Errorf("%s Request failed: %v", component, err)
		return errorJSON(c, fiber.StatusInternalServerError, "internal_server_error", "Request failed")
	}
}
