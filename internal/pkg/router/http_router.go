package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TipQueue/internal/pkg/metrics"
)

// HttpRouter mounts the unauthenticated routes: health, metrics and the
// signature-verified webhook.
type HttpRouter struct {
	ctrl Controllers
	opts Options
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get("/health", h.ctrl.Health.HandleHealth)
	app.Get("/metrics", metrics.Handler())

	// Authenticated by the Stripe-Signature header
	app.Post("/webhooks/stripe", h.ctrl.Webhook.HandleStripeWebhook)

	h.registerAdminRoutes(app)
}

func NewHttpRouter(ctrl Controllers, opts Options) *HttpRouter {
	return &HttpRouter{ctrl: ctrl, opts: opts}
}
