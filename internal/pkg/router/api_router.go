package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TipQueue/internal/pkg/middleware"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ratelimit"
)

// ApiRouter mounts the service API used by the TipQueue web app.
type ApiRouter struct {
	ctrl Controllers
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api",
		ratelimit.New(h.opts.LimiterStorage, h.opts.APIRateLimit, h.opts.APIRateWindow),
		middleware.APIKeyAuthMiddleware(h.opts.ServiceAPIKeySHA256),
	)

	v1 := api.Group("/v1")
	v1.Post("/checkout", h.ctrl.Checkout.HandleCheckout)

	v1.Post("/creators", h.ctrl.Creator.HandleCreate)
	v1.Get("/creators/:slug", h.ctrl.Creator.HandleGet)
	v1.Get("/creators/:slug/earnings", h.ctrl.Creator.HandleEarnings)
	v1.Post("/creators/:slug/onboarding", h.ctrl.Checkout.HandleOnboarding)

	v1.Get("/tickets/:ref", h.ctrl.Ticket.HandleGet)
	v1.Post("/tickets/:ref/approve", h.ctrl.Ticket.HandleApprove)
	v1.Post("/tickets/:ref/reject", h.ctrl.Ticket.HandleReject)
	v1.Post("/tickets/:ref/close", h.ctrl.Ticket.HandleClose)
}

func NewApiRouter(ctrl Controllers, opts Options) *ApiRouter {
	return &ApiRouter{ctrl: ctrl, opts: opts}
}
