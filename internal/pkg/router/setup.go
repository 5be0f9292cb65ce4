package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TipQueue/app/controllers"
)

// Router installs one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Controllers are the handlers the routers mount.
type Controllers struct {
	Webhook  *controllers.WebhookController
	Checkout *controllers.CheckoutController
	Creator  *controllers.CreatorController
	Ticket   *controllers.TicketController
	Admin    *controllers.AdminPayoutController
	Health   *controllers.HealthController
}

// Options configure authentication and rate limiting.
type Options struct {
	ServiceAPIKeySHA256 string
	AdminUser           string
	AdminPasswordBcrypt string
	// LimiterStorage backs the rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
	APIRateLimit   int
	APIRateWindow  time.Duration
}

func InstallRouter(app *fiber.App, ctrl Controllers, opts Options) {
	if opts.APIRateLimit <= 0 {
		opts.APIRateLimit = 60
	}
	if opts.APIRateWindow <= 0 {
		opts.APIRateWindow = time.Minute
	}
	setup(app, NewHttpRouter(ctrl, opts), NewApiRouter(ctrl, opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
