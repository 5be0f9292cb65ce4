package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/TipQueue/internal/pkg/middleware"
)

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	adminGroup := app.Group("/admin", middleware.RequireAdmin(h.opts.AdminUser, h.opts.AdminPasswordBcrypt))

	// Payout runs
	adminGroup.Get("/payouts", h.ctrl.Admin.HandleList)
	adminGroup.Post("/payouts/run", h.ctrl.Admin.HandleRun)
	adminGroup.Post("/payouts/enqueue", h.ctrl.Admin.HandleEnqueue)

	// Queue monitor
	adminGroup.Get("/jobs/stats", h.ctrl.Admin.HandleJobStats)
	adminGroup.Get("/jobs/:id", h.ctrl.Admin.HandleGetJob)
}
