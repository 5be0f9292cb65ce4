package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// HealthController reports database and Redis reachability.
type HealthController struct {
	db   *gorm.DB
	ping func(ctx context.Context) error
}

func NewHealthController(db *gorm.DB, cachePing func(ctx context.Context) error) *HealthController {
	return &HealthController{db: db, ping: cachePing}
}

func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	checks := fiber.Map{"database": "ok", "cache": "ok"}
	healthy := true

	if hc.db == nil {
		checks["database"] = "unavailable"
		healthy = false
	} else if sqlDB, err := hc.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
		checks["database"] = "unavailable"
		healthy = false
	}
	// Redis only backs the job queue and rate limiter; payments keep working without it.
	if hc.ping != nil {
		if err := hc.ping(ctx); err != nil {
			checks["cache"] = "unavailable"
		}
	}

	status := fiber.StatusOK
	state := "ok"
	if !healthy {
		status = fiber.StatusServiceUnavailable
		state = "unavailable"
	}
	return c.Status(status).JSON(fiber.Map{"status": state, "checks": checks})
}
