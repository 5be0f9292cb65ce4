package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/TipQueue/app/controllers"
	"github.com/ManuelReschke/TipQueue/internal/pkg/cache"
	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
	"github.com/ManuelReschke/TipQueue/internal/pkg/database"
	"github.com/ManuelReschke/TipQueue/internal/pkg/engine"
	"github.com/ManuelReschke/TipQueue/internal/pkg/env"
	"github.com/ManuelReschke/TipQueue/internal/pkg/jobqueue"
	"github.com/ManuelReschke/TipQueue/internal/pkg/metrics"
	"github.com/ManuelReschke/TipQueue/internal/pkg/ratelimit"
	"github.com/ManuelReschke/TipQueue/internal/pkg/router"
)

func main() {
	app, cfg, err := NewApplication()
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	manager := jobqueue.GetManager()
	manager.Start()

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Errorf("[Main] Server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("[Main] Shutting down")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("[Main] Shutdown: %v", err)
	}
	manager.Stop()
}

func NewApplication() (*fiber.App, *config.Config, error) {
	env.SetupEnvFile()
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := database.SetupDatabase(cfg.Database); err != nil {
		return nil, nil, err
	}
	cache.SetupCache(cfg.Cache)

	eng, err := engine.New(context.Background(), cfg, database.GetDB())
	if err != nil {
		return nil, nil, err
	}

	jobqueue.Configure(jobqueue.ManagerOptions{Workers: cfg.JobQueueWorkers, SweepInterval: cfg.PayoutSweepInterval})
	queue := jobqueue.GetManager().GetQueue()
	queue.SetPayoutScheduler(eng.Scheduler)

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": "request_failed", "message": err.Error()})
		},
	})

	// recovery, logging and request metrics
	app.Use(recover.New(), logger.New(), metrics.Middleware())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	timeout := cfg.OperationTimeout
	router.InstallRouter(app, router.Controllers{
		Webhook:  controllers.NewWebhookController(eng.Ingestor, timeout),
		Checkout: controllers.NewCheckoutController(eng.Checkout, timeout),
		Creator:  controllers.NewCreatorController(eng.Repos.Creator, eng.Earnings, cfg.DefaultCurrency, timeout),
		Ticket:   controllers.NewTicketController(eng.Tickets, timeout),
		Admin:    controllers.NewAdminPayoutController(eng.Scheduler, queue, eng.Repos.Payout, timeout),
		Health:   controllers.NewHealthController(eng.DB, cache.Ping),
	}, router.Options{
		ServiceAPIKeySHA256: cfg.ServiceAPIKeySHA256,
		AdminUser:           cfg.AdminUser,
		AdminPasswordBcrypt: cfg.AdminPasswordBcrypt,
		LimiterStorage:      ratelimit.NewStorage(),
	})

	return app, cfg, nil
}
