package ratelimit

import (
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/TipQueue/internal/pkg/cache"
)

// limiterDatabase keeps limiter counters apart from the job queue (DB 0).
const limiterDatabase = 1

// NewStorage returns a Redis-backed fiber.Storage on the same server as the
// shared cache client.
func NewStorage() fiber.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := ""
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		password = cacheClient.Options().Password
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

// New limits each client IP to max requests per window. storage may be nil
// for in-memory counters.
func New(storage fiber.Storage, max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate_limited",
				"message": "too many requests",
			})
		},
	})
}
