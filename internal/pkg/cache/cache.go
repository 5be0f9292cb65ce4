package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/TipQueue/internal/pkg/config"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SetupCache initializes the connection to the Redis server used by the job
// queue and the rate limiter.
func SetupCache(cfg config.Cache) {
	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] Could not connect to Redis at %s: %v", client.Options().Addr, err)
	} else {
		log.Infof("[Cache] Connected to Redis at %s: %s", client.Options().Addr, pong)
	}
}

// GetClient returns the Redis client instance, connecting with defaults
// when SetupCache was never called.
func GetClient() *redis.Client {
	if client == nil {
		SetupCache(config.Cache{Host: "localhost", Port: "6379"})
	}
	return client
}

// SetClient replaces the shared client. Used by tests.
func SetClient(c *redis.Client) {
	client = c
}

// Ping reports whether Redis answers within the context deadline.
func Ping(c context.Context) error {
	return GetClient().Ping(c).Err()
}
