package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"

	"netops/config"
	"netops/utils"
)

// RateLimitConfig holds all rate limiter instances
type RateLimitConfig struct {
	InventoryLimiter fiber.Handler
	DeviceOpsLimiter fiber.Handler
	StreamLimiter    fiber.Handler
}

// NewRateLimitConfig creates the limiter tiers. Counters live in Redis when
// rdb is set so that replicas share them, otherwise in process memory.
func NewRateLimitConfig(rdb *redis.Client, cfg *config.Config) *RateLimitConfig {
	var storage fiber.Storage
	if rdb != nil {
		storage = redisstorage.NewFromConnection(rdb)
	}

	return &RateLimitConfig{
		InventoryLimiter: newLimiter("inventory", cfg.RateLimitInventory, time.Minute, storage,
			"Too many inventory requests. Please try again later."),
		// Every device operation opens an SSH or NETCONF session
		DeviceOpsLimiter: newLimiter("device_ops", cfg.RateLimitDeviceOps, time.Minute, storage,
			"Too many device operations. Please slow down."),
		StreamLimiter: newLimiter("streams", cfg.RateLimitStreams, time.Minute, storage,
			"Too many stream connections. Please try again later."),
	}
}

// newLimiter keys counters on tier and client IP so tiers sharing one Redis
// never count each other's requests
func newLimiter(tier string, max int, expiration time.Duration, storage fiber.Storage, message string) fiber.Handler {
	if max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return tier + ":" + utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": message,
			})
		},
	})
}
