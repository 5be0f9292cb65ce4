package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// HashAPIKey returns the hex SHA-256 of a plain API key, the form stored in
// SERVICE_API_KEY_SHA256.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyAuthMiddleware authenticates service requests carrying the shared API
// key. Only the key's SHA-256 is configured; comparison is constant time.
func APIKeyAuthMiddleware(expectedSHA256 string) fiber.Handler {
	expected, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(expectedSHA256)))
	if err != nil || len(expected) != sha256.Size {
		log.Warn("[Auth] SERVICE_API_KEY_SHA256 missing or malformed, API key routes reject every request")
		expected = nil
	}

	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}
		if expected == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		sum := sha256.Sum256([]byte(apiKey))
		if subtle.ConstantTimeCompare(sum[:], expected) != 1 {
			log.Warnf("[Auth] Rejected API key from %s on %s", c.IP(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}
		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
