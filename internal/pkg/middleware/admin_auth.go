package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// RequireAdmin guards operator routes with HTTP basic auth. The password is
// checked against a bcrypt hash; an empty hash disables every admin login.
func RequireAdmin(user, passwordBcrypt string) fiber.Handler {
	if passwordBcrypt == "" {
		log.Warn("[Auth] ADMIN_PASSWORD_BCRYPT not set, admin routes are locked")
	}
	hash := []byte(passwordBcrypt)

	return basicauth.New(basicauth.Config{
		Realm: "TipQueue Admin",
		Authorizer: func(u, p string) bool {
			if len(hash) == 0 {
				return false
			}
			userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
			passOK := bcrypt.CompareHashAndPassword(hash, []byte(p)) == nil
			if !userOK || !passOK {
				log.Warnf("[Auth] Failed admin login for %q", u)
				return false
			}
			return true
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="TipQueue Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Admin credentials required"})
		},
	})
}
