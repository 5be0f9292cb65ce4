package middleware

import (
	"encoding/base64"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func okApp(h fiber.Handler) *fiber.App {
	app := fiber.New()
	app.Get("/", h, func(c *fiber.Ctx) error { return c.SendString("ok") })
	return app
}

func TestAPIKeyAuthMiddleware(t *testing.T) {
	app := okApp(APIKeyAuthMiddleware(HashAPIKey("s3cret")))

	tests := []struct {
		name   string
		header string
		value  string
		status int
	}{
		{"missing", "", "", fiber.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", fiber.StatusUnauthorized},
		{"header", "X-API-Key", "s3cret", fiber.StatusOK},
		{"bearer", "Authorization", "Bearer s3cret", fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestAPIKeyAuthMiddleware_Unconfigured(t *testing.T) {
	app := okApp(APIKeyAuthMiddleware(""))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-API-Key", "anything")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAdmin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	app := okApp(RequireAdmin("admin", string(hash)))

	basic := func(u, p string) string {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(u+":"+p))
	}

	for _, tc := range []struct {
		auth   string
		status int
	}{
		{"", fiber.StatusUnauthorized},
		{basic("admin", "wrong"), fiber.StatusUnauthorized},
		{basic("root", "hunter2"), fiber.StatusUnauthorized},
		{basic("admin", "hunter2"), fiber.StatusOK},
	} {
		req := httptest.NewRequest("GET", "/", nil)
		if tc.auth != "" {
			req.Header.Set("Authorization", tc.auth)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, tc.status, resp.StatusCode, tc.auth)
	}
}

func TestRequireAdmin_NoHashLocksRoutes(t *testing.T) {
	app := okApp(RequireAdmin("admin", ""))
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:")))
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
