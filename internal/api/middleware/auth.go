/**
 * @description
 * Authentication middleware for the three boundaries.
 * - Protected(): owner reads; validates Bearer JWTs against the identity
 *   provider's JWKS and exposes the token subject as the owner id.
 * - IngestKeyRequired(): agent ingestion; shared x-api-key header.
 * - JobSecretRequired(): manual job triggers; shared x-job-secret header.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: HTTP Context
 * - github.com/golang-jwt/jwt/v5: JWT parsing
 * - github.com/MicahParks/keyfunc/v2: JWKS fetching and caching
 *
 * @notes
 * - Requires AUTH_JWKS_URL to be set for real owner auth.
 * - The core never maps owner ids: whatever the identity provider put in `sub`
 *   is the opaque owner_id that scopes every read.
 */

package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/logger"
)

// AuthMiddlewareConfig holds the JWKS function
type AuthMiddlewareConfig struct {
	JWKS *keyfunc.JWKS
}

var mwConfig *AuthMiddlewareConfig

// InitAuthMiddleware initializes the JWKS cache. Should be called at startup.
func InitAuthMiddleware(cfg *config.Config) error {
	if cfg.Auth.JWKSURL == "" {
		// In dev/test, we might not have this, but it's required for real auth
		logger.Info("⚠️ Warning: AUTH_JWKS_URL is empty. Owner auth will fail if not mocked.")
		return nil
	}

	// Create the JWKS from the resource at the given URL.
	// Refresh the JWKS every hour.
	jwks, err := keyfunc.Get(cfg.Auth.JWKSURL, keyfunc.Options{
		RefreshInterval: time.Hour,
		RefreshErrorHandler: func(err error) {
			logger.Error("There was an error with the JWKS refresh: %v", err)
		},
	})
	if err != nil {
		return err
	}

	mwConfig = &AuthMiddlewareConfig{
		JWKS: jwks,
	}
	logger.Info("✅ Auth Middleware Initialized with JWKS")
	return nil
}

// Protected protects routes requiring an authenticated owner
func Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if mwConfig == nil || mwConfig.JWKS == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"code": "AUTH_NOT_CONFIGURED", "message": "Auth configuration not initialized",
			})
		}

		// 1. Get Token from Header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Missing authorization header"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Invalid token format"})
		}

		// 2. Parse and Validate Token
		token, err := jwt.Parse(tokenString, mwConfig.JWKS.Keyfunc)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Invalid token: " + err.Error()})
		}

		if !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Invalid token claims"})
		}

		// 3. Extract Owner ID (sub)
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Token missing subject"})
		}

		// 4. Set Owner ID in Context
		c.Locals("owner_id", sub)

		return c.Next()
	}
}

// GetOwnerID returns the authenticated owner's id from context
func GetOwnerID(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals("owner_id").(string)
	if !ok || id == "" {
		return "", errors.New("owner id not found in context")
	}
	return id, nil
}

// IngestKeyRequired gates the ingestion boundary on the shared agent API key
func IngestKeyRequired(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get("x-api-key")
		if cfg.Auth.IngestAPIKey == "" || !secureEqual(key, cfg.Auth.IngestAPIKey) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"code": "UNAUTHORIZED", "message": "Unauthorized(x-api-key)",
			})
		}
		return c.Next()
	}
}

// JobSecretRequired gates the manual job triggers on the shared job secret
func JobSecretRequired(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := c.Get("x-job-secret")
		if cfg.Auth.JobSecret == "" || !secureEqual(secret, cfg.Auth.JobSecret) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"code": "UNAUTHORIZED", "message": "Unauthorized(x-job-secret)",
			})
		}
		return c.Next()
	}
}

func secureEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
