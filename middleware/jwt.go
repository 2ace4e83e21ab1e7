package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWTMiddleware creates a Fiber middleware for JWT token validation.
// Tokens are HS256 and read from the Authorization header. WebSocket
// upgrades may pass the token in the "token" query parameter instead,
// since browsers cannot set headers on them. The sub claim is stored as
// the request subject for the audit log.
func JWTMiddleware(secret []byte) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimSpace(strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer "))
		if token == "" && isUpgrade(c) {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization"})
		}

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !parsed.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		subject, err := parsed.Claims.GetSubject()
		if err != nil || subject == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing sub claim"})
		}

		c.Locals("subject", subject)
		return c.Next()
	}
}

// OptionalJWT returns JWTMiddleware when secret is set, otherwise a
// pass-through handler.
func OptionalJWT(secret []byte) fiber.Handler {
	if len(secret) == 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return JWTMiddleware(secret)
}

func isUpgrade(c *fiber.Ctx) bool {
	return strings.EqualFold(c.Get(fiber.HeaderUpgrade), "websocket")
}
