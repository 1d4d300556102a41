package auth

import (
	"strings"

	"github.com/Deepreo/jobsys/errors"
	"github.com/gofiber/fiber/v2"
)

const claimsKey = "auth.claims"

// RequireScope rejects requests without a valid bearer token carrying scope.
func RequireScope(provider *TokenProvider, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, ErrMissingToken.Error())
		}

		claims, err := provider.Validate(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, errors.GetCode(err))
		}
		if !claims.HasScope(scope) {
			return fiber.NewError(fiber.StatusForbidden, ErrMissingScope.Error())
		}
		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireScope, or nil.
func ClaimsFrom(c *fiber.Ctx) *Claims {
	claims, _ := c.Locals(claimsKey).(*Claims)
	return claims
}
