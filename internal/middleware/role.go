package middleware // middleware holds the request guards shared by every route group

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// RequireRole returns a middleware that lets a request through only when
// the role claim of its token is one of roles.  The role is read from the
// context key CtxRole, which JWTAuth fills in, so RequireRole must be
// registered after JWTAuth on the same group.  Roles are compared as
// exact strings ("ADMIN", "STAFF", "DETECTOR", "CLIENT", "DRIVER"); a
// token without a role, or with a role outside the list, gets a 403
// Forbidden with the usual error envelope.
//
// Ownership checks (a CLIENT reading only its own lots, a DRIVER only its
// own balance) are not done here.  Handlers apply those after the role
// has been accepted.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	// The set is built once, when the route is registered.
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// JWTAuth stores the claim as it came out of the token.  A
			// missing claim or a non-string value fails the assertion
			// and is treated the same as a role that is not allowed.
			role, ok := c.Get(CtxRole).(string)
			if !ok || !allowed[role] {
				return c.JSON(http.StatusForbidden, echo.Map{"status": "error", "error": "forbidden"})
			}
			// Role accepted; continue down the chain.
			return next(c)
		}
	}
}
