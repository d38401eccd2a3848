package middleware // declare the middleware package; contains reusable HTTP middleware functions

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxUserID   = "user_id"
	CtxRole     = "role"
	CtxClientID = "client_id"
)

// JWTAuth returns an Echo middleware that validates an HS256 Bearer token
// issued by the identity service and copies its claims into the request
// context.  Cameras, staff consoles, drivers and client dashboards all
// present the same kind of token and differ only by role.  Handlers read
// the subject with c.Get(CtxUserID), the role with c.Get(CtxRole) and, for
// CLIENT tokens, the owning client with c.Get(CtxClientID).
func JWTAuth(secret string) echo.MiddlewareFunc {
	// The parser only accepts HS256.  A token signed with any other
	// algorithm, including "none", fails ParseWithClaims before the key is
	// ever consulted.
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// The header must read "Bearer <token>".  Anything else,
			// including an empty header, is answered with 401 before any
			// parsing happens.
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"status": "error", "error": "missing bearer token"})
			}

			// ParseWithClaims checks the signature and the exp/nbf
			// claims.  An expired token and a forged one get the same
			// answer.
			claims := jwt.MapClaims{}
			tok, err := parser.ParseWithClaims(strings.TrimPrefix(auth, "Bearer "), claims, keyFunc)
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"status": "error", "error": "invalid token"})
			}

			// MapClaims decodes numbers as float64, so "sub" and
			// "client_id" arrive as float64 for numeric ids.  Readers
			// of CtxUserID and CtxClientID handle both forms.
			c.Set("user", tok)
			c.Set(CtxUserID, claims["sub"])
			c.Set(CtxRole, claims["role"])
			if v, ok := claims["client_id"]; ok {
				c.Set(CtxClientID, v)
			}
			return next(c)
		}
	}
}
