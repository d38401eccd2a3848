package middleware

import (
	"bytes"
	"io"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/gateway"
)

// maxCallbackBody bounds how much of a callback body is read for signing.
const maxCallbackBody = 64 << 10

// CallbackSignature rejects payment callbacks whose X-Signature header is
// not the HMAC-SHA256 of the raw body under secret.  The body is restored
// so the handler can bind it.
func CallbackSignature(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBody+1))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"status": "error", "error": "unreadable body"})
			}
			if len(body) > maxCallbackBody {
				return c.JSON(http.StatusRequestEntityTooLarge, echo.Map{"status": "error", "error": "body too large"})
			}
			if !gateway.Verify(secret, body, req.Header.Get(gateway.SignatureHeader)) {
				log.Printf("callback: rejected unsigned or mis-signed callback from %s", c.RealIP())
				return c.JSON(http.StatusUnauthorized, echo.Map{"status": "error", "error": "invalid signature"})
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			return next(c)
		}
	}
}
