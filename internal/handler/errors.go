package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/repository"
	"github.com/iliyamo/parking-settlement/internal/service"
)

// statusFor maps the service error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrConflict), errors.Is(err, repository.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrGatewayUnavailable):
		return http.StatusGatewayTimeout
	case errors.Is(err, service.ErrGatewayRejected):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes the error body.  extra fields, if any, are merged in so that
// a close that failed to settle can still return the session.
func fail(c echo.Context, err error, extra echo.Map) error {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		if errors.Is(err, service.ErrInternalInconsistency) {
			log.Printf("handler: ANOMALY %s %s: %v", c.Request().Method, c.Path(), err)
		} else {
			log.Printf("handler: %s %s: %v", c.Request().Method, c.Path(), err)
		}
		msg = "internal error"
	}
	body := echo.Map{"status": "error", "error": msg}
	for k, v := range extra {
		body[k] = v
	}
	return c.JSON(code, body)
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"status": "error", "error": msg})
}
