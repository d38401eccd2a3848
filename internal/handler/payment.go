package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/gateway"
	"github.com/iliyamo/parking-settlement/internal/service"
)

// PaymentHandler serves the processor callback and driver top-ups.
type PaymentHandler struct {
	Settlement *service.Coordinator
}

func NewPaymentHandler(settlement *service.Coordinator) *PaymentHandler {
	if settlement == nil {
		panic("nil Coordinator passed to NewPaymentHandler")
	}
	return &PaymentHandler{Settlement: settlement}
}

// Callback handles POST /v1/payments/callback.  The signature has been
// checked by middleware before this runs.  A repeat of an already applied
// status answers 200 with duplicate=true.
func (h *PaymentHandler) Callback(c echo.Context) error {
	var cb gateway.Callback
	if err := c.Bind(&cb); err != nil {
		return badRequest(c, "invalid callback body")
	}
	res, err := h.Settlement.HandleCallback(c.Request().Context(), cb)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":     "ok",
		"duplicate":  res.Duplicate,
		"payment_id": res.Payment.ID,
		"payment":    res.Payment.Status,
	})
}

// TopUp handles POST /v1/topups {amount, phone_number} for the
// authenticated driver.  amount may be sent as a JSON string or number.
func (h *PaymentHandler) TopUp(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"status": "error", "error": "unauthorized"})
	}
	var req struct {
		Amount      jsonAmount `json:"amount"`
		PhoneNumber string     `json:"phone_number"`
	}
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	res, err := h.Settlement.InitiateTopUp(c.Request().Context(), userID, string(req.Amount), req.PhoneNumber)
	if err != nil {
		if res.TopUp.ID != 0 {
			return fail(c, err, echo.Map{"topup": res.TopUp, "payment": res.Payment})
		}
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusCreated, echo.Map{"status": "ok", "topup": res.TopUp, "payment": res.Payment})
}

// jsonAmount accepts 150, 150.5 or "150.50".
type jsonAmount string

func (a *jsonAmount) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	*a = jsonAmount(s)
	return nil
}
