package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/service"
)

// SessionHandler lets staff close a session by hand and retry settlement.
type SessionHandler struct {
	Sessions   *service.SessionManager
	Settlement *service.Coordinator
}

func NewSessionHandler(sessions *service.SessionManager, settlement *service.Coordinator) *SessionHandler {
	if sessions == nil || settlement == nil {
		panic("nil dependency passed to NewSessionHandler")
	}
	return &SessionHandler{Sessions: sessions, Settlement: settlement}
}

// Close handles POST /v1/sessions/:id/close.
func (h *SessionHandler) Close(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid session id")
	}
	res, err := h.Sessions.Close(c.Request().Context(), id)
	return closeResponse(c, res, err)
}

// Settle handles POST /v1/sessions/:id/settle for sessions left
// PENDING_RECONCILIATION.
func (h *SessionHandler) Settle(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid session id")
	}
	p, err := h.Settlement.RetrySettlement(c.Request().Context(), id)
	if err != nil {
		if p.ID != 0 {
			return fail(c, err, echo.Map{"payment": p})
		}
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "payment": p})
}
