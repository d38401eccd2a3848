package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/service"
)

// AdminHandler exposes maintenance operations.
type AdminHandler struct {
	Sessions *service.SessionManager
}

func NewAdminHandler(sessions *service.SessionManager) *AdminHandler {
	if sessions == nil {
		panic("nil SessionManager passed to NewAdminHandler")
	}
	return &AdminHandler{Sessions: sessions}
}

// Reconcile handles POST /v1/admin/reconcile.
func (h *AdminHandler) Reconcile(c echo.Context) error {
	rep, err := h.Sessions.Reconcile(c.Request().Context())
	if err != nil {
		return fail(c, err, echo.Map{"report": rep})
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "ok", "report": rep})
}
