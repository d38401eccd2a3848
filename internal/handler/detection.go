package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/service"
)

// DetectionHandler receives plate reads from entry and exit cameras.
type DetectionHandler struct {
	Sessions *service.SessionManager
}

// NewDetectionHandler panics when sessions is nil.
func NewDetectionHandler(sessions *service.SessionManager) *DetectionHandler {
	if sessions == nil {
		panic("nil SessionManager passed to NewDetectionHandler")
	}
	return &DetectionHandler{Sessions: sessions}
}

type entryRequest struct {
	Plate      string     `json:"plate"`
	SpaceID    uint64     `json:"space_id"`
	DetectedAt *time.Time `json:"detected_at"`
}

// Entry handles POST /v1/detections/entry.  A registered plate opens a
// session (201).  An unregistered or inactive plate raises an alert and
// answers 202, since the detection was accepted but nothing was parked.
func (h *DetectionHandler) Entry(c echo.Context) error {
	var req entryRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Plate == "" || req.SpaceID == 0 {
		return badRequest(c, "plate and space_id are required")
	}
	var at time.Time
	if req.DetectedAt != nil {
		at = *req.DetectedAt
	}

	res, err := h.Sessions.Open(c.Request().Context(), req.Plate, req.SpaceID, at)
	if err != nil {
		return fail(c, err, nil)
	}
	if res.Outcome == service.OutcomeAlert {
		return c.JSON(http.StatusAccepted, echo.Map{"status": "ok", "outcome": res.Outcome, "alert": res.Alert})
	}
	return c.JSON(http.StatusCreated, echo.Map{"status": "ok", "outcome": res.Outcome, "session": res.Session})
}

// Exit handles POST /v1/detections/exit {plate}.
func (h *DetectionHandler) Exit(c echo.Context) error {
	var req struct {
		Plate string `json:"plate"`
	}
	if err := c.Bind(&req); err != nil || req.Plate == "" {
		return badRequest(c, "plate is required")
	}
	res, err := h.Sessions.CloseByPlate(c.Request().Context(), req.Plate)
	return closeResponse(c, res, err)
}

// closeResponse reports a close.  A settlement failure still carries the
// closed session, since the vehicle has left and the space is free.
func closeResponse(c echo.Context, res service.CloseResult, err error) error {
	body := echo.Map{"session": res.Session, "space_released": res.SpaceRelease}
	if res.Payment != nil {
		body["payment"] = res.Payment
	}
	if err != nil {
		if res.Session.ID == 0 {
			return fail(c, err, nil)
		}
		return fail(c, err, body)
	}
	body["status"] = "ok"
	return c.JSON(http.StatusOK, body)
}
