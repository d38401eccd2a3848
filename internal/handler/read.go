package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
	"github.com/iliyamo/parking-settlement/internal/service"
)

// ReadHandler serves the read projections for dashboards.  CLIENT tokens
// only see sessions, balances and payments of their own lots.
type ReadHandler struct {
	Spaces   service.SpaceStore
	Accounts service.AccountStore
	Sessions service.SessionStore
	Alerts   service.AlertStore
	Ledger   service.LedgerStore
}

func NewReadHandler(spaces service.SpaceStore, accounts service.AccountStore, sessions service.SessionStore, alerts service.AlertStore, ledger service.LedgerStore) *ReadHandler {
	if spaces == nil || accounts == nil || sessions == nil || alerts == nil || ledger == nil {
		panic("nil store passed to NewReadHandler")
	}
	return &ReadHandler{Spaces: spaces, Accounts: accounts, Sessions: sessions, Alerts: alerts, Ledger: ledger}
}

// ListSessions handles GET /v1/sessions?status=&plate=&lot_id=&from=&to=&limit=.
func (h *ReadHandler) ListSessions(c echo.Context) error {
	f := model.SessionFilter{
		Status: model.SessionStatus(c.QueryParam("status")),
		Limit:  queryLimit(c),
	}
	if p := c.QueryParam("plate"); p != "" {
		plate, err := service.NormalizePlate(p)
		if err != nil {
			return fail(c, err, nil)
		}
		f.Plate = plate
	}
	if v := c.QueryParam("lot_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil || id == 0 {
			return badRequest(c, "invalid lot_id")
		}
		f.LotID = id
	}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return badRequest(c, "invalid from")
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return badRequest(c, "invalid to")
	}
	clientID, scoped, err := clientScope(c)
	if err != nil {
		return fail(c, err, nil)
	}
	if scoped {
		f.ClientID = clientID
	}

	sessions, err := h.Sessions.ListSessions(c.Request().Context(), f)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": sessions, "count": len(sessions)})
}

// GetSession handles GET /v1/sessions/:id.
func (h *ReadHandler) GetSession(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid session id")
	}
	s, err := h.Sessions.GetSession(c.Request().Context(), id)
	if err != nil {
		return fail(c, err, nil)
	}
	if err := h.ownClient(c, s.ClientID.Valid, uint64(s.ClientID.Int64)); err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, s)
}

// ListAlerts handles GET /v1/alerts?status=&from=&to=&limit=.
func (h *ReadHandler) ListAlerts(c echo.Context) error {
	f := model.AlertFilter{Status: c.QueryParam("status"), Limit: queryLimit(c)}
	var err error
	if f.From, err = queryTime(c, "from"); err != nil {
		return badRequest(c, "invalid from")
	}
	if f.To, err = queryTime(c, "to"); err != nil {
		return badRequest(c, "invalid to")
	}
	alerts, err := h.Alerts.ListAlerts(c.Request().Context(), f)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"alerts": alerts, "count": len(alerts)})
}

// CentralBalance handles GET /v1/balances/central.
func (h *ReadHandler) CentralBalance(c echo.Context) error {
	t, err := h.Ledger.CentralTill(c.Request().Context())
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"account": model.AccountCentral, "balance": t.Balance.StringFixed(2), "updated_at": t.UpdatedAt})
}

// ClientBalance handles GET /v1/balances/clients/:id.
func (h *ReadHandler) ClientBalance(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid client id")
	}
	if err := h.ownClient(c, true, id); err != nil {
		return fail(c, err, nil)
	}
	ctx := c.Request().Context()
	cl, err := h.Accounts.GetClient(ctx, id)
	if err != nil {
		return fail(c, err, nil)
	}
	t, err := h.Ledger.ClientTill(ctx, id)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account":     model.AccountClient,
		"client_id":   cl.ID,
		"name":        cl.Name,
		"till_number": cl.TillNumber,
		"balance":     t.Balance.StringFixed(2),
		"updated_at":  t.UpdatedAt,
	})
}

// DriverBalance handles GET /v1/balances/drivers/:id.
func (h *ReadHandler) DriverBalance(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid driver id")
	}
	if _, scoped, _ := clientScope(c); scoped {
		return fail(c, repository.ErrForbidden, nil)
	}
	d, err := h.Accounts.GetDriver(c.Request().Context(), id)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"account":      model.AccountDriver,
		"user_id":      d.ID,
		"balance":      d.Balance.StringFixed(2),
		"held_balance": d.HeldBalance.StringFixed(2),
		"available":    d.Available().StringFixed(2),
	})
}

// GetPayment handles GET /v1/payments/:id and includes its ledger entries.
func (h *ReadHandler) GetPayment(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid payment id")
	}
	ctx := c.Request().Context()
	p, err := h.Ledger.GetPayment(ctx, id)
	if err != nil {
		return fail(c, err, nil)
	}
	if err := h.ownClient(c, p.ClientID.Valid, uint64(p.ClientID.Int64)); err != nil {
		return fail(c, err, nil)
	}
	entries, err := h.Ledger.LedgerEntries(ctx, id)
	if err != nil {
		return fail(c, err, nil)
	}
	return c.JSON(http.StatusOK, echo.Map{"payment": p, "entries": entries})
}

// GetSpace handles GET /v1/spaces/:id.
func (h *ReadHandler) GetSpace(c echo.Context) error {
	id, ok := pathID(c, "id")
	if !ok {
		return badRequest(c, "invalid space id")
	}
	ctx := c.Request().Context()
	sp, err := h.Spaces.GetSpace(ctx, id)
	if err != nil {
		return fail(c, err, nil)
	}
	body := echo.Map{"space": sp}
	if sp.IsOccupied {
		if s, err := h.Sessions.ActiveSessionBySpace(ctx, id); err == nil {
			body["session_id"] = s.ID
			body["number_plate"] = s.NumberPlate
			body["entry_time"] = s.EntryTime
		}
	}
	return c.JSON(http.StatusOK, body)
}

// ownClient rejects CLIENT callers looking at another client's data.
func (h *ReadHandler) ownClient(c echo.Context, has bool, clientID uint64) error {
	own, scoped, err := clientScope(c)
	if err != nil || !scoped {
		return err
	}
	if !has || own != clientID {
		return repository.ErrForbidden
	}
	return nil
}
