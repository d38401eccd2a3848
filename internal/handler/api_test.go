package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/gateway"
	"github.com/iliyamo/parking-settlement/internal/handler"
	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository/memory"
	"github.com/iliyamo/parking-settlement/internal/router"
	"github.com/iliyamo/parking-settlement/internal/service"
	"github.com/iliyamo/parking-settlement/internal/utils"
)

const (
	jwtSecret      = "test-jwt-secret"
	callbackSecret = "test-callback-secret"
)

type stubGateway struct {
	mu  sync.Mutex
	err error
}

func (g *stubGateway) RequestPayment(_ context.Context, req gateway.PaymentRequest) (gateway.Acceptance, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return gateway.Acceptance{}, g.err
	}
	return gateway.Acceptance{StatusCode: http.StatusCreated, Reference: "ws_CO_" + req.OrderID}, nil
}

type api struct {
	e      *echo.Echo
	store  *memory.Store
	gw     *stubGateway
	now    time.Time
	client model.Client
	other  model.Client
	space  model.ParkingSpace
	driver model.Driver
}

func newAPI(t *testing.T) *api {
	t.Helper()
	a := &api{
		store: memory.New(),
		gw:    &stubGateway{},
		now:   time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	a.client = a.store.AddClient(model.Client{Name: "Westlands Parking Ltd", TillNumber: "5544332"})
	a.other = a.store.AddClient(model.Client{Name: "Other Lots", TillNumber: "1112223"})
	lot := a.store.AddLot(model.ParkingLot{ClientID: null.IntFrom(int64(a.client.ID)), Name: "Sarit", DailyRate: decimal.NewFromInt(300)})
	a.space = a.store.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A1"})
	a.driver = a.store.AddDriver(model.Driver{Name: "Wanjiru", PhoneNumber: "254712345678", Balance: decimal.NewFromInt(1000), IsActive: true})
	a.store.AddVehicle(model.Vehicle{UserID: a.driver.ID, NumberPlate: "KDA123A", IsActive: true})

	alloc := service.NewAllocator(a.store, nil)
	coord := service.NewCoordinator(a.store, a.store, a.store, a.gw, nil, service.SettlementConfig{Policy: service.PolicyConfirmed})
	mgr := service.NewSessionManager(a.store, a.store, a.store, alloc, service.NewFeeCalculator(decimal.Zero),
		service.NewAlertRecorder(a.store, nil), coord, nil, service.SessionConfig{
			MinimumBalance:   decimal.NewFromInt(100),
			DefaultDailyRate: decimal.NewFromInt(200),
		})
	mgr.SetClock(func() time.Time { return a.now })

	a.e = echo.New()
	router.RegisterRoutes(a.e, router.Handlers{
		Health:     handler.Health(nil),
		Detections: handler.NewDetectionHandler(mgr),
		Sessions:   handler.NewSessionHandler(mgr, coord),
		Payments:   handler.NewPaymentHandler(coord),
		Read:       handler.NewReadHandler(a.store, a.store, a.store, a.store, a.store),
		Admin:      handler.NewAdminHandler(mgr),
	}, router.Options{JWTSecret: jwtSecret, CallbackSecret: callbackSecret})
	return a
}

func token(t *testing.T, role string, sub, clientID uint64) string {
	t.Helper()
	tok, err := utils.NewAccessToken(jwtSecret, sub, role, clientID, time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return tok.Token
}

// do sends a JSON request and decodes the JSON reply into a map.
func (a *api) do(t *testing.T, method, path, bearer string, body any, headers ...string) (int, map[string]any) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+bearer)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)

	out := map[string]any{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func (a *api) callback(t *testing.T, body map[string]any, sign bool) (int, map[string]any) {
	t.Helper()
	raw, _ := json.Marshal(body)
	var headers []string
	if sign {
		headers = []string{gateway.SignatureHeader, gateway.Sign(callbackSecret, raw)}
	}
	return a.do(t, http.MethodPost, "/v1/payments/callback", "", json.RawMessage(raw), headers...)
}

func nested(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[k]
	}
	return cur
}

func TestParkingLifecycleOverHTTP(t *testing.T) {
	a := newAPI(t)
	detector := token(t, model.RoleDetector, 900, 0)
	admin := token(t, model.RoleAdmin, 1, 0)

	code, body := a.do(t, http.MethodPost, "/v1/detections/entry", detector, map[string]any{"plate": "kda 123a", "space_id": a.space.ID})
	if code != http.StatusCreated {
		t.Fatalf("entry: got %d %v, want 201", code, body)
	}
	if got := nested(body, "session", "number_plate"); got != "KDA123A" {
		t.Errorf("entry plate: got %v, want KDA123A", got)
	}

	a.now = a.now.Add(12 * time.Hour)
	code, body = a.do(t, http.MethodPost, "/v1/detections/exit", detector, map[string]any{"plate": "KDA123A"})
	if code != http.StatusOK {
		t.Fatalf("exit: got %d %v, want 200", code, body)
	}
	if got := nested(body, "payment", "status"); got != string(model.PaymentReserved) {
		t.Errorf("payment status after exit: got %v, want RESERVED", got)
	}
	orderID, _ := nested(body, "payment", "order_id").(string)
	if orderID == "" {
		t.Fatalf("no order id in %v", body)
	}

	cb := map[string]any{"order_id": orderID, "status": "PAID", "external_transaction_id": "QK1"}
	if code, _ := a.callback(t, cb, false); code != http.StatusUnauthorized {
		t.Errorf("unsigned callback: got %d, want 401", code)
	}
	code, body = a.callback(t, cb, true)
	if code != http.StatusOK || body["duplicate"] != false {
		t.Fatalf("callback: got %d %v, want 200 duplicate=false", code, body)
	}
	code, body = a.callback(t, cb, true)
	if code != http.StatusOK || body["duplicate"] != true {
		t.Errorf("repeat callback: got %d %v, want 200 duplicate=true", code, body)
	}
	cb["status"] = "FAILED"
	if code, _ := a.callback(t, cb, true); code != http.StatusConflict {
		t.Errorf("conflicting callback: got %d, want 409", code)
	}

	code, body = a.do(t, http.MethodGet, "/v1/balances/central", admin, nil)
	if code != http.StatusOK || body["balance"] != "22.50" {
		t.Errorf("central balance: got %d %v, want 22.50", code, body)
	}
	code, body = a.do(t, http.MethodGet, fmt.Sprintf("/v1/balances/drivers/%d", a.driver.ID), admin, nil)
	if code != http.StatusOK || body["balance"] != "850.00" || body["held_balance"] != "0.00" {
		t.Errorf("driver balance: got %d %v, want 850.00 with nothing held", code, body)
	}
}

func TestEntryUnregisteredPlateRaisesAlert(t *testing.T) {
	a := newAPI(t)
	detector := token(t, model.RoleDetector, 900, 0)

	code, body := a.do(t, http.MethodPost, "/v1/detections/entry", detector, map[string]any{"plate": "KZZ999Z", "space_id": a.space.ID})
	if code != http.StatusAccepted {
		t.Fatalf("got %d %v, want 202", code, body)
	}
	if body["outcome"] != string(service.OutcomeAlert) {
		t.Errorf("outcome: got %v, want %s", body["outcome"], service.OutcomeAlert)
	}

	staff := token(t, model.RoleStaff, 2, 0)
	code, body = a.do(t, http.MethodGet, "/v1/alerts", staff, nil)
	if code != http.StatusOK || body["count"] != float64(1) {
		t.Errorf("alerts: got %d %v, want one alert", code, body)
	}
}

func TestGatewayDownLeavesSessionPending(t *testing.T) {
	a := newAPI(t)
	detector := token(t, model.RoleDetector, 900, 0)
	staff := token(t, model.RoleStaff, 2, 0)

	code, body := a.do(t, http.MethodPost, "/v1/detections/entry", detector, map[string]any{"plate": "KDA123A", "space_id": a.space.ID})
	if code != http.StatusCreated {
		t.Fatalf("entry: got %d %v", code, body)
	}
	sessionID := uint64(nested(body, "session", "id").(float64))

	a.gw.mu.Lock()
	a.gw.err = gateway.ErrUnavailable
	a.gw.mu.Unlock()
	a.now = a.now.Add(6 * time.Hour)

	code, body = a.do(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/close", sessionID), staff, nil)
	if code != http.StatusGatewayTimeout {
		t.Fatalf("close: got %d %v, want 504", code, body)
	}
	if got := nested(body, "session", "status"); got != string(model.SessionPendingReconciliation) {
		t.Errorf("session status: got %v, want PENDING_RECONCILIATION", got)
	}
	if body["space_released"] != true {
		t.Errorf("space_released: got %v, want true", body["space_released"])
	}

	a.gw.mu.Lock()
	a.gw.err = nil
	a.gw.mu.Unlock()
	code, body = a.do(t, http.MethodPost, fmt.Sprintf("/v1/sessions/%d/settle", sessionID), staff, nil)
	if code != http.StatusOK {
		t.Fatalf("settle: got %d %v, want 200", code, body)
	}
	if got := nested(body, "payment", "status"); got != string(model.PaymentReserved) {
		t.Errorf("retried payment: got %v, want RESERVED", got)
	}
}

func TestAccessControl(t *testing.T) {
	a := newAPI(t)
	tests := []struct {
		name   string
		method string
		path   string
		bearer string
		want   int
	}{
		{"health is public", http.MethodGet, "/healthz", "", http.StatusOK},
		{"entry needs a token", http.MethodPost, "/v1/detections/entry", "", http.StatusUnauthorized},
		{"garbage token", http.MethodPost, "/v1/detections/entry", "not-a-jwt", http.StatusUnauthorized},
		{"driver cannot read sessions", http.MethodGet, "/v1/sessions", token(t, model.RoleDriver, 5, 0), http.StatusForbidden},
		{"client sees own till", http.MethodGet, fmt.Sprintf("/v1/balances/clients/%d", a.client.ID), token(t, model.RoleClient, 7, a.client.ID), http.StatusOK},
		{"client cannot see other till", http.MethodGet, fmt.Sprintf("/v1/balances/clients/%d", a.other.ID), token(t, model.RoleClient, 7, a.client.ID), http.StatusForbidden},
		{"client token without client_id", http.MethodGet, "/v1/sessions", token(t, model.RoleClient, 7, 0), http.StatusForbidden},
		{"client cannot see driver balances", http.MethodGet, fmt.Sprintf("/v1/balances/drivers/%d", a.driver.ID), token(t, model.RoleClient, 7, a.client.ID), http.StatusForbidden},
		{"staff cannot reconcile", http.MethodPost, "/v1/admin/reconcile", token(t, model.RoleStaff, 2, 0), http.StatusForbidden},
		{"admin reconciles", http.MethodPost, "/v1/admin/reconcile", token(t, model.RoleAdmin, 1, 0), http.StatusOK},
		{"unknown space", http.MethodGet, "/v1/spaces/999", token(t, model.RoleStaff, 2, 0), http.StatusNotFound},
		{"bad session id", http.MethodGet, "/v1/sessions/abc", token(t, model.RoleStaff, 2, 0), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := a.do(t, tt.method, tt.path, tt.bearer, nil); code != tt.want {
				t.Errorf("got %d %v, want %d", code, body, tt.want)
			}
		})
	}
}

func TestTopUpOverHTTP(t *testing.T) {
	a := newAPI(t)
	driver := token(t, model.RoleDriver, a.driver.ID, 0)

	code, body := a.do(t, http.MethodPost, "/v1/topups", driver, map[string]any{"amount": "500", "phone_number": "0712345678"})
	if code != http.StatusCreated {
		t.Fatalf("topup: got %d %v, want 201", code, body)
	}
	orderID, _ := nested(body, "payment", "order_id").(string)

	code, body = a.callback(t, map[string]any{"order_id": orderID, "status": "PAID"}, true)
	if code != http.StatusOK {
		t.Fatalf("callback: got %d %v", code, body)
	}
	d, _ := a.store.GetDriver(context.Background(), a.driver.ID)
	if !d.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("balance: got %s, want 1500", d.Balance)
	}

	if code, _ := a.do(t, http.MethodPost, "/v1/topups", driver, map[string]any{"amount": 0}); code != http.StatusBadRequest {
		t.Errorf("zero amount: got %d, want 400", code)
	}
}
