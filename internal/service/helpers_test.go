package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/gateway"
	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
	"github.com/iliyamo/parking-settlement/internal/repository/memory"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeGateway answers payment requests with respond, or accepts them
// with a fixed reference when respond is nil.
type fakeGateway struct {
	mu      sync.Mutex
	respond func(gateway.PaymentRequest) (gateway.Acceptance, error)
	reqs    []gateway.PaymentRequest
}

func (g *fakeGateway) RequestPayment(_ context.Context, req gateway.PaymentRequest) (gateway.Acceptance, error) {
	g.mu.Lock()
	g.reqs = append(g.reqs, req)
	fn := g.respond
	g.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.Acceptance{StatusCode: 201, Reference: "ws_CO_" + req.OrderID, Message: "accepted"}, nil
}

func (g *fakeGateway) set(fn func(gateway.PaymentRequest) (gateway.Acceptance, error)) {
	g.mu.Lock()
	g.respond = fn
	g.mu.Unlock()
}

func (g *fakeGateway) requests() []gateway.PaymentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.PaymentRequest(nil), g.reqs...)
}

type fixture struct {
	store   *memory.Store
	gw      *fakeGateway
	events  *queue.Recorder
	alloc   *Allocator
	coord   *Coordinator
	mgr     *SessionManager
	now     time.Time
	client  model.Client
	lot     model.ParkingLot
	spaces  []model.ParkingSpace
	driver  model.Driver
	vehicle model.Vehicle
}

// newFixture seeds one client-owned lot at 300/day with three spaces and
// one driver holding 1000 with vehicle KDA123A.
func newFixture(t *testing.T, policy Policy) *fixture {
	t.Helper()
	f := &fixture{
		store:  memory.New(),
		gw:     &fakeGateway{},
		events: &queue.Recorder{},
		now:    time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	f.client = f.store.AddClient(model.Client{Name: "Westlands Parking Ltd", TillNumber: "5544332"})
	f.lot = f.store.AddLot(model.ParkingLot{
		ClientID:  null.IntFrom(int64(f.client.ID)),
		Name:      "Sarit Centre",
		Location:  "Westlands",
		DailyRate: dec("300"),
	})
	for _, n := range []string{"A1", "A2", "A3"} {
		f.spaces = append(f.spaces, f.store.AddSpace(model.ParkingSpace{LotID: f.lot.ID, SpaceNumber: n}))
	}
	f.driver = f.store.AddDriver(model.Driver{
		Name:        "Wanjiru",
		PhoneNumber: "0712345678",
		Balance:     dec("1000"),
		HeldBalance: decimal.Zero,
		IsActive:    true,
	})
	f.vehicle = f.store.AddVehicle(model.Vehicle{UserID: f.driver.ID, NumberPlate: "KDA123A", IsActive: true})

	f.alloc = NewAllocator(f.store, f.events)
	f.coord = NewCoordinator(f.store, f.store, f.store, f.gw, f.events, SettlementConfig{
		Policy:            policy,
		DefaultTillNumber: "000000",
	})
	f.mgr = NewSessionManager(f.store, f.store, f.store, f.alloc, NewFeeCalculator(decimal.Zero),
		NewAlertRecorder(f.store, f.events), f.coord, f.events, SessionConfig{
			MinimumBalance:   dec("100"),
			DefaultDailyRate: dec("200"),
		})
	f.mgr.SetClock(func() time.Time { return f.now })
	f.store.SetClock(func() time.Time { return f.now })
	return f
}

// managerWith builds a second manager over the fixture's data with the
// space and session stores swapped for wrappers.
func (f *fixture) managerWith(spaces SpaceStore, sessions SessionStore) *SessionManager {
	m := NewSessionManager(spaces, f.store, sessions, NewAllocator(spaces, f.events), NewFeeCalculator(decimal.Zero),
		NewAlertRecorder(f.store, f.events), f.coord, f.events, SessionConfig{
			MinimumBalance:   dec("100"),
			DefaultDailyRate: dec("200"),
		})
	m.SetClock(func() time.Time { return f.now })
	return m
}

// session is an OCCUPIED session on space with no vehicle attached.
func (f *fixture) session(space model.ParkingSpace) *model.ParkingSession {
	return &model.ParkingSession{
		SpaceID:       null.IntFrom(int64(space.ID)),
		UserID:        f.driver.ID,
		LotID:         f.lot.ID,
		NumberPlate:   "TEST",
		EntryTime:     f.now,
		Status:        model.SessionOccupied,
		PaymentStatus: model.PaymentPending,
	}
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) open(t *testing.T, plate string, space model.ParkingSpace) model.ParkingSession {
	t.Helper()
	res, err := f.mgr.Open(context.Background(), plate, space.ID, time.Time{})
	if err != nil {
		t.Fatalf("open %s at %s: %v", plate, space.SpaceNumber, err)
	}
	if res.Outcome != OutcomeOpened || res.Session == nil {
		t.Fatalf("open %s: outcome %s, want %s", plate, res.Outcome, OutcomeOpened)
	}
	return *res.Session
}

func (f *fixture) callback(orderID, status string) (CallbackResult, error) {
	return f.coord.HandleCallback(context.Background(), gateway.Callback{
		OrderID:               orderID,
		Status:                status,
		ExternalTransactionID: "QK" + orderID,
	})
}

func (f *fixture) driverState(t *testing.T) model.Driver {
	t.Helper()
	d, err := f.store.GetDriver(context.Background(), f.driver.ID)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	return d
}

func (f *fixture) tills(t *testing.T) (central, client decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	c, err := f.store.CentralTill(ctx)
	if err != nil {
		t.Fatalf("central till: %v", err)
	}
	cl, err := f.store.ClientTill(ctx, f.client.ID)
	if err != nil {
		t.Fatalf("client till: %v", err)
	}
	return c.Balance, cl.Balance
}

func (f *fixture) spaceOccupied(t *testing.T, id uint64) bool {
	t.Helper()
	sp, err := f.store.GetSpace(context.Background(), id)
	if err != nil {
		t.Fatalf("get space: %v", err)
	}
	return sp.IsOccupied
}

func assertDec(t *testing.T, what string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s: got %s, want %s", what, got.StringFixed(2), want.StringFixed(2))
	}
}
