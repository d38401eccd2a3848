package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

const seedJSON = `{
  "clients":  [{"id": 10, "name": "Acme Parking", "till_number": "5544332"}],
  "lots":     [{"id": 20, "client_id": 10, "name": "CBD", "location": "Moi Ave", "daily_rate": "300.00"},
               {"id": 21, "client_id": null, "name": "Airport", "location": "JKIA", "daily_rate": "0"}],
  "spaces":   [{"id": 30, "lot_id": 20, "space_number": "A1", "is_occupied": true},
               {"id": 31, "lot_id": 21, "space_number": "B1"}],
  "drivers":  [{"id": 40, "name": "Wanjiku", "phone_number": "254712345678", "balance": "1000.00", "held_balance": "50", "is_active": true}],
  "vehicles": [{"id": 50, "user_id": 40, "number_plate": "KDA123A", "is_active": true}]
}`

func TestLoadSeedLinksRecords(t *testing.T) {
	s := New()
	if err := s.LoadSeed(strings.NewReader(seedJSON)); err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	ctx := context.Background()

	v, err := s.VehicleByPlate(ctx, "KDA123A")
	if err != nil {
		t.Fatalf("VehicleByPlate: %v", err)
	}
	d, err := s.GetDriver(ctx, v.UserID)
	if err != nil {
		t.Fatalf("GetDriver(%d): %v", v.UserID, err)
	}
	if d.Name != "Wanjiku" {
		t.Errorf("driver name: got %q, want Wanjiku", d.Name)
	}
	if !d.HeldBalance.IsZero() {
		t.Errorf("held balance: got %s, want 0", d.HeldBalance)
	}

	occupied, _ := s.ListOccupiedSpaces(ctx)
	if len(occupied) != 0 {
		t.Errorf("seeded spaces start free, got %d occupied", len(occupied))
	}

	var cbd model.ParkingLot
	for _, l := range s.lots {
		if l.Name == "CBD" {
			cbd = l
		}
	}
	c, err := s.GetClient(ctx, uint64(cbd.ClientID.Int64))
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if c.TillNumber != "5544332" {
		t.Errorf("till: got %s, want 5544332", c.TillNumber)
	}
}

func TestLoadSeedRejectsDanglingReferences(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"unknown lot", `{"spaces": [{"lot_id": 9, "space_number": "A1"}]}`},
		{"unknown driver", `{"vehicles": [{"user_id": 9, "number_plate": "KDA123A"}]}`},
		{"unknown client", `{"lots": [{"id": 1, "client_id": 9, "name": "x"}]}`},
		{"duplicate space", `{"lots": [{"id": 1, "name": "x"}], "spaces": [{"lot_id": 1, "space_number": "A1"}, {"lot_id": 1, "space_number": "A1"}]}`},
		{"unknown field", `{"garages": []}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := New().LoadSeed(strings.NewReader(tt.in)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestClaimSpaceIsCompareAndSwap(t *testing.T) {
	s := New()
	lot := s.AddLot(model.ParkingLot{Name: "CBD"})
	sp := s.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A1"})
	ctx := context.Background()

	steps := []struct {
		op   func(context.Context, uint64) (bool, error)
		want bool
	}{
		{s.ClaimSpace, true},
		{s.ClaimSpace, false},
		{s.ReleaseSpace, true},
		{s.ReleaseSpace, false},
	}
	for i, st := range steps {
		got, err := st.op(ctx, sp.ID)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got != st.want {
			t.Errorf("step %d: got %v, want %v", i, got, st.want)
		}
	}
	if _, err := s.ClaimSpace(ctx, 999); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("unknown space: got %v, want ErrNotFound", err)
	}
}

func occupiedSession(spaceID, vehicleID uint64) *model.ParkingSession {
	return &model.ParkingSession{
		SpaceID:       null.IntFrom(int64(spaceID)),
		VehicleID:     null.IntFrom(int64(vehicleID)),
		NumberPlate:   "KDA123A",
		Status:        model.SessionOccupied,
		PaymentStatus: model.PaymentPending,
	}
}

func TestClaimForSession(t *testing.T) {
	s := New()
	lot := s.AddLot(model.ParkingLot{Name: "CBD"})
	a1 := s.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A1"})
	a2 := s.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A2"})
	ctx := context.Background()

	first := occupiedSession(a1.ID, 7)
	if err := s.ClaimForSession(ctx, first); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.ID == 0 {
		t.Fatal("session id not assigned")
	}

	tests := []struct {
		name    string
		session *model.ParkingSession
		wantErr error
	}{
		{"space taken", occupiedSession(a1.ID, 8), repository.ErrStaleState},
		{"vehicle already parked", occupiedSession(a2.ID, 7), repository.ErrConflict},
		{"unknown space", occupiedSession(999, 9), repository.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ClaimForSession(ctx, tt.session); !errors.Is(err, tt.wantErr) {
				t.Fatalf("got %v, want %v", err, tt.wantErr)
			}
			if tt.session.ID != 0 {
				t.Errorf("rejected session was stored as #%d", tt.session.ID)
			}
		})
	}
	if sp, _ := s.GetSpace(ctx, a2.ID); sp.IsOccupied {
		t.Error("A2 must stay free after the vehicle conflict")
	}
}

func TestReleaseVacantSpace(t *testing.T) {
	s := New()
	now := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })
	lot := s.AddLot(model.ParkingLot{Name: "CBD"})
	orphan := s.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A1"})
	held := s.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A2"})
	ctx := context.Background()

	if _, err := s.ClaimSpace(ctx, orphan.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.ClaimForSession(ctx, occupiedSession(held.ID, 7)); err != nil {
		t.Fatal(err)
	}

	if ok, _ := s.ReleaseVacantSpace(ctx, orphan.ID, 30*time.Second); ok {
		t.Error("orphan released inside the grace window")
	}
	now = now.Add(time.Minute)
	if ok, _ := s.ReleaseVacantSpace(ctx, held.ID, 30*time.Second); ok {
		t.Error("space with an OCCUPIED session was released")
	}
	if ok, err := s.ReleaseVacantSpace(ctx, orphan.ID, 30*time.Second); err != nil || !ok {
		t.Errorf("orphan: got (%v, %v), want (true, nil)", ok, err)
	}
}

func TestReclaimSpaceNeedsOccupiedSession(t *testing.T) {
	s := New()
	lot := s.AddLot(model.ParkingLot{Name: "CBD"})
	sp := s.AddSpace(model.ParkingSpace{LotID: lot.ID, SpaceNumber: "A1"})
	ctx := context.Background()

	ps := occupiedSession(sp.ID, 7)
	if err := s.ClaimForSession(ctx, ps); err != nil {
		t.Fatal(err)
	}
	if _, err := s.ReleaseSpace(ctx, sp.ID); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ReclaimSpace(ctx, sp.ID, ps.ID); !ok {
		t.Fatal("reclaim for an OCCUPIED session failed")
	}

	if _, err := s.ReleaseSpace(ctx, sp.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.CloseSession(ctx, model.SessionClose{SessionID: ps.ID, ExitTime: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.ReclaimSpace(ctx, sp.ID, ps.ID); ok {
		t.Error("space reclaimed for a closed session")
	}
}

func TestApplyTransition(t *testing.T) {
	s := New()
	ctx := context.Background()
	d := s.AddDriver(model.Driver{Name: "W", Balance: decimal.NewFromInt(1000), IsActive: true})
	p := &model.PaymentRecord{Kind: model.PaymentKindParking, SessionID: 7, OrderID: "park-7", UserID: d.ID,
		Amount: decimal.NewFromInt(150), Status: model.PaymentPending}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}
	if err := s.CreatePayment(ctx, &model.PaymentRecord{OrderID: "park-7"}); !errors.Is(err, repository.ErrConflict) {
		t.Errorf("duplicate order: got %v, want ErrConflict", err)
	}

	pay := model.PaymentTransition{
		PaymentID:  p.ID,
		FromStatus: model.PaymentPending, FromLedger: model.LedgerNone,
		ToStatus: model.PaymentPaid, ToLedger: model.LedgerApplied,
		ExternalRef: "QK1",
		Delta: model.LedgerDelta{
			UserID: d.ID, Driver: decimal.NewFromInt(-150),
			Central: decimal.RequireFromString("22.50"), ClientID: 3, Client: decimal.RequireFromString("127.50"),
		},
	}
	got, err := s.ApplyTransition(ctx, pay)
	if err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}
	if got.Status != model.PaymentPaid || got.ExternalRef.String != "QK1" {
		t.Errorf("record: got %s/%q, want PAID/QK1", got.Status, got.ExternalRef.String)
	}

	// Replaying the same transition must not move money twice.
	if _, err := s.ApplyTransition(ctx, pay); !errors.Is(err, repository.ErrStaleState) {
		t.Errorf("replay: got %v, want ErrStaleState", err)
	}

	drv, _ := s.GetDriver(ctx, d.ID)
	if !drv.Balance.Equal(decimal.NewFromInt(850)) {
		t.Errorf("driver balance: got %s, want 850", drv.Balance)
	}
	central, _ := s.CentralTill(ctx)
	if !central.Balance.Equal(decimal.RequireFromString("22.50")) {
		t.Errorf("central: got %s, want 22.50", central.Balance)
	}
	client, _ := s.ClientTill(ctx, 3)
	if !client.Balance.Equal(decimal.RequireFromString("127.50")) {
		t.Errorf("client: got %s, want 127.50", client.Balance)
	}
	entries, _ := s.LedgerEntries(ctx, p.ID)
	if len(entries) != 3 {
		t.Errorf("ledger entries: got %d, want 3", len(entries))
	}
}

func TestApplyTransitionUnknownDriverLeavesRecord(t *testing.T) {
	s := New()
	ctx := context.Background()
	p := &model.PaymentRecord{OrderID: "park-1", Status: model.PaymentPending}
	_ = s.CreatePayment(ctx, p)

	_, err := s.ApplyTransition(ctx, model.PaymentTransition{
		PaymentID:  p.ID,
		FromStatus: model.PaymentPending, FromLedger: model.LedgerNone,
		ToStatus: model.PaymentPaid, ToLedger: model.LedgerApplied,
		Delta: model.LedgerDelta{UserID: 99, Driver: decimal.NewFromInt(-1)},
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	rec, _ := s.GetPayment(ctx, p.ID)
	if rec.Status != model.PaymentPending {
		t.Errorf("status: got %s, want PENDING", rec.Status)
	}
}
