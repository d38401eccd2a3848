package service

import (
	"context"
	"time"

	"github.com/iliyamo/parking-settlement/internal/gateway"
	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
)

// SpaceStore is the persistence contract of the space allocator.  Every
// method that writes the occupancy flag is an atomic compare-and-swap.
//
// ClaimForSession claims the session's space and inserts the session as
// one unit.  It fails with repository.ErrStaleState when the space is
// taken and repository.ErrConflict when the vehicle already has an
// OCCUPIED session.
//
// ReleaseVacantSpace and ReclaimSpace are the reconciliation writes: the
// first frees a space that has had no OCCUPIED session and no flag change
// for grace, the second re-occupies a free space for a session that is
// still OCCUPIED on it.  Both report false when their condition no longer
// holds.
type SpaceStore interface {
	GetSpace(ctx context.Context, id uint64) (model.ParkingSpace, error)
	GetLot(ctx context.Context, id uint64) (model.ParkingLot, error)
	ClaimForSession(ctx context.Context, s *model.ParkingSession) error
	ReleaseSpace(ctx context.Context, id uint64) (bool, error)
	ReleaseVacantSpace(ctx context.Context, id uint64, grace time.Duration) (bool, error)
	ReclaimSpace(ctx context.Context, spaceID, sessionID uint64) (bool, error)
	ListOccupiedSpaces(ctx context.Context) ([]model.ParkingSpace, error)
}

// AccountStore resolves plates to vehicles and vehicles to drivers.
type AccountStore interface {
	VehicleByPlate(ctx context.Context, plate string) (model.Vehicle, error)
	GetDriver(ctx context.Context, id uint64) (model.Driver, error)
	GetClient(ctx context.Context, id uint64) (model.Client, error)
}

// SessionStore persists parking and top-up sessions.  Parking sessions
// are created through SpaceStore.ClaimForSession; status changes after
// close go through LedgerStore.ApplyTransition.
type SessionStore interface {
	GetSession(ctx context.Context, id uint64) (model.ParkingSession, error)
	ActiveSessionByVehicle(ctx context.Context, vehicleID uint64) (model.ParkingSession, error)
	ActiveSessionByPlate(ctx context.Context, plate string) (model.ParkingSession, error)
	ActiveSessionBySpace(ctx context.Context, spaceID uint64) (model.ParkingSession, error)
	CloseSession(ctx context.Context, c model.SessionClose) error
	ListSessions(ctx context.Context, f model.SessionFilter) ([]model.ParkingSession, error)

	CreateTopUp(ctx context.Context, t *model.TopUpSession) error
	GetTopUp(ctx context.Context, id uint64) (model.TopUpSession, error)
}

// AlertStore appends and lists alerts.
type AlertStore interface {
	CreateAlert(ctx context.Context, a *model.Alert) error
	ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error)
}

// LedgerStore owns payment records and balances.  ApplyTransition must
// apply the status change, the ledger delta and the session update as
// one unit, and return repository.ErrStaleState when the payment is no
// longer in the expected state.
type LedgerStore interface {
	CreatePayment(ctx context.Context, p *model.PaymentRecord) error
	GetPayment(ctx context.Context, id uint64) (model.PaymentRecord, error)
	PaymentByOrderID(ctx context.Context, orderID string) (model.PaymentRecord, error)
	LatestPayment(ctx context.Context, kind model.PaymentKind, sessionID uint64) (model.PaymentRecord, error)
	ApplyTransition(ctx context.Context, t model.PaymentTransition) (model.PaymentRecord, error)
	CentralTill(ctx context.Context) (model.Till, error)
	ClientTill(ctx context.Context, clientID uint64) (model.Till, error)
	LedgerEntries(ctx context.Context, paymentID uint64) ([]model.LedgerEntry, error)
}

// PaymentGateway is the outbound half of the payment processor.
type PaymentGateway interface {
	RequestPayment(ctx context.Context, req gateway.PaymentRequest) (gateway.Acceptance, error)
}

// EventSink receives domain events.  Emit must not block for long and
// must not fail the calling operation.
type EventSink interface {
	Emit(ctx context.Context, ev queue.Event)
}

type discardSink struct{}

func (discardSink) Emit(context.Context, queue.Event) {}
