package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

// SessionConfig holds the business thresholds of the session manager.
type SessionConfig struct {
	// MinimumBalance is the available balance a driver needs to enter.
	MinimumBalance decimal.Decimal
	// DefaultDailyRate prices lots that have no rate of their own.
	DefaultDailyRate decimal.Decimal
	// MaxClockSkew is how far in the future a detection time may be.
	MaxClockSkew time.Duration
	// ReconcileGrace is how long a space must sit occupied without a
	// session before a reconciliation sweep frees it.
	ReconcileGrace time.Duration
}

// DefaultReconcileGrace is used when SessionConfig.ReconcileGrace is unset.
const DefaultReconcileGrace = 30 * time.Second

// OpenOutcome says how a detection at a space was handled.
type OpenOutcome string

const (
	OutcomeOpened OpenOutcome = "opened"
	OutcomeAlert  OpenOutcome = "alert_raised"
)

// OpenResult is returned by Open.  Exactly one of Session and Alert is
// set, matching Outcome.
type OpenResult struct {
	Outcome OpenOutcome
	Session *model.ParkingSession
	Alert   *model.Alert
}

// CloseResult is returned by Close, also alongside a settlement error so
// the caller can see that the vehicle was checked out regardless.
type CloseResult struct {
	Session      model.ParkingSession
	Payment      *model.PaymentRecord
	SpaceRelease bool
}

// SessionManager runs a parking session from plate detection to the
// hand-off to settlement.
type SessionManager struct {
	spaces     SpaceStore
	accounts   AccountStore
	sessions   SessionStore
	allocator  *Allocator
	fees       FeeCalculator
	alerts     *AlertRecorder
	settlement *Coordinator
	events     EventSink
	cfg        SessionConfig
	now        func() time.Time
}

// NewSessionManager wires a SessionManager.  events may be nil.
func NewSessionManager(spaces SpaceStore, accounts AccountStore, sessions SessionStore, allocator *Allocator, fees FeeCalculator,
	alerts *AlertRecorder, settlement *Coordinator, events EventSink, cfg SessionConfig) *SessionManager {
	if spaces == nil || accounts == nil || sessions == nil || allocator == nil || alerts == nil || settlement == nil {
		panic("nil dependency passed to NewSessionManager")
	}
	if events == nil {
		events = discardSink{}
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = 5 * time.Minute
	}
	if cfg.ReconcileGrace <= 0 {
		cfg.ReconcileGrace = DefaultReconcileGrace
	}
	return &SessionManager{
		spaces:     spaces,
		accounts:   accounts,
		sessions:   sessions,
		allocator:  allocator,
		fees:       fees,
		alerts:     alerts,
		settlement: settlement,
		events:     events,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock replaces the time source of the manager and of the components
// it owns.  Tests use it to move time forward.
func (m *SessionManager) SetClock(now func() time.Time) {
	m.now = now
	m.alerts.now = now
	m.settlement.now = now
}

// Open handles a plate detected at a space.  An unknown or inactive plate
// raises an alert and returns OutcomeAlert with a nil error.  A known
// plate opens an OCCUPIED session once the space is claimed.
func (m *SessionManager) Open(ctx context.Context, rawPlate string, spaceID uint64, detectedAt time.Time) (OpenResult, error) {
	plate, err := NormalizePlate(rawPlate)
	if err != nil {
		return OpenResult{}, err
	}
	now := m.now().UTC()
	if detectedAt.IsZero() {
		detectedAt = now
	}
	if detectedAt.After(now.Add(m.cfg.MaxClockSkew)) {
		return OpenResult{}, invalid("detected_at", "is in the future")
	}

	space, lot, err := spaceLot(ctx, m.spaces, spaceID)
	if err != nil {
		return OpenResult{}, err
	}

	vehicle, err := m.accounts.VehicleByPlate(ctx, plate)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return m.raise(ctx, space.ID, plate, fmt.Sprintf("Unregistered car with number plate %s", plate))
	case err != nil:
		return OpenResult{}, fmt.Errorf("lookup vehicle: %w", err)
	case !vehicle.IsActive:
		return m.raise(ctx, space.ID, plate, fmt.Sprintf("Inactive car with number plate %s", plate))
	}

	driver, err := m.accounts.GetDriver(ctx, vehicle.UserID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return m.raise(ctx, space.ID, plate, fmt.Sprintf("Car with number plate %s has no owner account", plate))
	case err != nil:
		return OpenResult{}, fmt.Errorf("lookup driver: %w", err)
	case !driver.IsActive:
		return m.raise(ctx, space.ID, plate, fmt.Sprintf("Car with number plate %s belongs to an inactive account", plate))
	}
	if driver.Available().LessThan(m.cfg.MinimumBalance) {
		return OpenResult{}, fmt.Errorf("%w: available balance %s is below the minimum of %s",
			ErrInsufficientFunds, driver.Available().StringFixed(2), m.cfg.MinimumBalance.StringFixed(2))
	}

	// Early answer for the common case; Claim enforces it again atomically.
	if _, err := m.sessions.ActiveSessionByVehicle(ctx, vehicle.ID); err == nil {
		return OpenResult{}, ErrVehicleParked
	} else if !errors.Is(err, repository.ErrNotFound) {
		return OpenResult{}, fmt.Errorf("lookup active session: %w", err)
	}

	s := model.ParkingSession{
		VehicleID:     null.IntFrom(int64(vehicle.ID)),
		SpaceID:       null.IntFrom(int64(space.ID)),
		UserID:        driver.ID,
		LotID:         lot.ID,
		ClientID:      lot.ClientID,
		NumberPlate:   plate,
		EntryTime:     detectedAt.UTC(),
		Status:        model.SessionOccupied,
		PaymentStatus: model.PaymentPending,
	}
	if err := m.allocator.Claim(ctx, &s); err != nil {
		return OpenResult{}, err
	}
	log.Printf("session: opened #%d plate=%s space=%d", s.ID, plate, space.ID)

	ev := queue.NewEvent(queue.EventSessionOpened)
	ev.SessionID, ev.UserID, ev.LotID, ev.SpaceID = s.ID, s.UserID, s.LotID, space.ID
	ev.SpaceNumber, ev.Plate, ev.Status = space.SpaceNumber, plate, string(s.Status)
	m.events.Emit(ctx, ev)

	return OpenResult{Outcome: OutcomeOpened, Session: &s}, nil
}

func (m *SessionManager) raise(ctx context.Context, spaceID uint64, plate, reason string) (OpenResult, error) {
	a, err := m.alerts.Record(ctx, spaceID, plate, reason)
	if err != nil {
		return OpenResult{}, err
	}
	return OpenResult{Outcome: OutcomeAlert, Alert: &a}, nil
}

// Close checks a vehicle out: it prices the stay, frees the space and
// hands the fee to settlement.  The space is freed even when settlement
// fails; in that case the session is left PENDING_RECONCILIATION and the
// settlement error is returned together with the result.
func (m *SessionManager) Close(ctx context.Context, sessionID uint64) (CloseResult, error) {
	s, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return CloseResult{}, notFoundAs(err, ErrSessionNotFound)
	}
	if s.Status != model.SessionOccupied {
		return CloseResult{Session: s}, ErrSessionNotOpen
	}

	rate := m.cfg.DefaultDailyRate
	if lot, err := m.spaces.GetLot(ctx, s.LotID); err == nil && lot.DailyRate.IsPositive() {
		rate = lot.DailyRate
	}
	exit := m.now().UTC()
	fee, err := m.fees.Compute(s.EntryTime, exit, rate)
	if err != nil {
		if errors.Is(err, ErrInternalInconsistency) {
			log.Printf("session: ANOMALY closing #%d: entry=%s exit=%s: %v", s.ID, s.EntryTime.Format(time.RFC3339Nano), exit.Format(time.RFC3339Nano), err)
		}
		return CloseResult{Session: s}, err
	}

	err = m.sessions.CloseSession(ctx, model.SessionClose{
		SessionID:       s.ID,
		ExitTime:        exit,
		DurationSeconds: fee.DurationSeconds,
		Fee:             fee.Amount,
		PlatformShare:   fee.PlatformShare,
		ClientShare:     fee.ClientShare,
	})
	if errors.Is(err, repository.ErrStaleState) {
		return CloseResult{Session: s}, ErrSessionNotOpen
	}
	if err != nil {
		return CloseResult{Session: s}, fmt.Errorf("close session: %w", err)
	}

	res := CloseResult{}
	if s.SpaceID.Valid {
		released, rerr := m.allocator.Release(ctx, uint64(s.SpaceID.Int64))
		if rerr != nil {
			log.Printf("session: release space %d for #%d failed, left for reconciliation: %v", s.SpaceID.Int64, s.ID, rerr)
		}
		res.SpaceRelease = released
	}

	if s, err = m.sessions.GetSession(ctx, sessionID); err != nil {
		return res, fmt.Errorf("reload session: %w", err)
	}
	log.Printf("session: closed #%d plate=%s duration=%ds fee=%s", s.ID, s.NumberPlate, fee.DurationSeconds, fee.Amount.StringFixed(2))
	ev := queue.NewEvent(queue.EventSessionClosed)
	ev.SessionID, ev.UserID, ev.LotID = s.ID, s.UserID, s.LotID
	ev.SpaceID = uint64(s.SpaceID.Int64)
	ev.Plate, ev.Amount = s.NumberPlate, fee.Amount.StringFixed(2)
	m.events.Emit(ctx, ev)

	p, serr := m.settlement.SettleSession(ctx, s)
	if p.ID != 0 {
		res.Payment = &p
	}
	if cur, err := m.sessions.GetSession(ctx, sessionID); err == nil {
		s = cur
	}
	res.Session = s
	if serr != nil {
		log.Printf("session: settlement for #%d failed: %v", s.ID, serr)
		return res, serr
	}
	return res, nil
}

// CloseByPlate closes the active session of the vehicle with the given
// plate, as reported by an exit camera.
func (m *SessionManager) CloseByPlate(ctx context.Context, rawPlate string) (CloseResult, error) {
	plate, err := NormalizePlate(rawPlate)
	if err != nil {
		return CloseResult{}, err
	}
	s, err := m.sessions.ActiveSessionByPlate(ctx, plate)
	if err != nil {
		return CloseResult{}, notFoundAs(err, ErrSessionNotFound)
	}
	return m.Close(ctx, s.ID)
}
