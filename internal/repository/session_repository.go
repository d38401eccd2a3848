package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/parking-settlement/internal/model"
)

// SessionRepo persists parking sessions and top-up sessions.  The two
// live in separate tables; they only meet in payment_records.
type SessionRepo struct {
	db *sql.DB
}

// NewSessionRepo returns a new SessionRepo bound to the provided database.
func NewSessionRepo(db *sql.DB) *SessionRepo { return &SessionRepo{db: db} }

const sessionColumns = `id, vehicle_id, space_id, user_id, lot_id, client_id, number_plate, entry_time,
	exit_time, duration_seconds, fee, platform_share, client_share, status, payment_status, payment_ref,
	created_at, updated_at`

func scanSession(row interface{ Scan(...any) error }) (model.ParkingSession, error) {
	var s model.ParkingSession
	err := row.Scan(&s.ID, &s.VehicleID, &s.SpaceID, &s.UserID, &s.LotID, &s.ClientID, &s.NumberPlate, &s.EntryTime,
		&s.ExitTime, &s.DurationSeconds, &s.Fee, &s.PlatformShare, &s.ClientShare, &s.Status, &s.PaymentStatus, &s.PaymentRef,
		&s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// insertSession writes an OCCUPIED session row and fills in its ID.  A
// second OCCUPIED session for the same vehicle violates
// uq_sessions_active_vehicle and comes back as ErrConflict.
func insertSession(ctx context.Context, tx *sql.Tx, s *model.ParkingSession) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO parking_sessions (vehicle_id, space_id, user_id, lot_id, client_id, number_plate, entry_time, status, payment_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.VehicleID, s.SpaceID, s.UserID, s.LotID, s.ClientID, s.NumberPlate, s.EntryTime.UTC(), s.Status, s.PaymentStatus,
	)
	if err != nil {
		return translate(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = uint64(id)
	return nil
}

// GetSession loads a session by id.
func (r *SessionRepo) GetSession(ctx context.Context, id uint64) (model.ParkingSession, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM parking_sessions WHERE id = ?`, id))
	if err != nil {
		return model.ParkingSession{}, fmt.Errorf("SessionRepo.GetSession: %w", translate(err))
	}
	return s, nil
}

// ActiveSessionByVehicle returns the OCCUPIED session of a vehicle.
func (r *SessionRepo) ActiveSessionByVehicle(ctx context.Context, vehicleID uint64) (model.ParkingSession, error) {
	return r.activeBy(ctx, "vehicle_id = ?", vehicleID)
}

// ActiveSessionByPlate returns the OCCUPIED session for a normalized plate.
func (r *SessionRepo) ActiveSessionByPlate(ctx context.Context, plate string) (model.ParkingSession, error) {
	return r.activeBy(ctx, "number_plate = ?", plate)
}

// ActiveSessionBySpace returns the OCCUPIED session on a space.
func (r *SessionRepo) ActiveSessionBySpace(ctx context.Context, spaceID uint64) (model.ParkingSession, error) {
	return r.activeBy(ctx, "space_id = ?", spaceID)
}

func (r *SessionRepo) activeBy(ctx context.Context, cond string, arg any) (model.ParkingSession, error) {
	q := `SELECT ` + sessionColumns + ` FROM parking_sessions WHERE ` + cond + ` AND status = ? ORDER BY id DESC LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, arg, model.SessionOccupied))
	if err != nil {
		return model.ParkingSession{}, fmt.Errorf("SessionRepo.activeBy: %w", translate(err))
	}
	return s, nil
}

// CloseSession records the exit half of an OCCUPIED session and moves it
// to PENDING_RECONCILIATION until the gateway accepts the payment.  Only
// one caller can close a given session; later callers get ErrStaleState.
func (r *SessionRepo) CloseSession(ctx context.Context, c model.SessionClose) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parking_sessions
		    SET exit_time = ?, duration_seconds = ?, fee = ?, platform_share = ?, client_share = ?,
		        status = ?, payment_status = ?, updated_at = UTC_TIMESTAMP()
		  WHERE id = ? AND status = ?`,
		c.ExitTime.UTC(), c.DurationSeconds, c.Fee, c.PlatformShare, c.ClientShare,
		model.SessionPendingReconciliation, model.PaymentPending,
		c.SessionID, model.SessionOccupied,
	)
	if err != nil {
		return fmt.Errorf("SessionRepo.CloseSession: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SessionRepo.CloseSession: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("SessionRepo.CloseSession: %w", ErrStaleState)
	}
	return nil
}

// ListSessions returns sessions newest first, filtered by f.
func (r *SessionRepo) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.ParkingSession, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.Plate != "" {
		where = append(where, "number_plate = ?")
		args = append(args, f.Plate)
	}
	if f.LotID != 0 {
		where = append(where, "lot_id = ?")
		args = append(args, f.LotID)
	}
	if f.ClientID != 0 {
		where = append(where, "client_id = ?")
		args = append(args, f.ClientID)
	}
	if !f.From.IsZero() {
		where = append(where, "entry_time >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "entry_time < ?")
		args = append(args, f.To.UTC())
	}
	q := `SELECT ` + sessionColumns + ` FROM parking_sessions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY entry_time DESC, id DESC LIMIT ?"
	args = append(args, limitOrDefault(f.Limit))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("SessionRepo.ListSessions: %w", err)
	}
	defer rows.Close()
	out := []model.ParkingSession{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("SessionRepo.ListSessions: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// CreateTopUp inserts a PENDING top-up and fills in its ID.
func (r *SessionRepo) CreateTopUp(ctx context.Context, t *model.TopUpSession) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO topups (user_id, amount, phone_number, status, payment_status) VALUES (?, ?, ?, ?, ?)`,
		t.UserID, t.Amount, t.PhoneNumber, t.Status, t.PaymentStatus)
	if err != nil {
		return fmt.Errorf("SessionRepo.CreateTopUp: %w", translate(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("SessionRepo.CreateTopUp: %w", err)
	}
	t.ID = uint64(id)
	return nil
}

// GetTopUp loads a top-up by id.
func (r *SessionRepo) GetTopUp(ctx context.Context, id uint64) (model.TopUpSession, error) {
	var t model.TopUpSession
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, amount, phone_number, status, payment_status, payment_ref, created_at, updated_at FROM topups WHERE id = ?`, id,
	).Scan(&t.ID, &t.UserID, &t.Amount, &t.PhoneNumber, &t.Status, &t.PaymentStatus, &t.PaymentRef, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return model.TopUpSession{}, fmt.Errorf("SessionRepo.GetTopUp: %w", translate(err))
	}
	return t, nil
}
