package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/parking-settlement/internal/model"
)

// SpaceRepo provides data access to parking_lots and parking_spaces.  The
// occupancy flag is only written through compare-and-swap updates, so
// several service instances can share one database.  A claim is always
// written together with the session that holds it.
type SpaceRepo struct {
	db *sql.DB
}

// NewSpaceRepo returns a new SpaceRepo bound to the provided database.
func NewSpaceRepo(db *sql.DB) *SpaceRepo { return &SpaceRepo{db: db} }

const spaceColumns = `id, lot_id, space_number, is_occupied, created_at, updated_at`

func scanSpace(row interface{ Scan(...any) error }) (model.ParkingSpace, error) {
	var s model.ParkingSpace
	err := row.Scan(&s.ID, &s.LotID, &s.SpaceNumber, &s.IsOccupied, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

// GetSpace loads a space by id.  Returns ErrNotFound when missing.
func (r *SpaceRepo) GetSpace(ctx context.Context, id uint64) (model.ParkingSpace, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+spaceColumns+` FROM parking_spaces WHERE id = ?`, id)
	s, err := scanSpace(row)
	if err != nil {
		return model.ParkingSpace{}, fmt.Errorf("SpaceRepo.GetSpace: %w", translate(err))
	}
	return s, nil
}

// GetLot loads a lot by id.  Returns ErrNotFound when missing.
func (r *SpaceRepo) GetLot(ctx context.Context, id uint64) (model.ParkingLot, error) {
	var l model.ParkingLot
	err := r.db.QueryRowContext(ctx,
		`SELECT id, client_id, name, location, daily_rate, created_at FROM parking_lots WHERE id = ?`, id,
	).Scan(&l.ID, &l.ClientID, &l.Name, &l.Location, &l.DailyRate, &l.CreatedAt)
	if err != nil {
		return model.ParkingLot{}, fmt.Errorf("SpaceRepo.GetLot: %w", translate(err))
	}
	return l, nil
}

// ClaimForSession flips the session's space to occupied and inserts the
// session in one transaction, so no reader ever sees the flag set without
// its session.  It returns ErrStaleState when the space is already
// occupied, ErrNotFound when it does not exist and ErrConflict when the
// vehicle already has an OCCUPIED session.  On any error neither row is
// written.
//
// The claim UPDATE matches on is_occupied = 0, so of any number of
// concurrent callers exactly one sees a changed row.
func (r *SpaceRepo) ClaimForSession(ctx context.Context, s *model.ParkingSession) error {
	if !s.SpaceID.Valid {
		return fmt.Errorf("SpaceRepo.ClaimForSession: session has no space: %w", ErrNotFound)
	}
	id := uint64(s.SpaceID.Int64)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("SpaceRepo.ClaimForSession: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE parking_spaces SET is_occupied = 1, updated_at = UTC_TIMESTAMP() WHERE id = ? AND is_occupied = 0`, id)
	if err != nil {
		return fmt.Errorf("SpaceRepo.ClaimForSession: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SpaceRepo.ClaimForSession: %w", err)
	}
	if n == 0 {
		if err := r.exists(ctx, tx, id); err != nil {
			return fmt.Errorf("SpaceRepo.ClaimForSession: %w", err)
		}
		return fmt.Errorf("SpaceRepo.ClaimForSession: space %d: %w", id, ErrStaleState)
	}
	if err := insertSession(ctx, tx, s); err != nil {
		return fmt.Errorf("SpaceRepo.ClaimForSession: insert session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("SpaceRepo.ClaimForSession: commit: %w", err)
	}
	committed = true
	return nil
}

// ReleaseSpace flips an occupied space back to free.  It reports whether
// the space was occupied before the call; releasing a free space is not
// an error.
func (r *SpaceRepo) ReleaseSpace(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parking_spaces SET is_occupied = 0, updated_at = UTC_TIMESTAMP() WHERE id = ? AND is_occupied = 1`, id)
	if err != nil {
		return false, fmt.Errorf("SpaceRepo.ReleaseSpace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SpaceRepo.ReleaseSpace: %w", err)
	}
	if n == 1 {
		return true, nil
	}
	if err := r.exists(ctx, r.db, id); err != nil {
		return false, fmt.Errorf("SpaceRepo.ReleaseSpace: %w", err)
	}
	return false, nil
}

// ReleaseVacantSpace frees an occupied space only if no OCCUPIED session
// sits on it and its flag has not changed for at least grace.  The check
// and the write are one statement, so a claim committed in between makes
// it a no-op.
func (r *SpaceRepo) ReleaseVacantSpace(ctx context.Context, id uint64, grace time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parking_spaces SET is_occupied = 0, updated_at = UTC_TIMESTAMP()
		  WHERE id = ? AND is_occupied = 1 AND updated_at < UTC_TIMESTAMP() - INTERVAL ? SECOND
		    AND NOT EXISTS (SELECT 1 FROM parking_sessions WHERE space_id = ? AND status = ?)`,
		id, int64(grace/time.Second), id, model.SessionOccupied)
	if err != nil {
		return false, fmt.Errorf("SpaceRepo.ReleaseVacantSpace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SpaceRepo.ReleaseVacantSpace: %w", err)
	}
	return n == 1, nil
}

// ReclaimSpace sets the occupied flag of a free space back on behalf of
// a session, but only while that session is still OCCUPIED on it.
func (r *SpaceRepo) ReclaimSpace(ctx context.Context, spaceID, sessionID uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE parking_spaces SET is_occupied = 1, updated_at = UTC_TIMESTAMP()
		  WHERE id = ? AND is_occupied = 0
		    AND EXISTS (SELECT 1 FROM parking_sessions WHERE id = ? AND space_id = ? AND status = ?)`,
		spaceID, sessionID, spaceID, model.SessionOccupied)
	if err != nil {
		return false, fmt.Errorf("SpaceRepo.ReclaimSpace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("SpaceRepo.ReclaimSpace: %w", err)
	}
	return n == 1, nil
}

// ListOccupiedSpaces returns every space currently flagged occupied.
func (r *SpaceRepo) ListOccupiedSpaces(ctx context.Context) ([]model.ParkingSpace, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+spaceColumns+` FROM parking_spaces WHERE is_occupied = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("SpaceRepo.ListOccupiedSpaces: %w", err)
	}
	defer rows.Close()
	var out []model.ParkingSpace
	for rows.Next() {
		s, err := scanSpace(rows)
		if err != nil {
			return nil, fmt.Errorf("SpaceRepo.ListOccupiedSpaces: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SpaceRepo) exists(ctx context.Context, q rowQuerier, id uint64) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM parking_spaces WHERE id = ?`, id).Scan(&one)
	return translate(err)
}
