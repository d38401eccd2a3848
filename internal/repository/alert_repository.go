package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/iliyamo/parking-settlement/internal/model"
)

// AlertRepo appends and lists alerts.  Alerts are never updated here.
type AlertRepo struct {
	db *sql.DB
}

// NewAlertRepo returns a new AlertRepo bound to the provided database.
func NewAlertRepo(db *sql.DB) *AlertRepo { return &AlertRepo{db: db} }

// CreateAlert inserts a and fills in its ID.  CreatedAt must be set by
// the caller so that it reflects the detection time.
func (r *AlertRepo) CreateAlert(ctx context.Context, a *model.Alert) error {
	if a.Status == "" {
		a.Status = model.AlertUnresolved
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (space_id, number_plate, description, status, created_at) VALUES (?, ?, ?, ?, ?)`,
		a.SpaceID, a.NumberPlate, a.Description, a.Status, a.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("AlertRepo.CreateAlert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("AlertRepo.CreateAlert: %w", err)
	}
	a.ID = uint64(id)
	return nil
}

// ListAlerts returns alerts newest first.
func (r *AlertRepo) ListAlerts(ctx context.Context, f model.AlertFilter) ([]model.Alert, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.To.UTC())
	}
	q := `SELECT id, space_id, number_plate, description, status, created_at FROM alerts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limitOrDefault(f.Limit))

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("AlertRepo.ListAlerts: %w", err)
	}
	defer rows.Close()
	out := []model.Alert{}
	for rows.Next() {
		var a model.Alert
		if err := rows.Scan(&a.ID, &a.SpaceID, &a.NumberPlate, &a.Description, &a.Status, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("AlertRepo.ListAlerts: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// limitOrDefault clamps list sizes to 1..500, defaulting to 100.
func limitOrDefault(n int) int {
	switch {
	case n <= 0:
		return 100
	case n > 500:
		return 500
	}
	return n
}
