package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/iliyamo/parking-settlement/internal/model"
)

// AccountRepo reads drivers, their vehicles and lot-owning clients.
// Registration and profile edits happen elsewhere; this service only
// needs lookups.
type AccountRepo struct {
	db *sql.DB
}

// NewAccountRepo returns a new AccountRepo bound to the provided database.
func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

// VehicleByPlate finds a vehicle by its normalized plate.
func (r *AccountRepo) VehicleByPlate(ctx context.Context, plate string) (model.Vehicle, error) {
	var v model.Vehicle
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, number_plate, make, model, is_active, created_at FROM vehicles WHERE number_plate = ?`, plate,
	).Scan(&v.ID, &v.UserID, &v.NumberPlate, &v.Make, &v.Model, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return model.Vehicle{}, fmt.Errorf("AccountRepo.VehicleByPlate: %w", translate(err))
	}
	return v, nil
}

// GetDriver loads a driver with current balance and holds.
func (r *AccountRepo) GetDriver(ctx context.Context, id uint64) (model.Driver, error) {
	var d model.Driver
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, phone_number, balance, held_balance, is_active, created_at, updated_at FROM users WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &d.PhoneNumber, &d.Balance, &d.HeldBalance, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return model.Driver{}, fmt.Errorf("AccountRepo.GetDriver: %w", translate(err))
	}
	return d, nil
}

// GetClient loads a lot-owning client.
func (r *AccountRepo) GetClient(ctx context.Context, id uint64) (model.Client, error) {
	var c model.Client
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, till_number, created_at FROM clients WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.TillNumber, &c.CreatedAt)
	if err != nil {
		return model.Client{}, fmt.Errorf("AccountRepo.GetClient: %w", translate(err))
	}
	return c, nil
}
