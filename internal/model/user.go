package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Roles carried in the JWT "role" claim.
const (
	RoleAdmin    = "ADMIN"
	RoleStaff    = "STAFF"
	RoleClient   = "CLIENT"
	RoleDriver   = "DRIVER"
	RoleDetector = "DETECTOR"
)

// Driver represents a driver account as stored in the `users` table.
// Balance is the prepaid amount; HeldBalance is the part of it reserved
// by payments accepted by the gateway but not yet confirmed.
//
// Fields:
//   - ID: primary key identifier of the user.
//   - Name: display name.
//   - PhoneNumber: normalized 254XXXXXXXXX number used for mobile-money prompts.
//   - Balance: prepaid balance (may go negative after a long stay).
//   - HeldBalance: amount reserved by pending payments.
//   - IsActive: whether the account is active.
type Driver struct {
	ID          uint64          `json:"id"`           // users.id
	Name        string          `json:"name"`         // users.name
	PhoneNumber string          `json:"phone_number"` // users.phone_number
	Balance     decimal.Decimal `json:"balance"`      // users.balance
	HeldBalance decimal.Decimal `json:"held_balance"` // users.held_balance
	IsActive    bool            `json:"is_active"`    // users.is_active
	CreatedAt   time.Time       `json:"created_at"`   // users.created_at
	UpdatedAt   time.Time       `json:"updated_at"`   // users.updated_at
}

// Available returns the balance not covered by holds.
func (d Driver) Available() decimal.Decimal {
	return d.Balance.Sub(d.HeldBalance)
}

// Vehicle is a registered car.  NumberPlate is stored normalized and is
// unique across the system.
type Vehicle struct {
	ID          uint64    `json:"id"`           // vehicles.id
	UserID      uint64    `json:"user_id"`      // vehicles.user_id
	NumberPlate string    `json:"number_plate"` // vehicles.number_plate
	Make        string    `json:"make"`         // vehicles.make
	Model       string    `json:"model"`        // vehicles.model
	IsActive    bool      `json:"is_active"`    // vehicles.is_active
	CreatedAt   time.Time `json:"created_at"`   // vehicles.created_at
}
