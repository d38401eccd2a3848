package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// Client is a lot-owning company.  Each client has its own till that
// receives the client share of every parking fee collected on its lots.
//
// Fields:
//   - ID: primary key identifier.
//   - Name: display name of the company.
//   - TillNumber: mobile-money till that payments for its lots are sent to.
//   - CreatedAt: timestamp of creation.
type Client struct {
	ID         uint64    `json:"id"`          // clients.id
	Name       string    `json:"name"`        // clients.name
	TillNumber string    `json:"till_number"` // clients.till_number
	CreatedAt  time.Time `json:"created_at"`  // clients.created_at
}

// ParkingLot groups spaces under one owning client and one daily rate.
// A zero DailyRate means the configured default rate applies.
type ParkingLot struct {
	ID        uint64          `json:"id"`         // parking_lots.id
	ClientID  null.Int        `json:"client_id"`  // parking_lots.client_id (nullable)
	Name      string          `json:"name"`       // parking_lots.name
	Location  string          `json:"location"`   // parking_lots.location
	DailyRate decimal.Decimal `json:"daily_rate"` // parking_lots.daily_rate
	CreatedAt time.Time       `json:"created_at"` // parking_lots.created_at
}

// ParkingSpace is a single physical slot.  (LotID, SpaceNumber) is unique.
// IsOccupied is only ever flipped by the space allocator.
type ParkingSpace struct {
	ID          uint64    `json:"id"`           // parking_spaces.id
	LotID       uint64    `json:"lot_id"`       // parking_spaces.lot_id
	SpaceNumber string    `json:"space_number"` // parking_spaces.space_number
	IsOccupied  bool      `json:"is_occupied"`  // parking_spaces.is_occupied
	CreatedAt   time.Time `json:"created_at"`   // parking_spaces.created_at
	UpdatedAt   time.Time `json:"updated_at"`   // parking_spaces.updated_at
}
