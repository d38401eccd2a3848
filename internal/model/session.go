package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// SessionStatus is the lifecycle state of a parking session.
type SessionStatus string

const (
	SessionOccupied  SessionStatus = "OCCUPIED"
	SessionCompleted SessionStatus = "COMPLETED"
	SessionFailed    SessionStatus = "FAILED"
	// SessionPendingReconciliation marks a closed session whose payment
	// request never reached the gateway successfully.  The space is free.
	SessionPendingReconciliation SessionStatus = "PENDING_RECONCILIATION"
)

// ParkingSession is one vehicle's occupancy of one space, from entry to
// settlement.  ExitTime, DurationSeconds, Fee, PlatformShare and
// ClientShare are either all null (open) or all set (closed).
//
// VehicleID and SpaceID are nullable so that history survives removal of
// the referenced rows; UserID, LotID and NumberPlate are copied at entry
// for the same reason.
type ParkingSession struct {
	ID              uint64              `json:"id"`               // parking_sessions.id
	VehicleID       null.Int            `json:"vehicle_id"`       // parking_sessions.vehicle_id
	SpaceID         null.Int            `json:"space_id"`         // parking_sessions.space_id
	UserID          uint64              `json:"user_id"`          // parking_sessions.user_id
	LotID           uint64              `json:"lot_id"`           // parking_sessions.lot_id
	ClientID        null.Int            `json:"client_id"`        // parking_sessions.client_id
	NumberPlate     string              `json:"number_plate"`     // parking_sessions.number_plate
	EntryTime       time.Time           `json:"entry_time"`       // parking_sessions.entry_time
	ExitTime        null.Time           `json:"exit_time"`        // parking_sessions.exit_time
	DurationSeconds null.Int            `json:"duration_seconds"` // parking_sessions.duration_seconds
	Fee             decimal.NullDecimal `json:"fee"`              // parking_sessions.fee
	PlatformShare   decimal.NullDecimal `json:"platform_share"`   // parking_sessions.platform_share
	ClientShare     decimal.NullDecimal `json:"client_share"`     // parking_sessions.client_share
	Status          SessionStatus       `json:"status"`           // parking_sessions.status
	PaymentStatus   PaymentStatus       `json:"payment_status"`   // parking_sessions.payment_status
	PaymentRef      null.String         `json:"payment_ref"`      // parking_sessions.payment_ref
	CreatedAt       time.Time           `json:"created_at"`       // parking_sessions.created_at
	UpdatedAt       time.Time           `json:"updated_at"`       // parking_sessions.updated_at
}

// IsClosed reports whether the exit half of the session has been recorded.
func (s ParkingSession) IsClosed() bool { return s.ExitTime.Valid }

// SessionClose carries the values written when a session is closed.
type SessionClose struct {
	SessionID       uint64
	ExitTime        time.Time
	DurationSeconds int64
	Fee             decimal.Decimal
	PlatformShare   decimal.Decimal
	ClientShare     decimal.Decimal
}

// SessionFilter narrows ListSessions.  Zero values mean "any".
type SessionFilter struct {
	Status   SessionStatus
	Plate    string
	LotID    uint64
	ClientID uint64
	From     time.Time
	To       time.Time
	Limit    int
}

// TopUpStatus is the lifecycle state of a balance top-up.
type TopUpStatus string

const (
	TopUpPending   TopUpStatus = "PENDING"
	TopUpCompleted TopUpStatus = "COMPLETED"
	TopUpFailed    TopUpStatus = "FAILED"
)

// TopUpSession is a driver pre-funding their balance.  It never touches a
// space and shares only the payment machinery with ParkingSession.
type TopUpSession struct {
	ID            uint64          `json:"id"`             // topups.id
	UserID        uint64          `json:"user_id"`        // topups.user_id
	Amount        decimal.Decimal `json:"amount"`         // topups.amount
	PhoneNumber   string          `json:"phone_number"`   // topups.phone_number
	Status        TopUpStatus     `json:"status"`         // topups.status
	PaymentStatus PaymentStatus   `json:"payment_status"` // topups.payment_status
	PaymentRef    null.String     `json:"payment_ref"`    // topups.payment_ref
	CreatedAt     time.Time       `json:"created_at"`     // topups.created_at
	UpdatedAt     time.Time       `json:"updated_at"`     // topups.updated_at
}
