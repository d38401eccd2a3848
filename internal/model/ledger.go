package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies which ledger a LedgerEntry moved.
type Account string

const (
	AccountDriver     Account = "DRIVER"
	AccountDriverHold Account = "DRIVER_HOLD"
	AccountCentral    Account = "CENTRAL"
	AccountClient     Account = "CLIENT"
)

// CentralTillID is the single row of the central_till table, created at
// provisioning.
const CentralTillID = 1

// Till is a running balance owned by the platform or by a client.
type Till struct {
	OwnerID   uint64          `json:"owner_id"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// LedgerEntry is the audit row written for every balance movement.
type LedgerEntry struct {
	ID        uint64          `json:"id"`         // ledger_entries.id
	PaymentID uint64          `json:"payment_id"` // ledger_entries.payment_id
	Account   Account         `json:"account"`    // ledger_entries.account
	AccountID uint64          `json:"account_id"` // ledger_entries.account_id
	Amount    decimal.Decimal `json:"amount"`     // ledger_entries.amount
	CreatedAt time.Time       `json:"created_at"` // ledger_entries.created_at
}

// LedgerDelta is a set of signed movements applied as one unit.  A zero
// field leaves that ledger untouched.
type LedgerDelta struct {
	UserID     uint64
	Driver     decimal.Decimal
	DriverHold decimal.Decimal
	Central    decimal.Decimal
	ClientID   uint64
	Client     decimal.Decimal
}

// IsZero reports whether applying the delta would change nothing.
func (d LedgerDelta) IsZero() bool {
	return d.Driver.IsZero() && d.DriverHold.IsZero() && d.Central.IsZero() && d.Client.IsZero()
}

// Neg returns the delta that undoes d.
func (d LedgerDelta) Neg() LedgerDelta {
	return LedgerDelta{
		UserID:     d.UserID,
		Driver:     d.Driver.Neg(),
		DriverHold: d.DriverHold.Neg(),
		Central:    d.Central.Neg(),
		ClientID:   d.ClientID,
		Client:     d.Client.Neg(),
	}
}

// Add combines two deltas for the same accounts.
func (d LedgerDelta) Add(o LedgerDelta) LedgerDelta {
	out := d
	if out.UserID == 0 {
		out.UserID = o.UserID
	}
	if out.ClientID == 0 {
		out.ClientID = o.ClientID
	}
	out.Driver = d.Driver.Add(o.Driver)
	out.DriverHold = d.DriverHold.Add(o.DriverHold)
	out.Central = d.Central.Add(o.Central)
	out.Client = d.Client.Add(o.Client)
	return out
}

// PaymentTransition is a compare-and-swap on a payment record: it only
// applies when the record is still in (FromStatus, FromLedger).  The
// ledger delta, the record update and the owning session update commit
// together or not at all.
type PaymentTransition struct {
	PaymentID     uint64
	FromStatus    PaymentStatus
	FromLedger    LedgerState
	ToStatus      PaymentStatus
	ToLedger      LedgerState
	ExternalRef   string
	FailureReason string
	Delta         LedgerDelta
	// SessionStatus / TopUpStatus are written to the owning session when
	// non-empty.
	SessionStatus SessionStatus
	TopUpStatus   TopUpStatus
}
