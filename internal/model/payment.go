package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// PaymentStatus tracks a payment through the gateway.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentReserved PaymentStatus = "RESERVED"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentFailed   PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentPaid || s == PaymentFailed
}

// PaymentKind tags which session variant a payment belongs to.
type PaymentKind string

const (
	PaymentKindParking PaymentKind = "PARKING"
	PaymentKindTopUp   PaymentKind = "TOPUP"
)

// LedgerState records what a payment has done to the ledgers so far.
type LedgerState string

const (
	LedgerNone    LedgerState = "NONE"    // nothing applied
	LedgerHeld    LedgerState = "HELD"    // amount held on the driver balance
	LedgerApplied LedgerState = "APPLIED" // full deltas applied
)

// PaymentRecord is one attempt to collect (or credit) money through the
// gateway.  SessionID points at parking_sessions or topups depending on
// Kind.  Status moves to a terminal value exactly once.
type PaymentRecord struct {
	ID            uint64          `json:"id"`             // payment_records.id
	Kind          PaymentKind     `json:"kind"`           // payment_records.kind
	SessionID     uint64          `json:"session_id"`     // payment_records.session_id
	OrderID       string          `json:"order_id"`       // payment_records.order_id
	UserID        uint64          `json:"user_id"`        // payment_records.user_id
	ClientID      null.Int        `json:"client_id"`      // payment_records.client_id
	Amount        decimal.Decimal `json:"amount"`         // payment_records.amount
	PlatformShare decimal.Decimal `json:"platform_share"` // payment_records.platform_share
	ClientShare   decimal.Decimal `json:"client_share"`   // payment_records.client_share
	Status        PaymentStatus   `json:"status"`         // payment_records.status
	LedgerState   LedgerState     `json:"ledger_state"`   // payment_records.ledger_state
	ExternalRef   null.String     `json:"external_ref"`   // payment_records.external_ref
	FailureReason null.String     `json:"failure_reason"` // payment_records.failure_reason
	CreatedAt     time.Time       `json:"created_at"`     // payment_records.created_at
	UpdatedAt     time.Time       `json:"updated_at"`     // payment_records.updated_at
}
