package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/parking-settlement/internal/model"
)

// LedgerRepo owns payment records and the three ledgers they move:
// driver balances (users.balance / users.held_balance), the central till
// and the client tills.  Ledger rows are only written from
// ApplyTransition, which runs in one transaction together with the
// payment status change it belongs to.
type LedgerRepo struct {
	db *sql.DB
}

// NewLedgerRepo returns a new LedgerRepo bound to the provided database.
func NewLedgerRepo(db *sql.DB) *LedgerRepo { return &LedgerRepo{db: db} }

const paymentColumns = `id, kind, session_id, order_id, user_id, client_id, amount, platform_share, client_share,
	status, ledger_state, external_ref, failure_reason, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (model.PaymentRecord, error) {
	var p model.PaymentRecord
	err := row.Scan(&p.ID, &p.Kind, &p.SessionID, &p.OrderID, &p.UserID, &p.ClientID, &p.Amount, &p.PlatformShare, &p.ClientShare,
		&p.Status, &p.LedgerState, &p.ExternalRef, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

// CreatePayment inserts p and fills in its ID.  A duplicate order id
// yields ErrConflict.
func (r *LedgerRepo) CreatePayment(ctx context.Context, p *model.PaymentRecord) error {
	if p.LedgerState == "" {
		p.LedgerState = model.LedgerNone
	}
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_records (kind, session_id, order_id, user_id, client_id, amount, platform_share, client_share, status, ledger_state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Kind, p.SessionID, p.OrderID, p.UserID, p.ClientID, p.Amount, p.PlatformShare, p.ClientShare, p.Status, p.LedgerState,
	)
	if err != nil {
		return fmt.Errorf("LedgerRepo.CreatePayment: %w", translate(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("LedgerRepo.CreatePayment: %w", err)
	}
	p.ID = uint64(id)
	return nil
}

// GetPayment loads a payment record by id.
func (r *LedgerRepo) GetPayment(ctx context.Context, id uint64) (model.PaymentRecord, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE id = ?`, id))
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.GetPayment: %w", translate(err))
	}
	return p, nil
}

// PaymentByOrderID loads a payment record by the order id sent to the gateway.
func (r *LedgerRepo) PaymentByOrderID(ctx context.Context, orderID string) (model.PaymentRecord, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE order_id = ?`, orderID))
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.PaymentByOrderID: %w", translate(err))
	}
	return p, nil
}

// LatestPayment returns the most recent payment attempt for a session.
func (r *LedgerRepo) LatestPayment(ctx context.Context, kind model.PaymentKind, sessionID uint64) (model.PaymentRecord, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_records WHERE kind = ? AND session_id = ? ORDER BY id DESC LIMIT 1`,
		kind, sessionID))
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.LatestPayment: %w", translate(err))
	}
	return p, nil
}

// ApplyTransition moves a payment from (FromStatus, FromLedger) to
// (ToStatus, ToLedger), applies t.Delta to the ledgers, writes the audit
// entries and updates the owning session, all in one transaction.  When
// the payment is no longer in the expected state nothing is written and
// ErrStaleState is returned.
//
// Rows are always locked in the order payment, user, central till,
// client till.
func (r *LedgerRepo) ApplyTransition(ctx context.Context, t model.PaymentTransition) (model.PaymentRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: begin: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		`UPDATE payment_records
		    SET status = ?, ledger_state = ?,
		        external_ref = COALESCE(NULLIF(?, ''), external_ref),
		        failure_reason = COALESCE(NULLIF(?, ''), failure_reason),
		        updated_at = UTC_TIMESTAMP()
		  WHERE id = ? AND status = ? AND ledger_state = ?`,
		t.ToStatus, t.ToLedger, t.ExternalRef, t.FailureReason,
		t.PaymentID, t.FromStatus, t.FromLedger,
	)
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: %w", err)
	}
	if n == 0 {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: %w", ErrStaleState)
	}

	p, err := scanPayment(tx.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_records WHERE id = ?`, t.PaymentID))
	if err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: reload: %w", translate(err))
	}

	if err := r.applyDeltaTx(ctx, tx, p.ID, t.Delta); err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: %w", err)
	}

	switch p.Kind {
	case model.PaymentKindParking:
		status := string(t.SessionStatus)
		if _, err := tx.ExecContext(ctx,
			`UPDATE parking_sessions
			    SET payment_status = ?, status = COALESCE(NULLIF(?, ''), status),
			        payment_ref = COALESCE(NULLIF(?, ''), payment_ref), updated_at = UTC_TIMESTAMP()
			  WHERE id = ?`,
			p.Status, status, t.ExternalRef, p.SessionID); err != nil {
			return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: session: %w", err)
		}
	case model.PaymentKindTopUp:
		status := string(t.TopUpStatus)
		if _, err := tx.ExecContext(ctx,
			`UPDATE topups
			    SET payment_status = ?, status = COALESCE(NULLIF(?, ''), status),
			        payment_ref = COALESCE(NULLIF(?, ''), payment_ref), updated_at = UTC_TIMESTAMP()
			  WHERE id = ?`,
			p.Status, status, t.ExternalRef, p.SessionID); err != nil {
			return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: topup: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.PaymentRecord{}, fmt.Errorf("LedgerRepo.ApplyTransition: commit: %w", err)
	}
	committed = true
	return p, nil
}

// applyDeltaTx adjusts each non-zero component of d and records it in
// ledger_entries.
func (r *LedgerRepo) applyDeltaTx(ctx context.Context, tx *sql.Tx, paymentID uint64, d model.LedgerDelta) error {
	if !d.Driver.IsZero() || !d.DriverHold.IsZero() {
		res, err := tx.ExecContext(ctx,
			`UPDATE users SET balance = balance + ?, held_balance = held_balance + ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
			d.Driver, d.DriverHold, d.UserID)
		if err != nil {
			return fmt.Errorf("driver balance: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("driver %d: %w", d.UserID, ErrNotFound)
		}
	}
	if !d.Central.IsZero() {
		res, err := tx.ExecContext(ctx,
			`UPDATE central_till SET balance = balance + ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`,
			d.Central, model.CentralTillID)
		if err != nil {
			return fmt.Errorf("central till: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("central till not provisioned: %w", ErrNotFound)
		}
	}
	if !d.Client.IsZero() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO client_tills (client_id, balance) VALUES (?, ?)
			 ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance), updated_at = UTC_TIMESTAMP()`,
			d.ClientID, d.Client); err != nil {
			return fmt.Errorf("client till: %w", err)
		}
	}

	entries := []struct {
		account model.Account
		id      uint64
		amount  decimal.Decimal
	}{
		{model.AccountDriver, d.UserID, d.Driver},
		{model.AccountDriverHold, d.UserID, d.DriverHold},
		{model.AccountCentral, model.CentralTillID, d.Central},
		{model.AccountClient, d.ClientID, d.Client},
	}
	for _, e := range entries {
		if e.amount.IsZero() {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (payment_id, account, account_id, amount) VALUES (?, ?, ?, ?)`,
			paymentID, e.account, e.id, e.amount); err != nil {
			return fmt.Errorf("ledger entry: %w", err)
		}
	}
	return nil
}

// CentralTill returns the platform till.
func (r *LedgerRepo) CentralTill(ctx context.Context) (model.Till, error) {
	var t model.Till
	err := r.db.QueryRowContext(ctx, `SELECT id, balance, updated_at FROM central_till WHERE id = ?`, model.CentralTillID).
		Scan(&t.OwnerID, &t.Balance, &t.UpdatedAt)
	if err != nil {
		return model.Till{}, fmt.Errorf("LedgerRepo.CentralTill: %w", translate(err))
	}
	return t, nil
}

// ClientTill returns a client's till.  A client that has never been paid
// has a zero balance rather than ErrNotFound.
func (r *LedgerRepo) ClientTill(ctx context.Context, clientID uint64) (model.Till, error) {
	t := model.Till{OwnerID: clientID, Balance: decimal.Zero}
	err := r.db.QueryRowContext(ctx, `SELECT balance, updated_at FROM client_tills WHERE client_id = ?`, clientID).
		Scan(&t.Balance, &t.UpdatedAt)
	if err != nil && err != sql.ErrNoRows {
		return model.Till{}, fmt.Errorf("LedgerRepo.ClientTill: %w", err)
	}
	return t, nil
}

// LedgerEntries lists the audit rows written for one payment.
func (r *LedgerRepo) LedgerEntries(ctx context.Context, paymentID uint64) ([]model.LedgerEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payment_id, account, account_id, amount, created_at FROM ledger_entries WHERE payment_id = ? ORDER BY id`, paymentID)
	if err != nil {
		return nil, fmt.Errorf("LedgerRepo.LedgerEntries: %w", err)
	}
	defer rows.Close()
	out := []model.LedgerEntry{}
	for rows.Next() {
		var e model.LedgerEntry
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.Account, &e.AccountID, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("LedgerRepo.LedgerEntries: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
