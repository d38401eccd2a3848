package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

func (s *Store) CreatePayment(_ context.Context, p *model.PaymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.payments {
		if o.OrderID == p.OrderID {
			return repository.ErrConflict
		}
	}
	if p.LedgerState == "" {
		p.LedgerState = model.LedgerNone
	}
	p.ID = s.nextID()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	s.payments[p.ID] = *p
	return nil
}

func (s *Store) GetPayment(_ context.Context, id uint64) (model.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return model.PaymentRecord{}, repository.ErrNotFound
	}
	return p, nil
}

func (s *Store) PaymentByOrderID(_ context.Context, orderID string) (model.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.OrderID == orderID {
			return p, nil
		}
	}
	return model.PaymentRecord{}, repository.ErrNotFound
}

func (s *Store) LatestPayment(_ context.Context, kind model.PaymentKind, sessionID uint64) (model.PaymentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  model.PaymentRecord
		found bool
	)
	for _, p := range s.payments {
		if p.Kind == kind && p.SessionID == sessionID && (!found || p.ID > best.ID) {
			best, found = p, true
		}
	}
	if !found {
		return model.PaymentRecord{}, repository.ErrNotFound
	}
	return best, nil
}

// ApplyTransition validates every write before making any, so a failure
// leaves the store untouched.
func (s *Store) ApplyTransition(_ context.Context, t model.PaymentTransition) (model.PaymentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[t.PaymentID]
	if !ok || p.Status != t.FromStatus || p.LedgerState != t.FromLedger {
		return model.PaymentRecord{}, repository.ErrStaleState
	}
	d := t.Delta
	var driver model.Driver
	if !d.Driver.IsZero() || !d.DriverHold.IsZero() {
		if driver, ok = s.drivers[d.UserID]; !ok {
			return model.PaymentRecord{}, fmt.Errorf("driver %d: %w", d.UserID, repository.ErrNotFound)
		}
	}

	now := time.Now().UTC()
	p.Status, p.LedgerState, p.UpdatedAt = t.ToStatus, t.ToLedger, now
	if t.ExternalRef != "" {
		p.ExternalRef = null.StringFrom(t.ExternalRef)
	}
	if t.FailureReason != "" {
		p.FailureReason = null.StringFrom(t.FailureReason)
	}
	s.payments[p.ID] = p

	if !d.Driver.IsZero() || !d.DriverHold.IsZero() {
		driver.Balance = driver.Balance.Add(d.Driver)
		driver.HeldBalance = driver.HeldBalance.Add(d.DriverHold)
		driver.UpdatedAt = now
		s.drivers[driver.ID] = driver
	}
	if !d.Central.IsZero() {
		s.central.Balance = s.central.Balance.Add(d.Central)
		s.central.UpdatedAt = now
	}
	if !d.Client.IsZero() {
		ct := s.clientTills[d.ClientID]
		ct.OwnerID = d.ClientID
		ct.Balance = ct.Balance.Add(d.Client)
		ct.UpdatedAt = now
		s.clientTills[d.ClientID] = ct
	}
	s.appendEntries(p.ID, d, now)

	switch p.Kind {
	case model.PaymentKindParking:
		if ps, ok := s.sessions[p.SessionID]; ok {
			ps.PaymentStatus = p.Status
			if t.SessionStatus != "" {
				ps.Status = t.SessionStatus
			}
			if t.ExternalRef != "" {
				ps.PaymentRef = null.StringFrom(t.ExternalRef)
			}
			ps.UpdatedAt = now
			s.sessions[ps.ID] = ps
		}
	case model.PaymentKindTopUp:
		if tu, ok := s.topups[p.SessionID]; ok {
			tu.PaymentStatus = p.Status
			if t.TopUpStatus != "" {
				tu.Status = t.TopUpStatus
			}
			if t.ExternalRef != "" {
				tu.PaymentRef = null.StringFrom(t.ExternalRef)
			}
			tu.UpdatedAt = now
			s.topups[tu.ID] = tu
		}
	}
	return p, nil
}

func (s *Store) appendEntries(paymentID uint64, d model.LedgerDelta, now time.Time) {
	add := func(acc model.Account, id uint64, amt decimal.Decimal) {
		if amt.IsZero() {
			return
		}
		s.entries = append(s.entries, model.LedgerEntry{
			ID: s.nextID(), PaymentID: paymentID, Account: acc, AccountID: id, Amount: amt, CreatedAt: now,
		})
	}
	add(model.AccountDriver, d.UserID, d.Driver)
	add(model.AccountDriverHold, d.UserID, d.DriverHold)
	add(model.AccountCentral, model.CentralTillID, d.Central)
	add(model.AccountClient, d.ClientID, d.Client)
}

func (s *Store) CentralTill(_ context.Context) (model.Till, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.central, nil
}

func (s *Store) ClientTill(_ context.Context, clientID uint64) (model.Till, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.clientTills[clientID]
	if !ok {
		return model.Till{OwnerID: clientID, Balance: decimal.Zero}, nil
	}
	return t, nil
}

func (s *Store) LedgerEntries(_ context.Context, paymentID uint64) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.LedgerEntry{}
	for _, e := range s.entries {
		if e.PaymentID == paymentID {
			out = append(out, e)
		}
	}
	return out, nil
}
