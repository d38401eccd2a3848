package memory

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

func (s *Store) GetSession(_ context.Context, id uint64) (model.ParkingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.sessions[id]
	if !ok {
		return model.ParkingSession{}, repository.ErrNotFound
	}
	return ps, nil
}

func (s *Store) activeBy(match func(model.ParkingSession) bool) (model.ParkingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  model.ParkingSession
		found bool
	)
	for _, ps := range s.sessions {
		if ps.Status == model.SessionOccupied && match(ps) && (!found || ps.ID > best.ID) {
			best, found = ps, true
		}
	}
	if !found {
		return model.ParkingSession{}, repository.ErrNotFound
	}
	return best, nil
}

func (s *Store) ActiveSessionByVehicle(_ context.Context, vehicleID uint64) (model.ParkingSession, error) {
	return s.activeBy(func(ps model.ParkingSession) bool {
		return ps.VehicleID.Valid && uint64(ps.VehicleID.Int64) == vehicleID
	})
}

func (s *Store) ActiveSessionByPlate(_ context.Context, plate string) (model.ParkingSession, error) {
	return s.activeBy(func(ps model.ParkingSession) bool { return ps.NumberPlate == plate })
}

func (s *Store) ActiveSessionBySpace(_ context.Context, spaceID uint64) (model.ParkingSession, error) {
	return s.activeBy(func(ps model.ParkingSession) bool {
		return ps.SpaceID.Valid && uint64(ps.SpaceID.Int64) == spaceID
	})
}

func (s *Store) CloseSession(_ context.Context, c model.SessionClose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[c.SessionID]
	if !ok || ps.Status != model.SessionOccupied {
		return repository.ErrStaleState
	}
	ps.ExitTime = null.TimeFrom(c.ExitTime.UTC())
	ps.DurationSeconds = null.IntFrom(c.DurationSeconds)
	ps.Fee = decimal.NewNullDecimal(c.Fee)
	ps.PlatformShare = decimal.NewNullDecimal(c.PlatformShare)
	ps.ClientShare = decimal.NewNullDecimal(c.ClientShare)
	ps.Status = model.SessionPendingReconciliation
	ps.PaymentStatus = model.PaymentPending
	ps.UpdatedAt = time.Now().UTC()
	s.sessions[ps.ID] = ps
	return nil
}

func (s *Store) ListSessions(_ context.Context, f model.SessionFilter) ([]model.ParkingSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.ParkingSession{}
	for _, ps := range s.sessions {
		if f.Status != "" && ps.Status != f.Status {
			continue
		}
		if f.Plate != "" && ps.NumberPlate != f.Plate {
			continue
		}
		if f.LotID != 0 && ps.LotID != f.LotID {
			continue
		}
		if f.ClientID != 0 && (!ps.ClientID.Valid || uint64(ps.ClientID.Int64) != f.ClientID) {
			continue
		}
		if !f.From.IsZero() && ps.EntryTime.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !ps.EntryTime.Before(f.To) {
			continue
		}
		out = append(out, ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EntryTime.Equal(out[j].EntryTime) {
			return out[i].EntryTime.After(out[j].EntryTime)
		}
		return out[i].ID > out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CreateTopUp(_ context.Context, t *model.TopUpSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.nextID()
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	s.topups[t.ID] = *t
	return nil
}

func (s *Store) GetTopUp(_ context.Context, id uint64) (model.TopUpSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topups[id]
	if !ok {
		return model.TopUpSession{}, repository.ErrNotFound
	}
	return t, nil
}

// ──────────────────────────────────────────────────
// Alerts
// ──────────────────────────────────────────────────

func (s *Store) CreateAlert(_ context.Context, a *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.nextID()
	if a.Status == "" {
		a.Status = model.AlertUnresolved
	}
	s.alerts[a.ID] = *a
	return nil
}

func (s *Store) ListAlerts(_ context.Context, f model.AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []model.Alert{}
	for _, a := range s.alerts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if !f.From.IsZero() && a.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !a.CreatedAt.Before(f.To) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
