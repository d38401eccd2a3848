// Package memory provides an in-process implementation of every store
// contract of the parking core.  It is used by tests and by
// STORE_DRIVER=memory for local runs.  A single mutex guards all state, so
// each method is atomic in the same way a database transaction would be.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

// Store is the in-memory store.
type Store struct {
	mu sync.RWMutex

	clients  map[uint64]model.Client
	lots     map[uint64]model.ParkingLot
	spaces   map[uint64]model.ParkingSpace
	drivers  map[uint64]model.Driver
	vehicles map[uint64]model.Vehicle
	sessions map[uint64]model.ParkingSession
	topups   map[uint64]model.TopUpSession
	alerts   map[uint64]model.Alert
	payments map[uint64]model.PaymentRecord
	entries  []model.LedgerEntry

	central     model.Till
	clientTills map[uint64]model.Till

	seq uint64
	now func() time.Time
}

// New returns an empty store with the central till provisioned.
func New() *Store {
	return &Store{
		clients:     map[uint64]model.Client{},
		lots:        map[uint64]model.ParkingLot{},
		spaces:      map[uint64]model.ParkingSpace{},
		drivers:     map[uint64]model.Driver{},
		vehicles:    map[uint64]model.Vehicle{},
		sessions:    map[uint64]model.ParkingSession{},
		topups:      map[uint64]model.TopUpSession{},
		alerts:      map[uint64]model.Alert{},
		payments:    map[uint64]model.PaymentRecord{},
		central:     model.Till{OwnerID: model.CentralTillID, Balance: decimal.Zero},
		clientTills: map[uint64]model.Till{},
		now:         time.Now,
	}
}

// SetClock replaces the time source used to stamp space flag changes.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) nextID() uint64 {
	s.seq++
	return s.seq
}

// ──────────────────────────────────────────────────
// Seeding
// ──────────────────────────────────────────────────

// AddClient inserts a client and returns it with its id.
func (s *Store) AddClient(c model.Client) model.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.ID = s.nextID()
	c.CreatedAt = time.Now().UTC()
	s.clients[c.ID] = c
	return c
}

// AddLot inserts a lot and returns it with its id.
func (s *Store) AddLot(l model.ParkingLot) model.ParkingLot {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextID()
	l.CreatedAt = time.Now().UTC()
	s.lots[l.ID] = l
	return l
}

// AddSpace inserts a space and returns it with its id.  A duplicate
// (lot, number) pair panics, mirroring the unique key.
func (s *Store) AddSpace(sp model.ParkingSpace) model.ParkingSpace {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.spaces {
		if o.LotID == sp.LotID && o.SpaceNumber == sp.SpaceNumber {
			panic(fmt.Sprintf("memory: duplicate space %d/%s", sp.LotID, sp.SpaceNumber))
		}
	}
	sp.ID = s.nextID()
	sp.CreatedAt = time.Now().UTC()
	sp.UpdatedAt = sp.CreatedAt
	s.spaces[sp.ID] = sp
	return sp
}

// AddDriver inserts a driver and returns it with its id.
func (s *Store) AddDriver(d model.Driver) model.Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = s.nextID()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	s.drivers[d.ID] = d
	return d
}

// AddVehicle inserts a vehicle and returns it with its id.
func (s *Store) AddVehicle(v model.Vehicle) model.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.nextID()
	v.CreatedAt = time.Now().UTC()
	s.vehicles[v.ID] = v
	return v
}

// ──────────────────────────────────────────────────
// Spaces
// ──────────────────────────────────────────────────

func (s *Store) GetSpace(_ context.Context, id uint64) (model.ParkingSpace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.spaces[id]
	if !ok {
		return model.ParkingSpace{}, repository.ErrNotFound
	}
	return sp, nil
}

func (s *Store) GetLot(_ context.Context, id uint64) (model.ParkingLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.lots[id]
	if !ok {
		return model.ParkingLot{}, repository.ErrNotFound
	}
	return l, nil
}

// ClaimSpace sets the occupied flag without a session, the state a
// crash in another writer can leave behind.
func (s *Store) ClaimSpace(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOccupiedLocked(id, true)
}

func (s *Store) ReleaseSpace(_ context.Context, id uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOccupiedLocked(id, false)
}

func (s *Store) setOccupiedLocked(id uint64, v bool) (bool, error) {
	sp, ok := s.spaces[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if sp.IsOccupied == v {
		return false, nil
	}
	sp.IsOccupied = v
	sp.UpdatedAt = s.now().UTC()
	s.spaces[id] = sp
	return true, nil
}

func (s *Store) ClaimForSession(_ context.Context, ps *model.ParkingSession) error {
	if !ps.SpaceID.Valid {
		return repository.ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[uint64(ps.SpaceID.Int64)]
	if !ok {
		return repository.ErrNotFound
	}
	if sp.IsOccupied {
		return repository.ErrStaleState
	}
	if ps.VehicleID.Valid {
		for _, o := range s.sessions {
			if o.Status == model.SessionOccupied && o.VehicleID == ps.VehicleID {
				return repository.ErrConflict
			}
		}
	}
	if _, err := s.setOccupiedLocked(sp.ID, true); err != nil {
		return err
	}
	ps.ID = s.nextID()
	ps.CreatedAt = time.Now().UTC()
	ps.UpdatedAt = ps.CreatedAt
	s.sessions[ps.ID] = *ps
	return nil
}

func (s *Store) ReleaseVacantSpace(_ context.Context, id uint64, grace time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sp, ok := s.spaces[id]
	if !ok || !sp.IsOccupied || s.now().Sub(sp.UpdatedAt) < grace {
		return false, nil
	}
	for _, o := range s.sessions {
		if o.Status == model.SessionOccupied && o.SpaceID.Valid && uint64(o.SpaceID.Int64) == id {
			return false, nil
		}
	}
	return s.setOccupiedLocked(id, false)
}

func (s *Store) ReclaimSpace(_ context.Context, spaceID, sessionID uint64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.sessions[sessionID]
	if !ok || ps.Status != model.SessionOccupied || !ps.SpaceID.Valid || uint64(ps.SpaceID.Int64) != spaceID {
		return false, nil
	}
	return s.setOccupiedLocked(spaceID, true)
}

func (s *Store) ListOccupiedSpaces(_ context.Context) ([]model.ParkingSpace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ParkingSpace
	for _, sp := range s.spaces {
		if sp.IsOccupied {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ──────────────────────────────────────────────────
// Accounts
// ──────────────────────────────────────────────────

func (s *Store) VehicleByPlate(_ context.Context, plate string) (model.Vehicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.vehicles {
		if v.NumberPlate == plate {
			return v, nil
		}
	}
	return model.Vehicle{}, repository.ErrNotFound
}

func (s *Store) GetDriver(_ context.Context, id uint64) (model.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return model.Driver{}, repository.ErrNotFound
	}
	return d, nil
}

func (s *Store) GetClient(_ context.Context, id uint64) (model.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id]
	if !ok {
		return model.Client{}, repository.ErrNotFound
	}
	return c, nil
}
