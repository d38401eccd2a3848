package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

// Allocator hands out exclusive occupancy of parking spaces.  All
// exclusion lives in the store's compare-and-swap, so any number of
// Allocators in any number of processes may share one store.
type Allocator struct {
	spaces SpaceStore
	events EventSink
}

// NewAllocator builds an Allocator.  events may be nil.
func NewAllocator(spaces SpaceStore, events EventSink) *Allocator {
	if spaces == nil {
		panic("nil SpaceStore passed to NewAllocator")
	}
	if events == nil {
		events = discardSink{}
	}
	return &Allocator{spaces: spaces, events: events}
}

// Claim occupies the session's space and stores the session in the same
// step, filling in its ID.  It returns ErrSpaceOccupied when another
// session holds the space, ErrVehicleParked when the vehicle is already
// parked elsewhere and ErrSpaceNotFound when the space does not exist.
// On error the space is left as it was.
func (a *Allocator) Claim(ctx context.Context, s *model.ParkingSession) error {
	spaceID := uint64(s.SpaceID.Int64)
	err := a.spaces.ClaimForSession(ctx, s)
	switch {
	case errors.Is(err, repository.ErrStaleState):
		return ErrSpaceOccupied
	case errors.Is(err, repository.ErrConflict):
		return ErrVehicleParked
	case err != nil:
		return fmt.Errorf("claim space %d: %w", spaceID, notFoundAs(err, ErrSpaceNotFound))
	}
	a.emit(ctx, spaceID, true)
	return nil
}

// Release marks a space free.  Releasing a free space succeeds; the
// returned bool is false in that case and is only meant for logging.
func (a *Allocator) Release(ctx context.Context, spaceID uint64) (bool, error) {
	wasOccupied, err := a.spaces.ReleaseSpace(ctx, spaceID)
	if err != nil {
		return false, fmt.Errorf("release space %d: %w", spaceID, notFoundAs(err, ErrSpaceNotFound))
	}
	if !wasOccupied {
		log.Printf("allocator: space %d was already free", spaceID)
		return false, nil
	}
	a.emit(ctx, spaceID, false)
	return true, nil
}

// ReleaseVacant frees a space left occupied without a session.  Spaces
// whose flag changed within grace are left alone; they may belong to a
// claim that is still being written.
func (a *Allocator) ReleaseVacant(ctx context.Context, spaceID uint64, grace time.Duration) (bool, error) {
	ok, err := a.spaces.ReleaseVacantSpace(ctx, spaceID, grace)
	if err != nil {
		return false, fmt.Errorf("release vacant space %d: %w", spaceID, err)
	}
	if ok {
		a.emit(ctx, spaceID, false)
	}
	return ok, nil
}

// Reclaim re-occupies a free space for an OCCUPIED session sitting on it.
// It reports false if the session was closed or the space taken meanwhile.
func (a *Allocator) Reclaim(ctx context.Context, spaceID, sessionID uint64) (bool, error) {
	ok, err := a.spaces.ReclaimSpace(ctx, spaceID, sessionID)
	if err != nil {
		return false, fmt.Errorf("reclaim space %d: %w", spaceID, err)
	}
	if ok {
		a.emit(ctx, spaceID, true)
	}
	return ok, nil
}

func (a *Allocator) emit(ctx context.Context, spaceID uint64, occupied bool) {
	typ := queue.EventSpaceReleased
	if occupied {
		typ = queue.EventSpaceClaimed
	}
	ev := queue.NewEvent(typ)
	ev.SpaceID = spaceID
	ev.Occupied = &occupied
	if s, err := a.spaces.GetSpace(ctx, spaceID); err == nil {
		ev.LotID = s.LotID
		ev.SpaceNumber = s.SpaceNumber
	}
	a.events.Emit(ctx, ev)
}

// spaceLot is a small helper for callers that need both rows.
func spaceLot(ctx context.Context, spaces SpaceStore, spaceID uint64) (model.ParkingSpace, model.ParkingLot, error) {
	sp, err := spaces.GetSpace(ctx, spaceID)
	if err != nil {
		return model.ParkingSpace{}, model.ParkingLot{}, notFoundAs(err, ErrSpaceNotFound)
	}
	lot, err := spaces.GetLot(ctx, sp.LotID)
	if err != nil {
		return model.ParkingSpace{}, model.ParkingLot{}, notFoundAs(err, ErrNotFound)
	}
	return sp, lot, nil
}
