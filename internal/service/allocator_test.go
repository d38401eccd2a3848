package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
)

func TestAllocatorConcurrentClaims(t *testing.T) {
	f := newFixture(t, PolicyConfirmed)
	space := f.spaces[0]

	const workers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		won      int
		occupied int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := f.alloc.Claim(context.Background(), f.session(space))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, ErrSpaceOccupied):
				occupied++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if won != 1 {
		t.Fatalf("winners: got %d, want 1", won)
	}
	if occupied != workers-1 {
		t.Errorf("losers: got %d, want %d", occupied, workers-1)
	}
	if !f.spaceOccupied(t, space.ID) {
		t.Error("space should be occupied after a successful claim")
	}
	open, _ := f.store.ListSessions(context.Background(), model.SessionFilter{Status: model.SessionOccupied})
	if len(open) != 1 {
		t.Errorf("stored sessions: got %d, want 1", len(open))
	}
}

func TestAllocatorReleaseIsIdempotent(t *testing.T) {
	f := newFixture(t, PolicyConfirmed)
	ctx := context.Background()
	space := f.spaces[1]

	if err := f.alloc.Claim(ctx, f.session(space)); err != nil {
		t.Fatalf("claim: %v", err)
	}
	was, err := f.alloc.Release(ctx, space.ID)
	if err != nil || !was {
		t.Fatalf("first release: got (%v, %v), want (true, nil)", was, err)
	}
	was, err = f.alloc.Release(ctx, space.ID)
	if err != nil || was {
		t.Fatalf("second release: got (%v, %v), want (false, nil)", was, err)
	}
	if f.spaceOccupied(t, space.ID) {
		t.Error("space should be free")
	}

	types := f.events.Types()
	want := []string{queue.EventSpaceClaimed, queue.EventSpaceReleased}
	if len(types) != len(want) {
		t.Fatalf("events: got %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, types[i], want[i])
		}
	}
}

func TestAllocatorUnknownSpace(t *testing.T) {
	f := newFixture(t, PolicyConfirmed)
	ctx := context.Background()
	if err := f.alloc.Claim(ctx, f.session(model.ParkingSpace{ID: 9999})); !errors.Is(err, ErrSpaceNotFound) {
		t.Errorf("claim: got %v, want ErrSpaceNotFound", err)
	}
	if _, err := f.alloc.Release(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("release: got %v, want ErrNotFound", err)
	}
}
