package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/repository"
)

// ReconcileReport lists what a sweep changed or could not fix.
type ReconcileReport struct {
	ReleasedSpaces     []uint64 `json:"released_spaces"`
	ReclaimedSpaces    []uint64 `json:"reclaimed_spaces"`
	PendingSettlements []uint64 `json:"pending_settlements"`
	Anomalies          []string `json:"anomalies"`
}

// Reconcile brings space flags and OCCUPIED sessions back in line after a
// crash: a space flagged occupied with no OCCUPIED session is freed, and
// an OCCUPIED session whose space is free gets the space back.  Sessions
// waiting on settlement are only listed.
//
// The sweep may run while other instances take traffic.  Each repair is a
// conditional write that re-checks its premise in the store, so a session
// opened or closed after the scan is never undone.
func (m *SessionManager) Reconcile(ctx context.Context) (ReconcileReport, error) {
	rep := ReconcileReport{ReleasedSpaces: []uint64{}, ReclaimedSpaces: []uint64{}, PendingSettlements: []uint64{}, Anomalies: []string{}}

	occupied, err := m.spaces.ListOccupiedSpaces(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: list spaces: %w", err)
	}
	for _, sp := range occupied {
		_, err := m.sessions.ActiveSessionBySpace(ctx, sp.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return rep, fmt.Errorf("reconcile: space %d: %w", sp.ID, err)
		}
		released, err := m.allocator.ReleaseVacant(ctx, sp.ID, m.cfg.ReconcileGrace)
		if err != nil {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("space %d: release failed: %v", sp.ID, err))
			continue
		}
		if !released {
			log.Printf("reconcile: space %d changed during the sweep or is within the grace window, left alone", sp.ID)
			continue
		}
		rep.ReleasedSpaces = append(rep.ReleasedSpaces, sp.ID)
	}

	open, err := m.sessions.ListSessions(ctx, model.SessionFilter{Status: model.SessionOccupied, Limit: 500})
	if err != nil {
		return rep, fmt.Errorf("reconcile: list sessions: %w", err)
	}
	bySpace := map[int64]uint64{}
	for _, s := range open {
		if !s.SpaceID.Valid {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("session %d: occupied without a space", s.ID))
			continue
		}
		if other, dup := bySpace[s.SpaceID.Int64]; dup {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("space %d: sessions %d and %d both occupied", s.SpaceID.Int64, other, s.ID))
			continue
		}
		bySpace[s.SpaceID.Int64] = s.ID

		sp, err := m.spaces.GetSpace(ctx, uint64(s.SpaceID.Int64))
		if err != nil {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("session %d: space %d: %v", s.ID, s.SpaceID.Int64, err))
			continue
		}
		if sp.IsOccupied {
			continue
		}
		reclaimed, err := m.allocator.Reclaim(ctx, sp.ID, s.ID)
		if err != nil {
			rep.Anomalies = append(rep.Anomalies, fmt.Sprintf("session %d: reclaim space %d: %v", s.ID, sp.ID, err))
			continue
		}
		if reclaimed {
			rep.ReclaimedSpaces = append(rep.ReclaimedSpaces, sp.ID)
		}
	}

	pending, err := m.sessions.ListSessions(ctx, model.SessionFilter{Status: model.SessionPendingReconciliation, Limit: 500})
	if err != nil {
		return rep, fmt.Errorf("reconcile: list pending: %w", err)
	}
	for _, s := range pending {
		rep.PendingSettlements = append(rep.PendingSettlements, s.ID)
	}

	for _, a := range rep.Anomalies {
		log.Printf("reconcile: ANOMALY %s", a)
	}
	log.Printf("reconcile: released=%d reclaimed=%d pending=%d anomalies=%d",
		len(rep.ReleasedSpaces), len(rep.ReclaimedSpaces), len(rep.PendingSettlements), len(rep.Anomalies))
	return rep, nil
}
