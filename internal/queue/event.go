// Package queue defines the domain events emitted by the parking core and
// the RabbitMQ plumbing that carries them.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.  The type doubles as the routing key on the exchange.
const (
	EventSessionOpened   = "session.opened"
	EventSessionClosed   = "session.closed"
	EventPaymentAccepted = "payment.accepted"
	EventPaymentSettled  = "payment.settled"
	EventPaymentFailed   = "payment.failed"
	EventTopUpCredited   = "topup.credited"
	EventAlertRaised     = "alert.raised"
	EventSpaceClaimed    = "space.claimed"
	EventSpaceReleased   = "space.released"
)

// Event is a flat envelope for every domain event.  Fields that do not
// apply to a given type are left zero and omitted from JSON, so
// consumers can log or route on it without querying the database.
type Event struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	SessionID   uint64 `json:"session_id,omitempty"`
	TopUpID     uint64 `json:"topup_id,omitempty"`
	PaymentID   uint64 `json:"payment_id,omitempty"`
	AlertID     uint64 `json:"alert_id,omitempty"`
	UserID      uint64 `json:"user_id,omitempty"`
	LotID       uint64 `json:"lot_id,omitempty"`
	SpaceID     uint64 `json:"space_id,omitempty"`
	SpaceNumber string `json:"space_number,omitempty"`
	Occupied    *bool  `json:"occupied,omitempty"`
	Plate       string `json:"plate,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Status      string `json:"status,omitempty"`
	Message     string `json:"message,omitempty"`
	OccurredAt  string `json:"occurred_at"`
}

// NewEvent stamps a fresh event of the given type.
func NewEvent(typ string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// Sink receives events.
type Sink interface {
	Emit(ctx context.Context, ev Event)
}

// Fanout forwards every event to each non-nil sink in order.
type Fanout []Sink

// Emit implements Sink.
func (f Fanout) Emit(ctx context.Context, ev Event) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// Recorder keeps events in memory.  Tests use it to assert on emitted events.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (r *Recorder) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	evs := r.Events()
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Type)
	}
	return out
}
