package queue

import (
	"context"
	"strings"
	"testing"
)

func TestFormatAuditLine(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "payment",
			ev:   Event{Type: EventPaymentSettled, PaymentID: 5, SessionID: 11, Amount: "150.00", Status: "PAID", OccurredAt: "2025-03-01T20:00:00Z"},
			want: "[2025-03-01T20:00:00Z] payment.settled | session_id=11 | payment_id=5 | amount=150.00 | status=PAID\n",
		},
		{
			name: "alert with message",
			ev:   Event{Type: EventAlertRaised, AlertID: 3, Plate: "KDA123A", Message: "balance too low", OccurredAt: "t"},
			want: "[t] alert.raised | alert_id=3 | plate=KDA123A | message=\"balance too low\"\n",
		},
		{
			name: "bare",
			ev:   Event{Type: EventSpaceReleased, OccurredAt: "t"},
			want: "[t] space.released\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatAuditLine(tt.ev); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFanoutSkipsNilSinks(t *testing.T) {
	var a, b Recorder
	f := Fanout{&a, nil, &b}
	f.Emit(context.Background(), NewEvent(EventSessionOpened))

	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Fatalf("got %d and %d events, want 1 and 1", len(a.Events()), len(b.Events()))
	}
	ev := a.Events()[0]
	if ev.ID == "" || !strings.HasSuffix(ev.OccurredAt, "Z") {
		t.Errorf("event not stamped: %+v", ev)
	}
}

func TestPublisherDropsWhenFull(t *testing.T) {
	p := NewPublisher("amqp://unused", 1)
	p.Emit(context.Background(), NewEvent(EventSpaceClaimed))
	p.Emit(context.Background(), NewEvent(EventSpaceReleased))

	if got := len(p.buf); got != 1 {
		t.Fatalf("buffered: got %d, want 1", got)
	}
	if ev := <-p.buf; ev.Type != EventSpaceClaimed {
		t.Errorf("kept: got %s, want %s", ev.Type, EventSpaceClaimed)
	}
}
