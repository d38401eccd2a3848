package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parking-settlement/internal/queue"
)

func TestHubForwardsOccupancyEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub()
	go hub.Run(ctx)

	e := echo.New()
	e.GET("/v1/ws/occupancy", hub.Handle)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/occupancy"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Payment events are not forwarded, so the first message must be
	// the space event.
	hub.Emit(ctx, queue.NewEvent(queue.EventPaymentSettled))
	occupied := true
	ev := queue.NewEvent(queue.EventSpaceClaimed)
	ev.SpaceID, ev.SpaceNumber, ev.Occupied = 7, "B4", &occupied
	hub.Emit(ctx, ev)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got queue.Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != queue.EventSpaceClaimed || got.SpaceID != 7 || got.Occupied == nil || !*got.Occupied {
		t.Errorf("got %+v, want the space.claimed event for space 7", got)
	}
}

func TestHubRefusesSubscribersAfterShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	e := echo.New()
	e.GET("/v1/ws/occupancy", hub.Handle)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws/occupancy"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var ne net.Error
	if err == nil || (errors.As(err, &ne) && ne.Timeout()) {
		t.Fatalf("read: got %v, want the server to close the connection", err)
	}
	if hub.Clients() != 0 {
		t.Errorf("clients: got %d, want 0", hub.Clients())
	}
}
