package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"gopkg.in/guregu/null.v4"

	"github.com/iliyamo/parking-settlement/internal/model"
	"github.com/iliyamo/parking-settlement/internal/queue"
)

// AlertRecorder appends alerts for plates that cannot be parked.  Every
// call creates a new alert; repeated detections are not merged.
type AlertRecorder struct {
	alerts AlertStore
	events EventSink
	now    func() time.Time
}

// NewAlertRecorder builds an AlertRecorder.  events may be nil.
func NewAlertRecorder(alerts AlertStore, events EventSink) *AlertRecorder {
	if alerts == nil {
		panic("nil AlertStore passed to NewAlertRecorder")
	}
	if events == nil {
		events = discardSink{}
	}
	return &AlertRecorder{alerts: alerts, events: events, now: time.Now}
}

// Record stores an alert and returns it with its id.  spaceID of zero
// means no space is referenced.
func (r *AlertRecorder) Record(ctx context.Context, spaceID uint64, plate, reason string) (model.Alert, error) {
	a := model.Alert{
		NumberPlate: plate,
		Description: reason,
		Status:      model.AlertUnresolved,
		CreatedAt:   r.now().UTC(),
	}
	if spaceID != 0 {
		a.SpaceID = null.IntFrom(int64(spaceID))
	}
	if err := r.alerts.CreateAlert(ctx, &a); err != nil {
		return model.Alert{}, fmt.Errorf("record alert: %w", err)
	}
	log.Printf("alert: #%d plate=%s space=%d: %s", a.ID, plate, spaceID, reason)

	ev := queue.NewEvent(queue.EventAlertRaised)
	ev.AlertID = a.ID
	ev.SpaceID = spaceID
	ev.Plate = plate
	ev.Message = reason
	r.events.Emit(ctx, ev)
	return a, nil
}
