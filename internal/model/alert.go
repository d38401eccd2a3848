package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// AlertUnresolved is the status every alert is created with.  Resolution
// happens outside this service.
const AlertUnresolved = "unresolved"

// Alert records a plate detected at a space with no usable vehicle
// registration behind it.
type Alert struct {
	ID          uint64    `json:"id"`           // alerts.id
	SpaceID     null.Int  `json:"space_id"`     // alerts.space_id
	NumberPlate string    `json:"number_plate"` // alerts.number_plate
	Description string    `json:"description"`  // alerts.description
	Status      string    `json:"status"`       // alerts.status
	CreatedAt   time.Time `json:"created_at"`   // alerts.created_at
}

// AlertFilter narrows ListAlerts.
type AlertFilter struct {
	Status string
	From   time.Time
	To     time.Time
	Limit  int
}
