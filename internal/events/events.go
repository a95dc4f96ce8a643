// Package events publishes control-plane lifecycle notifications over
// NATS, adapted from the teacher's pkg/messaging event envelope. All
// publishing here is best-effort: a broker outage must never affect a
// scaling decision, only the audit trail of it.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published by the control plane.
const (
	TypeFleetScaled           = "fleet.scaled"
	TypeFleetHealthChanged    = "fleet.health_changed"
	TypeFleetForecastRecorded = "fleet.forecast_recorded"
)

// Event is the envelope wrapping every published notification.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// ScaledData describes a scaling decision that was carried out.
type ScaledData struct {
	Direction string  `json:"direction"` // "up" or "down"
	Cause     string  `json:"cause"`     // proactive | reactive | manual
	Fleet     int     `json:"fleet"`
	AvgU      float64 `json:"avg_u"`
}

// HealthChangedData describes a dispatcher health transition.
type HealthChangedData struct {
	SlotIndex int  `json:"slot_index"`
	Healthy   bool `json:"healthy"`
}

// ForecastRecordedData describes a recorded prediction-vs-actual pair.
type ForecastRecordedData struct {
	Point    float64 `json:"point"`
	Lo       float64 `json:"lo"`
	Hi       float64 `json:"hi"`
	Observed float64 `json:"observed"`
}

func newEvent(eventType string, data interface{}) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      payload,
	}, nil
}
