package models

import (
	"encoding/json"
	"math"
	"time"
)

// MMOLPerMGDL converts mg/dL readings to mmol/L.
const MMOLPerMGDL = 0.0555

// ToMMOL converts a mg/dL value to mmol/L rounded to two decimals.
func ToMMOL(mgdl float64) float64 {
	return math.Round(mgdl*MMOLPerMGDL*100) / 100
}

// GlucoseEntry is a persisted CGM reading.
type GlucoseEntry struct {
	ID          int64     `json:"id"`
	SG          float64   `json:"sg_mgdl"`
	SGMMOL      float64   `json:"sg_mmol"`
	RecordedAt  time.Time `json:"recorded_at"`
	SensorState string    `json:"sensor_state"`
	CreatedAt   time.Time `json:"created_at"`
}

// PumpEvent is a persisted marker or notification.
type PumpEvent struct {
	ID         int64           `json:"id"`
	Kind       string          `json:"kind"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Snapshot is the latest device state served over the API and pushed to
// stream subscribers.
type Snapshot struct {
	LastSG       float64   `json:"last_sg_mgdl"`
	LastSGMMOL   float64   `json:"last_sg_mmol"`
	LastSGAt     time.Time `json:"last_sg_at"`
	Trend        string    `json:"trend"`
	SensorState  string    `json:"sensor_state"`

	PumpBatteryPercent  int     `json:"pump_battery_percent"`
	ConduitBatteryLevel int     `json:"conduit_battery_level"`
	SensorBatteryLevel  int     `json:"sensor_battery_level"`
	SensorDuration      string  `json:"sensor_duration"`
	ReservoirPercent    int     `json:"reservoir_percent"`
	ReservoirUnits      float64 `json:"reservoir_units"`

	PumpCommunicationOK   bool `json:"pump_communication_ok"`
	SensorCommunicationOK bool `json:"sensor_communication_ok"`
	ConduitInRange        bool `json:"conduit_in_range"`

	PumpSerial string `json:"pump_serial"`
	PumpModel  string `json:"pump_model"`
	PumpOwner  string `json:"pump_owner"`

	UpdatedAt time.Time `json:"updated_at"`
}
