package nightscout

// EnteredBy tags every record the bridge uploads.
const EnteredBy = "Carelink Bridge"

// Entry is a Nightscout glucose entry (api/v1/entries).
type Entry struct {
	Device     string   `json:"device"`
	Type       string   `json:"type"`
	SGV        float64  `json:"sgv"`
	Date       int64    `json:"date"`
	DateString string   `json:"dateString"`
	Direction  string   `json:"direction,omitempty"`
	Delta      *float64 `json:"delta,omitempty"`
	Noise      int      `json:"noise"`
}

// Treatment is a Nightscout treatment (api/v1/treatments). Only the fields
// relevant to the event type are populated.
type Treatment struct {
	Timestamp   int64    `json:"timestamp,omitempty"`
	EnteredBy   string   `json:"enteredBy"`
	CreatedAt   string   `json:"created_at"`
	EventType   string   `json:"eventType"`
	Device      string   `json:"device,omitempty"`
	GlucoseType string   `json:"glucoseType,omitempty"`
	Glucose     *float64 `json:"glucose,omitempty"`
	Carbs       *float64 `json:"carbs,omitempty"`
	Insulin     *float64 `json:"insulin,omitempty"`
	Duration    int      `json:"duration,omitempty"`
	Absolute    *float64 `json:"absolute,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// DeviceStatus is a Nightscout devicestatus record.
type DeviceStatus struct {
	Device string     `json:"device"`
	Pump   PumpStatus `json:"pump"`
}

// PumpStatus is the pump block of a devicestatus record.
type PumpStatus struct {
	Battery   PumpBattery      `json:"battery"`
	Reservoir float64          `json:"reservoir"`
	Status    PumpStatusDetail `json:"status"`
}

// PumpBattery reports the conduit battery.
type PumpBattery struct {
	Status  string `json:"status"`
	Voltage int    `json:"voltage"`
}

// PumpStatusDetail reports the pump system state.
type PumpStatusDetail struct {
	Status    string `json:"status"`
	Suspended bool   `json:"suspended"`
}

func floatPtr(v float64) *float64 {
	return &v
}
