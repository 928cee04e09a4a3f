package carelink

import (
	"strings"
	"time"
)

// Marker types and insulin activation types as they appear in the
// periodic-data payload.
const (
	MarkerMeal      = "MEAL"
	MarkerInsulin   = "INSULIN"
	MarkerAutoBasal = "AUTO_BASAL_DELIVERY"

	ActivationRecommended    = "RECOMMENDED"
	ActivationAutocorrection = "AUTOCORRECTION"

	NotificationAlarm   = "ALARM"
	NotificationAlert   = "ALERT"
	NotificationMessage = "MESSAGE"

	SensorStateOK = "NO_ERROR_MESSAGE"
)

// User is the patient/users/me response subset the bridge needs.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// IsCarePartner reports whether the account is a care-partner account.
func (u User) IsCarePartner() bool {
	return u.Role == "CARE_PARTNER" || u.Role == "CARE_PARTNER_OUS"
}

// Profile is the patient/users/me/profile response subset.
type Profile struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// CountrySettings carries the per-country endpoint configuration.
type CountrySettings struct {
	BLEPeriodicDataEndpoint string `json:"blePereodicDataEndpoint"`
}

// MonitorData describes the monitored device family.
type MonitorData struct {
	DeviceFamily string `json:"deviceFamily"`
}

// IsBLE reports whether the monitored device uses the BLE data path.
func (m MonitorData) IsBLE() bool {
	return strings.Contains(m.DeviceFamily, "BLE")
}

// SensorGlucose is a single CGM reading.
type SensorGlucose struct {
	SG          float64 `json:"sg"`
	DateTime    string  `json:"datetime"`
	SensorState string  `json:"sensorState"`
}

// Marker is a pump event marker. Fields are populated depending on Type.
type Marker struct {
	Type                string  `json:"type"`
	DateTime            string  `json:"dateTime"`
	Amount              float64 `json:"amount"`
	ActivationType      string  `json:"activationType"`
	DeliveredFastAmount float64 `json:"deliveredFastAmount"`
	BolusAmount         float64 `json:"bolusAmount"`
}

// Notification is a pump alarm/alert/message.
type Notification struct {
	Type      string   `json:"type"`
	DateTime  string   `json:"dateTime"`
	MessageID string   `json:"messageId"`
	SG        *float64 `json:"sg,omitempty"`
}

// NotificationHistory groups cleared and active notifications.
type NotificationHistory struct {
	ClearedNotifications []Notification `json:"clearedNotifications"`
	ActiveNotifications  []Notification `json:"activeNotifications"`
}

// ActiveInsulin is the active insulin block of the periodic payload.
type ActiveInsulin struct {
	Amount float64 `json:"amount"`
}

// RecentData is the periodic-data payload subset consumed by the bridge.
type RecentData struct {
	ClientTimeZoneName string `json:"clientTimeZoneName"`

	LastSG      SensorGlucose   `json:"lastSG"`
	LastSGTrend string          `json:"lastSGTrend"`
	SGs         []SensorGlucose `json:"sgs"`

	Markers             []Marker            `json:"markers"`
	NotificationHistory NotificationHistory `json:"notificationHistory"`

	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`

	MedicalDeviceSerialNumber        string  `json:"medicalDeviceSerialNumber"`
	PumpModelNumber                  string  `json:"pumpModelNumber"`
	MedicalDeviceBatteryLevelPercent int     `json:"medicalDeviceBatteryLevelPercent"`
	ConduitBatteryLevel              int     `json:"conduitBatteryLevel"`
	ConduitBatteryStatus             string  `json:"conduitBatteryStatus"`
	GstBatteryLevel                  int     `json:"gstBatteryLevel"`
	SensorDurationHours              int     `json:"sensorDurationHours"`
	SensorDurationMinutes            int     `json:"sensorDurationMinutes"`
	ReservoirLevelPercent            int     `json:"reservoirLevelPercent"`
	ReservoirAmount                  float64 `json:"reservoirAmount"`
	ReservoirRemainingUnits          float64 `json:"reservoirRemainingUnits"`
	SensorState                      string  `json:"sensorState"`
	SystemStatusMessage              string  `json:"systemStatusMessage"`
	MedicalDeviceSuspended           bool          `json:"medicalDeviceSuspended"`
	ActiveInsulin                    ActiveInsulin `json:"activeInsulin"`

	PumpCommunicationState      bool `json:"pumpCommunicationState"`
	GstCommunicationState       bool `json:"gstCommunicationState"`
	ConduitInRange              bool `json:"conduitInRange"`
	ConduitMedicalDeviceInRange bool `json:"conduitMedicalDeviceInRange"`
	ConduitSensorInRange        bool `json:"conduitSensorInRange"`
}

const (
	sgTimeLayout     = "2006-01-02T15:04:05.000Z"
	markerTimeLayout = "2006-01-02T15:04:05"
	markerTimeSuffix = ".000-00:00"
)

// ParseSGTime parses the CGM reading timestamp in the given location.
// Carelink reports pump-local wall time with a misleading Z suffix.
func ParseSGTime(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(sgTimeLayout, value, loc)
}

// ParseMarkerTime parses marker/notification timestamps in the given location.
// The payload appends a zero offset that does not reflect the real zone.
func ParseMarkerTime(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value = strings.Replace(value, markerTimeSuffix, "", 1)
	return time.ParseInLocation(markerTimeLayout, value, loc)
}
