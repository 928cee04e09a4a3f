package nightscout

import (
	"sort"
	"strings"
	"time"

	"carelinkbridge/internal/carelink"
)

// Translator converts Carelink telemetry into Nightscout records.
// Carelink timestamps are wall-clock times in the pump's zone, so the
// translator needs a location to anchor them.
type Translator struct {
	loc *time.Location
}

// NewTranslator builds a translator for the given location. A nil location
// falls back to the process-local zone.
func NewTranslator(loc *time.Location) *Translator {
	if loc == nil {
		loc = time.Local
	}
	return &Translator{loc: loc}
}

// Entries converts CGM readings into sgv entries. Readings with a sensor
// error are skipped. Direction and delta are derived from the previous
// reading in the sequence; the first reading and readings next to a zero
// value carry no direction. Output is ordered by timestamp ascending.
func (t *Translator) Entries(sgs []carelink.SensorGlucose) []Entry {
	valid := make([]carelink.SensorGlucose, 0, len(sgs))
	for _, sg := range sgs {
		if sg.SensorState == carelink.SensorStateOK {
			valid = append(valid, sg)
		}
	}

	entries := make([]Entry, 0, len(valid))
	for i, sg := range valid {
		ts, err := carelink.ParseSGTime(sg.DateTime, t.loc)
		if err != nil {
			continue
		}

		entry := Entry{
			Device:     EnteredBy,
			Type:       "sgv",
			SGV:        sg.SG,
			Date:       ts.UnixMilli(),
			DateString: ts.Format(time.RFC3339),
			Noise:      1,
		}
		if i > 0 && sg.SG != 0 && valid[i-1].SG != 0 {
			delta := sg.SG - valid[i-1].SG
			entry.Direction = trend(delta)
			entry.Delta = floatPtr(delta)
		}
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Date < entries[j].Date })
	return entries
}

// trend maps a glucose delta to the Nightscout direction vocabulary.
func trend(delta float64) string {
	switch {
	case delta == 0:
		return "Flat"
	case delta < -30:
		return "TripleDown"
	case delta < -15:
		return "DoubleDown"
	case delta < -5:
		return "SingleDown"
	case delta < 0:
		return "FortyFiveDown"
	case delta > 30:
		return "TripleUp"
	case delta > 15:
		return "DoubleUp"
	case delta > 5:
		return "SingleUp"
	default:
		return "FortyFiveUp"
	}
}

// MealTreatments joins MEAL markers with the recommended boluses delivered
// for them (same marker timestamp) into Meal treatments carrying both carbs
// and insulin.
func (t *Translator) MealTreatments(markers []carelink.Marker) []Treatment {
	carbs := map[string]float64{}
	for _, m := range markers {
		if m.Type == carelink.MarkerMeal {
			carbs[m.DateTime] = m.Amount
		}
	}

	var result []Treatment
	for _, m := range markers {
		if m.Type != carelink.MarkerInsulin || m.ActivationType != carelink.ActivationRecommended {
			continue
		}
		carb, ok := carbs[m.DateTime]
		if !ok {
			continue
		}
		ts, err := carelink.ParseMarkerTime(m.DateTime, t.loc)
		if err != nil {
			continue
		}
		result = append(result, Treatment{
			Timestamp:   ts.UnixMilli(),
			EnteredBy:   EnteredBy,
			CreatedAt:   ts.Format(time.RFC3339),
			EventType:   "Meal",
			GlucoseType: "sensor",
			Carbs:       floatPtr(carb),
			Insulin:     floatPtr(m.DeliveredFastAmount),
		})
	}
	sortTreatments(result)
	return result
}

// AutoBolusTreatments converts autocorrection boluses into Correction Bolus
// treatments.
func (t *Translator) AutoBolusTreatments(markers []carelink.Marker) []Treatment {
	var result []Treatment
	for _, m := range markers {
		if m.Type != carelink.MarkerInsulin || m.ActivationType != carelink.ActivationAutocorrection {
			continue
		}
		ts, err := carelink.ParseMarkerTime(m.DateTime, t.loc)
		if err != nil {
			continue
		}
		result = append(result, Treatment{
			Device:    EnteredBy,
			Timestamp: ts.UnixMilli(),
			EnteredBy: EnteredBy,
			CreatedAt: ts.Format(time.RFC3339),
			EventType: "Correction Bolus",
			Insulin:   floatPtr(m.DeliveredFastAmount),
		})
	}
	sortTreatments(result)
	return result
}

// BasalTreatments converts auto-basal micro-deliveries into five-minute
// Temp Basal treatments.
func (t *Translator) BasalTreatments(markers []carelink.Marker) []Treatment {
	var result []Treatment
	for _, m := range markers {
		if m.Type != carelink.MarkerAutoBasal {
			continue
		}
		ts, err := carelink.ParseMarkerTime(m.DateTime, t.loc)
		if err != nil {
			continue
		}
		result = append(result, Treatment{
			EnteredBy: EnteredBy,
			CreatedAt: ts.Format(time.RFC3339),
			EventType: "Temp Basal",
			Duration:  5,
			Absolute:  floatPtr(m.BolusAmount),
		})
	}
	sortByCreatedAt(result)
	return result
}

// NoteTreatments converts cleared notifications of the given type into Note
// treatments. A glucose value attached to the notification is included when
// it is a real reading (below the 400 mg/dL sentinel range).
func (t *Translator) NoteTreatments(notifications []carelink.Notification, kind string) []Treatment {
	var result []Treatment
	for _, n := range notifications {
		if n.Type != kind {
			continue
		}
		ts, err := carelink.ParseMarkerTime(n.DateTime, t.loc)
		if err != nil {
			continue
		}
		treatment := Treatment{
			Timestamp: ts.UnixMilli(),
			EnteredBy: EnteredBy,
			CreatedAt: ts.Format(time.RFC3339),
			EventType: "Note",
			Notes:     noteText(n.MessageID),
		}
		if n.SG != nil && *n.SG > 0 && *n.SG < 400 {
			treatment.GlucoseType = "sensor"
			treatment.Glucose = n.SG
		}
		result = append(result, treatment)
	}
	sortTreatments(result)
	return result
}

func noteText(messageID string) string {
	s := strings.Replace(messageID, "BC_SID_", "", 1)
	return strings.Replace(s, "BC_MESSAGE_", "", 1)
}

// DeviceStatus builds the devicestatus record from the pump fields of the
// periodic payload.
func (t *Translator) DeviceStatus(data *carelink.RecentData) DeviceStatus {
	return DeviceStatus{
		Device: data.PumpModelNumber,
		Pump: PumpStatus{
			Battery: PumpBattery{
				Status:  data.ConduitBatteryStatus,
				Voltage: data.ConduitBatteryLevel,
			},
			Reservoir: data.ActiveInsulin.Amount,
			Status: PumpStatusDetail{
				Status:    data.SystemStatusMessage,
				Suspended: data.MedicalDeviceSuspended,
			},
		},
	}
}

func sortTreatments(treatments []Treatment) {
	sort.Slice(treatments, func(i, j int) bool { return treatments[i].Timestamp < treatments[j].Timestamp })
}

func sortByCreatedAt(treatments []Treatment) {
	sort.Slice(treatments, func(i, j int) bool { return treatments[i].CreatedAt < treatments[j].CreatedAt })
}
