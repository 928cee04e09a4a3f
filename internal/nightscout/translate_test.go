package nightscout

import (
	"testing"
	"time"

	"carelinkbridge/internal/carelink"
)

func TestTrend(t *testing.T) {
	cases := []struct {
		delta float64
		want  string
	}{
		{0, "Flat"},
		{3, "FortyFiveUp"},
		{-3, "FortyFiveDown"},
		{10, "SingleUp"},
		{-10, "SingleDown"},
		{20, "DoubleUp"},
		{-20, "DoubleDown"},
		{35, "TripleUp"},
		{-35, "TripleDown"},
	}
	for _, c := range cases {
		if got := trend(c.delta); got != c.want {
			t.Errorf("trend(%g) = %q, want %q", c.delta, got, c.want)
		}
	}
}

func TestEntriesSkipsSensorErrors(t *testing.T) {
	tr := NewTranslator(time.UTC)

	entries := tr.Entries([]carelink.SensorGlucose{
		{SG: 110, DateTime: "2024-03-01T10:00:00.000Z", SensorState: carelink.SensorStateOK},
		{SG: 0, DateTime: "2024-03-01T10:05:00.000Z", SensorState: "WARM_UP"},
		{SG: 120, DateTime: "2024-03-01T10:10:00.000Z", SensorState: carelink.SensorStateOK},
	})

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Direction != "" || entries[0].Delta != nil {
		t.Fatal("first entry must carry no direction")
	}
	if entries[1].Direction != "SingleUp" {
		t.Fatalf("expected SingleUp, got %q", entries[1].Direction)
	}
	if entries[1].Delta == nil || *entries[1].Delta != 10 {
		t.Fatalf("expected delta 10, got %v", entries[1].Delta)
	}
}

func TestEntriesZeroNeighboursCarryNoDirection(t *testing.T) {
	tr := NewTranslator(time.UTC)

	entries := tr.Entries([]carelink.SensorGlucose{
		{SG: 110, DateTime: "2024-03-01T10:00:00.000Z", SensorState: carelink.SensorStateOK},
		{SG: 0, DateTime: "2024-03-01T10:05:00.000Z", SensorState: carelink.SensorStateOK},
		{SG: 120, DateTime: "2024-03-01T10:10:00.000Z", SensorState: carelink.SensorStateOK},
	})

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, e := range entries[1:] {
		if e.Direction != "" {
			t.Fatalf("entry %d next to a zero reading must carry no direction, got %q", i+1, e.Direction)
		}
	}
}

func TestEntriesAnchorsTimestampsInLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tr := NewTranslator(berlin)

	entries := tr.Entries([]carelink.SensorGlucose{
		{SG: 110, DateTime: "2024-03-01T10:00:00.000Z", SensorState: carelink.SensorStateOK},
	})
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	want := time.Date(2024, 3, 1, 10, 0, 0, 0, berlin).UnixMilli()
	if entries[0].Date != want {
		t.Fatalf("expected %d, got %d", want, entries[0].Date)
	}
}

func TestMealTreatmentsJoinsBolus(t *testing.T) {
	tr := NewTranslator(time.UTC)

	treatments := tr.MealTreatments([]carelink.Marker{
		{Type: carelink.MarkerMeal, DateTime: "2024-03-01T12:00:00.000-00:00", Amount: 45},
		{
			Type:                carelink.MarkerInsulin,
			ActivationType:      carelink.ActivationRecommended,
			DateTime:            "2024-03-01T12:00:00.000-00:00",
			DeliveredFastAmount: 5.5,
		},
		// Recommended bolus without a matching meal marker is dropped.
		{
			Type:                carelink.MarkerInsulin,
			ActivationType:      carelink.ActivationRecommended,
			DateTime:            "2024-03-01T15:00:00.000-00:00",
			DeliveredFastAmount: 2,
		},
	})

	if len(treatments) != 1 {
		t.Fatalf("expected 1 treatment, got %d", len(treatments))
	}
	got := treatments[0]
	if got.EventType != "Meal" {
		t.Fatalf("expected Meal, got %q", got.EventType)
	}
	if got.Carbs == nil || *got.Carbs != 45 {
		t.Fatalf("expected 45 carbs, got %v", got.Carbs)
	}
	if got.Insulin == nil || *got.Insulin != 5.5 {
		t.Fatalf("expected 5.5 insulin, got %v", got.Insulin)
	}
}

func TestAutoBolusTreatments(t *testing.T) {
	tr := NewTranslator(time.UTC)

	treatments := tr.AutoBolusTreatments([]carelink.Marker{
		{
			Type:                carelink.MarkerInsulin,
			ActivationType:      carelink.ActivationAutocorrection,
			DateTime:            "2024-03-01T12:00:00.000-00:00",
			DeliveredFastAmount: 0.7,
		},
		{
			Type:           carelink.MarkerInsulin,
			ActivationType: carelink.ActivationRecommended,
			DateTime:       "2024-03-01T12:05:00.000-00:00",
		},
	})

	if len(treatments) != 1 {
		t.Fatalf("expected 1 treatment, got %d", len(treatments))
	}
	if treatments[0].EventType != "Correction Bolus" {
		t.Fatalf("expected Correction Bolus, got %q", treatments[0].EventType)
	}
	if treatments[0].Insulin == nil || *treatments[0].Insulin != 0.7 {
		t.Fatalf("expected 0.7 insulin, got %v", treatments[0].Insulin)
	}
}

func TestBasalTreatments(t *testing.T) {
	tr := NewTranslator(time.UTC)

	treatments := tr.BasalTreatments([]carelink.Marker{
		{Type: carelink.MarkerAutoBasal, DateTime: "2024-03-01T12:05:00.000-00:00", BolusAmount: 0.05},
		{Type: carelink.MarkerAutoBasal, DateTime: "2024-03-01T12:00:00.000-00:00", BolusAmount: 0.1},
	})

	if len(treatments) != 2 {
		t.Fatalf("expected 2 treatments, got %d", len(treatments))
	}
	if treatments[0].CreatedAt > treatments[1].CreatedAt {
		t.Fatal("expected treatments ordered by created_at")
	}
	if treatments[0].EventType != "Temp Basal" || treatments[0].Duration != 5 {
		t.Fatalf("expected 5-minute Temp Basal, got %+v", treatments[0])
	}
	if treatments[0].Absolute == nil || *treatments[0].Absolute != 0.1 {
		t.Fatalf("expected absolute 0.1, got %v", treatments[0].Absolute)
	}
}

func TestNoteTreatments(t *testing.T) {
	tr := NewTranslator(time.UTC)
	sg := 98.0
	sentinel := 400.0

	treatments := tr.NoteTreatments([]carelink.Notification{
		{Type: carelink.NotificationAlarm, DateTime: "2024-03-01T12:00:00.000-00:00", MessageID: "BC_SID_LOW_SG", SG: &sg},
		{Type: carelink.NotificationAlarm, DateTime: "2024-03-01T12:05:00.000-00:00", MessageID: "BC_MESSAGE_CALIBRATE", SG: &sentinel},
		{Type: carelink.NotificationAlert, DateTime: "2024-03-01T12:10:00.000-00:00", MessageID: "BC_SID_OTHER"},
	}, carelink.NotificationAlarm)

	if len(treatments) != 2 {
		t.Fatalf("expected 2 treatments, got %d", len(treatments))
	}
	if treatments[0].Notes != "LOW_SG" {
		t.Fatalf("expected prefix stripped, got %q", treatments[0].Notes)
	}
	if treatments[0].Glucose == nil || *treatments[0].Glucose != 98 {
		t.Fatalf("expected glucose 98, got %v", treatments[0].Glucose)
	}
	if treatments[1].Notes != "CALIBRATE" {
		t.Fatalf("expected prefix stripped, got %q", treatments[1].Notes)
	}
	if treatments[1].Glucose != nil {
		t.Fatal("sentinel glucose must be dropped")
	}
}

func TestDeviceStatus(t *testing.T) {
	tr := NewTranslator(time.UTC)

	status := tr.DeviceStatus(&carelink.RecentData{
		PumpModelNumber:        "MMT-780",
		ConduitBatteryStatus:   "FULL",
		ConduitBatteryLevel:    100,
		SystemStatusMessage:    "NO_ERROR_MESSAGE",
		MedicalDeviceSuspended: false,
		ActiveInsulin:          carelink.ActiveInsulin{Amount: 1.5},
	})

	if status.Device != "MMT-780" {
		t.Fatalf("expected pump model, got %q", status.Device)
	}
	if status.Pump.Battery.Voltage != 100 || status.Pump.Battery.Status != "FULL" {
		t.Fatalf("unexpected battery %+v", status.Pump.Battery)
	}
	if status.Pump.Reservoir != 1.5 {
		t.Fatalf("expected reservoir 1.5, got %g", status.Pump.Reservoir)
	}
}
