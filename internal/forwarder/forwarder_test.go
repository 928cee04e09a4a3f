package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"carelinkbridge/internal/carelink"
	"carelinkbridge/internal/nightscout"
)

type fakeUploader struct {
	mu         sync.Mutex
	reachable  bool
	failAfter  int
	entries    []nightscout.Entry
	treatments []nightscout.Treatment
	statuses   int
}

func (f *fakeUploader) Reachable(ctx context.Context) bool { return f.reachable }

func (f *fakeUploader) UploadEntry(ctx context.Context, entry nightscout.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.entries)+len(f.treatments) >= f.failAfter {
		return errors.New("upstream down")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeUploader) UploadTreatment(ctx context.Context, treatment nightscout.Treatment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.entries)+len(f.treatments) >= f.failAfter {
		return errors.New("upstream down")
	}
	f.treatments = append(f.treatments, treatment)
	return nil
}

func (f *fakeUploader) UploadDeviceStatus(ctx context.Context, status nightscout.DeviceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	return nil
}

type fakeLedger struct {
	mu       sync.Mutex
	uploaded map[string]bool
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{uploaded: map[string]bool{}}
}

func (f *fakeLedger) Uploaded(ctx context.Context, keys []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make(map[string]bool, len(keys))
	for _, key := range keys {
		result[key] = f.uploaded[key]
	}
	return result, nil
}

func (f *fakeLedger) MarkUploaded(ctx context.Context, key string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[key] = true
	return nil
}

type fakeSeen struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeSeen() *fakeSeen { return &fakeSeen{keys: map[string]bool{}} }

func (f *fakeSeen) Seen(ctx context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

func (f *fakeSeen) MarkSeen(ctx context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[key] = true
}

func testRecentData() *carelink.RecentData {
	return &carelink.RecentData{
		PumpModelNumber: "MMT-780",
		SGs: []carelink.SensorGlucose{
			{SG: 110, DateTime: "2024-03-01T10:00:00.000Z", SensorState: carelink.SensorStateOK},
			{SG: 120, DateTime: "2024-03-01T10:05:00.000Z", SensorState: carelink.SensorStateOK},
		},
		Markers: []carelink.Marker{
			{Type: carelink.MarkerAutoBasal, DateTime: "2024-03-01T10:02:00.000-00:00", BolusAmount: 0.05},
		},
	}
}

func TestForwardUploadsAndMarks(t *testing.T) {
	uploader := &fakeUploader{reachable: true}
	ledger := newFakeLedger()
	seen := newFakeSeen()
	fwd := New(uploader, ledger, seen, zap.NewNop())

	uploaded, err := fwd.Forward(context.Background(), testRecentData(), time.UTC)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if uploaded != 3 {
		t.Fatalf("expected 3 uploads, got %d", uploaded)
	}
	if uploader.statuses != 1 {
		t.Fatalf("expected 1 device status, got %d", uploader.statuses)
	}
	if len(uploader.entries) != 2 || len(uploader.treatments) != 1 {
		t.Fatalf("expected 2 entries and 1 treatment, got %d/%d", len(uploader.entries), len(uploader.treatments))
	}
	if len(ledger.uploaded) != 3 {
		t.Fatalf("expected 3 ledger marks, got %d", len(ledger.uploaded))
	}
	if len(seen.keys) != 3 {
		t.Fatalf("expected 3 seen marks, got %d", len(seen.keys))
	}
}

func TestForwardSecondCycleIsIdempotent(t *testing.T) {
	uploader := &fakeUploader{reachable: true}
	ledger := newFakeLedger()
	fwd := New(uploader, ledger, nil, zap.NewNop())

	if _, err := fwd.Forward(context.Background(), testRecentData(), time.UTC); err != nil {
		t.Fatalf("first forward: %v", err)
	}
	uploaded, err := fwd.Forward(context.Background(), testRecentData(), time.UTC)
	if err != nil {
		t.Fatalf("second forward: %v", err)
	}
	if uploaded != 0 {
		t.Fatalf("expected 0 new uploads, got %d", uploaded)
	}
	// Device status still goes out every cycle.
	if uploader.statuses != 2 {
		t.Fatalf("expected 2 device statuses, got %d", uploader.statuses)
	}
}

func TestForwardUploadsInTimestampOrder(t *testing.T) {
	uploader := &fakeUploader{reachable: true}
	fwd := New(uploader, newFakeLedger(), nil, zap.NewNop())

	data := testRecentData()
	// Source order reversed; upload order must follow timestamps.
	data.SGs[0], data.SGs[1] = data.SGs[1], data.SGs[0]

	if _, err := fwd.Forward(context.Background(), data, time.UTC); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(uploader.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(uploader.entries))
	}
	if uploader.entries[0].Date > uploader.entries[1].Date {
		t.Fatal("entries uploaded out of timestamp order")
	}
}

func TestForwardStopsOnFailureWithoutMarking(t *testing.T) {
	uploader := &fakeUploader{reachable: true, failAfter: 1}
	ledger := newFakeLedger()
	fwd := New(uploader, ledger, nil, zap.NewNop())

	uploaded, err := fwd.Forward(context.Background(), testRecentData(), time.UTC)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if uploaded != 1 {
		t.Fatalf("expected 1 successful upload, got %d", uploaded)
	}
	if len(ledger.uploaded) != 1 {
		t.Fatalf("failed records must not be marked, got %d marks", len(ledger.uploaded))
	}

	// Retry picks up where the failure left off.
	uploader.failAfter = 0
	uploaded, err = fwd.Forward(context.Background(), testRecentData(), time.UTC)
	if err != nil {
		t.Fatalf("retry forward: %v", err)
	}
	if uploaded != 2 {
		t.Fatalf("expected 2 remaining uploads, got %d", uploaded)
	}
}

func TestForwardDistinctNotesSameTimestamp(t *testing.T) {
	uploader := &fakeUploader{reachable: true}
	fwd := New(uploader, newFakeLedger(), nil, zap.NewNop())

	data := &carelink.RecentData{
		NotificationHistory: carelink.NotificationHistory{
			ClearedNotifications: []carelink.Notification{
				{Type: carelink.NotificationAlarm, DateTime: "2024-03-01T10:00:00.000-00:00", MessageID: "BC_SID_LOW_SG"},
				{Type: carelink.NotificationAlert, DateTime: "2024-03-01T10:00:00.000-00:00", MessageID: "BC_SID_HIGH_SG"},
			},
		},
	}

	uploaded, err := fwd.Forward(context.Background(), data, time.UTC)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if uploaded != 2 {
		t.Fatalf("expected both notes uploaded, got %d", uploaded)
	}
	if len(uploader.treatments) != 2 {
		t.Fatalf("expected 2 treatments, got %d", len(uploader.treatments))
	}
	if uploader.treatments[0].Notes == uploader.treatments[1].Notes {
		t.Fatalf("expected distinct notes, got %q twice", uploader.treatments[0].Notes)
	}
}

func TestForwardSkipsWhenUnreachable(t *testing.T) {
	uploader := &fakeUploader{reachable: false}
	fwd := New(uploader, newFakeLedger(), nil, zap.NewNop())

	uploaded, err := fwd.Forward(context.Background(), testRecentData(), time.UTC)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if uploaded != 0 || uploader.statuses != 0 {
		t.Fatal("nothing may be uploaded while unreachable")
	}
}

func TestForwardSeenCacheShortCircuitsLedger(t *testing.T) {
	uploader := &fakeUploader{reachable: true}
	ledger := newFakeLedger()
	seen := newFakeSeen()
	fwd := New(uploader, ledger, seen, zap.NewNop())

	if _, err := fwd.Forward(context.Background(), testRecentData(), time.UTC); err != nil {
		t.Fatalf("first forward: %v", err)
	}

	// Wipe the ledger; the seen cache alone must still suppress re-uploads.
	ledger.mu.Lock()
	ledger.uploaded = map[string]bool{}
	ledger.mu.Unlock()

	uploaded, err := fwd.Forward(context.Background(), testRecentData(), time.UTC)
	if err != nil {
		t.Fatalf("second forward: %v", err)
	}
	if uploaded != 0 {
		t.Fatalf("expected seen cache to suppress uploads, got %d", uploaded)
	}
}
