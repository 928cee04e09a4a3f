package poller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"carelinkbridge/internal/carelink"
	"carelinkbridge/internal/models"
)

const (
	// Scan interval bounds mirror the setup-flow limits.
	MinInterval     = 30 * time.Second
	MaxInterval     = 300 * time.Second
	DefaultInterval = 60 * time.Second
)

// DataSource fetches telemetry from Carelink.
type DataSource interface {
	RecentData(ctx context.Context) (*carelink.RecentData, error)
}

// TelemetryStore persists readings and pump events.
type TelemetryStore interface {
	InsertGlucose(ctx context.Context, entry *models.GlucoseEntry) error
	InsertPumpEvent(ctx context.Context, kind string, recordedAt time.Time, payload json.RawMessage) error
}

// Forwarder relays one cycle of telemetry to Nightscout.
type Forwarder interface {
	Forward(ctx context.Context, data *carelink.RecentData, loc *time.Location) (int, error)
}

// SnapshotCache persists the latest snapshot across restarts.
type SnapshotCache interface {
	SaveSnapshot(ctx context.Context, snapshot models.Snapshot)
}

// Broadcaster pushes snapshot updates to stream subscribers.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// ClampInterval bounds the scan interval to the supported 30-300s range.
func ClampInterval(interval time.Duration) time.Duration {
	switch {
	case interval <= 0:
		return DefaultInterval
	case interval < MinInterval:
		return MinInterval
	case interval > MaxInterval:
		return MaxInterval
	default:
		return interval
	}
}

// Poller drives the fetch/persist/relay cycle on the scan interval.
// Forwarder, cache and broadcaster are optional.
type Poller struct {
	source      DataSource
	store       TelemetryStore
	forwarder   Forwarder
	cache       SnapshotCache
	broadcaster Broadcaster
	interval    time.Duration
	logger      *zap.Logger

	mu     sync.RWMutex
	latest *models.Snapshot
}

// New builds the poller.
func New(source DataSource, store TelemetryStore, fwd Forwarder, cache SnapshotCache, broadcaster Broadcaster, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		source:      source,
		store:       store,
		forwarder:   fwd,
		cache:       cache,
		broadcaster: broadcaster,
		interval:    ClampInterval(interval),
		logger:      logger,
	}
}

// Prime seeds the in-memory snapshot, typically from the cache at startup.
func (p *Poller) Prime(snapshot models.Snapshot) {
	p.mu.Lock()
	p.latest = &snapshot
	p.mu.Unlock()
}

// Latest returns the most recent snapshot.
func (p *Poller) Latest() (models.Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return models.Snapshot{}, false
	}
	return *p.latest, true
}

// Run polls immediately and then on every tick until the context is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", zap.Duration("interval", p.interval))

	if err := p.Cycle(ctx); err != nil {
		p.logger.Warn("poll cycle failed", zap.Error(err))
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-ticker.C:
			if err := p.Cycle(ctx); err != nil {
				p.logger.Warn("poll cycle failed", zap.Error(err))
			}
		}
	}
}

// Cycle performs one fetch/persist/relay pass.
func (p *Poller) Cycle(ctx context.Context) error {
	data, err := p.source.RecentData(ctx)
	if err != nil {
		return fmt.Errorf("poller: fetch: %w", err)
	}

	loc := carelink.LocationFor(data.ClientTimeZoneName)

	p.persist(ctx, data, loc)

	snapshot := buildSnapshot(data, loc)
	p.publish(ctx, snapshot)

	if p.forwarder != nil {
		uploaded, err := p.forwarder.Forward(ctx, data, loc)
		if err != nil {
			return fmt.Errorf("poller: forward: %w", err)
		}
		if uploaded > 0 {
			p.logger.Info("relayed to nightscout", zap.Int("records", uploaded))
		}
	}
	return nil
}

func (p *Poller) persist(ctx context.Context, data *carelink.RecentData, loc *time.Location) {
	for _, sg := range data.SGs {
		if sg.SG <= 0 {
			continue
		}
		recordedAt, err := carelink.ParseSGTime(sg.DateTime, loc)
		if err != nil {
			continue
		}
		entry := models.GlucoseEntry{
			SG:          sg.SG,
			SGMMOL:      models.ToMMOL(sg.SG),
			RecordedAt:  recordedAt,
			SensorState: sg.SensorState,
		}
		if err := p.store.InsertGlucose(ctx, &entry); err != nil {
			p.logger.Warn("persist glucose entry", zap.Error(err))
		}
	}

	for _, marker := range data.Markers {
		recordedAt, err := carelink.ParseMarkerTime(marker.DateTime, loc)
		if err != nil {
			continue
		}
		payload, err := json.Marshal(marker)
		if err != nil {
			continue
		}
		kind := marker.Type
		if marker.ActivationType != "" {
			kind = kind + ":" + marker.ActivationType
		}
		if err := p.store.InsertPumpEvent(ctx, kind, recordedAt, payload); err != nil {
			p.logger.Warn("persist pump event", zap.Error(err))
		}
	}

	for _, n := range data.NotificationHistory.ClearedNotifications {
		recordedAt, err := carelink.ParseMarkerTime(n.DateTime, loc)
		if err != nil {
			continue
		}
		payload, err := json.Marshal(n)
		if err != nil {
			continue
		}
		if err := p.store.InsertPumpEvent(ctx, "NOTIFICATION:"+n.Type, recordedAt, payload); err != nil {
			p.logger.Warn("persist notification", zap.Error(err))
		}
	}
}

func (p *Poller) publish(ctx context.Context, snapshot models.Snapshot) {
	p.mu.Lock()
	p.latest = &snapshot
	p.mu.Unlock()

	if p.cache != nil {
		p.cache.SaveSnapshot(ctx, snapshot)
	}

	if p.broadcaster != nil {
		if msg, err := json.Marshal(snapshot); err == nil {
			p.broadcaster.Broadcast(msg)
		}
	}
}

func buildSnapshot(data *carelink.RecentData, loc *time.Location) models.Snapshot {
	snapshot := models.Snapshot{
		Trend:       data.LastSGTrend,
		SensorState: data.SensorState,

		PumpBatteryPercent:  data.MedicalDeviceBatteryLevelPercent,
		ConduitBatteryLevel: data.ConduitBatteryLevel,
		SensorBatteryLevel:  data.GstBatteryLevel,
		SensorDuration:      fmt.Sprintf("%dh%dm", data.SensorDurationHours, data.SensorDurationMinutes),
		ReservoirPercent:    data.ReservoirLevelPercent,
		ReservoirUnits:      data.ReservoirRemainingUnits,

		PumpCommunicationOK:   data.PumpCommunicationState,
		SensorCommunicationOK: data.GstCommunicationState,
		ConduitInRange:        data.ConduitInRange,

		PumpSerial: data.MedicalDeviceSerialNumber,
		PumpModel:  data.PumpModelNumber,
		PumpOwner:  data.FirstName + " " + data.LastName,

		UpdatedAt: time.Now().UTC(),
	}

	// Keep the reading only when the sensor actually logged one; an error
	// state reports sg 0.
	if data.LastSG.SG > 0 {
		snapshot.LastSG = data.LastSG.SG
		snapshot.LastSGMMOL = models.ToMMOL(data.LastSG.SG)
		if at, err := carelink.ParseSGTime(data.LastSG.DateTime, loc); err == nil {
			snapshot.LastSGAt = at
		}
	}
	if data.LastSG.SensorState != "" {
		snapshot.SensorState = data.LastSG.SensorState
	}
	return snapshot
}
