package forwarder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"carelinkbridge/internal/carelink"
	"carelinkbridge/internal/nightscout"
)

// Uploader is the Nightscout client subset the forwarder drives.
type Uploader interface {
	Reachable(ctx context.Context) bool
	UploadEntry(ctx context.Context, entry nightscout.Entry) error
	UploadTreatment(ctx context.Context, treatment nightscout.Treatment) error
	UploadDeviceStatus(ctx context.Context, status nightscout.DeviceStatus) error
}

// Ledger records which source records were already uploaded. It is the
// durable dedup source of truth.
type Ledger interface {
	Uploaded(ctx context.Context, keys []string) (map[string]bool, error)
	MarkUploaded(ctx context.Context, key string, at time.Time) error
}

// SeenCache fronts the ledger with a cheap recently-seen check. Both methods
// are best effort.
type SeenCache interface {
	Seen(ctx context.Context, key string) bool
	MarkSeen(ctx context.Context, key string)
}

type record struct {
	key       string
	date      int64
	entry     *nightscout.Entry
	treatment *nightscout.Treatment
}

// Forwarder translates polled telemetry and uploads what Nightscout has not
// seen yet, preserving source timestamp order.
type Forwarder struct {
	uploader Uploader
	ledger   Ledger
	seen     SeenCache
	logger   *zap.Logger
}

// New builds a forwarder. seen may be nil, the ledger is then the only
// dedup layer.
func New(uploader Uploader, ledger Ledger, seen SeenCache, logger *zap.Logger) *Forwarder {
	return &Forwarder{
		uploader: uploader,
		ledger:   ledger,
		seen:     seen,
		logger:   logger,
	}
}

// Forward uploads the telemetry of one poll cycle, anchoring timestamps in
// the given location. Device status goes out every cycle; entries and
// treatments are deduplicated against the ledger. Returns the number of new
// records uploaded.
func (f *Forwarder) Forward(ctx context.Context, data *carelink.RecentData, loc *time.Location) (int, error) {
	if !f.uploader.Reachable(ctx) {
		f.logger.Warn("nightscout not reachable, skipping cycle")
		return 0, nil
	}

	translator := nightscout.NewTranslator(loc)

	if err := f.uploader.UploadDeviceStatus(ctx, translator.DeviceStatus(data)); err != nil {
		return 0, err
	}

	records := f.collect(translator, data)
	if len(records) == 0 {
		return 0, nil
	}

	pending, err := f.filterUploaded(ctx, records)
	if err != nil {
		return 0, err
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].date < pending[j].date })

	uploaded := 0
	for _, rec := range pending {
		if err := f.upload(ctx, rec); err != nil {
			// Stop here so earlier records are never resent after later ones.
			return uploaded, err
		}
		now := time.Now().UTC()
		if err := f.ledger.MarkUploaded(ctx, rec.key, now); err != nil {
			return uploaded, fmt.Errorf("forwarder: mark uploaded: %w", err)
		}
		if f.seen != nil {
			f.seen.MarkSeen(ctx, rec.key)
		}
		uploaded++
	}
	return uploaded, nil
}

func (f *Forwarder) collect(translator *nightscout.Translator, data *carelink.RecentData) []record {
	var records []record

	for _, entry := range translator.Entries(data.SGs) {
		e := entry
		records = append(records, record{
			key:   fmt.Sprintf("sgv:%d:%g", e.Date, e.SGV),
			date:  e.Date,
			entry: &e,
		})
	}

	treatments := translator.MealTreatments(data.Markers)
	treatments = append(treatments, translator.AutoBolusTreatments(data.Markers)...)
	treatments = append(treatments, translator.BasalTreatments(data.Markers)...)
	cleared := data.NotificationHistory.ClearedNotifications
	for _, kind := range []string{carelink.NotificationAlarm, carelink.NotificationAlert, carelink.NotificationMessage} {
		treatments = append(treatments, translator.NoteTreatments(cleared, kind)...)
	}

	for _, treatment := range treatments {
		tr := treatment
		records = append(records, record{
			key:       treatmentKey(tr),
			date:      treatmentDate(tr),
			treatment: &tr,
		})
	}
	return records
}

func treatmentKey(tr nightscout.Treatment) string {
	value := 0.0
	switch {
	case tr.Insulin != nil:
		value = *tr.Insulin
	case tr.Absolute != nil:
		value = *tr.Absolute
	}
	key := fmt.Sprintf("treatment:%s:%s:%g", tr.EventType, tr.CreatedAt, value)
	// Notes carry no amount; two notifications cleared in the same second
	// would collide without the text.
	if tr.Notes != "" {
		key += ":" + tr.Notes
	}
	return key
}

func treatmentDate(tr nightscout.Treatment) int64 {
	if tr.Timestamp != 0 {
		return tr.Timestamp
	}
	if ts, err := time.Parse(time.RFC3339, tr.CreatedAt); err == nil {
		return ts.UnixMilli()
	}
	return 0
}

func (f *Forwarder) filterUploaded(ctx context.Context, records []record) ([]record, error) {
	unknown := make([]record, 0, len(records))
	for _, rec := range records {
		if f.seen != nil && f.seen.Seen(ctx, rec.key) {
			continue
		}
		unknown = append(unknown, rec)
	}
	if len(unknown) == 0 {
		return nil, nil
	}

	keys := make([]string, len(unknown))
	for i, rec := range unknown {
		keys[i] = rec.key
	}
	uploaded, err := f.ledger.Uploaded(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("forwarder: check ledger: %w", err)
	}

	pending := make([]record, 0, len(unknown))
	for _, rec := range unknown {
		if uploaded[rec.key] {
			if f.seen != nil {
				f.seen.MarkSeen(ctx, rec.key)
			}
			continue
		}
		pending = append(pending, rec)
	}
	return pending, nil
}

func (f *Forwarder) upload(ctx context.Context, rec record) error {
	if rec.entry != nil {
		return f.uploader.UploadEntry(ctx, *rec.entry)
	}
	return f.uploader.UploadTreatment(ctx, *rec.treatment)
}
