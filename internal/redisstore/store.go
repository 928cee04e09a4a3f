package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"carelinkbridge/internal/models"
)

const (
	snapshotKey  = "carelink:snapshot"
	seenKeyspace = "uploads:seen:"
)

// Store caches the latest device snapshot and fronts the upload ledger with
// a recently-seen set. Every operation is best effort: Redis being down only
// costs a warning and falls through to the durable layers.
type Store struct {
	client      *redis.Client
	snapshotTTL time.Duration
	seenTTL     time.Duration
	logger      *zap.Logger
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, snapshotTTL, seenTTL time.Duration, logger *zap.Logger) *Store {
	if snapshotTTL <= 0 {
		snapshotTTL = time.Hour
	}
	if seenTTL <= 0 {
		seenTTL = 24 * time.Hour
	}
	return &Store{
		client:      client,
		snapshotTTL: snapshotTTL,
		seenTTL:     seenTTL,
		logger:      logger,
	}
}

// SaveSnapshot caches the latest snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snapshot models.Snapshot) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		s.logger.Warn("encode snapshot", zap.Error(err))
		return
	}
	if err := s.client.Set(ctx, snapshotKey, data, s.snapshotTTL).Err(); err != nil {
		s.logger.Warn("cache snapshot", zap.Error(err))
	}
}

// Snapshot returns the cached snapshot, or nil when none is cached.
func (s *Store) Snapshot(ctx context.Context) *models.Snapshot {
	result, err := s.client.Get(ctx, snapshotKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.logger.Warn("read cached snapshot", zap.Error(err))
		}
		return nil
	}
	var snapshot models.Snapshot
	if err := json.Unmarshal([]byte(result), &snapshot); err != nil {
		s.logger.Warn("decode cached snapshot", zap.Error(err))
		return nil
	}
	return &snapshot
}

// Seen reports whether the record key was uploaded recently.
func (s *Store) Seen(ctx context.Context, key string) bool {
	n, err := s.client.Exists(ctx, seenKeyspace+key).Result()
	if err != nil {
		return false
	}
	return n > 0
}

// MarkSeen remembers an uploaded record key for the seen TTL.
func (s *Store) MarkSeen(ctx context.Context, key string) {
	if err := s.client.Set(ctx, seenKeyspace+key, 1, s.seenTTL).Err(); err != nil {
		s.logger.Warn("mark record seen", zap.Error(err))
	}
}
