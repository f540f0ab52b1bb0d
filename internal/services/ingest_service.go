/**
 * @description
 * Ingestion service for raw account snapshots.
 * Validates the untyped agent payload, coerces numerics, normalizes the
 * timestamp and appends exactly one row to snapshots_hi.
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/redis/go-redis/v9
 * - backend/internal/models
 * - backend/internal/timeutil
 *
 * @notes
 * - No upsert and no dedup: agents report every few minutes and a duplicate
 *   submission is just another row. Consumers pick the latest by (ts_utc, id).
 * - The live-channel publish and the delta-cache invalidation are best-effort;
 *   a Redis hiccup never fails an accepted ingest.
 */

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/models"
	"github.com/marginwatch/backend/internal/timeutil"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	// LiveSnapshotChannel carries every accepted snapshot to SSE subscribers
	LiveSnapshotChannel = "snapshots:live"

	// deltaCacheKeyPrefix + owner_id caches that owner's resolved delta view
	deltaCacheKeyPrefix = "deltas:"
)

// IngestService handles snapshot ingestion
type IngestService struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewIngestService creates a new IngestService
func NewIngestService(db *gorm.DB, rdb *redis.Client) *IngestService {
	return &IngestService{DB: db, Redis: rdb}
}

// Ingest validates one raw payload and stores it. Returns the stored row or
// ErrInvalidInput / a wrapped storage error.
func (s *IngestService) Ingest(ctx context.Context, raw map[string]interface{}) (*models.Snapshot, error) {
	snap, err := buildSnapshot(raw, time.Now())
	if err != nil {
		return nil, err
	}

	if err := s.DB.WithContext(ctx).Create(snap).Error; err != nil {
		return nil, fmt.Errorf("snapshot insert failed: %w", err)
	}

	s.fanOut(ctx, snap)

	return snap, nil
}

// buildSnapshot maps the untyped payload onto a Snapshot row.
// Identity fields are validated before any optional field is touched; each
// numeric field degrades to NULL independently.
func buildSnapshot(raw map[string]interface{}, now time.Time) (*models.Snapshot, error) {
	ownerID, _ := raw["owner_id"].(string)
	if ownerID == "" {
		return nil, ErrInvalidInput
	}

	// Wire name is account_login (what the agents send); account_id is accepted
	// as an alias for older agent builds.
	loginVal := raw["account_login"]
	if loginVal == nil {
		loginVal = raw["account_id"]
	}
	login := timeutil.CoerceNumber(loginVal)
	if login == nil || *login == 0 {
		return nil, ErrInvalidInput
	}

	return &models.Snapshot{
		OwnerID:      ownerID,
		AccountLogin: int64(*login),
		Broker:       coerceString(raw["broker"]),
		Tag:          coerceString(raw["tag"]),
		Currency:     coerceString(raw["currency"]),
		Balance:      timeutil.CoerceNumber(raw["balance"]),
		Equity:       timeutil.CoerceNumber(raw["equity"]),
		ProfitFloat:  timeutil.CoerceNumber(raw["profit_float"]),
		Margin:       timeutil.CoerceNumber(raw["margin"]),
		Reason:       coerceString(raw["reason"]),
		TsUTC:        timeutil.NormalizeTimestamp(raw["ts_utc"], now),
	}, nil
}

func coerceString(v interface{}) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// fanOut publishes the accepted row to the live channel and drops the owner's
// cached delta view. Both are best-effort.
func (s *IngestService) fanOut(ctx context.Context, snap *models.Snapshot) {
	if s.Redis == nil {
		return
	}

	if payload, err := json.Marshal(snap); err == nil {
		if err := s.Redis.Publish(ctx, LiveSnapshotChannel, payload).Err(); err != nil {
			logger.Error("IngestService: live publish failed: %v", err)
		}
	}

	if err := s.Redis.Del(ctx, DeltaCacheKey(snap.OwnerID)).Err(); err != nil {
		logger.Error("IngestService: delta cache invalidation failed for %s: %v", snap.OwnerID, err)
	}
}

// DeltaCacheKey returns the cache key holding an owner's resolved delta view
func DeltaCacheKey(ownerID string) string {
	return deltaCacheKeyPrefix + ownerID
}
