/**
 * @description
 * Hourly rollup and retention service.
 * Rollup condenses one completed hour of snapshots_hi into one row per account
 * in snapshots_hr; Rotate deletes raw rows older than the retention horizon.
 *
 * @dependencies
 * - gorm.io/gorm (+ clause for the composite-key upsert)
 * - github.com/jackc/pgconn: Postgres error-code inspection for retries
 * - backend/internal/integrations/sheets
 *
 * @notes
 * - The upsert key is (hour_utc, owner_id, account_login) with hour_utc being
 *   the bucket's END instant, so re-running the same hour overwrites in place.
 *   At-least-once scheduling is the expected operating mode; no lock needed.
 * - Rollup and Rotate are deliberately not coupled: the caller runs Rotate even
 *   when Rollup failed.
 */

package services

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgconn"
	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/integrations/sheets"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RollupService condenses raw snapshots into the hourly series and rotates
// aged raw rows out
type RollupService struct {
	DB       *gorm.DB
	Sheets   *sheets.Client
	Pipeline config.PipelineConfig
}

// NewRollupService creates a new RollupService
func NewRollupService(db *gorm.DB, sheetsClient *sheets.Client, pipeline config.PipelineConfig) *RollupService {
	return &RollupService{
		DB:       db,
		Sheets:   sheetsClient,
		Pipeline: pipeline,
	}
}

// lastPoint is the scan target for the per-account last-value query
type lastPoint struct {
	OwnerID      string
	AccountLogin int64
	Balance      *float64
	Equity       *float64
	ProfitFloat  *float64
}

// Rollup writes one HourlyPoint per account active inside [hourStart, hourEnd),
// labeled by hourEnd, and best-effort forwards the batch to the sheet webhook.
// Returns the number of accounts rolled up; zero activity is success.
func (s *RollupService) Rollup(ctx context.Context, hourStart, hourEnd time.Time) (int, error) {
	if !hourEnd.Equal(hourStart.Add(time.Hour)) {
		return 0, fmt.Errorf("rollup window must be exactly one hour, got [%s, %s)",
			hourStart.UTC().Format(time.RFC3339), hourEnd.UTC().Format(time.RFC3339))
	}

	var points []lastPoint
	err := s.DB.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (owner_id, account_login)
			owner_id, account_login, balance, equity, profit_float
		FROM snapshots_hi
		WHERE ts_utc >= ? AND ts_utc < ?
		ORDER BY owner_id, account_login, ts_utc DESC, id DESC`,
		hourStart.UTC(), hourEnd.UTC(),
	).Scan(&points).Error
	if err != nil {
		return 0, fmt.Errorf("rollup select failed: %w", err)
	}

	if len(points) == 0 {
		return 0, nil
	}

	upserts := buildHourlyPoints(points, hourEnd)

	if err := s.upsertWithRetry(ctx, upserts); err != nil {
		return 0, fmt.Errorf("rollup upsert failed: %w", err)
	}

	// Best-effort forward to the sheet; a sink failure never fails the rollup.
	if s.Sheets != nil && s.Sheets.Enabled() {
		if err := s.Sheets.PostHourly(ctx, hourEnd, upserts); err != nil {
			logger.Error("RollupService: sheet webhook failed for %s: %v",
				hourEnd.UTC().Format(time.RFC3339), err)
		}
	}

	return len(upserts), nil
}

// buildHourlyPoints maps the per-account last values onto rows labeled by the
// bucket's end instant
func buildHourlyPoints(points []lastPoint, hourEnd time.Time) []models.HourlyPoint {
	upserts := make([]models.HourlyPoint, len(points))
	for i, p := range points {
		upserts[i] = models.HourlyPoint{
			HourUTC:      hourEnd.UTC(),
			OwnerID:      p.OwnerID,
			AccountLogin: p.AccountLogin,
			BalanceLast:  p.Balance,
			EquityLast:   p.Equity,
			ProfitLast:   p.ProfitFloat,
		}
	}
	return upserts
}

// upsertWithRetry retries the batch upsert on Postgres deadlock/serialization
// errors with jittered backoff
func (s *RollupService) upsertWithRetry(ctx context.Context, upserts []models.HourlyPoint) error {
	const maxRetries = 5
	var err error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = s.DB.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "hour_utc"},
				{Name: "owner_id"},
				{Name: "account_login"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"balance_last",
				"equity_last",
				"profit_last",
			}),
		}).CreateInBatches(upserts, 100).Error
		if err == nil {
			return nil
		}

		if pgErr, ok := err.(*pgconn.PgError); ok && (pgErr.Code == "40P01" || pgErr.Code == "40001") {
			backoff := time.Duration(attempt*100+rand.Intn(100)) * time.Millisecond
			time.Sleep(backoff)
			continue
		}
		return err
	}
	return err
}

// Rotate deletes every raw snapshot older than the retention horizon.
// Idempotent: a second run over the same data deletes nothing.
func (s *RollupService) Rotate(ctx context.Context, now time.Time) (int64, error) {
	cutoff := now.UTC().Add(-s.Pipeline.Retention())

	result := s.DB.WithContext(ctx).
		Where("ts_utc < ?", cutoff).
		Delete(&models.Snapshot{})
	if result.Error != nil {
		return 0, fmt.Errorf("retention delete failed: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		logger.Info("RollupService: rotated out %d snapshots older than %s",
			result.RowsAffected, cutoff.Format(time.RFC3339))
	}

	return result.RowsAffected, nil
}
