/**
 * @description
 * Daily anchor exporter.
 * Once per day, at the daily anchor instant (08:00 reference-timezone), selects
 * each account's latest snapshot at or before the anchor and forwards the batch
 * to the sheet webhook as the archival record of the daily figure.
 *
 * @dependencies
 * - gorm.io/gorm
 * - backend/internal/integrations/sheets
 * - backend/internal/timeutil
 *
 * @notes
 * - The scheduler invokes this every hour; the hour gate makes every tick
 *   outside the anchor's UTC hour a skip, not an error. A force flag overrides
 *   the gate for testing and backfill.
 * - Unlike the hourly rollup forward, a webhook failure here is surfaced: this
 *   export is the sole record of the daily figure.
 * - Export rows flatten NULLs to ""/0 — the sheet is a report, not a store;
 *   the null-propagation rules apply to the delta view only.
 */

package services

import (
	"context"
	"fmt"
	"time"

	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/integrations/sheets"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/models"
	"github.com/marginwatch/backend/internal/timeutil"
	"gorm.io/gorm"
)

// DailySheetName labels the target sheet in the webhook payload
const DailySheetName = "daily_jst08"

// ExportResult reports what one ExportAnchor invocation did
type ExportResult struct {
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Count   int    `json:"count"`
}

// ExportService produces the daily anchor export
type ExportService struct {
	DB       *gorm.DB
	Sheets   *sheets.Client
	Pipeline config.PipelineConfig
}

// NewExportService creates a new ExportService
func NewExportService(db *gorm.DB, sheetsClient *sheets.Client, pipeline config.PipelineConfig) *ExportService {
	return &ExportService{
		DB:       db,
		Sheets:   sheetsClient,
		Pipeline: pipeline,
	}
}

// ExportAnchor runs the daily export for today's anchor instant.
// Outside the anchor's UTC hour it no-ops with Skipped=true unless forced.
func (s *ExportService) ExportAnchor(ctx context.Context, now time.Time, force bool) (*ExportResult, error) {
	anchor := timeutil.AnchorInstant(now, s.Pipeline.Location, s.Pipeline.AnchorHourLocal)

	if !force && now.UTC().Hour() != anchor.UTC().Hour() {
		return &ExportResult{
			Skipped: true,
			Reason:  fmt.Sprintf("not %02d:00 UTC", anchor.UTC().Hour()),
		}, nil
	}

	if s.Sheets == nil || !s.Sheets.Enabled() {
		return nil, fmt.Errorf("daily export requires SHEETS_WEBHOOK_URL")
	}

	// Widened selection window so sparsely reporting accounts still land a row
	windowStart := anchor.Add(-s.Pipeline.AnchorLookback())

	var snapshots []models.Snapshot
	err := s.DB.WithContext(ctx).
		Where("ts_utc >= ? AND ts_utc <= ?", windowStart, anchor).
		Order("ts_utc DESC, id DESC").
		Find(&snapshots).Error
	if err != nil {
		return nil, fmt.Errorf("export select failed: %w", err)
	}

	latest := latestPerAccount(snapshots)

	payload := sheets.DailyPayload{
		Sheet:      DailySheetName,
		AnchorDate: timeutil.AnchorDate(anchor, s.Pipeline.Location),
		Rows:       make([]sheets.DailyRow, 0, len(latest)),
	}
	timeLocal := fmt.Sprintf("%02d:00", s.Pipeline.AnchorHourLocal)
	for _, snap := range latest {
		payload.Rows = append(payload.Rows, sheets.DailyRow{
			DateLocal:    payload.AnchorDate,
			TimeLocal:    timeLocal,
			OwnerID:      snap.OwnerID,
			AccountLogin: snap.AccountLogin,
			Broker:       derefString(snap.Broker),
			Tag:          derefString(snap.Tag),
			Currency:     derefString(snap.Currency),
			Balance:      deref(snap.Balance),
			Equity:       deref(snap.Equity),
			ProfitFloat:  deref(snap.ProfitFloat),
			Margin:       deref(snap.Margin),
			TsUTCISO:     snap.TsUTC.UTC().Format(time.RFC3339),
		})
	}

	if err := s.Sheets.PostDaily(ctx, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotification, err)
	}

	logger.Info("ExportService: exported %d rows for anchor %s", len(payload.Rows), payload.AnchorDate)

	return &ExportResult{Count: len(payload.Rows)}, nil
}

// latestPerAccount keeps the first (newest, given DESC input order) snapshot
// per (owner_id, account_login), preserving encounter order
func latestPerAccount(snapshots []models.Snapshot) []models.Snapshot {
	type key struct {
		owner string
		login int64
	}
	seen := make(map[key]bool)
	var out []models.Snapshot
	for _, snap := range snapshots {
		k := key{snap.OwnerID, snap.AccountLogin}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, snap)
	}
	return out
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
