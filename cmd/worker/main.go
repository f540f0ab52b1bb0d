/**
 * @description
 * Worker Service Entry Point.
 * Responsible for the periodic pipeline jobs:
 * 1. Hourly rollup of the previous completed hour into snapshots_hr.
 * 2. Rotation of raw snapshots past the retention horizon.
 * 3. The daily anchor export (checked hourly, runs only at the anchor's UTC hour).
 *
 * @dependencies
 * - backend/internal/config
 * - backend/internal/db
 * - backend/internal/services
 *
 * @notes
 * - Ticks are aligned to the hour boundary with a small grace delay so the
 *   previous hour's last snapshots have landed before the rollup reads them.
 * - Rollup and rotation are independent: a rollup failure never skips rotation.
 * - At-least-once is fine; every job here is idempotent.
 */

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/db"
	"github.com/marginwatch/backend/internal/integrations/sheets"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/services"
	"github.com/marginwatch/backend/internal/timeutil"
)

// tickGrace delays each hourly tick past the boundary so in-flight ingests
// for the closing hour settle first
const tickGrace = 15 * time.Second

func main() {
	logger.Info("🔥 Starting MarginWatch Worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	// 2. Connect DB
	pgDB, err := db.ConnectPostgres(cfg)
	if err != nil {
		logger.Fatal("Postgres connection failed: %v", err)
	}

	// 3. Initialize Services
	sheetsClient := sheets.NewClient(cfg.Sheets.WebhookURL)
	rollupService := services.NewRollupService(pgDB, sheetsClient, cfg.Pipeline)
	exportService := services.NewExportService(pgDB, sheetsClient, cfg.Pipeline)

	// 4. Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5. Hourly Job Loop
	go func() {
		// Align the first tick to the next hour boundary
		first := time.Until(timeutil.HourFloor(time.Now()).Add(time.Hour + tickGrace))
		select {
		case <-ctx.Done():
			return
		case <-time.After(first):
		}

		runJobs(ctx, rollupService, exportService)

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				runJobs(ctx, rollupService, exportService)
			}
		}
	}()

	// 6. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down worker...")
	cancel()

	time.Sleep(1 * time.Second) // Give in-flight jobs time to notice
	logger.Info("Worker exited.")
}

// runJobs executes one pipeline tick: rollup, rotation, then the export gate
func runJobs(ctx context.Context, rollup *services.RollupService, export *services.ExportService) {
	now := time.Now()
	hourStart, hourEnd := timeutil.PrevHourWindow(now)

	count, err := rollup.Rollup(ctx, hourStart, hourEnd)
	if err != nil {
		logger.Error("Worker: rollup for %s failed: %v", hourEnd.Format(time.RFC3339), err)
	} else {
		logger.Info("Worker: rolled up %d accounts into bucket %s", count, hourEnd.Format(time.RFC3339))
	}

	// Rotation runs regardless of the rollup outcome
	if deleted, err := rollup.Rotate(ctx, now); err != nil {
		logger.Error("Worker: rotation failed: %v", err)
	} else if deleted > 0 {
		logger.Info("Worker: rotation deleted %d rows", deleted)
	}

	// The export gates itself to the anchor's UTC hour; elsewhere it's a skip
	result, err := export.ExportAnchor(ctx, now, false)
	if err != nil {
		logger.Error("Worker: daily export failed: %v", err)
		return
	}
	if !result.Skipped {
		logger.Info("Worker: daily export wrote %d rows", result.Count)
	}
}
