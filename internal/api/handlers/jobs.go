/**
 * @description
 * Manual job trigger handlers.
 * Lets an operator (or an external cron) run the hourly rollup+rotation and
 * the daily anchor export over HTTP, gated by the job secret.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/timeutil
 *
 * @notes
 * - Rollup and rotation report independent per-phase status; rotation runs
 *   even when rollup failed.
 */

package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/services"
	"github.com/marginwatch/backend/internal/timeutil"
)

type JobsHandler struct {
	Rollup *services.RollupService
	Export *services.ExportService
}

func NewJobsHandler(rollup *services.RollupService, export *services.ExportService) *JobsHandler {
	return &JobsHandler{Rollup: rollup, Export: export}
}

// RunRollup rolls up the previous completed hour and rotates aged snapshots
// POST /api/v1/jobs/rollup
func (h *JobsHandler) RunRollup(c *fiber.Ctx) error {
	ctx := c.Context()
	now := time.Now()
	hourStart, hourEnd := timeutil.PrevHourWindow(now)

	rollupStatus := fiber.Map{"ok": true}
	count, err := h.Rollup.Rollup(ctx, hourStart, hourEnd)
	if err != nil {
		logger.Error("RunRollup: rollup failed: %v", err)
		rollupStatus = fiber.Map{"ok": false, "error": err.Error()}
	} else {
		rollupStatus["count"] = count
		rollupStatus["hour_utc"] = hourEnd.Format(time.RFC3339)
	}

	rotationStatus := fiber.Map{"ok": true}
	deleted, err := h.Rollup.Rotate(ctx, now)
	if err != nil {
		logger.Error("RunRollup: rotation failed: %v", err)
		rotationStatus = fiber.Map{"ok": false, "error": err.Error()}
	} else {
		rotationStatus["deleted"] = deleted
	}

	status := fiber.StatusOK
	if rollupStatus["ok"] == false || rotationStatus["ok"] == false {
		status = fiber.StatusInternalServerError
	}

	return c.Status(status).JSON(fiber.Map{
		"rollup":   rollupStatus,
		"rotation": rotationStatus,
	})
}

// RunExport runs the daily anchor export; ?force=1 overrides the hour gate
// POST /api/v1/jobs/export
func (h *JobsHandler) RunExport(c *fiber.Ctx) error {
	force := c.Query("force") == "1"

	result, err := h.Export.ExportAnchor(c.Context(), time.Now(), force)
	if err != nil {
		logger.Error("RunExport: export failed: %v", err)
		code := "STORAGE_ERROR"
		if errors.Is(err, services.ErrNotification) {
			code = "NOTIFICATION_ERROR"
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"ok": false, "code": code, "message": err.Error(),
		})
	}

	resp := fiber.Map{"ok": true, "count": result.Count}
	if result.Skipped {
		resp["skipped"] = true
		resp["reason"] = result.Reason
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
