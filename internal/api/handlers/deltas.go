/**
 * @description
 * Delta read API handlers.
 * Serves the per-owner delta view and the live snapshot SSE stream.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 *
 * @notes
 * - Both endpoints read the owner id from the auth middleware, never from the
 *   request; an owner cannot read another owner's rows.
 */

package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/marginwatch/backend/internal/api/middleware"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/services"
)

type DeltaHandler struct {
	Service *services.DeltaService
}

func NewDeltaHandler(service *services.DeltaService) *DeltaHandler {
	return &DeltaHandler{Service: service}
}

// GetDeltas returns the owner's accounts with anchor and 24h deltas
// GET /api/v1/deltas
func (h *DeltaHandler) GetDeltas(c *fiber.Ctx) error {
	ownerID, err := middleware.GetOwnerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Unauthorized"})
	}

	view, err := h.Service.ResolveDeltas(c.Context(), ownerID, time.Now())
	if err != nil {
		logger.Error("GetDeltas: resolve failed for %s: %v", ownerID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code": "STORAGE_ERROR", "message": "Failed to resolve deltas",
		})
	}

	return c.Status(fiber.StatusOK).JSON(view)
}

// StreamSnapshots streams the owner's accepted snapshots over SSE
// GET /api/v1/snapshots/stream
func (h *DeltaHandler) StreamSnapshots(c *fiber.Ctx) error {
	ownerID, err := middleware.GetOwnerID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"code": "UNAUTHORIZED", "message": "Unauthorized"})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	requestCtx := c.Context()

	ctx, cancel := context.WithCancel(context.Background())

	pubsub := h.Service.Redis.Subscribe(ctx, services.LiveSnapshotChannel)
	ch := pubsub.Channel()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			cancel()
			_ = pubsub.Close()
		}()

		requestDone := requestCtx.Done()

		for {
			select {
			case <-requestDone:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				// The channel carries all owners; forward only this owner's rows
				var envelope struct {
					OwnerID string `json:"owner_id"`
				}
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil || envelope.OwnerID != ownerID {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}
