/**
 * @description
 * Ingestion API handler.
 * Accepts one raw snapshot JSON object per call from client agents.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 *
 * @notes
 * - Failure reasons always come back as structured JSON {code, message},
 *   never a bare error string.
 */

package handlers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/services"
)

type IngestHandler struct {
	Service *services.IngestService
}

func NewIngestHandler(service *services.IngestService) *IngestHandler {
	return &IngestHandler{Service: service}
}

// Ingest stores one raw snapshot
// POST /api/v1/ingest
func (h *IngestHandler) Ingest(c *fiber.Ctx) error {
	// Receipt id correlates agent retries in logs; it is not a row identity
	// (duplicate submissions are two rows with two receipts).
	receipt := uuid.New().String()

	// The payload is untyped on purpose: validation and coercion rules live in
	// the service, not in struct tags.
	var raw map[string]interface{}
	if err := json.Unmarshal(c.Body(), &raw); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"code": "BAD_JSON", "message": "Bad JSON",
		})
	}

	snap, err := h.Service.Ingest(c.Context(), raw)
	if err != nil {
		if errors.Is(err, services.ErrInvalidInput) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"code": "INVALID_INPUT", "message": "Missing owner_id/account_login",
			})
		}
		logger.Error("Ingest[%s]: insert failed: %v", receipt, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"code": "STORAGE_ERROR", "message": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":      true,
		"receipt": receipt,
		"snapshot": fiber.Map{
			"account_login": snap.AccountLogin,
			"ts_utc":        snap.TsUTC,
		},
	})
}
