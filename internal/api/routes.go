/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/api/handlers
 * - backend/internal/api/middleware
 * - backend/internal/services
 */

package api

import (
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/marginwatch/backend/internal/api/handlers"
	"github.com/marginwatch/backend/internal/api/middleware"
	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/integrations/sheets"
	"github.com/marginwatch/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// SetupRoutes configures all API routes
func SetupRoutes(app *fiber.App, db *gorm.DB, rdb *redis.Client, cfg *config.Config) {
	// 1. Initialize Middleware
	if err := middleware.InitAuthMiddleware(cfg); err != nil {
		log.Printf("Failed to init auth middleware: %v", err)
		// We don't panic here to allow app to start in dev modes without valid keys,
		// but protected routes will fail.
	}

	// 2. Initialize Services
	sheetsClient := sheets.NewClient(cfg.Sheets.WebhookURL)
	ingestService := services.NewIngestService(db, rdb)
	deltaService := services.NewDeltaService(db, rdb, cfg.Pipeline)
	rollupService := services.NewRollupService(db, sheetsClient, cfg.Pipeline)
	exportService := services.NewExportService(db, sheetsClient, cfg.Pipeline)

	// 3. Initialize Handlers
	ingestHandler := handlers.NewIngestHandler(ingestService)
	deltaHandler := handlers.NewDeltaHandler(deltaService)
	jobsHandler := handlers.NewJobsHandler(rollupService, exportService)

	// 4. Define Routes
	apiGroup := app.Group("/api")
	v1 := apiGroup.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Agent ingestion (API-key gated)
	v1.Post("/ingest", middleware.IngestKeyRequired(cfg), ingestHandler.Ingest)

	// Owner reads (JWT protected)
	v1.Get("/deltas", middleware.Protected(), deltaHandler.GetDeltas)
	v1.Get("/snapshots/stream", middleware.Protected(), deltaHandler.StreamSnapshots)

	// Manual job triggers (job-secret gated)
	jobs := v1.Group("/jobs", middleware.JobSecretRequired(cfg))
	jobs.Post("/rollup", jobsHandler.RunRollup)
	jobs.Post("/export", jobsHandler.RunExport)
}
