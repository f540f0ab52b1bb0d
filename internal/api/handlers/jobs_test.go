package handlers

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/marginwatch/backend/internal/api/middleware"
	"github.com/marginwatch/backend/internal/config"
)

func TestJobTriggersRequireSecret(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.JobSecret = "job-sekret"

	app := fiber.New()
	handler := NewJobsHandler(nil, nil)
	jobs := app.Group("/api/v1/jobs", middleware.JobSecretRequired(cfg))
	jobs.Post("/rollup", handler.RunRollup)
	jobs.Post("/export", handler.RunExport)

	for _, path := range []string{"/api/v1/jobs/rollup", "/api/v1/jobs/export"} {
		req := httptest.NewRequest("POST", path, nil)
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401 without x-job-secret, got %d", path, resp.StatusCode)
		}

		req = httptest.NewRequest("POST", path, nil)
		req.Header.Set("x-job-secret", "wrong")
		resp, err = app.Test(req)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s: expected 401 with wrong secret, got %d", path, resp.StatusCode)
		}
	}
}

func TestJobSecretGateRejectsWhenUnconfigured(t *testing.T) {
	// An empty configured secret must not mean "open"
	cfg := &config.Config{}

	app := fiber.New()
	app.Post("/api/v1/jobs/rollup", middleware.JobSecretRequired(cfg), NewJobsHandler(nil, nil).RunRollup)

	req := httptest.NewRequest("POST", "/api/v1/jobs/rollup", nil)
	req.Header.Set("x-job-secret", "")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 when secret unconfigured, got %d", resp.StatusCode)
	}
}
