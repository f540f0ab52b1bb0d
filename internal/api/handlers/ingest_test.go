package handlers

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/marginwatch/backend/internal/api/middleware"
	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/services"
)

func newIngestApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	handler := NewIngestHandler(services.NewIngestService(nil, nil))
	app.Post("/api/v1/ingest", middleware.IngestKeyRequired(cfg), handler.Ingest)
	return app
}

func TestIngestRejectsMissingAPIKey(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.IngestAPIKey = "sekret"
	app := newIngestApp(cfg)

	req := httptest.NewRequest("POST", "/api/v1/ingest", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("expected 401 without x-api-key, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("failure must be structured JSON, got %q", string(raw))
	}
	if body["code"] != "UNAUTHORIZED" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestIngestRejectsBadJSON(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.IngestAPIKey = "sekret"
	app := newIngestApp(cfg)

	req := httptest.NewRequest("POST", "/api/v1/ingest", strings.NewReader(`{"owner_id":`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "sekret")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for bad JSON, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)
	if body["code"] != "BAD_JSON" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}

func TestIngestRejectsMissingIdentity(t *testing.T) {
	cfg := &config.Config{}
	cfg.Auth.IngestAPIKey = "sekret"
	app := newIngestApp(cfg)

	// Valid JSON with no owner_id/account_login: rejected before any storage access
	req := httptest.NewRequest("POST", "/api/v1/ingest", strings.NewReader(`{"balance": 1000}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", "sekret")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400 for missing identity, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	raw, _ := io.ReadAll(resp.Body)
	_ = json.Unmarshal(raw, &body)
	if body["code"] != "INVALID_INPUT" {
		t.Fatalf("unexpected code: %v", body["code"])
	}
}
