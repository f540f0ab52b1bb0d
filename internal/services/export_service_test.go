package services

import (
	"context"
	"testing"
	"time"

	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/models"
)

func tokyoPipeline(t *testing.T) config.PipelineConfig {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load Asia/Tokyo: %v", err)
	}
	return config.PipelineConfig{
		RetentionHours:      48,
		AnchorLookbackHours: 36,
		DeltaToleranceMin:   30,
		AnchorHourLocal:     8,
		ReferenceTZ:         "Asia/Tokyo",
		Location:            loc,
	}
}

func TestExportAnchorSkipsOutsideAnchorHour(t *testing.T) {
	// DB and sink deliberately nil: the gate must fire before either is touched
	svc := &ExportService{Pipeline: tokyoPipeline(t)}

	// 12:00 UTC is nowhere near the 23:00 UTC anchor hour
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	result, err := svc.ExportAnchor(context.Background(), now, false)
	if err != nil {
		t.Fatalf("a gated tick must be a successful skip, got error: %v", err)
	}
	if !result.Skipped {
		t.Fatal("expected Skipped=true outside the anchor hour")
	}
}

func TestExportAnchorForceBypassesGateButRequiresSink(t *testing.T) {
	svc := &ExportService{Pipeline: tokyoPipeline(t)}
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	// Forced run with no webhook configured surfaces the failure
	if _, err := svc.ExportAnchor(context.Background(), now, true); err == nil {
		t.Fatal("expected an error when the sink is not configured")
	}
}

func TestLatestPerAccountKeepsNewest(t *testing.T) {
	ts := func(h int) time.Time { return time.Date(2024, 3, 9, h, 0, 0, 0, time.UTC) }

	// DESC input order, as the export query produces
	in := []models.Snapshot{
		{OwnerID: "u1", AccountLogin: 100, TsUTC: ts(22), Balance: fptr(1200)},
		{OwnerID: "u2", AccountLogin: 100, TsUTC: ts(21), Balance: fptr(50)},
		{OwnerID: "u1", AccountLogin: 100, TsUTC: ts(20), Balance: fptr(1000)},
		{OwnerID: "u1", AccountLogin: 200, TsUTC: ts(19), Balance: fptr(700)},
	}

	out := latestPerAccount(in)
	if len(out) != 3 {
		t.Fatalf("expected 3 distinct accounts, got %d", len(out))
	}
	if *out[0].Balance != 1200 {
		t.Fatalf("u1/100 must keep the newest value 1200, got %v", *out[0].Balance)
	}
	// Same login under a different owner is a distinct account
	if out[1].OwnerID != "u2" || *out[1].Balance != 50 {
		t.Fatalf("expected u2/100 preserved, got %s/%v", out[1].OwnerID, *out[1].Balance)
	}
}
