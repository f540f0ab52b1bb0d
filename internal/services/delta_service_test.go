package services

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/marginwatch/backend/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	testLookback  = 36 * time.Hour
	testTolerance = 30 * time.Minute
)

func snap(login int64, ts time.Time, balance *float64) models.Snapshot {
	return models.Snapshot{
		OwnerID:      "u1",
		AccountLogin: login,
		Balance:      balance,
		TsUTC:        ts,
	}
}

// sortDesc mirrors the DB ordering the resolver relies on (ts_utc DESC)
func sortDesc(rows []models.Snapshot) []models.Snapshot {
	sort.Slice(rows, func(i, j int) bool { return rows[i].TsUTC.After(rows[j].TsUTC) })
	return rows
}

func TestComputeDeltasAnchorScenario(t *testing.T) {
	// Anchor 08:00 JST on 2024-03-10 == 2024-03-09T23:00:00Z.
	// Snapshots at 07:00 JST (1000) and 09:00 JST (1200) around it.
	anchor := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC)

	rows := sortDesc([]models.Snapshot{
		snap(100, time.Date(2024, 3, 9, 22, 0, 0, 0, time.UTC), fptr(1000)), // 07:00 JST
		snap(100, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), fptr(1200)), // 09:00 JST
	})

	view := computeDeltas(rows, now, anchor, testLookback, testTolerance)
	if len(view.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(view.Rows))
	}

	row := view.Rows[0]
	if row.AnchorBalance == nil || *row.AnchorBalance != 1000 {
		t.Fatalf("anchor balance = %v, want 1000", row.AnchorBalance)
	}
	if row.DeltaYday == nil || *row.DeltaYday != 200 {
		t.Fatalf("delta vs anchor = %v, want 200", row.DeltaYday)
	}

	// Nothing within 30min of now-24h: the 24h delta must be null, not zero
	if row.SameHourYdayBal != nil || row.DeltaSameHourYday != nil {
		t.Fatalf("expected null 24h reference, got %v / %v", row.SameHourYdayBal, row.DeltaSameHourYday)
	}
}

func TestComputeDeltas24hReference(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := now.Add(-24 * time.Hour)
	anchor := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)

	rows := sortDesc([]models.Snapshot{
		snap(100, target.Add(-20*time.Minute), fptr(900)), // in window, 20min off
		snap(100, target.Add(5*time.Minute), fptr(950)),   // in window, 5min off: closest
		snap(100, target.Add(40*time.Minute), fptr(980)),  // outside tolerance
		snap(100, now, fptr(1000)),
	})

	view := computeDeltas(rows, now, anchor, testLookback, testTolerance)
	row := view.Rows[0]

	if row.SameHourYdayBal == nil || *row.SameHourYdayBal != 950 {
		t.Fatalf("reference balance = %v, want 950 (closest to target)", row.SameHourYdayBal)
	}
	if row.DeltaSameHourYday == nil || *row.DeltaSameHourYday != 50 {
		t.Fatalf("24h delta = %v, want 50", row.DeltaSameHourYday)
	}
}

func TestComputeDeltas24hTiePrefersEarlier(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	target := now.Add(-24 * time.Hour)
	anchor := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)

	rows := sortDesc([]models.Snapshot{
		snap(100, target.Add(-10*time.Minute), fptr(111)),
		snap(100, target.Add(10*time.Minute), fptr(222)),
		snap(100, now, fptr(1000)),
	})

	view := computeDeltas(rows, now, anchor, testLookback, testTolerance)
	row := view.Rows[0]

	if row.SameHourYdayBal == nil || *row.SameHourYdayBal != 111 {
		t.Fatalf("tie must prefer the earlier timestamp: got %v, want 111", row.SameHourYdayBal)
	}
}

func TestComputeDeltasNullPropagation(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	anchor := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)

	// Latest snapshot carries no balance: every derived figure must be null
	rows := sortDesc([]models.Snapshot{
		snap(100, anchor.Add(-time.Hour), fptr(1000)),
		snap(100, now, nil),
	})

	view := computeDeltas(rows, now, anchor, testLookback, testTolerance)
	row := view.Rows[0]

	if row.Balance != nil {
		t.Fatalf("expected null balance, got %v", *row.Balance)
	}
	if row.DeltaYday != nil {
		t.Fatalf("null operand must propagate, got delta %v", *row.DeltaYday)
	}
	if view.Totals.Balance != 0 || view.Totals.DeltaYday != 0 {
		t.Fatalf("totals must treat null as zero contribution: %+v", view.Totals)
	}
}

func TestComputeDeltasOrdersByAccount(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	anchor := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)

	rows := sortDesc([]models.Snapshot{
		snap(300, now.Add(-time.Minute), fptr(3)),
		snap(100, now.Add(-2*time.Minute), fptr(1)),
		snap(200, now.Add(-3*time.Minute), fptr(2)),
	})

	view := computeDeltas(rows, now, anchor, testLookback, testTolerance)
	if len(view.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(view.Rows))
	}
	for i, want := range []int64{100, 200, 300} {
		if view.Rows[i].AccountLogin != want {
			t.Fatalf("row %d: login = %d, want %d", i, view.Rows[i].AccountLogin, want)
		}
	}
	if view.Totals.Accounts != 3 || view.Totals.Balance != 6 {
		t.Fatalf("unexpected totals: %+v", view.Totals)
	}
}

func TestComputeDeltasAnchorLookbackBound(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	anchor := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)

	// Only pre-anchor snapshot is older than the look-back window
	rows := sortDesc([]models.Snapshot{
		snap(100, anchor.Add(-testLookback-time.Hour), fptr(500)),
		snap(100, now, fptr(1000)),
	})

	view := computeDeltas(rows, now, anchor, testLookback, testTolerance)
	row := view.Rows[0]

	if row.AnchorBalance != nil || row.DeltaYday != nil {
		t.Fatalf("stale anchor data must yield null, got %v / %v", row.AnchorBalance, row.DeltaYday)
	}
}

func TestResolveDeltasPrefersCache(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cached := &DeltaView{
		Rows:   []DeltaRow{{AccountLogin: 555, Balance: fptr(1234)}},
		Totals: DeltaTotals{Accounts: 1, Balance: 1234},
	}
	data, _ := json.Marshal(cached)
	if err := client.Set(context.Background(), DeltaCacheKey("u1"), data, 0).Err(); err != nil {
		t.Fatalf("failed to seed cache: %v", err)
	}

	// DB deliberately nil: a cache hit must not touch it
	svc := &DeltaService{Redis: client}

	view, err := svc.ResolveDeltas(context.Background(), "u1", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(view.Rows) != 1 || view.Rows[0].AccountLogin != 555 {
		t.Fatalf("unexpected view from cache: %+v", view)
	}
}

func fptr(v float64) *float64 { return &v }
