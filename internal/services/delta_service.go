/**
 * @description
 * Delta/window resolver.
 * Computes, per account of one owner, the latest snapshot plus two derived
 * figures: delta since the daily anchor (08:00 reference-timezone close) and
 * delta since the same hour yesterday (now - 24h, within a tolerance window).
 *
 * @dependencies
 * - gorm.io/gorm
 * - github.com/redis/go-redis/v9: cache-aside for the resolved view
 * - backend/internal/timeutil
 *
 * @notes
 * - Read-only and side-effect free; safe to call concurrently and repeatedly.
 * - Null is the answer for "no data in window", never zero. A null operand
 *   propagates through the subtraction.
 * - The cache entry is invalidated by IngestService on every accepted snapshot
 *   for the owner, so a short TTL only bounds staleness for deleted accounts.
 */

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/marginwatch/backend/internal/config"
	"github.com/marginwatch/backend/internal/logger"
	"github.com/marginwatch/backend/internal/models"
	"github.com/marginwatch/backend/internal/timeutil"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const deltaCacheTTL = 30 * time.Second

// DeltaRow is one account's latest values plus the two derived deltas
type DeltaRow struct {
	AccountLogin      int64     `json:"account_login"`
	Broker            *string   `json:"broker"`
	Tag               *string   `json:"tag"`
	Currency          *string   `json:"currency"`
	Balance           *float64  `json:"balance"`
	Equity            *float64  `json:"equity"`
	ProfitFloat       *float64  `json:"profit_float"`
	Margin            *float64  `json:"margin"`
	TsUTC             time.Time `json:"ts_utc"`
	AnchorBalance     *float64  `json:"anchor_balance"`
	DeltaYday         *float64  `json:"delta_yday"`
	SameHourYdayBal   *float64  `json:"same_hour_yday_balance"`
	DeltaSameHourYday *float64  `json:"delta_same_hour_yday"`
}

// DeltaTotals aggregates an owner's rows for the dashboard summary cards.
// Null deltas contribute zero here; the per-row nulls stay null.
type DeltaTotals struct {
	Accounts          int     `json:"accounts"`
	Balance           float64 `json:"balance"`
	DeltaYday         float64 `json:"delta_yday"`
	DeltaSameHourYday float64 `json:"delta_same_hour_yday"`
}

// DeltaView is the full per-owner read-model
type DeltaView struct {
	Rows   []DeltaRow  `json:"rows"`
	Totals DeltaTotals `json:"totals"`
}

// DeltaService resolves per-owner delta views
type DeltaService struct {
	DB       *gorm.DB
	Redis    *redis.Client
	Pipeline config.PipelineConfig
}

// NewDeltaService creates a new DeltaService
func NewDeltaService(db *gorm.DB, rdb *redis.Client, pipeline config.PipelineConfig) *DeltaService {
	return &DeltaService{
		DB:       db,
		Redis:    rdb,
		Pipeline: pipeline,
	}
}

// ResolveDeltas returns the delta view for one owner, preferring Cache -> DB.
// The owner filter is the row-level boundary: callers pass the authenticated
// identity, never a client-supplied one.
func (s *DeltaService) ResolveDeltas(ctx context.Context, ownerID string, now time.Time) (*DeltaView, error) {
	// 1. Try Redis
	if s.Redis != nil {
		if val, err := s.Redis.Get(ctx, DeltaCacheKey(ownerID)).Result(); err == nil {
			var view DeltaView
			if err := json.Unmarshal([]byte(val), &view); err == nil {
				return &view, nil
			}
			// If unmarshal fails, fall through to DB
		}
	}

	// 2. Fetch the owner's retention window, newest first
	var rows []models.Snapshot
	windowStart := now.UTC().Add(-s.Pipeline.Retention())
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND ts_utc >= ?", ownerID, windowStart).
		Order("ts_utc DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("delta select failed: %w", err)
	}

	anchor := timeutil.AnchorInstant(now, s.Pipeline.Location, s.Pipeline.AnchorHourLocal)
	view := computeDeltas(rows, now, anchor, s.Pipeline.AnchorLookback(), s.Pipeline.DeltaTolerance())

	// 3. Cache the resolved view
	if s.Redis != nil {
		if data, err := json.Marshal(view); err == nil {
			if err := s.Redis.Set(ctx, DeltaCacheKey(ownerID), data, deltaCacheTTL).Err(); err != nil {
				logger.Error("DeltaService: failed to cache view for %s: %v", ownerID, err)
			}
		}
	}

	return view, nil
}

// computeDeltas reduces one owner's snapshots (sorted ts_utc DESC, id DESC)
// into the delta view. Pure function; all window policy comes in as arguments.
func computeDeltas(rows []models.Snapshot, now, anchor time.Time, lookback, tolerance time.Duration) *DeltaView {
	byAccount := make(map[int64][]models.Snapshot)
	var order []int64
	for _, r := range rows {
		if _, seen := byAccount[r.AccountLogin]; !seen {
			order = append(order, r.AccountLogin)
		}
		byAccount[r.AccountLogin] = append(byAccount[r.AccountLogin], r)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	target := now.UTC().Add(-24 * time.Hour)
	view := &DeltaView{Rows: make([]DeltaRow, 0, len(order))}

	for _, login := range order {
		history := byAccount[login] // newest first
		latest := history[0]

		anchorBal := anchorBalance(history, anchor, lookback)
		refBal := referenceBalance(history, target, tolerance)

		row := DeltaRow{
			AccountLogin:      login,
			Broker:            latest.Broker,
			Tag:               latest.Tag,
			Currency:          latest.Currency,
			Balance:           latest.Balance,
			Equity:            latest.Equity,
			ProfitFloat:       latest.ProfitFloat,
			Margin:            latest.Margin,
			TsUTC:             latest.TsUTC,
			AnchorBalance:     anchorBal,
			DeltaYday:         sub(latest.Balance, anchorBal),
			SameHourYdayBal:   refBal,
			DeltaSameHourYday: sub(latest.Balance, refBal),
		}
		view.Rows = append(view.Rows, row)

		view.Totals.Accounts++
		view.Totals.Balance += deref(row.Balance)
		view.Totals.DeltaYday += deref(row.DeltaYday)
		view.Totals.DeltaSameHourYday += deref(row.DeltaSameHourYday)
	}

	return view
}

// anchorBalance picks the balance of the newest snapshot at or before the
// anchor instant, scanning no further back than the look-back window.
// Nil when the window holds nothing.
func anchorBalance(history []models.Snapshot, anchor time.Time, lookback time.Duration) *float64 {
	windowStart := anchor.Add(-lookback)
	for _, r := range history { // newest first: first hit is the right one
		if r.TsUTC.After(anchor) {
			continue
		}
		if r.TsUTC.Before(windowStart) {
			return nil
		}
		return r.Balance
	}
	return nil
}

// referenceBalance picks the balance of the snapshot closest to the target
// instant within +/- tolerance; ties prefer the earlier timestamp.
// Nil when the tolerance window holds nothing.
func referenceBalance(history []models.Snapshot, target time.Time, tolerance time.Duration) *float64 {
	var best *models.Snapshot
	var bestDiff time.Duration

	for i := range history {
		r := &history[i]
		diff := r.TsUTC.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff > tolerance {
			continue
		}
		if best == nil || diff < bestDiff || (diff == bestDiff && r.TsUTC.Before(best.TsUTC)) {
			best = r
			bestDiff = diff
		}
	}

	if best == nil {
		return nil
	}
	return best.Balance
}

// sub is nullable subtraction: any nil operand yields nil, never zero
func sub(a, b *float64) *float64 {
	if a == nil || b == nil {
		return nil
	}
	d := *a - *b
	return &d
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
