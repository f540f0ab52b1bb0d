/**
 * @description
 * Hourly rollup database model.
 * Maps to the 'snapshots_hr' table in PostgreSQL (low-resolution series).
 *
 * @dependencies
 * - gorm.io/gorm
 *
 * @notes
 * - HourUTC labels the bucket by its *end* instant: the row for 09:00 holds the
 *   last known values inside [08:00, 09:00).
 * - (hour_utc, owner_id, account_login) is the upsert key; re-running the rollup
 *   for the same hour overwrites values in place.
 */

package models

import (
	"time"
)

// HourlyPoint represents the last known account values inside one hour bucket
type HourlyPoint struct {
	HourUTC      time.Time `gorm:"column:hour_utc;primaryKey" json:"hour_utc"`
	OwnerID      string    `gorm:"column:owner_id;primaryKey" json:"owner_id"`
	AccountLogin int64     `gorm:"column:account_login;primaryKey" json:"account_login"`
	BalanceLast  *float64  `gorm:"column:balance_last;type:decimal(20,2)" json:"balance_last"`
	EquityLast   *float64  `gorm:"column:equity_last;type:decimal(20,2)" json:"equity_last"`
	ProfitLast   *float64  `gorm:"column:profit_last;type:decimal(20,2)" json:"profit_last"`
}

// TableName overrides the table name used by HourlyPoint to `snapshots_hr`
func (HourlyPoint) TableName() string {
	return "snapshots_hr"
}
