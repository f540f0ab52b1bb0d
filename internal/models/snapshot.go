/**
 * @description
 * Raw account snapshot database model.
 * Maps to the 'snapshots_hi' table in PostgreSQL (high-resolution store).
 *
 * @dependencies
 * - gorm.io/gorm
 *
 * @notes
 * - Rows are append-only: agents insert, the rotation job deletes by age, nothing
 *   updates in between. Duplicate submissions produce duplicate rows on purpose.
 * - Numeric fields are pointers: a missing or unparseable value is stored as NULL,
 *   never as zero.
 */

package models

import (
	"time"
)

// Snapshot represents one raw, timestamped observation of an account's state
type Snapshot struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID      string    `gorm:"column:owner_id;not null;index:idx_snapshots_hi_owner_acct_ts,priority:1" json:"owner_id"`
	AccountLogin int64     `gorm:"column:account_login;not null;index:idx_snapshots_hi_owner_acct_ts,priority:2" json:"account_login"`
	Broker       *string   `gorm:"column:broker" json:"broker"`
	Tag          *string   `gorm:"column:tag" json:"tag"`
	Currency     *string   `gorm:"column:currency" json:"currency"`
	Balance      *float64  `gorm:"column:balance;type:decimal(20,2)" json:"balance"`
	Equity       *float64  `gorm:"column:equity;type:decimal(20,2)" json:"equity"`
	ProfitFloat  *float64  `gorm:"column:profit_float;type:decimal(20,2)" json:"profit_float"`
	Margin       *float64  `gorm:"column:margin;type:decimal(20,2)" json:"margin"`
	Reason       *string   `gorm:"column:reason" json:"reason"`
	TsUTC        time.Time `gorm:"column:ts_utc;not null;index:idx_snapshots_hi_owner_acct_ts,priority:3;index:idx_snapshots_hi_ts" json:"ts_utc"`
}

// TableName overrides the table name used by Snapshot to `snapshots_hi`
func (Snapshot) TableName() string {
	return "snapshots_hi"
}
