package services

import "errors"

// ErrInvalidInput marks a user-correctable ingestion failure: a missing
// owner_id or an account_login that does not coerce to a finite number.
// Invalid optional fields never produce this; they degrade to NULL instead.
var ErrInvalidInput = errors.New("missing or invalid owner_id/account_login")

// ErrNotification marks a webhook sink failure. Swallowed after the hourly
// rollup, surfaced by the daily export.
var ErrNotification = errors.New("notification sink failure")
