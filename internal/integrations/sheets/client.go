/**
 * @description
 * HTTP client for the spreadsheet webhook sink (Apps Script endpoint).
 * Receives hourly rollup batches and the daily anchor export as JSON POSTs.
 *
 * @dependencies
 * - net/http
 * - encoding/json
 * - backend/internal/models
 *
 * @notes
 * - The sink is best-effort from the rollup's point of view and authoritative
 *   from the daily export's point of view; both policies live in the callers,
 *   this client just reports what happened.
 */

package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/marginwatch/backend/internal/models"
)

const DefaultTimeout = 10 * time.Second

// Client posts JSON payloads to the configured webhook URL
type Client struct {
	WebhookURL string
	HTTPClient *http.Client
}

// NewClient creates a new webhook client. An empty URL yields a disabled
// client; callers check Enabled() before posting.
func NewClient(webhookURL string) *Client {
	return &Client{
		WebhookURL: webhookURL,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// Enabled reports whether a webhook URL is configured
func (c *Client) Enabled() bool {
	return c.WebhookURL != ""
}

// HourlyPayload is the rollup batch forwarded after each hourly upsert
type HourlyPayload struct {
	HourUTC string               `json:"hour_utc"`
	Rows    []models.HourlyPoint `json:"rows"`
}

// DailyRow is one account's values at the daily anchor instant
type DailyRow struct {
	DateLocal    string  `json:"date_jst"`
	TimeLocal    string  `json:"time_jst"`
	OwnerID      string  `json:"owner_id"`
	AccountLogin int64   `json:"account_login"`
	Broker       string  `json:"broker"`
	Tag          string  `json:"tag"`
	Currency     string  `json:"currency"`
	Balance      float64 `json:"balance"`
	Equity       float64 `json:"equity"`
	ProfitFloat  float64 `json:"profit_float"`
	Margin       float64 `json:"margin"`
	TsUTCISO     string  `json:"ts_utc_iso"`
}

// DailyPayload is the daily anchor export batch
type DailyPayload struct {
	Sheet      string     `json:"sheet"`
	AnchorDate string     `json:"anchor_date"`
	Rows       []DailyRow `json:"rows"`
}

// PostHourly forwards one rollup batch
func (c *Client) PostHourly(ctx context.Context, hourUTC time.Time, rows []models.HourlyPoint) error {
	return c.post(ctx, HourlyPayload{
		HourUTC: hourUTC.UTC().Format(time.RFC3339),
		Rows:    rows,
	})
}

// PostDaily forwards the daily anchor export
func (c *Client) PostDaily(ctx context.Context, payload DailyPayload) error {
	return c.post(ctx, payload)
}

func (c *Client) post(ctx context.Context, payload interface{}) error {
	if !c.Enabled() {
		return fmt.Errorf("sheets webhook URL is not configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook error: status %d: %s", resp.StatusCode, string(snippet))
	}

	return nil
}
