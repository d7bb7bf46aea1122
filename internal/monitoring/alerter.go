// Package monitoring turns refresh outcomes into alerts and delivers them to
// a webhook.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/partmaster/internal/config"
	"github.com/sells-group/partmaster/internal/pipeline"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRefreshFailed AlertType = "refresh_failed"
	AlertFileFailures  AlertType = "file_failures"
	AlertDropRate      AlertType = "drop_rate"
	AlertSchemaGrowth  AlertType = "schema_growth"
)

// minRowsForDropRate keeps tiny runs from tripping the drop-rate alert.
const minRowsForDropRate = 10

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	RunID     string         `json:"run_id,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a refresh result against configured thresholds and sends
// alerts via webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate returns the alerts a refresh outcome warrants. res may be nil when
// the run failed before producing a result.
func (a *Alerter) Evaluate(res *pipeline.RunResult, runErr error) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	runID := ""
	if res != nil {
		runID = res.RunID
	}

	if runErr != nil {
		alerts = append(alerts, Alert{
			Type:      AlertRefreshFailed,
			Severity:  "high",
			RunID:     runID,
			Message:   fmt.Sprintf("Part master refresh failed: %v", runErr),
			Timestamp: now,
		})
	}
	if res == nil {
		return alerts
	}

	if n := len(res.Failures); n > 0 {
		paths := make([]string, n)
		for i, f := range res.Failures {
			paths[i] = f.Path
		}
		alerts = append(alerts, Alert{
			Type:     AlertFileFailures,
			Severity: "medium",
			RunID:    runID,
			Message:  fmt.Sprintf("%d source file(s) could not be loaded", n),
			Details: map[string]any{
				"files":  paths,
				"loaded": res.Files,
			},
			Timestamp: now,
		})
	}

	if res.Clean.In >= minRowsForDropRate && a.cfg.DropRateThreshold > 0 {
		rate := float64(res.Clean.Dropped) / float64(res.Clean.In)
		if rate > a.cfg.DropRateThreshold {
			alerts = append(alerts, Alert{
				Type:     AlertDropRate,
				Severity: "medium",
				RunID:    runID,
				Message: fmt.Sprintf(
					"%.1f%% of rows had no usable part number (threshold %.1f%%)",
					rate*100, a.cfg.DropRateThreshold*100,
				),
				Details: map[string]any{
					"dropped":   res.Clean.Dropped,
					"raw_rows":  res.Clean.In,
					"threshold": a.cfg.DropRateThreshold,
				},
				Timestamp: now,
			})
		}
	}

	if len(res.AddedColumns) > 0 {
		alerts = append(alerts, Alert{
			Type:      AlertSchemaGrowth,
			Severity:  "info",
			RunID:     runID,
			Message:   fmt.Sprintf("%d new column(s) added to the part master", len(res.AddedColumns)),
			Details:   map[string]any{"columns": res.AddedColumns},
			Timestamp: now,
		})
	}

	return alerts
}

// Notify evaluates and sends in one step, returning the number sent.
func (a *Alerter) Notify(ctx context.Context, res *pipeline.RunResult, runErr error) int {
	return a.SendAlerts(ctx, a.Evaluate(res, runErr))
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
