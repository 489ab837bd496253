package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/comms-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSessionFailureRate AlertType = "session_failure_rate"
	AlertMessageErrorRate   AlertType = "message_error_rate"
	AlertDeadLetterBacklog  AlertType = "dead_letter_backlog"
)

// minFinishedSessions is the sample size below which the failure rate is ignored.
const minFinishedSessions = 5

// minProcessedMessages is the sample size below which the error rate is ignored.
const minProcessedMessages = 50

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg config.MonitoringConfig
	rc  *resty.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg: cfg,
		rc: resty.New().
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	finished := snap.SessionsCompleted + snap.SessionsFailed
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedSessions && snap.SessionFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSessionFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Sync failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.SessionFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SessionsFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SessionFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SessionsFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ErrorRateThreshold > 0 && snap.MessagesProcessed >= minProcessedMessages && snap.MessageErrorRate > a.cfg.ErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertMessageErrorRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Message error rate %.1f%% exceeds threshold %.1f%% (%d errors / %d processed in last %dh)",
				snap.MessageErrorRate*100, a.cfg.ErrorRateThreshold*100,
				snap.MessageErrors, snap.MessagesProcessed, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.MessageErrorRate,
				"threshold":  a.cfg.ErrorRateThreshold,
				"errors":     snap.MessageErrors,
				"processed":  snap.MessagesProcessed,
			},
			Timestamp: now,
		})
	}

	if a.cfg.DeadLetterThreshold > 0 && snap.DLQDepth >= a.cfg.DeadLetterThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertDeadLetterBacklog,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d messages waiting in the dead-letter queue (threshold %d)",
				snap.DLQDepth, a.cfg.DeadLetterThreshold,
			),
			Details: map[string]any{
				"depth":     snap.DLQDepth,
				"threshold": a.cfg.DeadLetterThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
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
	resp, err := a.rc.R().
		SetContext(ctx).
		SetBody(alert).
		Post(a.cfg.WebhookURL)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if resp.StatusCode() >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode())
	}
	return nil
}
