package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/BoweryJG/clearverify-patient/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertPortalDegraded  AlertType = "portal_degraded"
	AlertOverallDegraded AlertType = "overall_degraded"
	AlertLearningFailure AlertType = "learning_failure"
)

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
	cfg    config.MonitoringConfig
	client *resty.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: resty.New().SetTimeout(10 * time.Second),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A portal is degraded when it has at least MinSamples verifications and a
// success rate below MinSuccessRate.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()
	minSamples := max(a.cfg.MinSamples, 1)

	for _, p := range snap.Portals {
		if p.Total < minSamples || p.SuccessRate >= a.cfg.MinSuccessRate {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertPortalDegraded,
			Severity: "high",
			Message: fmt.Sprintf(
				"Portal %s success rate %.1f%% below %.1f%% (%d/%d in last %dh)",
				p.InsurerKey, p.SuccessRate*100, a.cfg.MinSuccessRate*100,
				p.Succeeded, p.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"insurer":      p.InsurerKey,
				"success_rate": p.SuccessRate,
				"threshold":    a.cfg.MinSuccessRate,
				"total":        p.Total,
			},
			Timestamp: now,
		})
	}

	if snap.Total >= minSamples && snap.SuccessRate < a.cfg.MinSuccessRate {
		alerts = append(alerts, Alert{
			Type:     AlertOverallDegraded,
			Severity: "high",
			Message: fmt.Sprintf(
				"Overall success rate %.1f%% below %.1f%% (%d/%d in last %dh)",
				snap.SuccessRate*100, a.cfg.MinSuccessRate*100,
				snap.Succeeded, snap.Total, snap.LookbackHours,
			),
			Details: map[string]any{
				"success_rate": snap.SuccessRate,
				"failures":     snap.FailuresByCategory,
			},
			Timestamp: now,
		})
	}

	if snap.LearningFailures > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertLearningFailure,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d portal learning test(s) failed in last %dh",
				snap.LearningFailures, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_count": snap.LearningFailures,
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
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(alert).
		Post(a.cfg.WebhookURL)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	if resp.IsError() {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode())
	}
	return nil
}
