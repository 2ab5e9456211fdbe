// Package notify tells task owners that their report is ready.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/config"
)

// InlineRecipient marks tasks created from the chat flow. They are never
// notified.
const InlineRecipient = "inline@local"

// Event is the payload delivered when a task's report is ready.
type Event struct {
	TaskID     string    `json:"task_id"`
	Recipient  string    `json:"recipient"`
	ReportPath string    `json:"report_path"`
	Timestamp  time.Time `json:"timestamp"`
}

// Skip reports whether a recipient should not be notified.
func Skip(recipient string) bool {
	return recipient == "" || recipient == InlineRecipient
}

// Webhook posts report-ready events to a URL. Without a URL it only logs.
type Webhook struct {
	url    string
	client *http.Client
	now    func() time.Time
}

// NewWebhook creates a Webhook from the notify config.
func NewWebhook(cfg config.NotifyConfig) *Webhook {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		url:    cfg.WebhookURL,
		client: &http.Client{Timeout: timeout},
		now:    time.Now,
	}
}

// Notify delivers one event.
func (w *Webhook) Notify(ctx context.Context, recipient, taskID, reportPath string) error {
	if Skip(recipient) {
		return nil
	}
	ev := Event{TaskID: taskID, Recipient: recipient, ReportPath: reportPath, Timestamp: w.now().UTC()}
	if w.url == "" {
		zap.L().Info("notify: report ready",
			zap.String("task_id", taskID),
			zap.String("recipient", recipient),
			zap.String("report", reportPath),
		)
		return nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "notify: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "notify: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "notify: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("notify: webhook returned status %d", resp.StatusCode)
	}
	zap.L().Info("notify: webhook sent", zap.String("task_id", taskID))
	return nil
}
