package analysisruns

import (
	"context"
	"net/http"
	"time"

	"niche-backend/internal/clients/transport"
	"niche-backend/internal/shared/telemetry"
)

const webhookTimeout = 10 * time.Second

// Notifier delivers the completion callback of a run.
type Notifier interface {
	Notify(ctx context.Context, url string, payload WebhookPayload) error
}

// WebhookPayload is POSTed to the run's webhook URL on completion.
type WebhookPayload struct {
	RunID   string   `json:"runId"`
	Status  string   `json:"status"`
	Results *Results `json:"results,omitempty"`
	Costs   Costs    `json:"costs"`
}

// HTTPNotifier posts payloads as JSON.
type HTTPNotifier struct {
	Caller transport.Caller
}

func NewHTTPNotifier(client *http.Client) *HTTPNotifier {
	return &HTTPNotifier{Caller: transport.Caller{Provider: "webhook", Client: client, Timeout: webhookTimeout}}
}

func (n *HTTPNotifier) Notify(ctx context.Context, url string, payload WebhookPayload) error {
	req, err := transport.JSONRequest(ctx, http.MethodPost, url, payload)
	if err != nil {
		return err
	}
	_, err = n.Caller.Do(ctx, req)
	return err
}

// sendWebhook never fails the run; delivery errors are only logged.
func (o *Orchestrator) sendWebhook(ctx context.Context, run Run, results Results, costs Costs) {
	if o.Notifier == nil {
		return
	}
	payload := WebhookPayload{RunID: run.ID, Status: StatusCompleted, Results: &results, Costs: costs}
	if err := o.Notifier.Notify(ctx, run.Config.WebhookURL, payload); err != nil {
		telemetry.Warn("run.webhook.failed", map[string]any{"run_id": run.ID, "error": err.Error()})
		return
	}
	telemetry.Info("run.webhook.sent", map[string]any{"run_id": run.ID})
}
