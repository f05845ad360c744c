package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

const defaultTimeout = 15 * time.Second

// Runner triggers workflows by POSTing the target incidents to the spec's
// webhook.
type Runner struct {
	catalog *Catalog
	client  *http.Client
	logger  log.Logger
}

// NewRunner creates a runner over the given catalog. A nil logger falls
// back to a no-op logger.
func NewRunner(catalog *Catalog, logger log.Logger) *Runner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Runner{
		catalog: catalog,
		client:  &http.Client{Timeout: defaultTimeout},
		logger:  logger,
	}
}

// triggerPayload is the webhook request body.
type triggerPayload struct {
	WorkflowID string        `json:"workflow_id"`
	Incidents  []incidentRef `json:"incidents"`
	FiredAt    time.Time     `json:"fired_at"`
}

type incidentRef struct {
	ID       string `json:"id"`
	Summary  string `json:"summary"`
	Severity string `json:"severity"`
	Status   string `json:"status"`
}

// Run posts the incidents to the workflow's webhook and fails on any
// non-2xx response.
func (r *Runner) Run(ctx context.Context, id string, incidents []incident.Incident) error {
	spec, ok := r.catalog.Find(id)
	if !ok {
		return fmt.Errorf("workflow %q not in catalog", id)
	}

	payload := triggerPayload{
		WorkflowID: spec.ID,
		Incidents:  make([]incidentRef, len(incidents)),
		FiredAt:    time.Now().UTC(),
	}
	for i := range incidents {
		payload.Incidents[i] = incidentRef{
			ID:       incidents[i].ID,
			Summary:  incidents[i].Summary(),
			Severity: string(incidents[i].Severity),
			Status:   string(incidents[i].Status),
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("workflow %q: marshal payload: %w", id, err)
	}

	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, spec.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workflow %q: create request: %w", id, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("workflow %q: post webhook: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("workflow %q: webhook returned %d: %s", id, resp.StatusCode, string(respBody))
	}

	r.logger.Info(ctx, "workflow triggered", "workflow", spec.ID, "incidents", len(incidents))
	return nil
}
