// Package slack announces table mutations and reports to Slack via
// incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

const (
	maxSummaryLen = 500
	httpTimeout   = 10 * time.Second
)

// Notifier posts incident notifications to a Slack webhook. It implements
// incident.Notifier.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, every send is a
// no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// MergeCompleted announces a finished merge.
func (n *Notifier) MergeCompleted(ctx context.Context, merged *incident.Incident, sourceCount int) error {
	emoji := severityEmoji(merged.Severity)
	msg := map[string]any{
		"blocks": []map[string]any{
			headerBlock(fmt.Sprintf("%s Incidents Merged: %s", emoji, truncate(merged.Summary(), 120))),
			{"type": "divider"},
			{
				"type": "section",
				"fields": []map[string]any{
					mrkdwn(fmt.Sprintf("*Merged:* %d incidents", sourceCount)),
					mrkdwn(fmt.Sprintf("*Severity:* %s", merged.Severity)),
					mrkdwn(fmt.Sprintf("*Alerts:* %d", merged.AlertCount)),
					mrkdwn(fmt.Sprintf("*Services:* %s", joinOrDash(merged.Services))),
				},
			},
			summaryBlock(merged.Summary()),
			contextBlock("merge " + merged.ID),
		},
	}
	return n.post(ctx, msg)
}

// DeleteCompleted announces a finished bulk delete, including failures.
func (n *Notifier) DeleteCompleted(ctx context.Context, result *incident.BulkDeleteResult) error {
	text := fmt.Sprintf("*Deleted:* %d incidents", len(result.Deleted))
	if len(result.Failed) > 0 {
		text += fmt.Sprintf("\n*Failed:* %d (%s)", len(result.Failed), failedIDs(result.Failed))
	}
	msg := map[string]any{
		"blocks": []map[string]any{
			headerBlock("\U0001f5d1️ Incidents Deleted"),
			{"type": "divider"},
			{"type": "section", "text": mrkdwn(text)},
			contextBlock("bulk delete"),
		},
	}
	return n.post(ctx, msg)
}

// ReportGenerated posts a filter-scoped incident report.
func (n *Notifier) ReportGenerated(ctx context.Context, report *incident.Report) error {
	scope := report.Filter
	if scope == "" {
		scope = "all incidents"
	}
	msg := map[string]any{
		"blocks": []map[string]any{
			headerBlock("\U0001f4ca Incident Report"),
			{"type": "divider"},
			{
				"type": "section",
				"fields": []map[string]any{
					mrkdwn(fmt.Sprintf("*Scope:* %s", scope)),
					mrkdwn(fmt.Sprintf("*Total:* %d", report.Total)),
					mrkdwn(fmt.Sprintf("*By severity:*\n%s", severityLines(report.BySeverity))),
					mrkdwn(fmt.Sprintf("*Top sources:* %s", joinOrDash(report.TopSources))),
				},
			},
			contextBlock("report"),
		},
	}
	return n.post(ctx, msg)
}

func (n *Notifier) post(ctx context.Context, msg map[string]any) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func headerBlock(text string) map[string]any {
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func summaryBlock(summary string) map[string]any {
	text := truncate(summary, maxSummaryLen)
	if text == "" {
		text = "_No summary available._"
	}
	return map[string]any{
		"type": "section",
		"text": mrkdwn(fmt.Sprintf("*Summary*\n\n%s", text)),
	}
}

func contextBlock(what string) map[string]any {
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			mrkdwn(fmt.Sprintf("watchdesk • %s • %s", what, time.Now().UTC().Format("2006-01-02 15:04 UTC"))),
		},
	}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func severityEmoji(severity incident.Severity) string {
	switch severity {
	case incident.SeverityCritical, incident.SeverityHigh:
		return "\U0001f534" // red circle
	case incident.SeverityWarning:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func severityLines(counts map[incident.Severity]int) string {
	if len(counts) == 0 {
		return "-"
	}
	keys := make([]incident.Severity, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Rank() > keys[j].Rank() })

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = fmt.Sprintf("%s: %d", k, counts[k])
	}
	return strings.Join(lines, "\n")
}

func failedIDs(failed map[string]string) string {
	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return truncate(strings.Join(ids, ", "), 200)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return truncate(strings.Join(items, ", "), 200)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
