package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/watchdesk/internal/incident"
)

func captureServer(t *testing.T, got *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content-type = %q, want application/json", r.Header.Get("Content-Type"))
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestMergeCompleted_PostsToWebhook(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	merged := &incident.Incident{
		ID:               "01JN123",
		GeneratedSummary: "Checkout and payments degraded",
		Severity:         incident.SeverityCritical,
		Status:           incident.StatusOpen,
		AlertCount:       5,
		Services:         []string{"checkout", "payments"},
	}

	if err := n.MergeCompleted(context.Background(), merged, 3); err != nil {
		t.Fatalf("MergeCompleted: %v", err)
	}

	blocks, ok := got["blocks"].([]any)
	if !ok {
		t.Fatal("expected blocks array in payload")
	}
	// header, divider, fields, summary, context
	if len(blocks) != 5 {
		t.Errorf("blocks count = %d, want 5", len(blocks))
	}

	header := blocks[0].(map[string]any)
	headerText := header["text"].(map[string]any)["text"].(string)
	if !strings.Contains(headerText, "Checkout and payments degraded") {
		t.Errorf("header text = %q, want to contain the merged summary", headerText)
	}
	if !strings.Contains(headerText, "\U0001f534") {
		t.Error("header should carry the red circle for critical severity")
	}
}

func TestDeleteCompleted_IncludesFailures(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	result := &incident.BulkDeleteResult{
		Deleted: []string{"inc-1", "inc-2"},
		Failed:  map[string]string{"inc-3": "not found"},
	}

	if err := n.DeleteCompleted(context.Background(), result); err != nil {
		t.Fatalf("DeleteCompleted: %v", err)
	}

	raw, _ := json.Marshal(got)
	body := string(raw)
	if !strings.Contains(body, "*Deleted:* 2 incidents") {
		t.Errorf("body missing deleted count: %s", body)
	}
	if !strings.Contains(body, "inc-3") {
		t.Errorf("body missing failed id: %s", body)
	}
}

func TestReportGenerated_PostsBreakdown(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := captureServer(t, &got)
	defer srv.Close()

	n := New(srv.URL, log.Nop())
	report := &incident.Report{
		Filter: "severity:high",
		Total:  12,
		BySeverity: map[incident.Severity]int{
			incident.SeverityHigh: 12,
		},
		TopSources: []string{"prometheus", "datadog"},
	}

	if err := n.ReportGenerated(context.Background(), report); err != nil {
		t.Fatalf("ReportGenerated: %v", err)
	}

	raw, _ := json.Marshal(got)
	body := string(raw)
	if !strings.Contains(body, "severity:high") {
		t.Errorf("body missing filter scope: %s", body)
	}
	if !strings.Contains(body, "high: 12") {
		t.Errorf("body missing severity breakdown: %s", body)
	}
	if !strings.Contains(body, "prometheus") {
		t.Errorf("body missing top sources: %s", body)
	}
}

func TestNotifier_NoOpWithoutURL(t *testing.T) {
	t.Parallel()

	n := New("", log.Nop())
	if err := n.MergeCompleted(context.Background(), &incident.Incident{}, 2); err != nil {
		t.Fatalf("MergeCompleted with empty URL should be no-op, got: %v", err)
	}
	if err := n.ReportGenerated(context.Background(), &incident.Report{}); err != nil {
		t.Fatalf("ReportGenerated with empty URL should be no-op, got: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q, want unchanged", got)
	}
	long := strings.Repeat("x", 50)
	got := truncate(long, 10)
	if len(got) != 10 || !strings.HasSuffix(got, "...") {
		t.Errorf("truncate = %q, want 10 chars ending in ...", got)
	}
}
