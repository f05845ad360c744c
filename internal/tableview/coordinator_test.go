package tableview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/watchdesk/internal/incident"
	"github.com/linnemanlabs/watchdesk/internal/incident/memstore"
)

// newTestCoordinator wires a real incident service over the in-memory store
// seeded with n open incidents, oldest first by creation time. The default
// listing order is newest first, so inc-(n-1) leads page 0.
func newTestCoordinator(t *testing.T, n int) (*Coordinator, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		inc := &incident.Incident{
			ID:               fmt.Sprintf("inc-%03d", i),
			GeneratedSummary: fmt.Sprintf("incident %d", i),
			Severity:         incident.SeverityWarning,
			Status:           incident.StatusOpen,
			AlertCount:       1,
			AlertSources:     []string{"prometheus"},
			CreatedAt:        base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Put(context.Background(), inc); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	svc := incident.NewService(store, nil, nil, log.Nop(), nil)
	return NewCoordinator(svc, nil, log.Nop(), nil), store
}

func TestCoordinator_SelectionSurvivesPagingAndMerges(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 25)
	s := NewSession("", 10)

	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if v.Total != 25 || len(v.Items) != 10 {
		t.Fatalf("page 0: total %d items %d, want 25/10", v.Total, len(v.Items))
	}

	// select two rows on page 0
	a, b := v.Items[0].ID, v.Items[1].ID
	if _, err := c.ToggleRow(context.Background(), s, a); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, b); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}

	// page away and select a third row
	v, err = c.SetPage(context.Background(), s, 1)
	if err != nil {
		t.Fatalf("SetPage: %v", err)
	}
	f := v.Items[0].ID
	if _, err := c.ToggleRow(context.Background(), s, f); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}

	v, err = c.RequestMerge(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestMerge: %v", err)
	}
	if v.Modal == nil || v.Modal.Kind != ModalMerge {
		t.Fatal("merge modal not open")
	}
	sources := v.Modal.Merge.Sources
	want := []string{a, b, f}
	if len(sources) != 3 {
		t.Fatalf("preview has %d sources, want 3", len(sources))
	}
	for i := range want {
		if sources[i].ID != want[i] {
			t.Errorf("preview[%d] = %q, want %q (selection order)", i, sources[i].ID, want[i])
		}
	}

	v, err = c.ConfirmMerge(context.Background(), s, incident.MergeOptions{})
	if err != nil {
		t.Fatalf("ConfirmMerge: %v", err)
	}
	if len(v.SelectedIDs) != 0 {
		t.Errorf("SelectedIDs = %v, want empty after merge", v.SelectedIDs)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want closed after merge", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeInfo {
		t.Error("expected info notice after successful merge")
	}
	// 25 - 3 sources + 1 merged
	if v.Total != 23 {
		t.Errorf("Total = %d, want 23", v.Total)
	}
}

func TestCoordinator_MergeNeedsTwoRows(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 5)
	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, v.Items[0].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}

	v, err = c.RequestMerge(context.Background(), s)
	if !errors.Is(err, ErrNotEnoughSelected) {
		t.Fatalf("err = %v, want ErrNotEnoughSelected", err)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want none for a rejected merge", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeError {
		t.Error("expected error notice")
	}
	if len(v.SelectedIDs) != 1 {
		t.Errorf("SelectedIDs = %v, selection must be intact", v.SelectedIDs)
	}
}

func TestCoordinator_MergeFailureKeepsState(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 5)
	failing := &failingService{IncidentService: c.svc, mergeErr: errors.New("db down")}
	c = NewCoordinator(failing, nil, log.Nop(), nil)

	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, v.Items[0].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, v.Items[1].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	if _, err := c.RequestMerge(context.Background(), s); err != nil {
		t.Fatalf("RequestMerge: %v", err)
	}

	v, err = c.ConfirmMerge(context.Background(), s, incident.MergeOptions{})
	if err == nil {
		t.Fatal("expected merge failure")
	}
	if len(v.SelectedIDs) != 2 {
		t.Errorf("SelectedIDs = %v, selection must survive failure", v.SelectedIDs)
	}
	if v.Modal == nil || v.Modal.Kind != ModalMerge || len(v.Modal.Merge.Sources) != 2 {
		t.Errorf("modal = %+v, merge preview must survive failure", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeError {
		t.Error("expected error notice after failed merge")
	}

	// the preview is still staged, so the retry needs no new request
	failing.mergeErr = nil
	v, err = c.ConfirmMerge(context.Background(), s, incident.MergeOptions{})
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want closed after retried merge", v.Modal)
	}
	if len(v.SelectedIDs) != 0 {
		t.Errorf("SelectedIDs = %v, want empty after retried merge", v.SelectedIDs)
	}
}

func TestCoordinator_UnresolvableSelectionAborts(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 5)
	s := NewSession("", 10)
	if _, err := c.Refresh(context.Background(), s); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// ids selected without ever being on a page: nothing snapshotted,
	// nothing in the store
	if _, err := c.ToggleRow(context.Background(), s, "ghost-1"); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, "ghost-2"); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}

	v, err := c.RequestMerge(context.Background(), s)
	if !errors.Is(err, ErrUnresolvedSelection) {
		t.Fatalf("err = %v, want ErrUnresolvedSelection", err)
	}
	if v.Modal != nil && v.Modal.Kind == ModalMerge {
		t.Error("merge modal must not open for an unresolvable selection")
	}
	if len(v.SelectedIDs) != 2 {
		t.Errorf("SelectedIDs = %v, selection must be intact", v.SelectedIDs)
	}
}

func TestCoordinator_DeleteFlow(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 5)
	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// nothing selected: request is rejected with a notice, no prompt opens
	if _, err := c.RequestDelete(context.Background(), s); !errors.Is(err, ErrNothingSelected) {
		t.Fatalf("err = %v, want ErrNothingSelected", err)
	}
	if m := s.Modal(); m != nil {
		t.Fatalf("modal = %+v, rejected request must not open a prompt", m)
	}

	target := v.Items[0].ID
	if _, err := c.ToggleRow(context.Background(), s, target); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}

	v, err = c.RequestDelete(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	if v.Modal == nil || v.Modal.Kind != ModalDelete {
		t.Fatal("delete prompt not open")
	}
	token := v.Modal.Delete.Token
	if token == "" {
		t.Fatal("prompt has no token")
	}

	// stale token is rejected
	if _, err := c.ResolveDelete(context.Background(), s, "stale", true); !errors.Is(err, ErrNoPendingConfirm) {
		t.Fatalf("err = %v, want ErrNoPendingConfirm for stale token", err)
	}

	// decline: prompt closes, nothing deleted, selection intact
	v, err = c.ResolveDelete(context.Background(), s, token, false)
	if err != nil {
		t.Fatalf("ResolveDelete decline: %v", err)
	}
	if v.Modal != nil {
		t.Error("prompt must close on decline")
	}
	if len(v.SelectedIDs) != 1 {
		t.Errorf("SelectedIDs = %v, want selection intact after decline", v.SelectedIDs)
	}
	if v.Total != 5 {
		t.Errorf("Total = %d, want 5 after decline", v.Total)
	}

	// accept on a fresh prompt
	v, err = c.RequestDelete(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	v, err = c.ResolveDelete(context.Background(), s, v.Modal.Delete.Token, true)
	if err != nil {
		t.Fatalf("ResolveDelete accept: %v", err)
	}
	if v.Total != 4 {
		t.Errorf("Total = %d, want 4 after delete", v.Total)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want prompt closed after accept", v.Modal)
	}
	if len(v.SelectedIDs) != 0 {
		t.Errorf("SelectedIDs = %v, deleted id must leave the selection", v.SelectedIDs)
	}
	for _, inc := range v.Items {
		if inc.ID == target {
			t.Error("deleted incident still listed")
		}
	}
}

func TestCoordinator_PartialDeleteKeepsFailedSelected(t *testing.T) {
	t.Parallel()

	c, store := newTestCoordinator(t, 3)
	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	kept, gone := v.Items[0].ID, v.Items[1].ID
	for _, id := range []string{kept, gone} {
		if _, err := c.ToggleRow(context.Background(), s, id); err != nil {
			t.Fatalf("ToggleRow: %v", err)
		}
	}

	v, err = c.RequestDelete(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}

	// another actor deletes one row before the confirmation lands
	if _, err := store.BulkDelete(context.Background(), []string{kept}); err != nil {
		t.Fatalf("BulkDelete: %v", err)
	}

	v, err = c.ResolveDelete(context.Background(), s, v.Modal.Delete.Token, true)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want prompt closed after resolve", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeError {
		t.Error("partial failure must surface an error notice")
	}
	if len(v.SelectedIDs) != 1 || v.SelectedIDs[0] != kept {
		t.Errorf("SelectedIDs = %v, want the failed id to stay selected", v.SelectedIDs)
	}
}

func TestCoordinator_DeleteFailureKeepsPrompt(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 3)
	failing := &failingService{IncidentService: c.svc, deleteErr: errors.New("db down")}
	c = NewCoordinator(failing, nil, log.Nop(), nil)

	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, v.Items[0].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	v, err = c.RequestDelete(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	token := v.Modal.Delete.Token

	v, err = c.ResolveDelete(context.Background(), s, token, true)
	if err == nil {
		t.Fatal("expected delete failure")
	}
	if v.Modal == nil || v.Modal.Kind != ModalDelete || v.Modal.Delete.Token != token {
		t.Errorf("modal = %+v, prompt must survive failure", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeError {
		t.Error("expected error notice beside the open prompt")
	}
	if len(v.SelectedIDs) != 1 {
		t.Errorf("SelectedIDs = %v, selection must survive failure", v.SelectedIDs)
	}

	// the same token is still valid for the retry
	failing.deleteErr = nil
	v, err = c.ResolveDelete(context.Background(), s, token, true)
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if v.Total != 2 {
		t.Errorf("Total = %d, want 2 after retried delete", v.Total)
	}
}

func TestCoordinator_RejectionLeavesModalAlone(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 5)
	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := c.ToggleRow(context.Background(), s, v.Items[0].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	if _, err := c.RequestReport(context.Background(), s); err != nil {
		t.Fatalf("RequestReport: %v", err)
	}

	// one row selected: merge is rejected, and the open report must survive
	v, err = c.RequestMerge(context.Background(), s)
	if !errors.Is(err, ErrNotEnoughSelected) {
		t.Fatalf("err = %v, want ErrNotEnoughSelected", err)
	}
	if v.Modal == nil || v.Modal.Kind != ModalReport {
		t.Errorf("modal = %+v, rejected merge must not touch the report", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeError {
		t.Error("expected error notice for the rejection")
	}
}

func TestCoordinator_PageClampsAfterDeletions(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 11)
	s := NewSession("", 10)
	if _, err := c.Refresh(context.Background(), s); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	v, err := c.SetPage(context.Background(), s, 1)
	if err != nil {
		t.Fatalf("SetPage: %v", err)
	}
	if len(v.Items) != 1 {
		t.Fatalf("page 1 has %d items, want 1", len(v.Items))
	}

	if _, err := c.ToggleRow(context.Background(), s, v.Items[0].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}
	v, err = c.RequestDelete(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestDelete: %v", err)
	}
	v, err = c.ResolveDelete(context.Background(), s, v.Modal.Delete.Token, true)
	if err != nil {
		t.Fatalf("ResolveDelete: %v", err)
	}

	if v.Page.Index != 0 {
		t.Errorf("Page.Index = %d, want clamp to 0", v.Page.Index)
	}
	if len(v.Items) != 10 || v.Total != 10 {
		t.Errorf("items %d total %d, want 10/10", len(v.Items), v.Total)
	}
}

func TestCoordinator_ModalExclusivity(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 5)
	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	for _, id := range []string{v.Items[0].ID, v.Items[1].ID} {
		if _, err := c.ToggleRow(context.Background(), s, id); err != nil {
			t.Fatalf("ToggleRow: %v", err)
		}
	}
	if _, err := c.RequestMerge(context.Background(), s); err != nil {
		t.Fatalf("RequestMerge: %v", err)
	}

	if _, err := c.RequestReport(context.Background(), s); !errors.Is(err, ErrModalActive) {
		t.Fatalf("err = %v, want ErrModalActive", err)
	}

	// re-requesting the active kind refreshes the preview instead
	if _, err := c.RequestMerge(context.Background(), s); err != nil {
		t.Fatalf("re-request merge: %v", err)
	}
}

func TestCoordinator_ReportIsFilterScoped(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 7)
	s := NewSession("", 5)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	// a selection must not narrow the report
	if _, err := c.ToggleRow(context.Background(), s, v.Items[0].ID); err != nil {
		t.Fatalf("ToggleRow: %v", err)
	}

	v, err = c.RequestReport(context.Background(), s)
	if err != nil {
		t.Fatalf("RequestReport: %v", err)
	}
	if v.Modal == nil || v.Modal.Kind != ModalReport {
		t.Fatal("report modal not open")
	}
	if v.Modal.Report.Total != 7 {
		t.Errorf("report Total = %d, want 7 (filter scope, not selection)", v.Modal.Report.Total)
	}
}

func TestCoordinator_SortResetsToFirstPage(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(t, 25)
	s := NewSession("", 10)
	if _, err := c.Refresh(context.Background(), s); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := c.SetPage(context.Background(), s, 2); err != nil {
		t.Fatalf("SetPage: %v", err)
	}

	v, err := c.CycleSort(context.Background(), s, "alert_count")
	if err != nil {
		t.Fatalf("CycleSort: %v", err)
	}
	if v.Page.Index != 0 {
		t.Errorf("Page.Index = %d, want 0 after sort change", v.Page.Index)
	}
	if len(v.Sort) != 1 || v.Sort[0].Column != "alert_count" || v.Sort[0].Desc {
		t.Errorf("Sort = %v, want alert_count asc", v.Sort)
	}
}

type fakeRunner struct {
	mu     sync.Mutex
	runs   [][]string
	runErr error
}

func (f *fakeRunner) Lookup(id string) (WorkflowInfo, bool) {
	if id != "page-oncall" {
		return WorkflowInfo{}, false
	}
	return WorkflowInfo{ID: id, Title: "Page on-call"}, true
}

func (f *fakeRunner) Run(_ context.Context, _ string, incidents []incident.Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runErr != nil {
		return f.runErr
	}
	ids := make([]string, len(incidents))
	for i := range incidents {
		ids[i] = incidents[i].ID
	}
	f.runs = append(f.runs, ids)
	return nil
}

func TestCoordinator_WorkflowFlow(t *testing.T) {
	t.Parallel()

	base, _ := newTestCoordinator(t, 5)
	runner := &fakeRunner{}
	c := NewCoordinator(base.svc, runner, log.Nop(), nil)

	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	// running without an open prompt is rejected
	if _, err := c.RunWorkflow(context.Background(), s, "page-oncall"); !errors.Is(err, ErrNoPendingConfirm) {
		t.Fatalf("err = %v, want ErrNoPendingConfirm", err)
	}

	// a row that resolves to nothing cannot stage a prompt
	if _, err := c.RequestWorkflow(context.Background(), s, "ghost"); !errors.Is(err, ErrUnresolvedSelection) {
		t.Fatalf("err = %v, want ErrUnresolvedSelection", err)
	}
	if m := s.Modal(); m != nil {
		t.Fatalf("modal = %+v, failed request must not open a prompt", m)
	}

	target := v.Items[0].ID
	v, err = c.RequestWorkflow(context.Background(), s, target)
	if err != nil {
		t.Fatalf("RequestWorkflow: %v", err)
	}
	if v.Modal == nil || v.Modal.Kind != ModalWorkflow || v.Modal.Workflow.Incident.ID != target {
		t.Fatal("workflow modal not open with the staged incident")
	}

	// unknown workflow name leaves the prompt open
	v, err = c.RunWorkflow(context.Background(), s, "nope")
	if !errors.Is(err, ErrUnknownWorkflow) {
		t.Fatalf("err = %v, want ErrUnknownWorkflow", err)
	}
	if v.Modal == nil || v.Modal.Kind != ModalWorkflow {
		t.Fatal("prompt must survive an unknown workflow name")
	}

	v, err = c.RunWorkflow(context.Background(), s, "page-oncall")
	if err != nil {
		t.Fatalf("RunWorkflow: %v", err)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want closed after run", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeInfo {
		t.Error("expected outcome notice after workflow run")
	}
	if len(runner.runs) != 1 || len(runner.runs[0]) != 1 || runner.runs[0][0] != target {
		t.Errorf("runs = %v, want one run with %s", runner.runs, target)
	}
}

func TestCoordinator_WorkflowFailureKeepsModalOpen(t *testing.T) {
	t.Parallel()

	base, _ := newTestCoordinator(t, 3)
	runner := &fakeRunner{runErr: errors.New("webhook down")}
	c := NewCoordinator(base.svc, runner, log.Nop(), nil)

	s := NewSession("", 10)
	v, err := c.Refresh(context.Background(), s)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	target := v.Items[0].ID
	if _, err := c.RequestWorkflow(context.Background(), s, target); err != nil {
		t.Fatalf("RequestWorkflow: %v", err)
	}

	v, err = c.RunWorkflow(context.Background(), s, "page-oncall")
	if err == nil {
		t.Fatal("expected dispatch failure")
	}
	if v.Modal == nil || v.Modal.Kind != ModalWorkflow || v.Modal.Workflow.Incident.ID != target {
		t.Error("prompt must stay open after a dispatch failure")
	}
	if v.Notice == nil || v.Notice.Level != NoticeError {
		t.Error("expected error notice beside the open prompt")
	}

	runner.runErr = nil
	v, err = c.RunWorkflow(context.Background(), s, "page-oncall")
	if err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if v.Modal != nil {
		t.Errorf("modal = %+v, want closed after retried run", v.Modal)
	}
	if v.Notice == nil || v.Notice.Level != NoticeInfo {
		t.Error("expected outcome notice after retried run")
	}
}

// failingService wraps a real service and fails selected calls.
type failingService struct {
	IncidentService
	mergeErr  error
	deleteErr error
}

func (f *failingService) Merge(ctx context.Context, sources []incident.Incident, opts incident.MergeOptions) (*incident.Incident, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	return f.IncidentService.Merge(ctx, sources, opts)
}

func (f *failingService) BulkDelete(ctx context.Context, ids []string, skipConfirm bool) (*incident.BulkDeleteResult, error) {
	if f.deleteErr != nil {
		return nil, f.deleteErr
	}
	return f.IncidentService.BulkDelete(ctx, ids, skipConfirm)
}
