package tableview

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

var (
	// ErrNotEnoughSelected is returned when a merge needs at least two rows.
	ErrNotEnoughSelected = errors.New("at least two rows must be selected")

	// ErrNothingSelected is returned when a bulk action needs a selection.
	ErrNothingSelected = errors.New("no rows selected")

	// ErrUnresolvedSelection is returned when a selected id no longer
	// resolves to an incident. The operation aborts; the selection stays.
	ErrUnresolvedSelection = errors.New("selection contains rows that no longer resolve")

	// ErrNoPendingConfirm is returned when a confirmation arrives without a
	// matching prompt, or with a stale token.
	ErrNoPendingConfirm = errors.New("no matching confirmation pending")

	// ErrUnknownWorkflow is returned for a workflow id not in the catalog.
	ErrUnknownWorkflow = errors.New("unknown workflow")
)

// IncidentService is the coordinator's view of the incident business layer.
type IncidentService interface {
	List(ctx context.Context, q incident.Query) (*incident.Page, error)
	Resolve(ctx context.Context, ids []string) ([]incident.Incident, error)
	Merge(ctx context.Context, sources []incident.Incident, opts incident.MergeOptions) (*incident.Incident, error)
	BulkDelete(ctx context.Context, ids []string, skipConfirm bool) (*incident.BulkDeleteResult, error)
	BuildReport(ctx context.Context, filter string) (*incident.Report, error)
}

// WorkflowInfo describes one runnable workflow.
type WorkflowInfo struct {
	ID    string
	Title string
}

// WorkflowRunner resolves and executes named workflows against incidents.
type WorkflowRunner interface {
	Lookup(id string) (WorkflowInfo, bool)
	Run(ctx context.Context, id string, incidents []incident.Incident) error
}

// Coordinator drives table sessions: it validates intents against session
// state, talks to the incident service, and settles results back into the
// session. Every method serializes on the session, and a failed operation
// leaves selection, sort, and pagination untouched, surfacing the failure
// as an error notice.
type Coordinator struct {
	svc       IncidentService
	workflows WorkflowRunner
	logger    log.Logger
	metrics   *Metrics
}

// NewCoordinator creates a coordinator. workflows and metrics may be nil;
// a nil logger falls back to a no-op logger.
func NewCoordinator(svc IncidentService, workflows WorkflowRunner, logger log.Logger, metrics *Metrics) *Coordinator {
	if svc == nil {
		panic(xerrors.New("tableview: nil incident service"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Coordinator{
		svc:       svc,
		workflows: workflows,
		logger:    logger,
		metrics:   metrics,
	}
}

// Refresh re-fetches the session's current page. When deletions leave the
// page index beyond the last page, the index clamps to the last non-empty
// page and the fetch repeats.
func (c *Coordinator) Refresh(ctx context.Context, s *Session) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return c.refresh(ctx, s)
}

func (c *Coordinator) refresh(ctx context.Context, s *Session) (*View, error) {
	q := s.Query()
	page, err := c.svc.List(ctx, q)
	if err != nil {
		c.fail(ctx, s, "refresh", err)
		return nil, err
	}

	if len(page.Items) == 0 && page.Count > 0 && q.Page.Index > 0 {
		last := (page.Count - 1) / q.Page.Size
		if last < q.Page.Index {
			s.SetPageIndex(last)
			q = s.Query()
			page, err = c.svc.List(ctx, q)
			if err != nil {
				c.fail(ctx, s, "refresh", err)
				return nil, err
			}
		}
	}

	s.ApplyPage(page)
	c.metrics.incAction("refresh", "ok")
	return s.View(), nil
}

// ToggleRow flips one row's selection.
func (c *Coordinator) ToggleRow(ctx context.Context, s *Session, id string) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	selected := s.ToggleRow(id)
	c.logger.Info(ctx, "row toggled", "session", s.ID, "incident", id, "selected", selected)
	c.metrics.incAction("toggle_row", "ok")
	return s.View(), nil
}

// ToggleAll flips the current page's rows as one unit.
func (c *Coordinator) ToggleAll(ctx context.Context, s *Session) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.ToggleAll()
	c.metrics.incAction("toggle_all", "ok")
	return s.View(), nil
}

// UpdateSort applies a functional sort update, then re-fetches from the
// first page.
func (c *Coordinator) UpdateSort(ctx context.Context, s *Session, fn SortUpdater) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.UpdateSort(fn); err != nil {
		c.metrics.incAction("sort", "rejected")
		return nil, err
	}
	c.metrics.incAction("sort", "ok")
	return c.refresh(ctx, s)
}

// CycleSort advances a column through ascending, descending, unsorted.
func (c *Coordinator) CycleSort(ctx context.Context, s *Session, column string) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.CycleSort(column)
	c.metrics.incAction("sort", "ok")
	return c.refresh(ctx, s)
}

// SetPage moves to the given page index and fetches it.
func (c *Coordinator) SetPage(ctx context.Context, s *Session, index int) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.SetPageIndex(index)
	c.metrics.incAction("page", "ok")
	return c.refresh(ctx, s)
}

// SetPageSize changes the page size, resets to the first page, and fetches.
func (c *Coordinator) SetPageSize(ctx context.Context, s *Session, size int) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.SetPageSize(size)
	c.metrics.incAction("page_size", "ok")
	return c.refresh(ctx, s)
}

// SetFilter replaces the filter expression and fetches the first page. The
// selection persists by id.
func (c *Coordinator) SetFilter(ctx context.Context, s *Session, filter string) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.SetFilter(filter)
	c.metrics.incAction("filter", "ok")
	return c.refresh(ctx, s)
}

// RequestMerge opens the merge modal with the resolved selected rows. With
// fewer than two rows selected nothing happens beyond an error notice.
func (c *Coordinator) RequestMerge(ctx context.Context, s *Session) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.SelectedCount() < 2 {
		s.SetNotice(NoticeError, "Select at least two incidents to merge.")
		c.metrics.incAction("merge_request", "rejected")
		return s.View(), ErrNotEnoughSelected
	}

	sources, err := c.resolveSelection(ctx, s)
	if err != nil {
		c.fail(ctx, s, "merge_request", err)
		return s.View(), err
	}

	m := &Modal{Kind: ModalMerge, Merge: &MergePreview{Sources: sources}}
	if err := s.OpenModal(m); err != nil {
		c.metrics.incAction("merge_request", "blocked")
		return s.View(), err
	}
	c.metrics.incModal(ModalMerge)
	return s.View(), nil
}

// ConfirmMerge executes the staged merge. On success the selection clears,
// the modal becomes a success notice, and the page re-fetches.
func (c *Coordinator) ConfirmMerge(ctx context.Context, s *Session, opts incident.MergeOptions) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m := s.Modal()
	if m == nil || m.Kind != ModalMerge {
		return s.View(), ErrNoPendingConfirm
	}

	merged, err := c.svc.Merge(ctx, m.Merge.Sources, opts)
	if err != nil {
		c.fail(ctx, s, "merge", err)
		return s.View(), err
	}

	s.ClearSelection()
	s.CloseModal()
	s.SetNotice(NoticeInfo,
		fmt.Sprintf("Merged %d incidents into %s.", len(m.Merge.Sources), merged.ID))
	c.metrics.incAction("merge", "ok")
	return c.refresh(ctx, s)
}

// RequestDelete stages a delete confirmation for the selected rows. The
// prompt carries a one-time token the client echoes back.
func (c *Coordinator) RequestDelete(ctx context.Context, s *Session) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	ids := s.SelectedIDs()
	if len(ids) == 0 {
		s.SetNotice(NoticeError, "Select at least one incident to delete.")
		c.metrics.incAction("delete_request", "rejected")
		return s.View(), ErrNothingSelected
	}

	m := &Modal{Kind: ModalDelete, Delete: &DeletePrompt{
		IDs:   ids,
		Token: ulid.Make().String(),
	}}
	if err := s.OpenModal(m); err != nil {
		c.metrics.incAction("delete_request", "blocked")
		return s.View(), err
	}
	c.metrics.incModal(ModalDelete)
	return s.View(), nil
}

// ResolveDelete accepts or declines a staged delete. Declining closes the
// prompt and leaves all state intact. Accepting runs the bulk delete with
// per-id prompting skipped, drops the deleted ids from the selection, and
// re-fetches the page.
func (c *Coordinator) ResolveDelete(ctx context.Context, s *Session, token string, accept bool) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m := s.Modal()
	if m == nil || m.Kind != ModalDelete || m.Delete.Token != token {
		return s.View(), ErrNoPendingConfirm
	}

	if !accept {
		s.CloseModal()
		c.metrics.incAction("delete", "declined")
		return s.View(), nil
	}

	result, err := c.svc.BulkDelete(ctx, m.Delete.IDs, true)
	if err != nil {
		c.fail(ctx, s, "delete", err)
		return s.View(), err
	}

	s.DropSelected(result.Deleted)
	s.CloseModal()
	msg := fmt.Sprintf("Deleted %d incidents.", len(result.Deleted))
	level := NoticeInfo
	if len(result.Failed) > 0 {
		msg = fmt.Sprintf("Deleted %d incidents, %d failed.", len(result.Deleted), len(result.Failed))
		level = NoticeError
	}
	s.SetNotice(level, msg)
	c.metrics.incAction("delete", "ok")
	return c.refresh(ctx, s)
}

// RequestReport builds a report for the session's filter and opens it in
// the report modal. The report covers the filtered set, never the selection.
func (c *Coordinator) RequestReport(ctx context.Context, s *Session) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	report, err := c.svc.BuildReport(ctx, s.Query().Filter)
	if err != nil {
		c.fail(ctx, s, "report", err)
		return s.View(), err
	}

	m := &Modal{Kind: ModalReport, Report: report}
	if err := s.OpenModal(m); err != nil {
		c.metrics.incAction("report", "blocked")
		return s.View(), err
	}
	c.metrics.incAction("report", "ok")
	c.metrics.incModal(ModalReport)
	return s.View(), nil
}

// RequestWorkflow opens the workflow modal for one row. This is a row-level
// action: the prompt stages exactly one incident and the bulk selection plays
// no part. The workflow itself is chosen at run time.
func (c *Coordinator) RequestWorkflow(ctx context.Context, s *Session, incidentID string) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	rows, err := c.resolveRows(ctx, s, []string{incidentID})
	if err != nil {
		c.fail(ctx, s, "workflow_request", err)
		return s.View(), err
	}

	m := &Modal{Kind: ModalWorkflow, Workflow: &WorkflowPrompt{Incident: rows[0]}}
	if err := s.OpenModal(m); err != nil {
		c.metrics.incAction("workflow_request", "blocked")
		return s.View(), err
	}
	c.metrics.incModal(ModalWorkflow)
	return s.View(), nil
}

// RunWorkflow dispatches the staged incident to the named workflow. A
// dispatch failure leaves the modal open so the operator can retry or pick
// another workflow; success closes it and records an outcome notice.
func (c *Coordinator) RunWorkflow(ctx context.Context, s *Session, workflowID string) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	m := s.Modal()
	if m == nil || m.Kind != ModalWorkflow {
		return s.View(), ErrNoPendingConfirm
	}
	if c.workflows == nil {
		c.metrics.incAction("workflow", "rejected")
		return s.View(), ErrUnknownWorkflow
	}
	info, ok := c.workflows.Lookup(workflowID)
	if !ok {
		c.metrics.incAction("workflow", "rejected")
		return s.View(), ErrUnknownWorkflow
	}

	target := m.Workflow.Incident
	if err := c.workflows.Run(ctx, info.ID, []incident.Incident{target}); err != nil {
		c.fail(ctx, s, "workflow", err)
		return s.View(), err
	}

	s.CloseModal()
	s.SetNotice(NoticeInfo,
		fmt.Sprintf("Workflow %q started for %s.", info.Title, target.ID))
	c.metrics.incAction("workflow", "ok")
	return s.View(), nil
}

// CloseModal dismisses the active modal. Idempotent.
func (c *Coordinator) CloseModal(ctx context.Context, s *Session) (*View, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.CloseModal()
	return s.View(), nil
}

// resolveSelection returns the selected rows in selection order, from the
// session's snapshot first and the service for anything the snapshot lost.
func (c *Coordinator) resolveSelection(ctx context.Context, s *Session) ([]incident.Incident, error) {
	return c.resolveRows(ctx, s, s.SelectedIDs())
}

// resolveRows resolves ids to full records in the given order.
func (c *Coordinator) resolveRows(ctx context.Context, s *Session, ids []string) ([]incident.Incident, error) {
	rows, missing := s.SnapshotRows(ids)
	if len(missing) == 0 {
		return rows, nil
	}

	fetched, err := c.svc.Resolve(ctx, missing)
	if err != nil {
		if errors.Is(err, incident.ErrUnresolvedIDs) {
			return nil, fmt.Errorf("%w: %v", ErrUnresolvedSelection, err)
		}
		return nil, err
	}

	byID := make(map[string]incident.Incident, len(rows)+len(fetched))
	for _, r := range rows {
		byID[r.ID] = r
	}
	for _, r := range fetched {
		byID[r.ID] = r
	}

	out := make([]incident.Incident, 0, len(ids))
	for _, id := range ids {
		r, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedSelection, id)
		}
		out = append(out, r)
	}
	return out, nil
}

// fail records a failed operation as an error notice. Selection, sort,
// pagination, and any open modal stay as they were, so the operator can
// retry from where the failure hit.
func (c *Coordinator) fail(ctx context.Context, s *Session, action string, err error) {
	c.logger.Error(ctx, err, "table operation failed", "session", s.ID, "action", action)
	c.metrics.incAction(action, "error")
	s.SetNotice(NoticeError, "Operation failed: "+err.Error())
}
