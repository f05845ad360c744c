package incident

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// ErrNotEnoughSources is returned when a merge is attempted with fewer than
// two source incidents.
var ErrNotEnoughSources = errors.New("merge requires at least two source incidents")

// ErrConfirmationRequired is returned when a bulk delete arrives without the
// group-confirmed flag. The caller owns the confirmation step.
var ErrConfirmationRequired = errors.New("bulk delete requires prior confirmation")

// ErrUnresolvedIDs is returned when requested ids are missing from the store.
var ErrUnresolvedIDs = errors.New("one or more incident ids could not be resolved")

// Summarizer drafts the generated summary of a merged incident from its
// sources. Implemented by llm/claude; optional.
type Summarizer interface {
	Summarize(ctx context.Context, sources []Incident) (string, error)
}

// Notifier receives completed table mutations and reports. Implemented by
// notify/slack; optional.
type Notifier interface {
	MergeCompleted(ctx context.Context, merged *Incident, sourceCount int) error
	DeleteCompleted(ctx context.Context, result *BulkDeleteResult) error
	ReportGenerated(ctx context.Context, report *Report) error
}

// MergeOptions carries operator-provided overrides for the merged record.
type MergeOptions struct {
	Summary  string
	Assignee string
}

// Service is the business boundary for incident page fetches and bulk
// mutations.
type Service struct {
	store      Store
	summarizer Summarizer
	notifier   Notifier
	logger     log.Logger
	metrics    *Metrics
}

// NewService creates a new incident service. summarizer, notifier, and
// metrics may be nil.
func NewService(store Store, summarizer Summarizer, notifier Notifier, logger log.Logger, metrics *Metrics) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:      store,
		summarizer: summarizer,
		notifier:   notifier,
		logger:     logger,
		metrics:    metrics,
	}
}

// Ingest stores an incident pushed by the upstream alert aggregator. A
// missing id, status, or creation time is filled in.
func (s *Service) Ingest(ctx context.Context, inc *Incident) error {
	if inc.ID == "" {
		inc.ID = ulid.Make().String()
	}
	if inc.Status == "" {
		inc.Status = StatusOpen
	}
	if inc.CreatedAt.IsZero() {
		inc.CreatedAt = time.Now().UTC()
	}
	if err := s.store.Put(ctx, inc); err != nil {
		return fmt.Errorf("ingest incident %s: %w", inc.ID, err)
	}
	s.logger.Info(ctx, "incident ingested", "id", inc.ID, "severity", inc.Severity)
	return nil
}

// List fetches one page and enforces the page invariants before handing it
// to the table layer.
func (s *Service) List(ctx context.Context, q Query) (*Page, error) {
	if q.Page.Size <= 0 {
		return nil, fmt.Errorf("invalid page size %d", q.Page.Size)
	}
	if len(q.Sort) > 1 {
		return nil, fmt.Errorf("multi-column sort is disabled, got %d columns", len(q.Sort))
	}

	page, err := s.store.List(ctx, q)
	if err != nil {
		s.metrics.incList("error")
		return nil, err
	}
	if err := page.Validate(q); err != nil {
		s.metrics.incList("invalid")
		return nil, fmt.Errorf("store returned inconsistent page: %w", err)
	}
	s.metrics.incList("ok")
	return page, nil
}

// Resolve returns the full records for the given ids, failing if any id is
// unknown rather than silently dropping it.
func (s *Service) Resolve(ctx context.Context, ids []string) ([]Incident, error) {
	records, err := s.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(records) != len(ids) {
		found := make(map[string]struct{}, len(records))
		for _, r := range records {
			found[r.ID] = struct{}{}
		}
		var missing []string
		for _, id := range ids {
			if _, ok := found[id]; !ok {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedIDs, strings.Join(missing, ", "))
	}
	return records, nil
}

// Merge folds the source incidents into a new one and tombstones the
// sources. Severity is the max of the sources, alert count the sum, and
// sources/services the order-preserving union. The generated summary comes
// from the summarizer when available; an operator-provided summary always
// wins as the user summary.
func (s *Service) Merge(ctx context.Context, sources []Incident, opts MergeOptions) (*Incident, error) {
	if len(sources) < 2 {
		return nil, ErrNotEnoughSources
	}

	merged := buildMerged(sources, opts)

	if s.summarizer != nil && opts.Summary == "" {
		summary, err := s.summarizer.Summarize(ctx, sources)
		if err != nil {
			// a failed draft is not a failed merge
			s.logger.Warn(ctx, "merge summary generation failed", "error", err)
		} else if summary != "" {
			merged.GeneratedSummary = summary
		}
	}

	sourceIDs := make([]string, len(sources))
	for i, src := range sources {
		sourceIDs[i] = src.ID
	}

	if err := s.store.Merge(ctx, sourceIDs, merged); err != nil {
		s.metrics.incMerge("error")
		return nil, fmt.Errorf("merge %d incidents: %w", len(sources), err)
	}
	s.metrics.incMerge("ok")
	s.metrics.observeMergeSize(len(sources))

	s.logger.Info(ctx, "incidents merged",
		"merged_id", merged.ID,
		"source_count", len(sources),
		"severity", merged.Severity,
		"alert_count", merged.AlertCount,
	)

	if s.notifier != nil {
		go func() {
			nctx := context.WithoutCancel(ctx)
			if err := s.notifier.MergeCompleted(nctx, merged, len(sources)); err != nil {
				s.logger.Warn(nctx, "merge notification failed", "error", err)
			}
		}()
	}

	return merged, nil
}

// BulkDelete removes the given incidents. skipConfirm must be true: it
// signals that the caller already ran the group confirmation, so the store
// performs no per-id prompting of its own.
func (s *Service) BulkDelete(ctx context.Context, ids []string, skipConfirm bool) (*BulkDeleteResult, error) {
	if len(ids) == 0 {
		return &BulkDeleteResult{}, nil
	}
	if !skipConfirm {
		return nil, ErrConfirmationRequired
	}

	result, err := s.store.BulkDelete(ctx, ids)
	if err != nil {
		s.metrics.incDelete("error")
		return nil, fmt.Errorf("bulk delete %d incidents: %w", len(ids), err)
	}
	if len(result.Failed) > 0 {
		s.metrics.incDelete("partial")
	} else {
		s.metrics.incDelete("ok")
	}

	s.logger.Info(ctx, "bulk delete finished",
		"requested", len(ids),
		"deleted", len(result.Deleted),
		"failed", len(result.Failed),
	)

	if s.notifier != nil && len(result.Deleted) > 0 {
		go func() {
			nctx := context.WithoutCancel(ctx)
			if err := s.notifier.DeleteCompleted(nctx, result); err != nil {
				s.logger.Warn(nctx, "delete notification failed", "error", err)
			}
		}()
	}

	return result, nil
}

// reportScanSize bounds how many rows a single report pass reads per page.
const reportScanSize = 500

// BuildReport summarizes every incident matching the filter expression.
// Scope is the filter, never a selection.
func (s *Service) BuildReport(ctx context.Context, filter string) (*Report, error) {
	report := &Report{
		Filter:      filter,
		BySeverity:  make(map[Severity]int),
		ByStatus:    make(map[Status]int),
		GeneratedAt: time.Now().UTC(),
	}

	sourceCounts := make(map[string]int)
	q := Query{Filter: filter, Page: PageState{Index: 0, Size: reportScanSize}}
	for {
		page, err := s.store.List(ctx, q)
		if err != nil {
			s.metrics.incReport("error")
			return nil, fmt.Errorf("report scan page %d: %w", q.Page.Index, err)
		}
		report.Total = page.Count
		for i := range page.Items {
			inc := &page.Items[i]
			report.BySeverity[inc.Severity]++
			report.ByStatus[inc.Status]++
			for _, src := range inc.AlertSources {
				sourceCounts[src]++
			}
		}
		if len(page.Items) < q.Page.Size || (q.Page.Index+1)*q.Page.Size >= page.Count {
			break
		}
		q.Page.Index++
	}

	report.TopSources = topSources(sourceCounts, 5)
	s.metrics.incReport("ok")

	if s.notifier != nil {
		go func() {
			nctx := context.WithoutCancel(ctx)
			if err := s.notifier.ReportGenerated(nctx, report); err != nil {
				s.logger.Warn(nctx, "report notification failed", "error", err)
			}
		}()
	}

	return report, nil
}

func buildMerged(sources []Incident, opts MergeOptions) *Incident {
	merged := &Incident{
		ID:        ulid.Make().String(),
		Status:    StatusOpen,
		Severity:  sources[0].Severity,
		CreatedAt: time.Now().UTC(),
	}

	seenSource := make(map[string]struct{})
	seenService := make(map[string]struct{})
	for _, src := range sources {
		if src.Severity.Rank() > merged.Severity.Rank() {
			merged.Severity = src.Severity
		}
		merged.AlertCount += src.AlertCount
		for _, tag := range src.AlertSources {
			if _, ok := seenSource[tag]; ok {
				continue
			}
			seenSource[tag] = struct{}{}
			merged.AlertSources = append(merged.AlertSources, tag)
		}
		for _, svc := range src.Services {
			if _, ok := seenService[svc]; ok {
				continue
			}
			seenService[svc] = struct{}{}
			merged.Services = append(merged.Services, svc)
		}
		if merged.Assignee == "" && src.Assignee != "" {
			merged.Assignee = src.Assignee
		}
	}

	merged.UserSummary = opts.Summary
	if opts.Assignee != "" {
		merged.Assignee = opts.Assignee
	}
	merged.GeneratedSummary = fallbackSummary(sources)

	return merged
}

func fallbackSummary(sources []Incident) string {
	parts := make([]string, 0, len(sources))
	for i := range sources {
		if sum := sources[i].Summary(); sum != "" {
			parts = append(parts, sum)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Merged from %d incidents", len(sources))
	}
	return fmt.Sprintf("Merged from %d incidents: %s", len(sources), strings.Join(parts, "; "))
}

func topSources(counts map[string]int, n int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > n {
		names = names[:n]
	}
	return names
}
