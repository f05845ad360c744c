// Package memstore provides an in-memory implementation of incident.Store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

// Store holds incidents in memory. Suitable for dev/testing. Filtering,
// sorting, and paging happen here so callers see the same contract as the
// Postgres store.
type Store struct {
	mu        sync.RWMutex
	incidents map[string]*incident.Incident
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		incidents: make(map[string]*incident.Incident),
	}
}

// List returns one page matching the query.
func (s *Store) List(_ context.Context, q incident.Query) (*incident.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	filter := incident.ParseFilter(q.Filter)

	matched := make([]incident.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if !filter.Match(inc) {
			continue
		}
		matched = append(matched, *inc)
	}

	sortIncidents(matched, q.Sort)

	page := &incident.Page{Count: len(matched)}
	if q.Page.Size <= 0 {
		page.Items = matched
		return page, nil
	}
	start := q.Page.Index * q.Page.Size
	if start >= len(matched) {
		page.Items = []incident.Incident{}
		return page, nil
	}
	end := start + q.Page.Size
	if end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[start:end]
	return page, nil
}

// GetByIDs returns copies of the incidents that exist, in the order given.
// Missing ids are silently omitted; the caller decides whether that is fatal.
func (s *Store) GetByIDs(_ context.Context, ids []string) ([]incident.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]incident.Incident, 0, len(ids))
	for _, id := range ids {
		if inc, ok := s.incidents[id]; ok {
			out = append(out, *inc)
		}
	}
	return out, nil
}

// Put stores a copy of the incident, overwriting any existing record.
func (s *Store) Put(_ context.Context, inc *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *inc
	s.incidents[inc.ID] = &cp
	return nil
}

// BulkDelete tombstones the given incidents. Unknown ids and incidents that
// are already merged or deleted land in Failed; the rest are deleted.
func (s *Store) BulkDelete(_ context.Context, ids []string) (*incident.BulkDeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := &incident.BulkDeleteResult{}
	for _, id := range ids {
		inc, ok := s.incidents[id]
		if !ok {
			result.Fail(id, "not found")
			continue
		}
		switch inc.Status {
		case incident.StatusDeleted:
			result.Fail(id, "already deleted")
		case incident.StatusMerged:
			result.Fail(id, "already merged")
		default:
			inc.Status = incident.StatusDeleted
			result.Deleted = append(result.Deleted, id)
		}
	}
	return result, nil
}

// Merge marks every source as merged into the new record and stores the
// record. Fails atomically if any source is missing or not mergeable.
func (s *Store) Merge(_ context.Context, sourceIDs []string, merged *incident.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sources := make([]*incident.Incident, 0, len(sourceIDs))
	for _, id := range sourceIDs {
		inc, ok := s.incidents[id]
		if !ok {
			return fmt.Errorf("merge source %s: not found", id)
		}
		if inc.Status == incident.StatusMerged || inc.Status == incident.StatusDeleted {
			return fmt.Errorf("merge source %s: status %s", id, inc.Status)
		}
		sources = append(sources, inc)
	}

	for _, inc := range sources {
		inc.Status = incident.StatusMerged
		inc.MergedInto = merged.ID
	}
	cp := *merged
	s.incidents[merged.ID] = &cp
	return nil
}

// sortIncidents orders the slice by the first sort field, then created_at
// descending, then id, so ordering is total and pages never interleave.
func sortIncidents(items []incident.Incident, fields []incident.SortField) {
	var primary incident.SortField
	if len(fields) > 0 {
		primary = fields[0]
	} else {
		primary = incident.SortField{Column: "created_at", Desc: true}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		if c := compareColumn(a, b, primary.Column); c != 0 {
			if primary.Desc {
				return c > 0
			}
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func compareColumn(a, b *incident.Incident, column string) int {
	switch column {
	case "severity":
		return a.Severity.Rank() - b.Severity.Rank()
	case "status":
		return strings.Compare(string(a.Status), string(b.Status))
	case "alert_count":
		return a.AlertCount - b.AlertCount
	case "summary":
		return strings.Compare(strings.ToLower(a.Summary()), strings.ToLower(b.Summary()))
	case "assignee":
		return strings.Compare(strings.ToLower(a.Assignee), strings.ToLower(b.Assignee))
	case "created_at", "":
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		}
		return 0
	default:
		return 0
	}
}
