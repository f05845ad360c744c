package incident

import (
	"fmt"
	"time"
)

// Severity ranks incident urgency. The zero value is the lowest rank.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityWarning  Severity = "warning"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityInfo:     0,
	SeverityLow:      1,
	SeverityWarning:  2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal position of the severity. Unknown severities rank
// below info so bad data never outranks real incidents.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Status tracks where an incident is in its lifecycle.
type Status string

const (
	// StatusOpen means the incident needs attention.
	StatusOpen Status = "open"

	// StatusAcknowledged means an operator has taken ownership.
	StatusAcknowledged Status = "acknowledged"

	// StatusResolved means the underlying issue is fixed.
	StatusResolved Status = "resolved"

	// StatusMerged means the incident was folded into another one.
	StatusMerged Status = "merged"

	// StatusDeleted means the incident was removed by an operator.
	StatusDeleted Status = "deleted"
)

// NoServiceSentinel marks "no service" inside a Services list. The upstream
// aggregator emits it for alerts that carry no service label.
const NoServiceSentinel = "null"

// Incident is one operational issue aggregated from related alerts.
// ID is immutable and is the sole selection key for table operations.
type Incident struct {
	ID               string    `json:"id"`
	UserSummary      string    `json:"user_summary,omitempty"`
	GeneratedSummary string    `json:"generated_summary,omitempty"`
	Severity         Severity  `json:"severity"`
	Status           Status    `json:"status"`
	AlertCount       int       `json:"alert_count"`
	AlertSources     []string  `json:"alert_sources,omitempty"`
	Services         []string  `json:"services,omitempty"`
	Assignee         string    `json:"assignee,omitempty"`
	MergedInto       string    `json:"merged_into,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// Summary returns the user-provided summary when present, falling back to
// the generated one.
func (i *Incident) Summary() string {
	if i.UserSummary != "" {
		return i.UserSummary
	}
	return i.GeneratedSummary
}

// SortField is one sort instruction for the server-side query.
type SortField struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc"`
}

// PageState is 0-based pagination for the server-side query.
type PageState struct {
	Index int `json:"index"`
	Size  int `json:"size"`
}

// Query describes one page fetch. Filter is an opaque expression evaluated
// by the store; Sort holds at most one entry (multi-column sort is disabled
// by policy, not by the shape).
type Query struct {
	Filter string      `json:"filter,omitempty"`
	Sort   []SortField `json:"sort,omitempty"`
	Page   PageState   `json:"page"`
}

// Page is one fetched slice of the incident set. Count is the server-side
// total matching the filter, not len(Items).
type Page struct {
	Items []Incident `json:"items"`
	Count int        `json:"count"`
}

// Validate checks the page invariants against the query that produced it.
func (p *Page) Validate(q Query) error {
	if q.Page.Size > 0 && len(p.Items) > q.Page.Size {
		return fmt.Errorf("page has %d items, exceeds page size %d", len(p.Items), q.Page.Size)
	}
	if p.Count < len(p.Items) {
		return fmt.Errorf("page count %d is below item count %d", p.Count, len(p.Items))
	}
	return nil
}

// BulkDeleteResult reports a bulk delete per id.
type BulkDeleteResult struct {
	Deleted []string          `json:"deleted"`
	Failed  map[string]string `json:"failed,omitempty"` // id -> reason
}

// Fail records a per-id failure, allocating the map on first use.
func (r *BulkDeleteResult) Fail(id, reason string) {
	if r.Failed == nil {
		r.Failed = make(map[string]string)
	}
	r.Failed[id] = reason
}

// Report is a filter-scoped summary of the incident set, independent of any
// row selection.
type Report struct {
	Filter      string           `json:"filter,omitempty"`
	Total       int              `json:"total"`
	BySeverity  map[Severity]int `json:"by_severity"`
	ByStatus    map[Status]int   `json:"by_status"`
	TopSources  []string         `json:"top_sources,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`
}
