package tableview

import (
	"fmt"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

// SortUpdater rewrites the sort state from its previous value. Sort changes
// are accepted only in this functional form so concurrent intents compose
// instead of clobbering each other.
type SortUpdater func(prev []incident.SortField) []incident.SortField

// SortState holds the table's single-column sort. The zero value means
// store-default order.
type SortState struct {
	fields []incident.SortField
}

// Fields returns a copy of the current sort, at most one entry.
func (s *SortState) Fields() []incident.SortField {
	return append([]incident.SortField(nil), s.fields...)
}

// Update applies a functional sort update. The result is rejected if it
// names more than one column; the previous state stays in place.
func (s *SortState) Update(fn SortUpdater) error {
	if fn == nil {
		return nil
	}
	next := fn(append([]incident.SortField(nil), s.fields...))
	if len(next) > 1 {
		return fmt.Errorf("sort update produced %d columns, at most 1 allowed", len(next))
	}
	s.fields = append([]incident.SortField(nil), next...)
	return nil
}

// Cycle advances the column through ascending, descending, unsorted.
// Clicking a different column starts it at ascending and drops the old one.
func (s *SortState) Cycle(column string) {
	// Update cannot fail here: the transform returns at most one field.
	_ = s.Update(func(prev []incident.SortField) []incident.SortField {
		if len(prev) == 0 || prev[0].Column != column {
			return []incident.SortField{{Column: column, Desc: false}}
		}
		if !prev[0].Desc {
			return []incident.SortField{{Column: column, Desc: true}}
		}
		return nil
	})
}
