// Package tableview coordinates per-operator table sessions over the
// incident store: cross-page row selection, sort and pagination intents,
// and the modal flows behind bulk merge, delete, report, and workflow runs.
package tableview

import "github.com/linnemanlabs/watchdesk/internal/incident"

// Selection is an ordered set of incident ids. Ids persist across page and
// filter changes; only a successful merge or delete removes them. Order is
// insertion order, so merge previews list rows the way the operator picked
// them.
type Selection struct {
	order  []string
	member map[string]struct{}
}

// NewSelection returns an empty selection.
func NewSelection() *Selection {
	return &Selection{member: make(map[string]struct{})}
}

// Toggle flips one id and reports whether it is selected afterwards.
func (s *Selection) Toggle(id string) bool {
	if _, ok := s.member[id]; ok {
		s.remove(id)
		return false
	}
	s.add(id)
	return true
}

// ToggleAll flips a whole page worth of ids. When every given id is already
// selected they are all removed; otherwise the missing ones are added.
// An empty page is a no-op.
func (s *Selection) ToggleAll(pageIDs []string) {
	if len(pageIDs) == 0 {
		return
	}
	if s.ContainsAll(pageIDs) {
		for _, id := range pageIDs {
			s.remove(id)
		}
		return
	}
	for _, id := range pageIDs {
		s.add(id)
	}
}

// ContainsAll reports whether every given id is selected. False for an
// empty input so a header checkbox never shows checked on an empty page.
func (s *Selection) ContainsAll(ids []string) bool {
	if len(ids) == 0 {
		return false
	}
	for _, id := range ids {
		if _, ok := s.member[id]; !ok {
			return false
		}
	}
	return true
}

// Has reports whether the id is selected.
func (s *Selection) Has(id string) bool {
	_, ok := s.member[id]
	return ok
}

// IDs returns the selected ids in insertion order.
func (s *Selection) IDs() []string {
	return append([]string(nil), s.order...)
}

// Count returns the number of selected ids.
func (s *Selection) Count() int {
	return len(s.order)
}

// Clear removes every id.
func (s *Selection) Clear() {
	s.order = s.order[:0]
	s.member = make(map[string]struct{})
}

// RemoveAll drops the given ids, keeping the rest selected. Used after a
// partial delete so failed rows stay selected.
func (s *Selection) RemoveAll(ids []string) {
	for _, id := range ids {
		s.remove(id)
	}
}

// SelectedOnPage returns the page's ids that are currently selected, in
// page order.
func (s *Selection) SelectedOnPage(page []incident.Incident) []string {
	var out []string
	for i := range page {
		if s.Has(page[i].ID) {
			out = append(out, page[i].ID)
		}
	}
	return out
}

func (s *Selection) add(id string) {
	if _, ok := s.member[id]; ok {
		return
	}
	s.member[id] = struct{}{}
	s.order = append(s.order, id)
}

func (s *Selection) remove(id string) {
	if _, ok := s.member[id]; !ok {
		return
	}
	delete(s.member, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
