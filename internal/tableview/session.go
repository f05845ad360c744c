package tableview

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

// Session is one operator's view of the incident table: filter, sort,
// page, cross-page selection, and at most one open modal. State mutations
// lock the session, and the coordinator additionally serializes whole
// operations, so a session behaves as if driven by a single thread.
type Session struct {
	ID        string
	CreatedAt time.Time

	// opMu serializes compound operations (fetch + mutate) end to end.
	// Held only by the coordinator.
	opMu sync.Mutex

	mu        sync.Mutex
	filter    string
	sort      SortState
	page      incident.PageState
	selection *Selection
	modal     *Modal
	notice    *Notice

	// snapshot retains the full record of every selected row, even after
	// it is paged out, so merge previews and delete prompts never need to
	// re-query rows the operator already saw.
	snapshot map[string]incident.Incident

	// items/total mirror the last applied page.
	items []incident.Incident
	total int
}

// NewSession creates a session with the given filter and page size.
func NewSession(filter string, pageSize int) *Session {
	return &Session{
		ID:        ulid.Make().String(),
		CreatedAt: time.Now().UTC(),
		filter:    filter,
		page:      incident.PageState{Index: 0, Size: pageSize},
		selection: NewSelection(),
		snapshot:  make(map[string]incident.Incident),
	}
}

// Query returns the store query for the session's current view.
func (s *Session) Query() incident.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return incident.Query{
		Filter: s.filter,
		Sort:   s.sort.Fields(),
		Page:   s.page,
	}
}

// ApplyPage installs a freshly fetched page. Selected rows on the page are
// re-snapshotted so the retained records track server-side edits; snapshot
// entries that are no longer selected are pruned.
func (s *Session) ApplyPage(p *incident.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = append([]incident.Incident(nil), p.Items...)
	s.total = p.Count

	for i := range p.Items {
		if s.selection.Has(p.Items[i].ID) {
			s.snapshot[p.Items[i].ID] = p.Items[i]
		}
	}
	for id := range s.snapshot {
		if !s.selection.Has(id) {
			delete(s.snapshot, id)
		}
	}
}

// ToggleRow flips one row's selection and reports whether it is selected
// afterwards. A newly selected row is snapshotted from the current page.
func (s *Session) ToggleRow(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	selected := s.selection.Toggle(id)
	if selected {
		for i := range s.items {
			if s.items[i].ID == id {
				s.snapshot[id] = s.items[i]
				break
			}
		}
	} else {
		delete(s.snapshot, id)
	}
	return selected
}

// ToggleAll flips the current page's rows as one unit: all selected when
// any are missing, all deselected when every row was already selected.
func (s *Session) ToggleAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(s.items))
	for i := range s.items {
		ids[i] = s.items[i].ID
	}
	s.selection.ToggleAll(ids)

	for i := range s.items {
		if s.selection.Has(s.items[i].ID) {
			s.snapshot[s.items[i].ID] = s.items[i]
		} else {
			delete(s.snapshot, s.items[i].ID)
		}
	}
}

// SelectedIDs returns the selection in insertion order.
func (s *Session) SelectedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.IDs()
}

// SelectedCount returns the size of the selection.
func (s *Session) SelectedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection.Count()
}

// ClearSelection drops every selected id and its snapshot.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.Clear()
	s.snapshot = make(map[string]incident.Incident)
}

// DropSelected removes the given ids from the selection, keeping the rest.
func (s *Session) DropSelected(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection.RemoveAll(ids)
	for _, id := range ids {
		delete(s.snapshot, id)
	}
}

// SnapshotRows returns the retained records for the given ids, in the given
// order. The second result lists ids with no retained record.
func (s *Session) SnapshotRows(ids []string) ([]incident.Incident, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]incident.Incident, 0, len(ids))
	var missing []string
	for _, id := range ids {
		if inc, ok := s.snapshot[id]; ok {
			rows = append(rows, inc)
		} else {
			missing = append(missing, id)
		}
	}
	return rows, missing
}

// UpdateSort applies a functional sort update and resets the page index so
// the re-sorted view starts at the first page.
func (s *Session) UpdateSort(fn SortUpdater) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.sort.Update(fn); err != nil {
		return err
	}
	s.page.Index = 0
	return nil
}

// CycleSort advances the column's sort direction and resets the page index.
func (s *Session) CycleSort(column string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sort.Cycle(column)
	s.page.Index = 0
}

// SetPageIndex moves to the given 0-based page. Negative indexes clamp to 0.
func (s *Session) SetPageIndex(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 {
		index = 0
	}
	s.page.Index = index
}

// SetPageSize changes the page size and resets to the first page.
func (s *Session) SetPageSize(size int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if size <= 0 {
		return
	}
	s.page.Size = size
	s.page.Index = 0
}

// SetFilter replaces the filter and resets to the first page. The selection
// persists: filtered-out rows stay selected by id.
func (s *Session) SetFilter(filter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	s.page.Index = 0
}

// OpenModal opens a modal of the given kind. Opening the kind that is
// already active replaces its payload; opening a different kind while one
// is active fails with ErrModalActive.
func (s *Session) OpenModal(m *Modal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.modal != nil && s.modal.Kind != m.Kind {
		return ErrModalActive
	}
	s.modal = m
	return nil
}

// SetNotice records the outcome of the last operation. The notice rides on
// the next view and is cleared once read; it never touches the modal.
func (s *Session) SetNotice(level NoticeLevel, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notice = &Notice{Level: level, Message: msg}
}

// CloseModal closes the active modal. Closing when none is open is a no-op.
func (s *Session) CloseModal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modal = nil
}

// Modal returns the active modal, or nil.
func (s *Session) Modal() *Modal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modal
}

// View is the serializable session state handed to clients after every
// operation.
type View struct {
	SessionID    string               `json:"session_id"`
	Filter       string               `json:"filter,omitempty"`
	Sort         []incident.SortField `json:"sort,omitempty"`
	Page         incident.PageState   `json:"page"`
	Total        int                  `json:"total"`
	Items        []incident.Incident  `json:"items"`
	SelectedIDs  []string             `json:"selected_ids"`
	AllSelected  bool                 `json:"all_selected"`
	SomeSelected bool                 `json:"some_selected"`
	Modal        *Modal               `json:"modal,omitempty"`
	Notice       *Notice              `json:"notice,omitempty"`
}

// View builds the current view. AllSelected is true only when the page is
// non-empty and every row on it is selected; SomeSelected means at least
// one page row is selected but not all of them. The pending notice is
// consumed by the view that carries it.
func (s *Session) View() *View {
	s.mu.Lock()
	defer s.mu.Unlock()

	notice := s.notice
	s.notice = nil

	ids := make([]string, len(s.items))
	for i := range s.items {
		ids[i] = s.items[i].ID
	}
	onPage := 0
	for _, id := range ids {
		if s.selection.Has(id) {
			onPage++
		}
	}

	return &View{
		SessionID:    s.ID,
		Filter:       s.filter,
		Sort:         s.sort.Fields(),
		Page:         s.page,
		Total:        s.total,
		Items:        append([]incident.Incident(nil), s.items...),
		SelectedIDs:  s.selection.IDs(),
		AllSelected:  len(ids) > 0 && onPage == len(ids),
		SomeSelected: onPage > 0 && onPage < len(ids),
		Modal:        s.modal,
		Notice:       notice,
	}
}
