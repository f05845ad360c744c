package tableview

import (
	"testing"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

func TestSortState_UpdateIsFunctional(t *testing.T) {
	t.Parallel()

	var s SortState
	err := s.Update(func(prev []incident.SortField) []incident.SortField {
		if len(prev) != 0 {
			t.Errorf("prev = %v, want empty", prev)
		}
		return []incident.SortField{{Column: "severity", Desc: true}}
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	err = s.Update(func(prev []incident.SortField) []incident.SortField {
		if len(prev) != 1 || prev[0].Column != "severity" {
			t.Errorf("prev = %v, want previous severity sort", prev)
		}
		prev[0].Desc = !prev[0].Desc
		return prev
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	fields := s.Fields()
	if len(fields) != 1 || fields[0].Desc {
		t.Errorf("Fields() = %v, want severity ascending", fields)
	}
}

func TestSortState_RejectsMultiColumn(t *testing.T) {
	t.Parallel()

	var s SortState
	s.Cycle("severity")

	err := s.Update(func([]incident.SortField) []incident.SortField {
		return []incident.SortField{{Column: "severity"}, {Column: "status"}}
	})
	if err == nil {
		t.Fatal("expected multi-column update to be rejected")
	}

	fields := s.Fields()
	if len(fields) != 1 || fields[0].Column != "severity" {
		t.Errorf("Fields() = %v, rejected update must not change state", fields)
	}
}

func TestSortState_MutatingReturnedFieldsHasNoEffect(t *testing.T) {
	t.Parallel()

	var s SortState
	s.Cycle("severity")

	fields := s.Fields()
	fields[0].Column = "status"

	if got := s.Fields(); got[0].Column != "severity" {
		t.Errorf("Fields()[0].Column = %q, want %q", got[0].Column, "severity")
	}
}

func TestSortState_Cycle(t *testing.T) {
	t.Parallel()

	var s SortState

	s.Cycle("severity")
	if f := s.Fields(); len(f) != 1 || f[0].Column != "severity" || f[0].Desc {
		t.Fatalf("after 1st click: %v, want severity asc", f)
	}

	s.Cycle("severity")
	if f := s.Fields(); len(f) != 1 || !f[0].Desc {
		t.Fatalf("after 2nd click: %v, want severity desc", f)
	}

	s.Cycle("severity")
	if f := s.Fields(); len(f) != 0 {
		t.Fatalf("after 3rd click: %v, want unsorted", f)
	}
}

func TestSortState_CycleOtherColumnReplaces(t *testing.T) {
	t.Parallel()

	var s SortState
	s.Cycle("severity")
	s.Cycle("severity")
	s.Cycle("status")

	f := s.Fields()
	if len(f) != 1 || f[0].Column != "status" || f[0].Desc {
		t.Fatalf("Fields() = %v, want status asc only", f)
	}
}
