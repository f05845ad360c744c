package incident

import "context"

// Store is the persistence boundary for incident pages and bulk mutations.
// List is authoritative for filtering, sorting, and paging: callers never
// re-order or re-slice the returned page.
type Store interface {
	List(ctx context.Context, q Query) (*Page, error)
	GetByIDs(ctx context.Context, ids []string) ([]Incident, error)
	Put(ctx context.Context, inc *Incident) error
	BulkDelete(ctx context.Context, ids []string) (*BulkDeleteResult, error)
	Merge(ctx context.Context, sourceIDs []string, merged *Incident) error
}
