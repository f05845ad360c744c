// Package pgstore provides a PostgreSQL implementation of incident.Store.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/watchdesk/internal/incident"
	"github.com/linnemanlabs/watchdesk/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/watchdesk/internal/incident/pgstore")

//go:embed schema.sql
var schema string

// Store persists incidents in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store. The pool stays owned by
// the caller.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

const incidentColumns = `id, user_summary, generated_summary, severity, status,
	alert_count, alert_sources, services, assignee, merged_into, created_at`

// sortColumns whitelists ORDER BY expressions per sortable column. Severity
// orders by rank, not alphabetically.
var sortColumns = map[string]string{
	"severity":    `array_position(ARRAY['info','low','warning','high','critical'], severity)`,
	"status":      "status",
	"alert_count": "alert_count",
	"summary":     `lower(coalesce(nullif(user_summary, ''), generated_summary))`,
	"assignee":    "lower(assignee)",
	"created_at":  "created_at",
}

// List returns one page matching the query. Filtering, ordering, and paging
// all happen in SQL so the page contract matches the in-memory store.
func (s *Store) List(ctx context.Context, q incident.Query) (*incident.Page, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "incident.list")

	where, args := buildWhere(incident.ParseFilter(q.Filter))

	var count int
	countQuery := `SELECT count(*) FROM incidents` + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&count); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("count incidents: %w", err)
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents` + where + orderBy(q.Sort)
	if q.Page.Size > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Page.Size, q.Page.Index*q.Page.Size)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	items := []incident.Incident{}
	for rows.Next() {
		var inc incident.Incident
		if err := rows.Scan(
			&inc.ID, &inc.UserSummary, &inc.GeneratedSummary, &inc.Severity, &inc.Status,
			&inc.AlertCount, &inc.AlertSources, &inc.Services, &inc.Assignee, &inc.MergedInto,
			&inc.CreatedAt,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		items = append(items, inc)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	return &incident.Page{Items: items, Count: count}, nil
}

// GetByIDs returns existing incidents in the order the ids were given.
func (s *Store) GetByIDs(ctx context.Context, ids []string) ([]incident.Incident, error) {
	ctx, span := tracer.Start(ctx, "pgstore.GetByIDs", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "incident.get_by_ids")

	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query incidents by id: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]incident.Incident, len(ids))
	for rows.Next() {
		var inc incident.Incident
		if err := rows.Scan(
			&inc.ID, &inc.UserSummary, &inc.GeneratedSummary, &inc.Severity, &inc.Status,
			&inc.AlertCount, &inc.AlertSources, &inc.Services, &inc.Assignee, &inc.MergedInto,
			&inc.CreatedAt,
		); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		byID[inc.ID] = inc
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate incidents: %w", err)
	}

	out := make([]incident.Incident, 0, len(byID))
	for _, id := range ids {
		if inc, ok := byID[id]; ok {
			out = append(out, inc)
		}
	}
	return out, nil
}

// Put inserts or updates an incident.
func (s *Store) Put(ctx context.Context, inc *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "incident.put")

	query := `INSERT INTO incidents (` + incidentColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (id) DO UPDATE SET
		user_summary      = EXCLUDED.user_summary,
		generated_summary = EXCLUDED.generated_summary,
		severity          = EXCLUDED.severity,
		status            = EXCLUDED.status,
		alert_count       = EXCLUDED.alert_count,
		alert_sources     = EXCLUDED.alert_sources,
		services          = EXCLUDED.services,
		assignee          = EXCLUDED.assignee,
		merged_into       = EXCLUDED.merged_into`

	_, err := s.pool.Exec(ctx, query,
		inc.ID, inc.UserSummary, inc.GeneratedSummary, string(inc.Severity), string(inc.Status),
		inc.AlertCount, inc.AlertSources, inc.Services, inc.Assignee, inc.MergedInto,
		inc.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upsert incident: %w", err)
	}
	return nil
}

// BulkDelete tombstones the given incidents and reports per-id outcomes.
func (s *Store) BulkDelete(ctx context.Context, ids []string) (*incident.BulkDeleteResult, error) {
	ctx, span := tracer.Start(ctx, "pgstore.BulkDelete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "incident.bulk_delete")

	result := &incident.BulkDeleteResult{}
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`UPDATE incidents SET status = 'deleted'
		 WHERE id = ANY($1) AND status NOT IN ('deleted', 'merged')
		 RETURNING id`,
		ids,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("bulk delete: %w", err)
	}
	defer rows.Close()

	deleted := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("scan deleted id: %w", err)
		}
		deleted[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("iterate deleted ids: %w", err)
	}

	for _, id := range ids {
		if _, ok := deleted[id]; ok {
			result.Deleted = append(result.Deleted, id)
		}
	}

	missed := make([]string, 0, len(ids)-len(result.Deleted))
	for _, id := range ids {
		if _, ok := deleted[id]; !ok {
			missed = append(missed, id)
		}
	}
	if len(missed) > 0 {
		if err := s.explainMisses(ctx, missed, result); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	return result, nil
}

// explainMisses classifies ids the delete skipped: already tombstoned or
// simply unknown.
func (s *Store) explainMisses(ctx context.Context, ids []string, result *incident.BulkDeleteResult) error {
	rows, err := s.pool.Query(ctx, `SELECT id, status FROM incidents WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("explain skipped deletes: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{}, len(ids))
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return fmt.Errorf("scan skipped delete: %w", err)
		}
		seen[id] = struct{}{}
		result.Fail(id, "already "+status)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate skipped deletes: %w", err)
	}

	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			result.Fail(id, "not found")
		}
	}
	return nil
}

// Merge tombstones every source and inserts the merged record in one
// transaction. Fails if any source is missing or not mergeable.
func (s *Store) Merge(ctx context.Context, sourceIDs []string, merged *incident.Incident) error {
	ctx, span := tracer.Start(ctx, "pgstore.Merge", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPDATE"),
	))
	defer span.End()
	ctx = postgres.WithOperation(ctx, "incident.merge")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	tag, err := tx.Exec(ctx,
		`UPDATE incidents SET status = 'merged', merged_into = $1
		 WHERE id = ANY($2) AND status NOT IN ('deleted', 'merged')`,
		merged.ID, sourceIDs,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("tombstone merge sources: %w", err)
	}
	if int(tag.RowsAffected()) != len(sourceIDs) {
		err := fmt.Errorf("merge touched %d of %d sources", tag.RowsAffected(), len(sourceIDs))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO incidents (`+incidentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		merged.ID, merged.UserSummary, merged.GeneratedSummary, string(merged.Severity),
		string(merged.Status), merged.AlertCount, merged.AlertSources, merged.Services,
		merged.Assignee, merged.MergedInto, merged.CreatedAt,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert merged incident: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// buildWhere translates the parsed filter into a WHERE clause with
// positional args. Hidden statuses follow incident.Filter.Match.
func buildWhere(f incident.Filter) (string, []any) {
	var clauses []string
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.Status == "" {
		clauses = append(clauses, `status NOT IN ('deleted', 'merged')`)
	} else {
		clauses = append(clauses, "status = "+arg(f.Status))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = "+arg(f.Severity))
	}
	if f.Assignee != "" {
		clauses = append(clauses, "lower(assignee) = "+arg(f.Assignee))
	}
	if f.Service != "" {
		clauses = append(clauses, arg(f.Service)+" = ANY (SELECT lower(s) FROM unnest(services) s)")
	}
	if f.Source != "" {
		clauses = append(clauses, arg(f.Source)+" = ANY (SELECT lower(s) FROM unnest(alert_sources) s)")
	}
	for _, term := range f.FreeTerms {
		clauses = append(clauses,
			"coalesce(nullif(user_summary, ''), generated_summary) ILIKE "+arg("%"+term+"%"))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// orderBy builds a deterministic ORDER BY: primary column, then created_at
// descending, then id, matching the in-memory store's total order.
func orderBy(fields []incident.SortField) string {
	primary := incident.SortField{Column: "created_at", Desc: true}
	if len(fields) > 0 {
		primary = fields[0]
	}

	expr, ok := sortColumns[primary.Column]
	if !ok {
		expr = "created_at"
	}
	dir := " ASC"
	if primary.Desc {
		dir = " DESC"
	}

	clause := " ORDER BY " + expr + dir
	if expr != "created_at" {
		clause += ", created_at DESC"
	}
	return clause + ", id ASC"
}
