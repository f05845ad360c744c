// Package consoleapi exposes the operator console's HTTP surface: table
// sessions and their operations, plus incident ingest from the upstream
// aggregator.
package consoleapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/watchdesk/internal/incident"
	"github.com/linnemanlabs/watchdesk/internal/tableview"
	"github.com/linnemanlabs/watchdesk/internal/workflow"
)

// Ingestor accepts incidents pushed by the upstream aggregator.
type Ingestor interface {
	Ingest(ctx context.Context, inc *incident.Incident) error
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	sessions *tableview.Registry
	coord    *tableview.Coordinator
	ingestor Ingestor
	catalog  *workflow.Catalog
	pageSize int
}

// New creates a new API handler. ingestor and catalog may be nil; sessions
// and coord are required.
func New(logger log.Logger, sessions *tableview.Registry, coord *tableview.Coordinator, ingestor Ingestor, catalog *workflow.Catalog, defaultPageSize int) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if sessions == nil {
		panic(xerrors.New("session registry is required"))
	}
	if coord == nil {
		panic(xerrors.New("table coordinator is required"))
	}
	if catalog == nil {
		catalog = workflow.EmptyCatalog()
	}
	if defaultPageSize <= 0 {
		defaultPageSize = 20
	}
	return &API{
		logger:   logger,
		sessions: sessions,
		coord:    coord,
		ingestor: ingestor,
		catalog:  catalog,
		pageSize: defaultPageSize,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/incidents", a.handleIngest)
		r.Get("/workflows", a.handleListWorkflows)

		r.Post("/sessions", a.handleCreateSession)
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetSession)
			r.Delete("/", a.handleCloseSession)

			r.Post("/rows/{incidentID}/toggle", a.handleToggleRow)
			r.Post("/rows/{incidentID}/workflow", a.handleRequestWorkflow)
			r.Post("/rows/toggle-all", a.handleToggleAll)
			r.Post("/sort", a.handleSort)
			r.Post("/page", a.handlePage)
			r.Post("/page-size", a.handlePageSize)
			r.Post("/filter", a.handleFilter)

			r.Post("/merge", a.handleRequestMerge)
			r.Post("/merge/confirm", a.handleConfirmMerge)
			r.Post("/delete", a.handleRequestDelete)
			r.Post("/delete/resolve", a.handleResolveDelete)
			r.Post("/report", a.handleRequestReport)
			r.Post("/workflows/{workflowID}/run", a.handleRunWorkflow)
			r.Post("/modal/close", a.handleCloseModal)
		})
	})
}

// session resolves the session from the URL, writing 404 when it is gone.
func (a *API) session(w http.ResponseWriter, r *http.Request) (*tableview.Session, bool) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("watchdesk.session.id", id))

	s, err := a.sessions.Get(id)
	if err != nil {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return nil, false
	}
	return s, true
}

// writeOutcome maps a coordinator result to a response. Business rejections
// still carry the session view so the client can render the notice.
func (a *API) writeOutcome(w http.ResponseWriter, r *http.Request, v *tableview.View, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, v)
	case isRejection(err):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error": err.Error(),
			"view":  v,
		})
	default:
		a.logger.Error(r.Context(), err, "table operation failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// isRejection reports whether the error is a state-dependent business
// rejection rather than an infrastructure failure.
func isRejection(err error) bool {
	for _, target := range []error{
		tableview.ErrNotEnoughSelected,
		tableview.ErrNothingSelected,
		tableview.ErrUnresolvedSelection,
		tableview.ErrNoPendingConfirm,
		tableview.ErrUnknownWorkflow,
		tableview.ErrModalActive,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
