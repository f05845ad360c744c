package consoleapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Filter   string `json:"filter"`
		PageSize int    `json:"page_size"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}
	if req.PageSize <= 0 {
		req.PageSize = a.pageSize
	}

	s := a.sessions.Create(req.Filter, req.PageSize)
	v, err := a.coord.Refresh(r.Context(), s)
	if err != nil {
		a.sessions.Close(s.ID)
		a.logger.Error(r.Context(), err, "session bootstrap failed")
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	a.logger.Info(r.Context(), "session created", "session", s.ID, "filter", req.Filter)
	writeJSON(w, http.StatusCreated, v)
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.Refresh(r.Context(), s)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	a.sessions.Close(s.ID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleToggleRow(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.ToggleRow(r.Context(), s, chi.URLParam(r, "incidentID"))
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleToggleAll(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.ToggleAll(r.Context(), s)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleSort(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Column string `json:"column"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Column == "" {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	v, err := a.coord.CycleSort(r.Context(), s, req.Column)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handlePage(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Index int `json:"index"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	v, err := a.coord.SetPage(r.Context(), s, req.Index)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handlePageSize(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Size int `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Size <= 0 {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	v, err := a.coord.SetPageSize(r.Context(), s, req.Size)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleFilter(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Filter string `json:"filter"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	v, err := a.coord.SetFilter(r.Context(), s, req.Filter)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleRequestMerge(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.RequestMerge(r.Context(), s)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleConfirmMerge(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Summary  string `json:"summary"`
		Assignee string `json:"assignee"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
			return
		}
	}
	v, err := a.coord.ConfirmMerge(r.Context(), s, incident.MergeOptions{
		Summary:  req.Summary,
		Assignee: req.Assignee,
	})
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleRequestDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.RequestDelete(r.Context(), s)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleResolveDelete(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Token  string `json:"token"`
		Accept bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	v, err := a.coord.ResolveDelete(r.Context(), s, req.Token, req.Accept)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleRequestReport(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.RequestReport(r.Context(), s)
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleRequestWorkflow(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.RequestWorkflow(r.Context(), s, chi.URLParam(r, "incidentID"))
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.RunWorkflow(r.Context(), s, chi.URLParam(r, "workflowID"))
	a.writeOutcome(w, r, v, err)
}

func (a *API) handleCloseModal(w http.ResponseWriter, r *http.Request) {
	s, ok := a.session(w, r)
	if !ok {
		return
	}
	v, err := a.coord.CloseModal(r.Context(), s)
	a.writeOutcome(w, r, v, err)
}
