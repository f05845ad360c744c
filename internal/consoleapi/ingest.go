package consoleapi

import (
	"encoding/json"
	"net/http"

	"github.com/linnemanlabs/watchdesk/internal/incident"
)

func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	if a.ingestor == nil {
		http.Error(w, `{"error":"ingest disabled"}`, http.StatusServiceUnavailable)
		return
	}

	var batch struct {
		Incidents []incident.Incident `json:"incidents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	var accepted []string
	for i := range batch.Incidents {
		inc := batch.Incidents[i]
		if err := a.ingestor.Ingest(r.Context(), &inc); err != nil {
			a.logger.Error(r.Context(), err, "incident ingest failed", "id", inc.ID)
			continue
		}
		accepted = append(accepted, inc.ID)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
	})
}

func (a *API) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"workflows": a.catalog.Specs(),
	})
}
