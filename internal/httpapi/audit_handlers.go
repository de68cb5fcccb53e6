package httpapi

import (
	"net/http"
	"time"

	"taskdeck.org/internal/audit"
)

type auditLogResponse struct {
	Items []audit.Entry `json:"items"`
	AsOf  time.Time     `json:"as_of"`
}

func (a *API) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}

	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := a.auditor.ReadRecent(r.Context(), actor, limit)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auditLogResponse{Items: entries, AsOf: time.Now().UTC()})
}
