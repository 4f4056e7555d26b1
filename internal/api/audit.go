package api

import (
	"net/http"

	"dsctrack/internal/models"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (h *Handler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultAuditLimit, maxAuditLimit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit == 0 {
		limit = defaultAuditLimit
	}
	entries, err := h.Ledger.ListAuditLogs(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, entries)
}
