package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"dsctrack/internal/bulk"
	"dsctrack/internal/logs"
	"dsctrack/internal/middleware"
	"dsctrack/internal/models"
)

func (h *Handler) exportTo(w http.ResponseWriter, r *http.Request, contentType, filename string, export func(context.Context, io.Writer) error) {
	// буферизуем, чтобы ошибка на середине не дала битый файл с кодом 200
	var buf bytes.Buffer
	if err := export(r.Context(), &buf); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) ExportBackup(w http.ResponseWriter, r *http.Request) {
	h.exportTo(w, r, "application/json", "dsc-backup.json", h.Bulk.ExportJSON)
}

func (h *Handler) ExportDSCsCSV(w http.ResponseWriter, r *http.Request) {
	h.exportTo(w, r, "text/csv; charset=utf-8", "dscs.csv", h.Bulk.ExportDSCsCSV)
}

func (h *Handler) ExportUsersCSV(w http.ResponseWriter, r *http.Request) {
	h.exportTo(w, r, "text/csv; charset=utf-8", "users.csv", h.Bulk.ExportUsersCSV)
}

func (h *Handler) importFrom(w http.ResponseWriter, r *http.Request, what string, imp func(context.Context, io.Reader) (*bulk.Summary, error)) {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	sum, err := imp(r.Context(), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	me := currentUser(r)
	logs.Logger.WithFields(map[string]any{
		"reqid":  middleware.GetRequestID(r),
		"import": what,
		"by":     me.ID,
		"users":  sum.Users,
		"dscs":   sum.DSCs,
	}).Info("import completed")
	models.WriteJSON(w, http.StatusOK, sum)
}

func (h *Handler) ImportBackup(w http.ResponseWriter, r *http.Request) {
	me := currentUser(r)
	h.importFrom(w, r, "backup.json", func(ctx context.Context, body io.Reader) (*bulk.Summary, error) {
		return h.Bulk.ImportJSON(ctx, body, bulk.KeepLeader(me.ID))
	})
}

func (h *Handler) ImportDSCsCSV(w http.ResponseWriter, r *http.Request) {
	h.importFrom(w, r, "dscs.csv", h.Bulk.ImportDSCsCSV)
}

func (h *Handler) ImportUsersCSV(w http.ResponseWriter, r *http.Request) {
	h.importFrom(w, r, "users.csv", h.Bulk.ImportUsersCSV)
}
