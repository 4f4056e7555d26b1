package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

const idPattern = "{id:[A-Za-z0-9\\-_]{1,64}}"

// RegisterRoutes mounts the API under /api.
func RegisterRoutes(r *mux.Router, h *Handler) {
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)

	// любой вошедший пользователь
	authed := api.NewRoute().Subrouter()
	authed.Use(h.Authenticate)
	authed.HandleFunc("/me", h.Me).Methods(http.MethodGet)
	authed.HandleFunc("/dscs", h.ListDSCs).Methods(http.MethodGet)
	authed.HandleFunc("/dscs/expiring", h.ExpiringDSCs).Methods(http.MethodGet)
	authed.HandleFunc("/dscs/"+idPattern, h.GetDSC).Methods(http.MethodGet)
	authed.HandleFunc("/dscs/"+idPattern+"/take", h.TakeDSC).Methods(http.MethodPost)
	authed.HandleFunc("/dscs/"+idPattern+"/return", h.ReturnDSC).Methods(http.MethodPost)
	authed.HandleFunc("/dscs/"+idPattern+"/assign-client", h.AssignClient).Methods(http.MethodPost)
	authed.HandleFunc("/dscs/"+idPattern+"/return-client", h.ReturnFromClient).Methods(http.MethodPost)

	// только leader
	lead := api.NewRoute().Subrouter()
	lead.Use(h.Authenticate, RequireLeader)
	lead.HandleFunc("/dscs", h.CreateDSC).Methods(http.MethodPost)
	lead.HandleFunc("/dscs/"+idPattern, h.UpdateDSC).Methods(http.MethodPut)
	lead.HandleFunc("/dscs/"+idPattern, h.DeleteDSC).Methods(http.MethodDelete)
	lead.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	lead.HandleFunc("/users", h.CreateUser).Methods(http.MethodPost)
	lead.HandleFunc("/users/"+idPattern, h.UpdateUser).Methods(http.MethodPatch)
	lead.HandleFunc("/users/"+idPattern, h.DeleteUser).Methods(http.MethodDelete)
	lead.HandleFunc("/audit-logs", h.ListAuditLogs).Methods(http.MethodGet)
	lead.HandleFunc("/export/backup.json", h.ExportBackup).Methods(http.MethodGet)
	lead.HandleFunc("/export/dscs.csv", h.ExportDSCsCSV).Methods(http.MethodGet)
	lead.HandleFunc("/export/users.csv", h.ExportUsersCSV).Methods(http.MethodGet)
	lead.HandleFunc("/import/backup.json", h.ImportBackup).Methods(http.MethodPost)
	lead.HandleFunc("/import/dscs.csv", h.ImportDSCsCSV).Methods(http.MethodPost)
	lead.HandleFunc("/import/users.csv", h.ImportUsersCSV).Methods(http.MethodPost)
}
