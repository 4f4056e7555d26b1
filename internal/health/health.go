package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"dsctrack/internal/logs"
)

// Pinger is anything that can report whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RegisterRoutes — liveness + readiness (проверка хранилища).
func RegisterRoutes(r *mux.Router, p Pinger) {
	r.HandleFunc("/healthz", liveness).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			http.Error(w, "store not configured", http.StatusServiceUnavailable)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			logs.Logger.WithError(err).Warn("readiness: store unreachable")
			http.Error(w, "store unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}
