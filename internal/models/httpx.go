package models

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 error body.
type Problem struct {
	Type     string      `json:"type,omitempty"`
	Title    string      `json:"title"`
	Status   int         `json:"status"`
	Detail   string      `json:"detail,omitempty"`
	Instance string      `json:"instance,omitempty"`
	Extra    interface{} `json:"extra,omitempty"`
}

const problemTypePrefix = "urn:dsctrack:problem:"

func WriteProblem(w http.ResponseWriter, status int, title, detail string, extra any) {
	writeProblem(w, Problem{
		Title:  title,
		Status: status,
		Detail: detail,
		Extra:  extra,
	})
}

// WriteKindProblem writes a problem whose type is derived from an error kind
// ("not_found", "invalid_state", ...), so clients can branch without parsing detail.
func WriteKindProblem(w http.ResponseWriter, status int, kind, detail string) {
	writeProblem(w, Problem{
		Type:   problemTypePrefix + kind,
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	})
}

func writeProblem(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
