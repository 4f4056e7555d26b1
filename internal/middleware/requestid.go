package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

type ctxKey string

const requestIDKey ctxKey = "reqid"

// входящий id принимаем только «приличный», иначе генерируем свой
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9\-_.]{1,128}$`)

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetRequestID(r *http.Request) string {
	v := r.Context().Value(requestIDKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
