package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"dsctrack/internal/auth"
	"dsctrack/internal/identity"
	"dsctrack/internal/ledger"
	"dsctrack/internal/models"
)

type ctxKey string

const userKey ctxKey = "user"

func currentUser(r *http.Request) *models.User {
	u, _ := r.Context().Value(userKey).(*models.User)
	return u
}

// Authenticate resolves the bearer token to a user profile and makes it the
// ledger actor of the request.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const p = "Bearer "
		hdr := r.Header.Get("Authorization")
		if !strings.HasPrefix(hdr, p) {
			models.WriteKindProblem(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
			return
		}
		subject, err := auth.ParseToken(strings.TrimPrefix(hdr, p), h.JWTSecret)
		if err != nil {
			models.WriteKindProblem(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
			return
		}
		u, err := h.Ledger.GetUser(r.Context(), subject)
		if errors.Is(err, ledger.ErrNotFound) {
			models.WriteKindProblem(w, http.StatusUnauthorized, "unauthenticated", "account no longer exists")
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userKey, u)
		ctx = ledger.WithActor(ctx, ledger.Actor{ID: u.ID, Name: u.Name})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequireLeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r)
		if u == nil || u.Role != models.RoleLeader {
			models.WriteKindProblem(w, http.StatusForbidden, "forbidden", "leader role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expiresIn"`
	User      *models.User `json:"user"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	subject, err := h.Identity.Authenticate(r.Context(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		models.WriteKindProblem(w, http.StatusUnauthorized, "invalid_credentials", err.Error())
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Ledger.GetUser(r.Context(), subject)
	if errors.Is(err, ledger.ErrNotFound) {
		models.WriteKindProblem(w, http.StatusUnauthorized, "invalid_credentials", "no profile for this account")
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := auth.IssueToken(u.ID, h.JWTSecret, h.TokenTTL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresIn: int64(h.TokenTTL.Seconds()),
		User:      u,
	})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	models.WriteJSON(w, http.StatusOK, currentUser(r))
}
