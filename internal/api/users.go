package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"dsctrack/internal/ledger"
	"dsctrack/internal/logs"
	"dsctrack/internal/models"
)

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	us, err := h.Ledger.ListUsers(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, us)
}

type createUserRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Name     string      `json:"name"`
	Role     models.Role `json:"role"`
}

// CreateUser registers the credential first and then the profile keyed by the
// new subject; a rejected profile removes the credential again.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Role.Valid() {
		writeError(w, r, validationf("role must be %q or %q", models.RoleLeader, models.RoleEmployee))
		return
	}
	u, err := RegisterUser(r.Context(), h.Identity, h.Ledger, req.Email, req.Password, req.Name, req.Role)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, u)
}

type updateUserRequest struct {
	Name *string      `json:"name"`
	Role *models.Role `json:"role"`
}

func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.Ledger.UpdateUser(r.Context(), mux.Vars(r)["id"], ledger.UserPatch{Name: req.Name, Role: req.Role})
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, u)
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if me := currentUser(r); me != nil && me.ID == id {
		writeError(w, r, validationf("you cannot delete your own account"))
		return
	}
	if err := h.Ledger.DeleteUser(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Identity.Remove(r.Context(), id); err != nil {
		// профиль уже удалён, осиротевший credential не даёт войти (нет профиля)
		logs.Logger.WithField("user", id).WithError(err).Warn("credential removal failed")
	}
	w.WriteHeader(http.StatusNoContent)
}
