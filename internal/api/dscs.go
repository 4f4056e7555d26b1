package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"dsctrack/internal/ledger"
	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

// dscView is the wire form of a DSC: location is only shown while the DSC
// is in storage.
type dscView struct {
	ID              string           `json:"id"`
	SerialNumber    string           `json:"serialNumber"`
	Description     string           `json:"description"`
	ExpiryDate      string           `json:"expiryDate"`
	Status          models.DSCStatus `json:"status"`
	Location        *models.Location `json:"location"`
	CurrentHolderID *string          `json:"currentHolderId,omitempty"`
	ClientName      *string          `json:"clientName,omitempty"`
	ClientDetails   *string          `json:"clientDetails,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
}

func viewDSC(d *models.DSC) dscView {
	v := dscView{
		ID:              d.ID,
		SerialNumber:    d.SerialNumber,
		Description:     d.Description,
		ExpiryDate:      d.ExpiryDate.UTC().Format(models.DateLayout),
		Status:          d.Status,
		CurrentHolderID: d.CurrentHolderID,
		ClientName:      d.ClientName,
		ClientDetails:   d.ClientDetails,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	if d.Status == models.StatusStorage {
		loc := d.Location
		v.Location = &loc
	}
	return v
}

func viewDSCs(ds []models.DSC) []dscView {
	out := make([]dscView, 0, len(ds))
	for i := range ds {
		out = append(out, viewDSC(&ds[i]))
	}
	return out
}

type dscRequest struct {
	SerialNumber string          `json:"serialNumber"`
	Description  string          `json:"description"`
	ExpiryDate   string          `json:"expiryDate"`
	Location     models.Location `json:"location"`
}

func (req dscRequest) input() (ledger.DSCInput, error) {
	in := ledger.DSCInput{
		SerialNumber: req.SerialNumber,
		Description:  req.Description,
		Location:     req.Location,
	}
	if s := strings.TrimSpace(req.ExpiryDate); s != "" {
		t, err := models.ParseDate(s)
		if err != nil {
			return in, validationf("expiryDate must be YYYY-MM-DD")
		}
		in.ExpiryDate = t
	}
	return in, nil
}

func (h *Handler) ListDSCs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ds, err := h.Ledger.ListDSCs(r.Context(), repo.DSCFilter{
		Status: models.DSCStatus(q.Get("status")),
		Query:  q.Get("q"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSCs(ds))
}

func (h *Handler) ExpiringDSCs(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", h.ExpiryWarnDays, 3650)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ds, err := h.Ledger.ExpiringWithin(r.Context(), h.now(), time.Duration(days)*24*time.Hour)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSCs(ds))
}

func (h *Handler) GetDSC(w http.ResponseWriter, r *http.Request) {
	d, err := h.Ledger.GetDSC(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSC(d))
}

func (h *Handler) CreateDSC(w http.ResponseWriter, r *http.Request) {
	var req dscRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Ledger.AddDSC(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusCreated, viewDSC(d))
}

func (h *Handler) UpdateDSC(w http.ResponseWriter, r *http.Request) {
	var req dscRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Ledger.UpdateDSC(r.Context(), mux.Vars(r)["id"], in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSC(d))
}

func (h *Handler) DeleteDSC(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.DeleteDSC(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type custodyRequest struct {
	UserID string `json:"userId"`
}

// custodyTarget picks the user a take/return is for: the caller by default,
// someone else only for leaders.
func (h *Handler) custodyTarget(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req custodyRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return "", false
	}
	me := currentUser(r)
	target := strings.TrimSpace(req.UserID)
	if target == "" || target == me.ID {
		return me.ID, true
	}
	if me.Role != models.RoleLeader {
		models.WriteKindProblem(w, http.StatusForbidden, "forbidden", "only leaders act for other users")
		return "", false
	}
	return target, true
}

func (h *Handler) TakeDSC(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.custodyTarget(w, r)
	if !ok {
		return
	}
	d, err := h.Ledger.TakeByEmployee(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSC(d))
}

func (h *Handler) ReturnDSC(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.custodyTarget(w, r)
	if !ok {
		return
	}
	d, err := h.Ledger.ReturnByEmployee(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSC(d))
}

type assignClientRequest struct {
	ClientName    string `json:"clientName"`
	ClientDetails string `json:"clientDetails"`
}

func (h *Handler) AssignClient(w http.ResponseWriter, r *http.Request) {
	var req assignClientRequest
	if err := decodeJSON(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	d, err := h.Ledger.AssignToClient(r.Context(), mux.Vars(r)["id"], req.ClientName, req.ClientDetails)
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSC(d))
}

func (h *Handler) ReturnFromClient(w http.ResponseWriter, r *http.Request) {
	d, err := h.Ledger.ReturnFromClient(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	models.WriteJSON(w, http.StatusOK, viewDSC(d))
}
