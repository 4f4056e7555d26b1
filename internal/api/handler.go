// Package api is the JSON HTTP surface of the ledger.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"dsctrack/internal/bulk"
	"dsctrack/internal/identity"
	"dsctrack/internal/ledger"
	"dsctrack/internal/logs"
	"dsctrack/internal/middleware"
	"dsctrack/internal/models"
)

const maxBodyBytes = 10 << 20

type Deps struct {
	Ledger    *ledger.Ledger
	Bulk      *bulk.Service
	Identity  *identity.Service
	JWTSecret []byte
	TokenTTL  time.Duration
	// ExpiryWarnDays is the default window of /api/dscs/expiring.
	ExpiryWarnDays int
}

type Handler struct {
	Deps
	now func() time.Time
}

func NewHandler(d Deps) *Handler {
	if d.TokenTTL <= 0 {
		d.TokenTTL = 12 * time.Hour
	}
	if d.ExpiryWarnDays <= 0 {
		d.ExpiryWarnDays = 30
	}
	return &Handler{Deps: d, now: func() time.Time { return time.Now().UTC() }}
}

var errBadBody = errors.New("malformed request body")

// decodeJSON reads a JSON body into v. An empty body is accepted when
// optional is set and leaves v untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, def, max int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", ledger.ErrValidation, key)
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

// writeError maps domain errors to problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ie *bulk.InputError
	switch {
	case errors.As(err, &ie):
		models.WriteProblem(w, http.StatusBadRequest, "Invalid import data", "the file was rejected, nothing was changed",
			map[string]any{"problems": ie.Problems})
		return
	case errors.Is(err, errBadBody):
		models.WriteKindProblem(w, http.StatusBadRequest, ledger.KindValidation, err.Error())
		return
	case errors.Is(err, bulk.ErrUserImportDisabled):
		models.WriteKindProblem(w, http.StatusForbidden, "user_import_disabled", err.Error())
		return
	case errors.Is(err, identity.ErrEmailTaken):
		models.WriteKindProblem(w, http.StatusConflict, "email_taken", err.Error())
		return
	case errors.Is(err, identity.ErrInvalidEmail), errors.Is(err, identity.ErrWeakPassword):
		models.WriteKindProblem(w, http.StatusBadRequest, ledger.KindValidation, err.Error())
		return
	}

	kind := ledger.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case ledger.KindNotFound:
		status = http.StatusNotFound
	case ledger.KindValidation:
		status = http.StatusBadRequest
	case ledger.KindInvalidState, ledger.KindDuplicateSerialNumber, ledger.KindDuplicateName,
		ledger.KindAlreadyHolding, ledger.KindNotHolder:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logs.Logger.WithField("reqid", middleware.GetRequestID(r)).WithError(err).Error("request failed")
		models.WriteKindProblem(w, status, kind, "internal error (see logs by reqid)")
		return
	}
	models.WriteKindProblem(w, status, kind, err.Error())
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ledger.ErrValidation, fmt.Sprintf(format, args...))
}
