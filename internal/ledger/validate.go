package ledger

import (
	"fmt"
	"strings"
	"time"

	"dsctrack/internal/models"
)

// DSCInput holds the non-custody fields of a DSC.
type DSCInput struct {
	SerialNumber string
	Description  string
	ExpiryDate   time.Time
	Location     models.Location
}

func (in DSCInput) normalize() (DSCInput, error) {
	in.SerialNumber = strings.TrimSpace(in.SerialNumber)
	in.Description = strings.TrimSpace(in.Description)
	in.Location.SubBox = strings.ToLower(strings.TrimSpace(in.Location.SubBox))
	if in.SerialNumber == "" {
		return in, fmt.Errorf("%w: serial number is required", ErrValidation)
	}
	if in.ExpiryDate.IsZero() {
		return in, fmt.Errorf("%w: expiry date is required", ErrValidation)
	}
	if !in.Location.Valid() {
		return in, fmt.Errorf("%w: location must be main box %d..%d and sub box a..i, got %d%q",
			ErrValidation, models.MinMainBox, models.MaxMainBox, in.Location.MainBox, in.Location.SubBox)
	}
	in.ExpiryDate = models.TruncateDate(in.ExpiryDate)
	return in, nil
}

// UserPatch is a partial user update; nil fields stay as they are.
type UserPatch struct {
	Name *string
	Role *models.Role
}

func normalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrValidation)
	}
	return name, nil
}

func checkRole(r models.Role) error {
	if !r.Valid() {
		return fmt.Errorf("%w: role must be %q or %q, got %q", ErrValidation, models.RoleLeader, models.RoleEmployee, r)
	}
	return nil
}
