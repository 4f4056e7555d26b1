package ledger

import (
	"fmt"

	"dsctrack/internal/models"
)

// CheckDSC verifies that exactly one custody pointer matches the status:
// location for storage, holder for with-employee, client for with-client.
func CheckDSC(d *models.DSC) error {
	hasHolder := d.CurrentHolderID != nil && *d.CurrentHolderID != ""
	hasClient := d.ClientName != nil && *d.ClientName != ""

	switch d.Status {
	case models.StatusStorage:
		if hasHolder || hasClient || d.ClientDetails != nil {
			return fmt.Errorf("%w: dsc %s in storage has a holder or client", ErrInvalidState, d.SerialNumber)
		}
		if !d.Location.Valid() {
			return fmt.Errorf("%w: dsc %s in storage has invalid location %d%s",
				ErrInvalidState, d.SerialNumber, d.Location.MainBox, d.Location.SubBox)
		}
	case models.StatusWithEmployee:
		if !hasHolder {
			return fmt.Errorf("%w: dsc %s with employee has no holder", ErrInvalidState, d.SerialNumber)
		}
		if hasClient || d.ClientDetails != nil {
			return fmt.Errorf("%w: dsc %s with employee has client fields", ErrInvalidState, d.SerialNumber)
		}
	case models.StatusWithClient:
		if !hasClient {
			return fmt.Errorf("%w: dsc %s with client has no client name", ErrInvalidState, d.SerialNumber)
		}
		if hasHolder {
			return fmt.Errorf("%w: dsc %s with client has a holder", ErrInvalidState, d.SerialNumber)
		}
	default:
		return fmt.Errorf("%w: dsc %s has unknown status %q", ErrInvalidState, d.SerialNumber, d.Status)
	}
	return nil
}

// CheckHolding verifies the hasDsc flags of users against DSC holder pointers:
// no user holds more than one DSC and hasDsc is set iff the user holds one.
func CheckHolding(users []models.User, dscs []models.DSC) error {
	held := make(map[string]int, len(dscs))
	for _, d := range dscs {
		if d.CurrentHolderID != nil {
			held[*d.CurrentHolderID]++
		}
	}
	for _, u := range users {
		n := held[u.ID]
		if n > 1 {
			return fmt.Errorf("%w: user %s holds %d dscs", ErrInvalidState, u.Name, n)
		}
		if u.HasDSC != (n == 1) {
			return fmt.Errorf("%w: user %s hasDsc=%t but holds %d dscs", ErrInvalidState, u.Name, u.HasDSC, n)
		}
	}
	return nil
}

// setHolding is the only place the ledger writes hasDsc. It is always called
// together with the DSC holder change inside the same atomic unit.
func setHolding(u *models.User, holding bool) {
	u.HasDSC = holding
}
