package ledger

import (
	"errors"
	"fmt"

	"dsctrack/internal/repo"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidState          = errors.New("invalid state")
	ErrDuplicateSerialNumber = errors.New("duplicate serial number")
	ErrDuplicateName         = errors.New("duplicate name")
	ErrAlreadyHolding        = errors.New("user already holds a dsc")
	ErrNotHolder             = errors.New("user is not the current holder")
	ErrValidation            = errors.New("validation error")
	ErrStorage               = errors.New("storage error")
)

// Error kinds, stable strings for metrics labels and problem types.
const (
	KindOK                    = "ok"
	KindNotFound              = "not_found"
	KindInvalidState          = "invalid_state"
	KindDuplicateSerialNumber = "duplicate_serial_number"
	KindDuplicateName         = "duplicate_name"
	KindAlreadyHolding        = "already_holding"
	KindNotHolder             = "not_holder"
	KindValidation            = "validation"
	KindStorage               = "storage"
	KindInternal              = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidState, KindInvalidState},
	{ErrDuplicateSerialNumber, KindDuplicateSerialNumber},
	{ErrDuplicateName, KindDuplicateName},
	{ErrAlreadyHolding, KindAlreadyHolding},
	{ErrNotHolder, KindNotHolder},
	{ErrValidation, KindValidation},
	{ErrStorage, KindStorage},
}

// KindOf maps an error returned by the ledger to its kind.
func KindOf(err error) string {
	if err == nil {
		return KindOK
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// fromRepo translates a store error; conflict is the sentinel to use for
// repo.ErrConflict (nil keeps it a storage error).
func fromRepo(op string, err error, conflict error) error {
	switch {
	case err == nil:
		return nil
	case KindOf(err) != KindInternal:
		// already a ledger error
		return err
	case errors.Is(err, repo.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case conflict != nil && errors.Is(err, repo.ErrConflict):
		return fmt.Errorf("%w: %s", conflict, op)
	}
	return storageErr(op, err)
}
