// Package ledger owns the custody state of DSC tokens and the hasDsc flag of
// users. Every mutation is one Store.RunAtomic unit over the DSC and, where
// relevant, one user.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"dsctrack/internal/logs"
	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

// Operation names, used as metrics labels.
const (
	OpAddDSC           = "add_dsc"
	OpUpdateDSC        = "update_dsc"
	OpDeleteDSC        = "delete_dsc"
	OpTakeByEmployee   = "take"
	OpReturnByEmployee = "return"
	OpAssignToClient   = "assign_client"
	OpReturnFromClient = "return_client"
	OpAddUser          = "add_user"
	OpUpdateUser       = "update_user"
	OpDeleteUser       = "delete_user"
)

// Recorder observes the outcome of every mutating operation.
type Recorder interface {
	Observe(op string, err error)
}

type Ledger struct {
	store repo.Store
	rec   Recorder
	now   func() time.Time
	newID func() string
}

type Option func(*Ledger)

func WithRecorder(r Recorder) Option { return func(l *Ledger) { l.rec = r } }

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

func WithIDGenerator(gen func() string) Option { return func(l *Ledger) { l.newID = gen } }

func New(store repo.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Ledger) observe(op string, err *error) {
	if l.rec != nil {
		l.rec.Observe(op, *err)
	}
}

func (l *Ledger) atomic(ctx context.Context, op string, fn func(tx repo.Tx) error) error {
	return fromRepo(op, l.store.RunAtomic(ctx, fn), nil)
}

// ---------- DSC ----------

func (l *Ledger) AddDSC(ctx context.Context, in DSCInput) (_ *models.DSC, err error) {
	defer l.observe(OpAddDSC, &err)

	if in, err = in.normalize(); err != nil {
		return nil, err
	}
	d := models.DSC{
		ID:           l.newID(),
		SerialNumber: in.SerialNumber,
		Description:  in.Description,
		ExpiryDate:   in.ExpiryDate,
		Location:     in.Location,
		Status:       models.StatusStorage,
	}
	err = l.atomic(ctx, OpAddDSC, func(tx repo.Tx) error {
		if err := ensureSerialFree(ctx, tx, d.SerialNumber, ""); err != nil {
			return err
		}
		return fromRepo("save dsc", tx.SaveDSC(ctx, &d), ErrDuplicateSerialNumber)
	})
	if err != nil {
		return nil, err
	}
	l.audit(ctx, models.ActionAddDSC, &d, nil, nil)
	return &d, nil
}

func (l *Ledger) UpdateDSC(ctx context.Context, id string, in DSCInput) (_ *models.DSC, err error) {
	defer l.observe(OpUpdateDSC, &err)

	if in, err = in.normalize(); err != nil {
		return nil, err
	}
	var out models.DSC
	var prevSerial string
	err = l.atomic(ctx, OpUpdateDSC, func(tx repo.Tx) error {
		d, err := loadDSC(ctx, tx, id)
		if err != nil {
			return err
		}
		prevSerial = d.SerialNumber
		if in.SerialNumber != d.SerialNumber {
			if err := ensureSerialFree(ctx, tx, in.SerialNumber, d.ID); err != nil {
				return err
			}
		}
		d.SerialNumber = in.SerialNumber
		d.Description = in.Description
		d.ExpiryDate = in.ExpiryDate
		d.Location = in.Location
		if err := tx.SaveDSC(ctx, d); err != nil {
			return fromRepo("save dsc", err, ErrDuplicateSerialNumber)
		}
		out = *d
		return nil
	})
	if err != nil {
		return nil, err
	}
	var details map[string]any
	if prevSerial != out.SerialNumber {
		details = map[string]any{"previousSerialNumber": prevSerial}
	}
	l.audit(ctx, models.ActionUpdateDSC, &out, nil, details)
	return &out, nil
}

func (l *Ledger) DeleteDSC(ctx context.Context, id string) (err error) {
	defer l.observe(OpDeleteDSC, &err)

	var gone models.DSC
	err = l.atomic(ctx, OpDeleteDSC, func(tx repo.Tx) error {
		d, err := loadDSC(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != models.StatusStorage {
			return fmt.Errorf("%w: dsc %s is %s, only stored dscs can be deleted", ErrInvalidState, d.SerialNumber, d.Status)
		}
		if err := tx.DeleteDSC(ctx, d.ID); err != nil {
			return fromRepo("delete dsc", err, nil)
		}
		gone = *d
		return nil
	})
	if err != nil {
		return err
	}
	l.audit(ctx, models.ActionDeleteDSC, &gone, nil, nil)
	return nil
}

// ---------- custody ----------

func (l *Ledger) TakeByEmployee(ctx context.Context, dscID, userID string) (_ *models.DSC, err error) {
	defer l.observe(OpTakeByEmployee, &err)

	var out models.DSC
	var holder models.User
	err = l.atomic(ctx, OpTakeByEmployee, func(tx repo.Tx) error {
		d, err := loadDSC(ctx, tx, dscID)
		if err != nil {
			return err
		}
		u, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusStorage {
			return fmt.Errorf("%w: dsc %s is %s, want %s", ErrInvalidState, d.SerialNumber, d.Status, models.StatusStorage)
		}
		if u.HasDSC {
			return fmt.Errorf("%w: %s", ErrAlreadyHolding, u.Name)
		}
		switch other, err := tx.FindDSCByHolder(ctx, u.ID); {
		case err == nil:
			return fmt.Errorf("%w: %s holds %s", ErrAlreadyHolding, u.Name, other.SerialNumber)
		case !errors.Is(err, repo.ErrNotFound):
			return storageErr("find dsc by holder", err)
		}

		d.Status = models.StatusWithEmployee
		d.CurrentHolderID = &u.ID
		d.ClientName, d.ClientDetails = nil, nil
		setHolding(u, true)
		if err := CheckDSC(d); err != nil {
			return err
		}
		if err := tx.SaveDSC(ctx, d); err != nil {
			return fromRepo("save dsc", err, ErrAlreadyHolding)
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return fromRepo("save user", err, nil)
		}
		out, holder = *d, *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.audit(ctx, models.ActionTake, &out, &holder, map[string]any{
		"holderId":       holder.ID,
		"previousStatus": models.StatusStorage,
	})
	return &out, nil
}

func (l *Ledger) ReturnByEmployee(ctx context.Context, dscID, userID string) (_ *models.DSC, err error) {
	defer l.observe(OpReturnByEmployee, &err)

	var out models.DSC
	var holder models.User
	err = l.atomic(ctx, OpReturnByEmployee, func(tx repo.Tx) error {
		d, err := loadDSC(ctx, tx, dscID)
		if err != nil {
			return err
		}
		u, err := loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if d.CurrentHolderID == nil || *d.CurrentHolderID != u.ID {
			return fmt.Errorf("%w: dsc %s is not held by %s", ErrNotHolder, d.SerialNumber, u.Name)
		}

		d.Status = models.StatusStorage
		d.CurrentHolderID = nil
		setHolding(u, false)
		if err := CheckDSC(d); err != nil {
			return err
		}
		if err := tx.SaveDSC(ctx, d); err != nil {
			return fromRepo("save dsc", err, nil)
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return fromRepo("save user", err, nil)
		}
		out, holder = *d, *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.audit(ctx, models.ActionReturn, &out, &holder, map[string]any{
		"holderId":       holder.ID,
		"previousStatus": models.StatusWithEmployee,
	})
	return &out, nil
}

func (l *Ledger) AssignToClient(ctx context.Context, dscID, clientName, clientDetails string) (_ *models.DSC, err error) {
	defer l.observe(OpAssignToClient, &err)

	clientName = strings.TrimSpace(clientName)
	clientDetails = strings.TrimSpace(clientDetails)
	if clientName == "" {
		return nil, fmt.Errorf("%w: client name is required", ErrValidation)
	}

	var out models.DSC
	err = l.atomic(ctx, OpAssignToClient, func(tx repo.Tx) error {
		d, err := loadDSC(ctx, tx, dscID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusStorage {
			return fmt.Errorf("%w: dsc %s is %s, want %s", ErrInvalidState, d.SerialNumber, d.Status, models.StatusStorage)
		}
		d.Status = models.StatusWithClient
		d.CurrentHolderID = nil
		d.ClientName = &clientName
		d.ClientDetails = &clientDetails
		if err := CheckDSC(d); err != nil {
			return err
		}
		if err := tx.SaveDSC(ctx, d); err != nil {
			return fromRepo("save dsc", err, nil)
		}
		out = *d
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.audit(ctx, models.ActionTake, &out, nil, map[string]any{
		"clientName":     clientName,
		"previousStatus": models.StatusStorage,
	})
	return &out, nil
}

func (l *Ledger) ReturnFromClient(ctx context.Context, dscID string) (_ *models.DSC, err error) {
	defer l.observe(OpReturnFromClient, &err)

	var out models.DSC
	var client string
	err = l.atomic(ctx, OpReturnFromClient, func(tx repo.Tx) error {
		d, err := loadDSC(ctx, tx, dscID)
		if err != nil {
			return err
		}
		if d.Status != models.StatusWithClient {
			return fmt.Errorf("%w: dsc %s is %s, want %s", ErrInvalidState, d.SerialNumber, d.Status, models.StatusWithClient)
		}
		if d.ClientName != nil {
			client = *d.ClientName
		}
		d.Status = models.StatusStorage
		d.ClientName, d.ClientDetails = nil, nil
		if err := CheckDSC(d); err != nil {
			return err
		}
		if err := tx.SaveDSC(ctx, d); err != nil {
			return fromRepo("save dsc", err, nil)
		}
		out = *d
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.audit(ctx, models.ActionReturn, &out, nil, map[string]any{
		"clientName":     client,
		"previousStatus": models.StatusWithClient,
	})
	return &out, nil
}

// ---------- users ----------

// AddUser creates a user profile. id is the identity subject; a new id is
// generated when it is empty.
func (l *Ledger) AddUser(ctx context.Context, id, name string, role models.Role) (_ *models.User, err error) {
	defer l.observe(OpAddUser, &err)

	if name, err = normalizeName(name); err != nil {
		return nil, err
	}
	if err = checkRole(role); err != nil {
		return nil, err
	}
	if id = strings.TrimSpace(id); id == "" {
		id = l.newID()
	}
	u := models.User{ID: id, Name: name, Role: role}
	err = l.atomic(ctx, OpAddUser, func(tx repo.Tx) error {
		switch _, err := tx.GetUser(ctx, id); {
		case err == nil:
			return fmt.Errorf("%w: user id %s already exists", ErrValidation, id)
		case !errors.Is(err, repo.ErrNotFound):
			return storageErr("get user", err)
		}
		if err := ensureNameFree(ctx, tx, name, ""); err != nil {
			return err
		}
		return fromRepo("save user", tx.SaveUser(ctx, &u), ErrDuplicateName)
	})
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (l *Ledger) UpdateUser(ctx context.Context, id string, patch UserPatch) (_ *models.User, err error) {
	defer l.observe(OpUpdateUser, &err)

	var name string
	if patch.Name != nil {
		if name, err = normalizeName(*patch.Name); err != nil {
			return nil, err
		}
	}
	if patch.Role != nil {
		if err = checkRole(*patch.Role); err != nil {
			return nil, err
		}
	}

	var out models.User
	err = l.atomic(ctx, OpUpdateUser, func(tx repo.Tx) error {
		u, err := loadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil && name != u.Name {
			if err := ensureNameFree(ctx, tx, name, u.ID); err != nil {
				return err
			}
			u.Name = name
		}
		if patch.Role != nil {
			u.Role = *patch.Role
		}
		if err := tx.SaveUser(ctx, u); err != nil {
			return fromRepo("save user", err, ErrDuplicateName)
		}
		out = *u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (l *Ledger) DeleteUser(ctx context.Context, id string) (err error) {
	defer l.observe(OpDeleteUser, &err)

	return l.atomic(ctx, OpDeleteUser, func(tx repo.Tx) error {
		u, err := loadUser(ctx, tx, id)
		if err != nil {
			return err
		}
		if u.HasDSC {
			return fmt.Errorf("%w: %s still holds a dsc", ErrInvalidState, u.Name)
		}
		switch d, err := tx.FindDSCByHolder(ctx, u.ID); {
		case err == nil:
			return fmt.Errorf("%w: %s still holds %s", ErrInvalidState, u.Name, d.SerialNumber)
		case !errors.Is(err, repo.ErrNotFound):
			return storageErr("find dsc by holder", err)
		}
		return fromRepo("delete user", tx.DeleteUser(ctx, u.ID), nil)
	})
}

// ---------- queries ----------

func (l *Ledger) GetDSC(ctx context.Context, id string) (*models.DSC, error) {
	d, err := l.store.GetDSC(ctx, id)
	if err != nil {
		return nil, fromRepo("get dsc "+id, err, nil)
	}
	return d, nil
}

func (l *Ledger) ListDSCs(ctx context.Context, f repo.DSCFilter) ([]models.DSC, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	out, err := l.store.ListDSCs(ctx, f)
	if err != nil {
		return nil, storageErr("list dscs", err)
	}
	return out, nil
}

func (l *Ledger) GetUser(ctx context.Context, id string) (*models.User, error) {
	u, err := l.store.GetUser(ctx, id)
	if err != nil {
		return nil, fromRepo("get user "+id, err, nil)
	}
	return u, nil
}

func (l *Ledger) ListUsers(ctx context.Context) ([]models.User, error) {
	out, err := l.store.ListUsers(ctx)
	if err != nil {
		return nil, storageErr("list users", err)
	}
	return out, nil
}

// ListAuditLogs returns the newest entries first.
func (l *Ledger) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	out, err := l.store.ListAuditLogs(ctx, limit)
	if err != nil {
		return nil, storageErr("list audit logs", err)
	}
	return out, nil
}

// ExpiringWithin returns DSCs whose expiry date is on or before now+window,
// already expired ones included, soonest first.
func (l *Ledger) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]models.DSC, error) {
	all, err := l.ListDSCs(ctx, repo.DSCFilter{})
	if err != nil {
		return nil, err
	}
	limit := models.TruncateDate(now.Add(window))
	out := make([]models.DSC, 0)
	for _, d := range all {
		if !models.TruncateDate(d.ExpiryDate).After(limit) {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

// ---------- helpers ----------

func loadDSC(ctx context.Context, tx repo.Tx, id string) (*models.DSC, error) {
	d, err := tx.GetDSC(ctx, id)
	if err != nil {
		return nil, fromRepo("dsc "+id, err, nil)
	}
	return d, nil
}

func loadUser(ctx context.Context, tx repo.Tx, id string) (*models.User, error) {
	u, err := tx.GetUser(ctx, id)
	if err != nil {
		return nil, fromRepo("user "+id, err, nil)
	}
	return u, nil
}

func ensureSerialFree(ctx context.Context, tx repo.Tx, serial, selfID string) error {
	other, err := tx.FindDSCBySerial(ctx, serial)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil
	case err != nil:
		return storageErr("find dsc by serial", err)
	case other.ID != selfID:
		return fmt.Errorf("%w: %s", ErrDuplicateSerialNumber, serial)
	}
	return nil
}

func ensureNameFree(ctx context.Context, tx repo.Tx, name, selfID string) error {
	other, err := tx.FindUserByName(ctx, name)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return nil
	case err != nil:
		return storageErr("find user by name", err)
	case other.ID != selfID:
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}
	return nil
}

// audit appends one entry after commit. Failures are logged and dropped:
// the custody change has already happened.
func (l *Ledger) audit(ctx context.Context, action models.AuditAction, d *models.DSC, subject *models.User, details map[string]any) {
	actor, ok := ActorFrom(ctx)
	if !ok {
		actor = SystemActor
		if subject != nil {
			actor = Actor{ID: subject.ID, Name: subject.Name}
		}
	}
	entry := &models.AuditLog{
		ID:              l.newID(),
		Timestamp:       l.now(),
		UserID:          actor.ID,
		UserName:        actor.Name,
		Action:          action,
		DSCSerialNumber: d.SerialNumber,
		DSCDescription:  d.Description,
	}
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(b)
		}
	}
	if err := l.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
		logs.Logger.WithFields(logrus.Fields{
			"action": action,
			"dsc":    d.SerialNumber,
			"actor":  actor.ID,
		}).WithError(err).Warn("audit append failed")
	}
}
