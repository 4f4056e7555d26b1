package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"dsctrack/internal/ledger"
	"dsctrack/internal/logs"
	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

func newUUID() string { return uuid.NewString() }

// Backup is the JSON interchange document.
type Backup struct {
	Users []BackupUser `json:"users"`
	DSCs  []BackupDSC  `json:"dscs"`
}

type BackupUser struct {
	ID     string      `json:"id"`
	Name   string      `json:"name"`
	Role   models.Role `json:"role"`
	HasDSC bool        `json:"hasDsc"`
}

type BackupDSC struct {
	ID              string           `json:"id"`
	SerialNumber    string           `json:"serialNumber"`
	Description     string           `json:"description"`
	ExpiryDate      string           `json:"expiryDate"`
	Status          models.DSCStatus `json:"status"`
	Location        *models.Location `json:"location,omitempty"`
	CurrentHolderID *string          `json:"currentHolderId,omitempty"`
	ClientName      *string          `json:"clientName,omitempty"`
	ClientDetails   *string          `json:"clientDetails,omitempty"`
}

// ExportJSON writes both collections as one backup document.
func (s *Service) ExportJSON(ctx context.Context, w io.Writer) error {
	b, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

func (s *Service) snapshot(ctx context.Context) (*Backup, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	dscs, err := s.store.ListDSCs(ctx, repo.DSCFilter{})
	if err != nil {
		return nil, fmt.Errorf("list dscs: %w", err)
	}
	b := &Backup{
		Users: make([]BackupUser, 0, len(users)),
		DSCs:  make([]BackupDSC, 0, len(dscs)),
	}
	for _, u := range users {
		b.Users = append(b.Users, BackupUser{ID: u.ID, Name: u.Name, Role: u.Role, HasDSC: u.HasDSC})
	}
	for _, d := range dscs {
		loc := d.Location
		b.DSCs = append(b.DSCs, BackupDSC{
			ID:              d.ID,
			SerialNumber:    d.SerialNumber,
			Description:     d.Description,
			ExpiryDate:      d.ExpiryDate.UTC().Format(models.DateLayout),
			Status:          d.Status,
			Location:        &loc,
			CurrentHolderID: d.CurrentHolderID,
			ClientName:      d.ClientName,
			ClientDetails:   d.ClientDetails,
		})
	}
	return b, nil
}

type importOptions struct {
	keepLeader string
}

type ImportOption func(*importOptions)

// KeepLeader rejects a backup that does not contain userID as a leader, so
// the account running the import survives it.
func KeepLeader(userID string) ImportOption {
	return func(o *importOptions) { o.keepLeader = userID }
}

// ImportJSON validates the whole document, then replaces users and DSCs and
// recomputes hasDsc from the holder pointers.
func (s *Service) ImportJSON(ctx context.Context, r io.Reader, opts ...ImportOption) (*Summary, error) {
	var o importOptions
	for _, opt := range opts {
		opt(&o)
	}

	var b Backup
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return nil, &InputError{Problems: []string{"decode json: " + err.Error()}}
	}

	users, dscs, warnings, err := s.validateBackup(&b, o)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		logs.Logger.WithField("import", "json").Warn(w)
	}

	if err := s.replaceDSCs(ctx, nil); err != nil {
		return nil, err
	}
	if err := s.replaceUsers(ctx, users); err != nil {
		return nil, err
	}
	if err := s.replaceDSCs(ctx, dscs); err != nil {
		return nil, err
	}
	if err := s.store.SyncHoldingFlags(ctx); err != nil {
		return nil, fmt.Errorf("sync holding flags: %w", err)
	}
	return &Summary{Users: len(users), DSCs: len(dscs), Warnings: warnings}, nil
}

func (s *Service) validateBackup(b *Backup, o importOptions) ([]models.User, []models.DSC, []string, error) {
	var bad problems
	var warnings []string

	users := make([]models.User, 0, len(b.Users))
	userIDs := make(map[string]struct{}, len(b.Users))
	names := make(map[string]struct{}, len(b.Users))
	for i, bu := range b.Users {
		at := fmt.Sprintf("users[%d]", i)
		id := strings.TrimSpace(bu.ID)
		name := strings.TrimSpace(bu.Name)
		if id == "" {
			bad.addf("%s: id is required", at)
		} else if _, dup := userIDs[id]; dup {
			bad.addf("%s: duplicate id %q", at, id)
		}
		if name == "" {
			bad.addf("%s: name is required", at)
		} else if _, dup := names[name]; dup {
			bad.addf("%s: duplicate name %q", at, name)
		}
		if !bu.Role.Valid() {
			bad.addf("%s: invalid role %q", at, bu.Role)
		}
		userIDs[id] = struct{}{}
		names[name] = struct{}{}
		users = append(users, models.User{ID: id, Name: name, Role: bu.Role, HasDSC: bu.HasDSC})
	}

	if o.keepLeader != "" {
		kept := false
		for _, u := range users {
			if u.ID == o.keepLeader && u.Role == models.RoleLeader {
				kept = true
				break
			}
		}
		if !kept {
			bad.addf("users: the importing account %q must be present with role %s", o.keepLeader, models.RoleLeader)
		}
	}

	dscs := make([]models.DSC, 0, len(b.DSCs))
	dscIDs := make(map[string]struct{}, len(b.DSCs))
	serials := make(map[string]struct{}, len(b.DSCs))
	holders := make(map[string]string, len(b.DSCs))
	for i, bd := range b.DSCs {
		at := fmt.Sprintf("dscs[%d]", i)
		d := models.DSC{
			ID:              strings.TrimSpace(bd.ID),
			SerialNumber:    strings.TrimSpace(bd.SerialNumber),
			Description:     strings.TrimSpace(bd.Description),
			Status:          bd.Status,
			CurrentHolderID: bd.CurrentHolderID,
			ClientName:      bd.ClientName,
			ClientDetails:   bd.ClientDetails,
			Location:        models.Location{MainBox: models.MinMainBox, SubBox: "a"},
		}
		if bd.Location != nil {
			d.Location = *bd.Location
		} else if d.Status == models.StatusStorage {
			bad.addf("%s: location is required in storage", at)
		}
		// вне хранилища слот не проверяется ledger'ом, а при возврате станет текущим
		if d.Status != models.StatusStorage && !d.Location.Valid() {
			d.Location = models.Location{MainBox: models.MinMainBox, SubBox: "a"}
		}
		if d.ID == "" {
			d.ID = s.newID()
		} else if _, dup := dscIDs[d.ID]; dup {
			bad.addf("%s: duplicate id %q", at, d.ID)
		}
		dscIDs[d.ID] = struct{}{}
		if d.SerialNumber == "" {
			bad.addf("%s: serialNumber is required", at)
		} else if _, dup := serials[d.SerialNumber]; dup {
			bad.addf("%s: duplicate serialNumber %q", at, d.SerialNumber)
		}
		serials[d.SerialNumber] = struct{}{}

		exp, err := parseExpiry(bd.ExpiryDate)
		if err != nil {
			bad.addf("%s: %v", at, err)
		}
		d.ExpiryDate = exp

		if err := ledger.CheckDSC(&d); err != nil {
			bad.addf("%s: %v", at, err)
		}
		if h := d.CurrentHolderID; h != nil {
			if _, ok := userIDs[*h]; !ok {
				bad.addf("%s: holder %q is not an imported user", at, *h)
			}
			if other, taken := holders[*h]; taken {
				bad.addf("%s: holder %q already holds %s", at, *h, other)
			}
			holders[*h] = d.SerialNumber
		}
		dscs = append(dscs, d)
	}

	if err := bad.err(); err != nil {
		return nil, nil, nil, err
	}
	for _, u := range users {
		if _, held := holders[u.ID]; held != u.HasDSC {
			warnings = append(warnings, fmt.Sprintf("user %s: hasDsc=%t in file, recomputed as %t", u.Name, u.HasDSC, held))
		}
	}
	return users, dscs, warnings, nil
}

// parseExpiry accepts YYYY-MM-DD and RFC 3339 timestamps.
func parseExpiry(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("expiryDate is required")
	}
	if t, err := models.ParseDate(s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("expiryDate %q is not YYYY-MM-DD", s)
	}
	return models.TruncateDate(t), nil
}
