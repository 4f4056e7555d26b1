package repo

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"dsctrack/internal/models"
)

// MemoryStore keeps everything in maps behind one mutex. Transactions work on
// a copy of the maps which replaces the live state only on commit.
type MemoryStore struct {
	mu    sync.Mutex
	dscs  map[string]models.DSC
	users map[string]models.User
	audit []models.AuditLog
	creds map[string]models.Credential // subject -> credential

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		dscs:  make(map[string]models.DSC),
		users: make(map[string]models.User),
		creds: make(map[string]models.Credential),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		dscs:  make(map[string]models.DSC, len(s.dscs)),
		users: make(map[string]models.User, len(s.users)),
		now:   s.now,
	}
	for k, v := range s.dscs {
		tx.dscs[k] = v.Clone()
	}
	for k, v := range s.users {
		tx.users[k] = v
	}

	// on panic the snapshot is dropped and the live maps stay untouched
	if err := fn(tx); err != nil {
		return err
	}
	s.dscs = tx.dscs
	s.users = tx.users
	return nil
}

type memTx struct {
	dscs  map[string]models.DSC
	users map[string]models.User
	now   func() time.Time
}

func (t *memTx) GetDSC(_ context.Context, id string) (*models.DSC, error) {
	d, ok := t.dscs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := d.Clone()
	return &c, nil
}

func (t *memTx) FindDSCBySerial(_ context.Context, serial string) (*models.DSC, error) {
	for _, d := range t.dscs {
		if d.SerialNumber == serial {
			c := d.Clone()
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) FindDSCByHolder(_ context.Context, userID string) (*models.DSC, error) {
	for _, d := range t.dscs {
		if d.CurrentHolderID != nil && *d.CurrentHolderID == userID {
			c := d.Clone()
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveDSC(_ context.Context, d *models.DSC) error {
	if err := checkDSCUnique(t.dscs, d); err != nil {
		return err
	}
	now := t.now()
	if prev, ok := t.dscs[d.ID]; ok {
		d.CreatedAt = prev.CreatedAt
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	t.dscs[d.ID] = d.Clone()
	return nil
}

func (t *memTx) DeleteDSC(_ context.Context, id string) error {
	if _, ok := t.dscs[id]; !ok {
		return ErrNotFound
	}
	delete(t.dscs, id)
	return nil
}

func (t *memTx) GetUser(_ context.Context, id string) (*models.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (t *memTx) FindUserByName(_ context.Context, name string) (*models.User, error) {
	for _, u := range t.users {
		if u.Name == name {
			c := u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) SaveUser(_ context.Context, u *models.User) error {
	if err := checkUserUnique(t.users, u); err != nil {
		return err
	}
	now := t.now()
	if prev, ok := t.users[u.ID]; ok {
		u.CreatedAt = prev.CreatedAt
	} else if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	t.users[u.ID] = *u
	return nil
}

func (t *memTx) DeleteUser(_ context.Context, id string) error {
	if _, ok := t.users[id]; !ok {
		return ErrNotFound
	}
	delete(t.users, id)
	return nil
}

func checkDSCUnique(all map[string]models.DSC, d *models.DSC) error {
	for id, o := range all {
		if id == d.ID {
			continue
		}
		if o.SerialNumber == d.SerialNumber {
			return fmt.Errorf("%w: serial_number %q", ErrConflict, d.SerialNumber)
		}
		if d.CurrentHolderID != nil && o.CurrentHolderID != nil && *o.CurrentHolderID == *d.CurrentHolderID {
			return fmt.Errorf("%w: current_holder_id %q", ErrConflict, *d.CurrentHolderID)
		}
	}
	return nil
}

func checkUserUnique(all map[string]models.User, u *models.User) error {
	for id, o := range all {
		if id != u.ID && o.Name == u.Name {
			return fmt.Errorf("%w: name %q", ErrConflict, u.Name)
		}
	}
	return nil
}

// ---------- queries ----------

func (s *MemoryStore) GetDSC(_ context.Context, id string) (*models.DSC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dscs[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := d.Clone()
	return &c, nil
}

func (s *MemoryStore) ListDSCs(_ context.Context, f DSCFilter) ([]models.DSC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]models.DSC, 0, len(s.dscs))
	for _, d := range s.dscs {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(d.SerialNumber), q) &&
			!strings.Contains(strings.ToLower(d.Description), q) {
			continue
		}
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SerialNumber < out[j].SerialNumber })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---------- audit ----------

func (s *MemoryStore) AppendAudit(_ context.Context, entry *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, *entry)
	return nil
}

// ListAuditLogs returns newest entries first.
func (s *MemoryStore) ListAuditLogs(_ context.Context, limit int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.AuditLog, 0, len(s.audit))
	for i := len(s.audit) - 1; i >= 0; i-- {
		out = append(out, s.audit[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// ---------- bulk ----------

func (s *MemoryStore) DeleteDSCPage(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePage(s.dscs, limit), nil
}

func (s *MemoryStore) DeleteUserPage(_ context.Context, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deletePage(s.users, limit), nil
}

func deletePage[T any](m map[string]T, limit int) int {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		delete(m, id)
	}
	return len(ids)
}

func (s *MemoryStore) InsertDSCs(_ context.Context, rows []models.DSC) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for i := range rows {
		d := rows[i].Clone()
		if _, ok := s.dscs[d.ID]; ok {
			return fmt.Errorf("%w: dsc id %q", ErrConflict, d.ID)
		}
		if err := checkDSCUnique(s.dscs, &d); err != nil {
			return err
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		s.dscs[d.ID] = d
	}
	return nil
}

func (s *MemoryStore) InsertUsers(_ context.Context, rows []models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, u := range rows {
		if _, ok := s.users[u.ID]; ok {
			return fmt.Errorf("%w: user id %q", ErrConflict, u.ID)
		}
		if err := checkUserUnique(s.users, &u); err != nil {
			return err
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		u.UpdatedAt = now
		s.users[u.ID] = u
	}
	return nil
}

func (s *MemoryStore) SyncHoldingFlags(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	holders := make(map[string]struct{})
	for _, d := range s.dscs {
		if d.CurrentHolderID != nil {
			holders[*d.CurrentHolderID] = struct{}{}
		}
	}
	for id, u := range s.users {
		_, held := holders[id]
		u.HasDSC = held
		s.users[id] = u
	}
	return nil
}

// ---------- credentials ----------

func (s *MemoryStore) CreateCredential(_ context.Context, c *models.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[c.Subject]; ok {
		return fmt.Errorf("%w: subject %q", ErrConflict, c.Subject)
	}
	for _, o := range s.creds {
		if o.Email == c.Email {
			return fmt.Errorf("%w: email %q", ErrConflict, c.Email)
		}
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	s.creds[c.Subject] = *c
	return nil
}

func (s *MemoryStore) CredentialByEmail(_ context.Context, email string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.creds {
		if c.Email == email {
			cp := c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) DeleteCredential(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, subject)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
