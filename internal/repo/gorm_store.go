package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dsctrack/internal/models"
)

// GormStore persists the ledger through gorm (postgres, mysql or sqlite).
type GormStore struct {
	db *gorm.DB

	// postgres/mysql: SELECT ... FOR UPDATE inside RunAtomic.
	// sqlite has a single writer, so atomic units are serialized in-process.
	lockRows bool
	writeMu  *sync.Mutex
}

func NewGormStore(db *gorm.DB) *GormStore {
	s := &GormStore{db: db}
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		s.lockRows = true
	default:
		s.writeMu = &sync.Mutex{}
	}
	return s
}

var _ Store = (*GormStore)(nil)

// Migrate создаёт/обновляет схему.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.DSC{},
		&models.AuditLog{},
		&models.Credential{},
	)
}

func (s *GormStore) RunAtomic(ctx context.Context, fn func(tx Tx) error) error {
	if s.writeMu != nil {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db, lockRows: s.lockRows})
	})
}

type gormTx struct {
	db       *gorm.DB
	lockRows bool
}

func (t *gormTx) q(ctx context.Context) *gorm.DB {
	db := t.db.WithContext(ctx)
	if t.lockRows {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (t *gormTx) GetDSC(ctx context.Context, id string) (*models.DSC, error) {
	var d models.DSC
	if err := t.q(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (t *gormTx) FindDSCBySerial(ctx context.Context, serial string) (*models.DSC, error) {
	var d models.DSC
	if err := t.q(ctx).Where("serial_number = ?", serial).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (t *gormTx) FindDSCByHolder(ctx context.Context, userID string) (*models.DSC, error) {
	var d models.DSC
	if err := t.q(ctx).Where("current_holder_id = ?", userID).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (t *gormTx) SaveDSC(ctx context.Context, d *models.DSC) error {
	return translate(t.db.WithContext(ctx).Save(d).Error)
}

func (t *gormTx) DeleteDSC(ctx context.Context, id string) error {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&models.DSC{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *gormTx) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := t.q(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *gormTx) FindUserByName(ctx context.Context, name string) (*models.User, error) {
	var u models.User
	if err := t.q(ctx).Where("name = ?", name).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (t *gormTx) SaveUser(ctx context.Context, u *models.User) error {
	return translate(t.db.WithContext(ctx).Save(u).Error)
}

func (t *gormTx) DeleteUser(ctx context.Context, id string) error {
	res := t.db.WithContext(ctx).Where("id = ?", id).Delete(&models.User{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------- queries ----------

func (s *GormStore) GetDSC(ctx context.Context, id string) (*models.DSC, error) {
	var d models.DSC
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&d).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

func (s *GormStore) ListDSCs(ctx context.Context, f DSCFilter) ([]models.DSC, error) {
	q := s.db.WithContext(ctx).Model(&models.DSC{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if qs := strings.TrimSpace(f.Query); qs != "" {
		like := "%" + strings.ToLower(qs) + "%"
		q = q.Where("LOWER(serial_number) LIKE ? OR LOWER(description) LIKE ?", like, like)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	rows := make([]models.DSC, 0)
	if err := q.Order("serial_number ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *GormStore) GetUser(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows := make([]models.User, 0)
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ---------- audit ----------

func (s *GormStore) AppendAudit(ctx context.Context, entry *models.AuditLog) error {
	return translate(s.db.WithContext(ctx).Create(entry).Error)
}

func (s *GormStore) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	q := s.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	rows := make([]models.AuditLog, 0)
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ---------- bulk ----------

func (s *GormStore) DeleteDSCPage(ctx context.Context, limit int) (int, error) {
	return deleteGormPage(ctx, s.db, &models.DSC{}, limit)
}

func (s *GormStore) DeleteUserPage(ctx context.Context, limit int) (int, error) {
	return deleteGormPage(ctx, s.db, &models.User{}, limit)
}

// deleteGormPage удаляет до limit строк; LIMIT в DELETE не переносим между диалектами,
// поэтому сначала выбираем id.
func deleteGormPage(ctx context.Context, db *gorm.DB, model any, limit int) (int, error) {
	var ids []string
	q := db.WithContext(ctx).Model(model).Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(model)
	if res.Error != nil {
		return 0, res.Error
	}
	return int(res.RowsAffected), nil
}

func (s *GormStore) InsertDSCs(ctx context.Context, rows []models.DSC) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).CreateInBatches(&rows, len(rows)).Error)
}

func (s *GormStore) InsertUsers(ctx context.Context, rows []models.User) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(s.db.WithContext(ctx).CreateInBatches(&rows, len(rows)).Error)
}

func (s *GormStore) SyncHoldingFlags(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec(
		"UPDATE users SET has_dsc = EXISTS (SELECT 1 FROM dscs WHERE dscs.current_holder_id = users.id)",
	).Error
}

// ---------- credentials ----------

func (s *GormStore) CreateCredential(ctx context.Context, c *models.Credential) error {
	return translate(s.db.WithContext(ctx).Create(c).Error)
}

func (s *GormStore) CredentialByEmail(ctx context.Context, email string) (*models.Credential, error) {
	var c models.Credential
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&c).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *GormStore) DeleteCredential(ctx context.Context, subject string) error {
	return s.db.WithContext(ctx).Where("subject = ?", subject).Delete(&models.Credential{}).Error
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

// isUniqueViolation also matches by message: the pure-Go sqlite driver
// is not covered by gorm's error translator.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
