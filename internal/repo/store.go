package repo

import (
	"context"
	"errors"

	"dsctrack/internal/models"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint conflict")
)

// Tx is the per-record view of the store inside one atomic unit.
// Records returned by Tx are copies: changes are persisted only via Save*.
type Tx interface {
	GetDSC(ctx context.Context, id string) (*models.DSC, error)
	FindDSCBySerial(ctx context.Context, serial string) (*models.DSC, error)
	FindDSCByHolder(ctx context.Context, userID string) (*models.DSC, error)
	SaveDSC(ctx context.Context, d *models.DSC) error
	DeleteDSC(ctx context.Context, id string) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	FindUserByName(ctx context.Context, name string) (*models.User, error)
	SaveUser(ctx context.Context, u *models.User) error
	DeleteUser(ctx context.Context, id string) error
}

// DSCFilter narrows ListDSCs; zero value lists everything.
type DSCFilter struct {
	Status models.DSCStatus
	Query  string // substring of serial number or description
	Limit  int
}

// Store is everything the application needs from a backend.
type Store interface {
	// RunAtomic commits when fn returns nil and rolls back otherwise.
	RunAtomic(ctx context.Context, fn func(tx Tx) error) error

	GetDSC(ctx context.Context, id string) (*models.DSC, error)
	ListDSCs(ctx context.Context, f DSCFilter) ([]models.DSC, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)

	AppendAudit(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error)

	// Bulk, not atomic across calls.
	DeleteDSCPage(ctx context.Context, limit int) (int, error)
	DeleteUserPage(ctx context.Context, limit int) (int, error)
	InsertDSCs(ctx context.Context, rows []models.DSC) error
	InsertUsers(ctx context.Context, rows []models.User) error
	SyncHoldingFlags(ctx context.Context) error

	CreateCredential(ctx context.Context, c *models.Credential) error
	CredentialByEmail(ctx context.Context, email string) (*models.Credential, error)
	DeleteCredential(ctx context.Context, subject string) error

	Ping(ctx context.Context) error
}
