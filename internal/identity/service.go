// Package identity keeps email/password credentials. The subject it issues is
// the User.id of the profile kept by the ledger.
package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"

	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too short")
	ErrInvalidEmail       = errors.New("invalid email")
)

const MinPasswordLen = 8

// параметры argon2id
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	saltLen      = 16
)

// CredentialStore is the part of repo.Store the service needs.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *models.Credential) error
	CredentialByEmail(ctx context.Context, email string) (*models.Credential, error)
	DeleteCredential(ctx context.Context, subject string) error
}

type Service struct{ store CredentialStore }

func New(store CredentialStore) *Service { return &Service{store: store} }

func hash(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if _, err := mail.ParseAddress(email); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidEmail, email)
	}
	return email, nil
}

// Register stores a new credential and returns its subject id.
func (s *Service) Register(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", err
	}
	if len(password) < MinPasswordLen {
		return "", fmt.Errorf("%w: need at least %d characters", ErrWeakPassword, MinPasswordLen)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}
	c := &models.Credential{
		Subject:      uuid.NewString(),
		Email:        email,
		Salt:         salt,
		PasswordHash: hash(password, salt),
	}
	if err := s.store.CreateCredential(ctx, c); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return "", fmt.Errorf("%w: %s", ErrEmailTaken, email)
		}
		return "", err
	}
	return c.Subject, nil
}

// Authenticate returns the subject for a valid email/password pair.
func (s *Service) Authenticate(ctx context.Context, email, password string) (string, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	c, err := s.store.CredentialByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return "", ErrInvalidCredentials
	}
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare(hash(password, c.Salt), c.PasswordHash) != 1 {
		return "", ErrInvalidCredentials
	}
	return c.Subject, nil
}

func (s *Service) Remove(ctx context.Context, subject string) error {
	return s.store.DeleteCredential(ctx, subject)
}
