// Package bulk imports and exports the DSC and user collections as a JSON
// backup or CSV. Replacing a collection is not atomic: it is deleted page by
// page and then written in batches.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

var (
	ErrInvalidInput       = errors.New("invalid import data")
	ErrUserImportDisabled = errors.New("user import is disabled: add users through the account registration path")
)

const DefaultBatchSize = 100

// InputError lists every problem found while validating an import.
type InputError struct {
	Problems []string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidInput, strings.Join(e.Problems, "; "))
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

type problems []string

func (p *problems) addf(format string, args ...any) { *p = append(*p, fmt.Sprintf(format, args...)) }

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &InputError{Problems: p}
}

// Summary reports what an import wrote.
type Summary struct {
	Users    int      `json:"users"`
	DSCs     int      `json:"dscs"`
	Warnings []string `json:"warnings,omitempty"`
}

type Service struct {
	store    repo.Store
	batch    int
	uploader Uploader
	newID    func() string
}

type Option func(*Service)

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batch = n
		}
	}
}

// WithUploader enables UploadBackup.
func WithUploader(u Uploader) Option { return func(s *Service) { s.uploader = u } }

func WithIDGenerator(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func New(store repo.Store, opts ...Option) *Service {
	s := &Service{store: store, batch: DefaultBatchSize, newID: newUUID}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) replaceDSCs(ctx context.Context, rows []models.DSC) error {
	if err := drain(ctx, s.batch, s.store.DeleteDSCPage); err != nil {
		return fmt.Errorf("delete dscs: %w", err)
	}
	for start := 0; start < len(rows); start += s.batch {
		end := min(start+s.batch, len(rows))
		if err := s.store.InsertDSCs(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("insert dscs %d..%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Service) replaceUsers(ctx context.Context, rows []models.User) error {
	if err := drain(ctx, s.batch, s.store.DeleteUserPage); err != nil {
		return fmt.Errorf("delete users: %w", err)
	}
	for start := 0; start < len(rows); start += s.batch {
		end := min(start+s.batch, len(rows))
		if err := s.store.InsertUsers(ctx, rows[start:end]); err != nil {
			return fmt.Errorf("insert users %d..%d: %w", start, end, err)
		}
	}
	return nil
}

func drain(ctx context.Context, batch int, deletePage func(context.Context, int) (int, error)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := deletePage(ctx, batch)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}
