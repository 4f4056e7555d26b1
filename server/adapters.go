package server

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"dsctrack/config"
	"dsctrack/internal/bulk"
	"dsctrack/internal/db"
	"dsctrack/internal/identity"
	"dsctrack/internal/ledger"
	"dsctrack/internal/logs"
	"dsctrack/internal/metrics"
	"dsctrack/internal/repo"
)

// Services — доменные компоненты, собранные из конфига. Их использует и
// HTTP-сервер, и одноразовые CLI-команды (export/import/bootstrap-leader).
type Services struct {
	Store    repo.Store
	Ledger   *ledger.Ledger
	Bulk     *bulk.Service
	Identity *identity.Service
	Metrics  *metrics.Metrics

	db *gorm.DB
}

func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{Metrics: metrics.New()}

	store, gdb, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	s.Store, s.db = store, gdb

	bulkOpts := []bulk.Option{bulk.WithBatchSize(cfg.Import.BatchSize)}
	if cfg.Backup.S3.Bucket != "" {
		up, err := bulk.NewS3Uploader(ctx, bulk.S3Config{
			Bucket:    cfg.Backup.S3.Bucket,
			Region:    cfg.Backup.S3.Region,
			Endpoint:  cfg.Backup.S3.Endpoint,
			AccessKey: cfg.Backup.S3.AccessKey,
			SecretKey: cfg.Backup.S3.SecretKey,
		})
		if err != nil {
			s.Close()
			return nil, err
		}
		bulkOpts = append(bulkOpts, bulk.WithUploader(up))
	}

	s.Ledger = ledger.New(store, ledger.WithRecorder(s.Metrics))
	s.Bulk = bulk.New(store, bulkOpts...)
	s.Identity = identity.New(store)
	return s, nil
}

// openStore: пустой или memory driver — хранилище в памяти, иначе gorm + миграция.
func openStore(cfg *config.Config) (repo.Store, *gorm.DB, error) {
	gdb, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("db open failed: %w", err)
	}
	if gdb == nil {
		logs.Logger.Warn("database.driver is memory: data is lost on restart")
		return repo.NewMemoryStore(), nil, nil
	}
	if err := repo.Migrate(gdb); err != nil {
		return nil, nil, fmt.Errorf("db migrate failed: %w", err)
	}
	logs.Logger.WithField("driver", cfg.Database.Driver).Info("database ready")
	return repo.NewGormStore(gdb), gdb, nil
}

func (s *Services) Close() {
	if s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
