// Package expiry periodically reports DSCs that are about to expire.
package expiry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"dsctrack/internal/logs"
	"dsctrack/internal/models"
)

const (
	DefaultInterval = time.Hour
	DefaultWarnDays = 30
	scanTimeout     = 30 * time.Second
)

// Source lists DSCs expiring on or before now+window.
type Source interface {
	ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]models.DSC, error)
}

// Gauge receives the number of DSCs found by the last scan.
type Gauge interface {
	SetExpiringSoon(n int)
}

type Watcher struct {
	src      Source
	gauge    Gauge
	interval time.Duration
	window   time.Duration
	now      func() time.Time
}

func NewWatcher(src Source, gauge Gauge, interval time.Duration, warnDays int) *Watcher {
	if warnDays <= 0 {
		warnDays = DefaultWarnDays
	}
	return &Watcher{
		src:      src,
		gauge:    gauge,
		interval: interval,
		window:   time.Duration(warnDays) * 24 * time.Hour,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Scan runs one pass and returns what it found.
func (w *Watcher) Scan(ctx context.Context) ([]models.DSC, error) {
	now := w.now()
	found, err := w.src.ExpiringWithin(ctx, now, w.window)
	if err != nil {
		return nil, err
	}
	today := models.TruncateDate(now)
	for _, d := range found {
		days := int(models.TruncateDate(d.ExpiryDate).Sub(today).Hours() / 24)
		entry := logs.Logger.WithFields(logrus.Fields{
			"serial":    d.SerialNumber,
			"expiry":    d.ExpiryDate.Format(models.DateLayout),
			"days_left": days,
			"status":    d.Status,
		})
		if days < 0 {
			entry.Warn("dsc expired")
		} else {
			entry.Warn("dsc expiring soon")
		}
	}
	if w.gauge != nil {
		w.gauge.SetExpiringSoon(len(found))
	}
	return found, nil
}

// Run scans once at start and then every interval until ctx is done.
// A non-positive interval disables the watcher.
func (w *Watcher) Run(ctx context.Context) {
	if w.interval <= 0 {
		logs.Logger.Info("expiry watcher disabled")
		return
	}
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Watcher) tick(ctx context.Context) {
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()
	if _, err := w.Scan(scanCtx); err != nil {
		logs.Logger.WithError(err).Error("expiry scan failed")
	}
}
