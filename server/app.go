package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"dsctrack/config"
	"dsctrack/internal/api"
	"dsctrack/internal/expiry"
	"dsctrack/internal/health"
	"dsctrack/internal/logs"
	"dsctrack/internal/middleware"
)

type App struct {
	cfg        *config.Config
	svc        *Services
	watcher    *expiry.Watcher
	Router     *mux.Router
	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func (a *App) Initialize(ctx context.Context, cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	if err := logs.Init(logs.Options{
		Level:  a.cfg.Logging.Level,
		Format: a.cfg.Logging.Format,
		File:   a.cfg.Logging.File,
	}); err != nil {
		return err
	}

	/* 2) Хранилище и доменные сервисы */
	svc, err := NewServices(ctx, cfg)
	if err != nil {
		return err
	}
	a.svc = svc
	a.watcher = expiry.NewWatcher(svc.Ledger, svc.Metrics, cfg.Expiry.ScanInterval, cfg.Expiry.WarnDays)

	/* 3) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer,
		middleware.LoggerMW,
	)

	/* 4) Health + metrics */
	health.RegisterRoutes(a.Router, svc.Store) // /healthz, /readyz
	a.Router.Handle("/metrics", svc.Metrics.Handler()).Methods(http.MethodGet)

	/* 5) API */
	api.RegisterRoutes(a.Router, api.NewHandler(api.Deps{
		Ledger:         svc.Ledger,
		Bulk:           svc.Bulk,
		Identity:       svc.Identity,
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		TokenTTL:       cfg.Auth.TokenTTL,
		ExpiryWarnDays: cfg.Expiry.WarnDays,
	}))

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		logs.Logger.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

func (a *App) Run() error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}
	defer a.svc.Close()

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)

	a.ctx, a.cancel = context.WithCancel(context.Background())
	defer a.cancel()
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case s := <-sigs:
			logs.Logger.Infof("shutdown signal: %s", s)
			a.cancel()
		case <-a.ctx.Done():
		}
	}()

	// Жёсткие таймауты — это важно для production
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second, // импорт резервной копии до 10 МБ
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go a.watcher.Run(a.ctx)

	errCh := make(chan error, 1)
	go func() {
		logs.Logger.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			a.cancel()
		}
	}()

	<-a.ctx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		logs.Logger.Errorf("http shutdown: %v", err)
	}
	select {
	case err := <-errCh:
		return fmt.Errorf("http server error: %w", err)
	default:
		return nil
	}
}
