package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"library-circulation/config"
	"library-circulation/identity"
	"library-circulation/library"
	"library-circulation/logging"
)

// app is one running library instance with everything it owns.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	users   *identity.Store
	manager *library.LibraryManager
	ledger  *library.Ledger
	metrics *http.Server
}

func newApp(cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: logger}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []library.Option{
		library.WithLogger(logger.Named("library")),
		library.WithMetrics(library.NewMetrics(reg)),
		library.WithPolicy(cfg.Policy),
	}
	if cfg.Ledger.Path != "" {
		a.ledger, err = library.NewLedger(cfg.Ledger.Path)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		opts = append(opts, library.WithJournal(a.ledger))
		logger.Info("ledger opened", zap.String("path", cfg.Ledger.Path), zap.Stringer("session", a.ledger.Session()))
	}

	a.users = identity.NewStore(identity.WithLogger(logger.Named("identity")))
	a.manager, err = library.NewLibraryManager(a.users, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}

	if err := a.seed(); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(reg)
	}
	return a, nil
}

func (a *app) seed() error {
	if a.cfg.Seed.Demo {
		err := a.users.Register(identity.Registration{
			Username: "admin",
			Password: a.cfg.Seed.AdminPassword,
			Email:    "admin@library.local",
			Role:     library.RoleAdmin,
		})
		if err != nil && !errors.Is(err, identity.ErrUserExists) {
			return fmt.Errorf("seed admin: %w", err)
		}
		a.manager.Preload(library.DemoCatalog())
	}
	if a.cfg.Catalog.File != "" {
		entries, err := library.ReadCatalogFile(a.cfg.Catalog.File)
		if err != nil {
			return fmt.Errorf("import catalog: %w", err)
		}
		added, skipped := a.manager.Preload(entries)
		a.log.Info("catalog imported",
			zap.String("file", a.cfg.Catalog.File),
			zap.Int("added", added),
			zap.Int("skipped", skipped))
	}
	return nil
}

func (a *app) serveMetrics(reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	a.metrics = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info("metrics endpoint up", zap.String("addr", a.cfg.Metrics.Addr))
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server", zap.Error(err))
		}
	}()
}

func (a *app) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.log.Warn("metrics shutdown", zap.Error(err))
		}
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Warn("ledger close", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}
