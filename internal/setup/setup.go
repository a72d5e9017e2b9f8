// Package setup wires a config.Config into a running comparison engine.
package setup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"redline/internal/canonical"
	"redline/internal/config"
	"redline/internal/contentlog"
	"redline/internal/diff"
	"redline/internal/engine"
	"redline/internal/gitrepo"
	"redline/internal/redislog"
	"redline/internal/report"
	"redline/internal/store"
	"redline/internal/versionstore"
)

// Runtime owns the engine and the backend connections behind it.
type Runtime struct {
	Engine  *engine.Engine
	Store   *versionstore.Store
	closers []func() error
}

// Close releases backend connections in reverse order of opening.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// Build opens the configured content log, the converter and the report
// writer, and returns the engine over them.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	rt := &Runtime{}

	log, err := rt.openLog(ctx, cfg, logger)
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	converter, err := canonical.New(canonical.Options{
		Kind:       cfg.Converter,
		PandocPath: cfg.PandocPath,
		WorkDir:    cfg.WorkDir,
		Logger:     logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}

	var sinks []report.Sink
	if strings.TrimSpace(cfg.Mirror.Endpoint) != "" {
		sink, err := report.NewObjectSink(ctx, report.ObjectSinkConfig{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			Bucket:    cfg.Mirror.Bucket,
			UseTLS:    cfg.Mirror.UseTLS,
		})
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("report mirror: %w", err)
		}
		logger.Info("mirroring reports", "endpoint", cfg.Mirror.Endpoint, "bucket", cfg.Mirror.Bucket)
		sinks = append(sinks, sink)
	}

	rt.Store = versionstore.New(log, logger)
	rt.Engine, err = engine.New(engine.Options{
		Store:          rt.Store,
		Differ:         diff.New(diff.Options{MaxTokens: cfg.MaxTokens, Timeout: cfg.DiffTimeout}),
		Converter:      converter,
		Writer:         report.NewWriter(cfg.ReportPath, logger, sinks...),
		Context:        cfg.ReportContext,
		ConvertTimeout: cfg.ConvertTimeout,
		Logger:         logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	logger.Info("engine ready", "backend", cfg.Backend, "converter", converter.Name(), "report", cfg.ReportPath)
	return rt, nil
}

func (r *Runtime) openLog(ctx context.Context, cfg config.Config, logger *slog.Logger) (contentlog.Log, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return contentlog.NewMemory(), nil

	case config.BackendGit:
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			return nil, fmt.Errorf("create repos dir: %w", err)
		}
		return gitrepo.New(cfg.ReposDir), nil

	case config.BackendSQLite, config.BackendPostgres:
		driver, dsn := store.DriverPostgres, cfg.DatabaseURL
		if cfg.Backend == config.BackendSQLite {
			driver, dsn = store.DriverSQLite, cfg.SQLitePath
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		db, err := store.Open(ctx, driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", versionstore.ErrStorageUnavailable, err)
		}
		r.closers = append(r.closers, db.Close)
		if err := store.ApplyMigrations(ctx, db, driver); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
		return store.NewSQLLog(db, driver), nil

	case config.BackendRedis:
		log, err := redislog.New(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", versionstore.ErrStorageUnavailable, err)
		}
		r.closers = append(r.closers, log.Close)
		logger.Info("using redis content log", "url", redactURL(cfg.RedisURL))
		return log, nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}

func redactURL(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return raw
	}
	return raw[:scheme+3] + "***" + raw[at:]
}
