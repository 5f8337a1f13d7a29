package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"reviewline/internal/config"
	"reviewline/internal/content"
	"reviewline/internal/db"
	"reviewline/internal/engine"
	"reviewline/internal/logging"
	"reviewline/internal/migrate"
	"reviewline/internal/notify"
)

// Options override parts of the workspace config.
type Options struct {
	// LogLevel replaces log.level when set.
	LogLevel string
	// Config skips reading reviewline.yml when set.
	Config *config.Config
}

// Runtime is a migrated workspace with its engine wired to the configured
// notifier, content store and logger.
type Runtime struct {
	Workspace string
	Config    *config.Config
	Engine    engine.Engine
	Logger    *zap.Logger
	closers   []func() error
}

// Open prepares the workspace database and builds the engine.
func Open(ctx context.Context, workspace string, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(workspace); err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}
	level := cfg.Log.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	logger, err := logging.New(level)
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, Logger: logger}
	rt.closers = append(rt.closers, func() error {
		_ = logger.Sync()
		return nil
	})

	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, conn.Close)
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		rt.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	notifier, closeNotifier, err := notify.New(cfg.Notify, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.closers = append(rt.closers, closeNotifier)
	store, err := content.New(cfg.Content, workspace)
	if err != nil {
		rt.Close()
		return nil, err
	}

	e := engine.New(conn, cfg)
	e.Notifier = notifier
	e.Content = store
	e.Logger = logger.Named("engine")
	rt.Engine = e
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}
