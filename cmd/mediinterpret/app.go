package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mediinterpret/internal/attachment"
	"mediinterpret/internal/chat"
	"mediinterpret/internal/config"
	"mediinterpret/internal/consult"
	"mediinterpret/internal/export"
	"mediinterpret/internal/memory"
	"mediinterpret/internal/provider"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg      *config.Config
	cfgPath  string
	logger   *slog.Logger
	store    *memory.SQLiteStore
	files    *attachment.Store
	encoder  *attachment.Encoder
	chat     *chat.Manager
	exporter *export.PDFExporter
	closers  []io.Closer
}

// loadConfig reads the config file, falling back to defaults when it is
// missing so that `chat` and `ask` work before `init`.
func loadConfig() (*config.Config, string, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err == nil {
		return cfg, cfgPath, nil
	}
	if _, statErr := os.Stat(config.ExpandPath(cfgPath)); statErr == nil {
		return nil, cfgPath, err
	}
	logger.Debug("config not found, using defaults", "path", cfgPath)
	cfg = config.Defaults()
	config.ApplyEnv(cfg)
	cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
	cfg.Memory.DBPath = config.ExpandPath(cfg.Memory.DBPath)
	cfg.Attachments.Dir = config.ExpandPath(cfg.Attachments.Dir)
	return cfg, cfgPath, nil
}

// newLogger builds the process logger from config. The --log-level flag
// wins over general.logLevel.
func newLogger(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := cfg.General.LogLevel
	if logLevel != "" {
		level = logLevel
	}

	var out io.Writer = os.Stderr
	var closer io.Closer
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: parseLevel(level)})), closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// openApp wires the provider, stores, catalog and chat manager. Persistence
// is skipped when memory.enabled is false.
func openApp(ctx context.Context) (*app, error) {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logCloser, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	logger = log

	a := &app{cfg: cfg, cfgPath: cfgPath, logger: log}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	prov, err := provider.NewFactory(cfg, log).Primary()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}

	catalog, err := consult.Load(cfg.Catalog.OverridesPath, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.encoder = attachment.NewEncoder(cfg.Attachments.MaxBytes, cfg.Attachments.AllowedTypes)

	mcfg := chat.Config{
		Provider:      prov,
		Catalog:       catalog,
		Logger:        log,
		MaxConcurrent: cfg.General.MaxConcurrentStreams,
		HistoryLimit:  cfg.Memory.MaxHistoryPerConsultation,
	}

	if cfg.Memory.Enabled {
		a.store, err = memory.NewSQLiteStore(cfg.Memory.DBPath, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("consultation store: %w", err)
		}
		a.closers = append(a.closers, a.store)

		a.files, err = attachment.NewStore(attachment.StoreConfig{
			Dir:    cfg.Attachments.Dir,
			DB:     a.store.DB(),
			Logger: log,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("attachment store: %w", err)
		}
		mcfg.Store = a.store
		mcfg.Attachments = a.files
	}

	a.chat, err = chat.NewManager(mcfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Export.Enabled {
		a.exporter = export.NewPDFExporter(export.PDFConfig{
			ProfileDir: cfg.Export.ProfileDir,
			Headless:   cfg.Export.Headless,
			Timeout:    time.Duration(cfg.Export.TimeoutSeconds) * time.Second,
			Logger:     log,
		})
	}

	log.Debug("app ready", "provider", prov.Name(), "memory", cfg.Memory.Enabled, "export", cfg.Export.Enabled)
	return a, nil
}

// prune removes consultations older than the configured retention.
func (a *app) prune(ctx context.Context) {
	if a.store == nil {
		return
	}
	retention := time.Duration(a.cfg.Memory.RetentionDays) * 24 * time.Hour
	if _, err := a.chat.Prune(ctx, retention); err != nil {
		a.logger.Warn("prune failed", "err", err)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i].Close()
	}
}
