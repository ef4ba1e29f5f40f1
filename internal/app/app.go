package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"mtlcap/internal/logging"
	"mtlcap/internal/paths"
	"mtlcap/internal/storage"
	"mtlcap/internal/storage/sqlite"
)

// App represents the application context
type App struct {
	Storage storage.Storage
	Logger  *slog.Logger
	Config  *Config

	closeLog func() error
}

// Config represents application configuration
type Config struct {
	DBPath   string
	CacheDir string
	LogPath  string
}

// Options select where the application keeps its state.
type Options struct {
	// DBPath overrides the default database location.
	DBPath string
	// LogLevel overrides the log_level setting when non-empty.
	LogLevel string
	// LogFile mirrors log output to mtlcap.log in the cache directory.
	LogFile bool
	// Quiet keeps log output off stderr. It implies LogFile.
	Quiet bool
}

// New creates a new application instance
func New(opts Options) (*App, error) {
	dataDir, err := paths.DataDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cacheDir, err := paths.CacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "mtlcap.db")
	}
	store, err := sqlite.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	paths.ChownToRealUser(dbPath)

	level := opts.LogLevel
	if level == "" {
		if v, err := store.GetSetting(context.Background(), "log_level"); err == nil {
			level = v
		}
	}
	var logPath string
	if opts.LogFile || opts.Quiet {
		logPath = filepath.Join(cacheDir, "mtlcap.log")
	}
	logger, closeLog := logging.New(level, logPath, opts.Quiet)
	if logPath != "" {
		paths.ChownToRealUser(logPath)
	}

	return &App{
		Storage: store,
		Logger:  logger,
		Config: &Config{
			DBPath:   dbPath,
			CacheDir: cacheDir,
			LogPath:  logPath,
		},
		closeLog: closeLog,
	}, nil
}

// Settings loads the current tuning settings.
func (a *App) Settings(ctx context.Context) (Settings, error) {
	return LoadSettings(ctx, a.Storage)
}

// Close closes the application and releases resources
func (a *App) Close() error {
	var err error
	if a.Storage != nil {
		err = a.Storage.Close()
	}
	if a.closeLog != nil {
		if cerr := a.closeLog(); err == nil {
			err = cerr
		}
	}
	return err
}
