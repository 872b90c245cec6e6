package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/afero"

	"zipdaemon/internal/config"
	"zipdaemon/internal/database"
	"zipdaemon/internal/encryption"
	"zipdaemon/internal/fs"
	"zipdaemon/internal/vault"
	"zipdaemon/internal/zipd"
)

// Options tune how an App is built.
type Options struct {
	// Debug lowers the log level to DEBUG.
	Debug bool

	// Console receives a copy of every log record. Nil keeps the log in the
	// file only.
	Console io.Writer

	// Fs is the filesystem the watcher runs on. Defaults to the OS.
	Fs afero.Fs

	// Clock defaults to the real clock.
	Clock zipd.Clock
}

// App is the application layer between the CLI and the Scheduler.
// It constructs all dependencies from config and owns their lifecycle;
// the caller must call Close when done.
type App struct {
	cfg       *config.Config
	fs        afero.Fs
	root      string
	ledger    zipd.Ledger
	vault     zipd.Vault
	encryptor zipd.Encryptor
	logger    *slog.Logger
	logFile   io.Closer
	archiver  *zipd.Archiver
	scheduler *zipd.Scheduler
}

// New validates cfg, rotates the previous log and wires the Archiver and
// Scheduler for cfg.Root.
func New(ctx context.Context, cfg *config.Config, opts Options) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	fsys := opts.Fs
	if fsys == nil {
		fsys = fs.NewOSFs()
	}
	clock := opts.Clock
	if clock == nil {
		clock = zipd.RealClock{}
	}

	root, err := fs.ResolveRoot(fsys, cfg.Root)
	if err != nil {
		return nil, err
	}

	var exclude zipd.Matcher
	patterns := append([]string(nil), cfg.Scan.Exclude...)
	if cfg.Scan.ExcludeFile != "" {
		extra, err := fs.ParseExcludeFile(fsys, cfg.Scan.ExcludeFile)
		if err != nil {
			return nil, err
		}
		patterns = append(patterns, extra...)
	}
	if len(patterns) > 0 {
		m, err := fs.NewExcludeMatcher(patterns)
		if err != nil {
			return nil, fmt.Errorf("scan.exclude: %w", err)
		}
		if m.Len() > 0 {
			exclude = m
		}
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(fsys, cfg.LogFile, opts.Console, level, clock.Now())
	if err != nil {
		return nil, err
	}

	a = &App{
		cfg:     cfg,
		fs:      fsys,
		root:    root,
		logger:  logger,
		logFile: logFile,
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	a.ledger, err = database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return a, fmt.Errorf("creating ledger: %w", err)
	}

	a.vault, err = vault.NewVaultFromConfig(ctx, cfg.Vault)
	if err != nil {
		return a, fmt.Errorf("creating vault: %w", err)
	}
	if a.vault != nil {
		if err = a.vault.ValidateSetup(ctx); err != nil {
			return a, fmt.Errorf("validating vault: %w", err)
		}
	}

	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return a, fmt.Errorf("creating encryptor: %w", err)
	}

	adapter := &slogAdapter{l: logger}
	a.archiver = zipd.NewArchiver(fsys, zipd.ArchiverOptions{
		Root:        root,
		Trigger:     cfg.Scan.Trigger,
		Depth:       cfg.Scan.Depth,
		Marker:      cfg.Scan.Marker,
		Rename:      cfg.Scan.Rename,
		Exclude:     exclude,
		AtomicWrite: cfg.Scan.AtomicWrite,
	}, adapter, clock, zipd.UUIDGenerator{}, a.vault, a.encryptor)
	a.scheduler = zipd.NewScheduler(a.archiver, a.ledger, adapter, clock, cfg.Interval.Duration)

	return a, nil
}

// Root is the resolved directory being watched.
func (a *App) Root() string { return a.root }

// LogPath is the log file written by this run.
func (a *App) LogPath() string { return a.cfg.LogFile }

// Watch runs passes until ctx is cancelled.
func (a *App) Watch(ctx context.Context) error {
	return a.scheduler.Daemon(ctx)
}

// Once runs a single pass.
func (a *App) Once(ctx context.Context) (*zipd.PassResult, error) {
	return a.scheduler.RunOnce(ctx)
}

// Debug runs a single verbose pass, then copies this run's log to out.
func (a *App) Debug(ctx context.Context, out io.Writer) error {
	a.logger.Info("running in debug mode")
	_, passErr := a.scheduler.RunOnce(ctx)
	if passErr != nil {
		a.logger.Error("something went wrong while checking", "error", passErr)
	}
	a.logger.Info("finished")

	f, err := a.fs.Open(a.cfg.LogFile)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(out, f); err != nil {
		return fmt.Errorf("printing log: %w", err)
	}
	return passErr
}

// Close releases the ledger and the log file.
func (a *App) Close() error {
	var firstErr error
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			firstErr = fmt.Errorf("closing ledger: %w", err)
		}
	}
	if a.logFile != nil {
		if err := a.logFile.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log: %w", err)
		}
	}
	return firstErr
}
