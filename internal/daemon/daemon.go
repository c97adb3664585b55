package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"scribe/internal/api"
	"scribe/internal/config"
	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/pipeline"
	"scribe/internal/reaper"
	"scribe/internal/records"
	"scribe/internal/watcher"
	"scribe/internal/worker"
)

// Daemon owns every background service and the instance lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store *records.Store
	queue *jobs.Store
	orch  *pipeline.Orchestrator

	pool      *worker.Pool
	sweeper   *reaper.Reaper
	inbox     *watcher.Watcher
	apiServer *api.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New wires the full processing stack from configuration. Stores are opened
// here; Close releases them.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon: config required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("prepare directories: %w", err)
	}

	store, err := records.Open(cfg.Paths.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	queue, err := jobs.Open(cfg.Paths.StateDir, jobs.Options{
		MaxAttempts:  cfg.Workflow.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff(),
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open job store: %w", err)
	}

	orch, err := pipeline.New(store, queue, BuildExecutors(cfg, logger), nil, logger)
	if err != nil {
		store.Close()
		queue.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		queue:    queue,
		orch:     orch,
		pool:     worker.New(cfg, queue, orch, logger),
		sweeper:  reaper.New(cfg, queue, store, orch, logger),
		lockPath: filepath.Join(cfg.Paths.StateDir, "scribed.lock"),
	}
	d.lock = flock.New(d.lockPath)

	if cfg.Workflow.WatchInbox {
		inbox, err := watcher.New(cfg.Paths.InboxDir, store, orch, logger, watcher.Options{
			AutoStart: cfg.Workflow.AutoStart,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		d.inbox = inbox
	}

	apiServer, err := api.NewServer(cfg.Paths.APIBind, store, queue, orch, logger)
	if err != nil {
		d.Close()
		return nil, err
	}
	if cfg.Paths.LogDir != "" {
		apiServer.SetLogPath(filepath.Join(cfg.Paths.LogDir, "scribe.log"))
	}
	d.apiServer = apiServer
	return d, nil
}

// Start acquires the instance lock and launches every service.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scribe daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	start := func() error {
		if err := d.pool.Start(runCtx); err != nil {
			return fmt.Errorf("start workers: %w", err)
		}
		if err := d.sweeper.Start(runCtx); err != nil {
			return fmt.Errorf("start reaper: %w", err)
		}
		if d.inbox != nil {
			if err := d.inbox.Start(runCtx); err != nil {
				return fmt.Errorf("start watcher: %w", err)
			}
		}
		if err := d.apiServer.Start(runCtx); err != nil {
			return fmt.Errorf("start api: %w", err)
		}
		return nil
	}
	if err := start(); err != nil {
		d.stopServices()
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return err
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("api", d.apiServer.Addr()))
	return nil
}

// Stop shuts the services down and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.stopServices()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("releasing daemon lock failed", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

func (d *Daemon) stopServices() {
	if d.apiServer != nil {
		d.apiServer.Stop()
	}
	if d.inbox != nil {
		d.inbox.Stop()
	}
	if d.sweeper != nil {
		d.sweeper.Stop()
	}
	if d.pool != nil {
		d.pool.Stop()
	}
}

// Close stops the daemon and releases the stores.
func (d *Daemon) Close() error {
	d.Stop()
	var firstErr error
	if d.queue != nil {
		firstErr = d.queue.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// APIAddr returns the bound API address.
func (d *Daemon) APIAddr() string {
	if d.apiServer == nil {
		return ""
	}
	return d.apiServer.Addr()
}

// Running reports whether the services are up.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
