// Package watcher ingests media files dropped into the inbox directory.
// Each new file becomes an uploaded record; with auto-start enabled the
// pipeline is kicked off immediately. A startup scan picks up files that
// arrived while the daemon was down.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scribe/internal/jobs"
	"scribe/internal/logging"
	"scribe/internal/records"
)

// Starter kicks off pipeline processing for a record. Implemented by the
// pipeline orchestrator.
type Starter interface {
	Start(ctx context.Context, recordID int64) (*jobs.Job, error)
}

var mediaExtensions = map[string]struct{}{
	".mp3":  {},
	".m4a":  {},
	".wav":  {},
	".flac": {},
	".ogg":  {},
	".aac":  {},
	".mp4":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
	".avi":  {},
}

// Options tunes ingestion behavior.
type Options struct {
	// AutoStart enqueues the first stage as soon as a file is ingested.
	AutoStart bool
	// SettleTimeout bounds how long to wait for a file to stop growing
	// before it is ingested anyway.
	SettleTimeout time.Duration
	// SettleInterval is the polling cadence of the settle check.
	SettleInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.SettleTimeout <= 0 {
		o.SettleTimeout = 2 * time.Minute
	}
	if o.SettleInterval <= 0 {
		o.SettleInterval = 500 * time.Millisecond
	}
	return o
}

// Watcher owns the fsnotify subscription and the ingest goroutine.
type Watcher struct {
	inboxDir string
	store    *records.Store
	starter  Starter
	logger   *slog.Logger
	opts     Options

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	fsw     *fsnotify.Watcher
}

// New constructs a watcher for inboxDir. The directory must exist.
func New(inboxDir string, store *records.Store, starter Starter, logger *slog.Logger, opts Options) (*Watcher, error) {
	if strings.TrimSpace(inboxDir) == "" {
		return nil, errors.New("watcher: inbox directory required")
	}
	if store == nil {
		return nil, errors.New("watcher: record store required")
	}
	return &Watcher{
		inboxDir: inboxDir,
		store:    store,
		starter:  starter,
		logger:   logging.NewComponentLogger(logger, "watcher"),
		opts:     opts.withDefaults(),
	}, nil
}

// Start scans the inbox once, then watches it in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.inboxDir); err != nil {
		fsw.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.fsw = fsw
	w.cancel = cancel
	w.running = true

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.ScanInbox(runCtx); err != nil && runCtx.Err() == nil {
			w.logger.Error("inbox scan failed", logging.Error(err))
		}
		w.run(runCtx, fsw)
	}()
	return nil
}

// Stop cancels the watch loop and waits for in-flight ingestion.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	fsw := w.fsw
	w.running = false
	w.cancel = nil
	w.fsw = nil
	w.mu.Unlock()

	cancel()
	fsw.Close()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !IsMediaFile(event.Name) {
				continue
			}
			if err := w.Ingest(ctx, event.Name); err != nil && ctx.Err() == nil {
				w.logger.Error("ingest failed",
					logging.String("path", event.Name),
					logging.Error(err))
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", logging.Error(err))
		}
	}
}

// ScanInbox ingests every media file already present in the inbox.
func (w *Watcher) ScanInbox(ctx context.Context) error {
	entries, err := os.ReadDir(w.inboxDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.inboxDir, entry.Name())
		if !IsMediaFile(path) {
			continue
		}
		if err := w.Ingest(ctx, path); err != nil {
			w.logger.Error("ingest failed",
				logging.String("path", path),
				logging.Error(err))
		}
	}
	return nil
}

// Ingest registers one media file as an uploaded record. Already-known
// paths are skipped.
func (w *Watcher) Ingest(ctx context.Context, path string) error {
	existing, err := w.store.FindBySourcePath(ctx, path)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	if err := w.waitForSettle(ctx, path); err != nil {
		return err
	}

	record, err := w.store.NewUpload(ctx, path)
	if err != nil {
		return err
	}
	w.logger.Info("media ingested",
		logging.Int64(logging.FieldRecordID, record.ID),
		logging.String("path", path))

	if !w.opts.AutoStart || w.starter == nil {
		return nil
	}
	job, err := w.starter.Start(ctx, record.ID)
	if err != nil {
		return err
	}
	if job != nil {
		w.logger.Info("pipeline auto-started",
			logging.Int64(logging.FieldRecordID, record.ID),
			logging.Int64(logging.FieldJobID, job.ID))
	}
	return nil
}

// waitForSettle blocks until the file size is stable across two polls, so a
// file still being copied in is not ingested half-written.
func (w *Watcher) waitForSettle(ctx context.Context, path string) error {
	deadline := time.Now().Add(w.opts.SettleTimeout)
	var lastSize int64 = -1
	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()

		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.opts.SettleInterval):
		}
	}
}

// IsMediaFile reports whether path has a recognized media extension.
func IsMediaFile(path string) bool {
	_, ok := mediaExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}
