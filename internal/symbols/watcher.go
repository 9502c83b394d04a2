package symbols

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is how often the watcher checks the image on disk.
const DefaultPollInterval = time.Second

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path         string
	Options      Options
	PollInterval time.Duration
	StableDelay  time.Duration
}

// Status describes the watcher's current image.
type Status struct {
	Path      string    `json:"path"`
	Loaded    bool      `json:"loaded"`
	Functions int       `json:"functions"`
	LoadedAt  time.Time `json:"loaded_at,omitempty"`
	Reloads   uint64    `json:"reloads"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher keeps a Reloadable in step with an ELF file that may be rebuilt
// while the feed is running. When the file changes the old set is dropped
// at once; the new one is loaded after the file has settled.
type Watcher struct {
	cfg    WatcherConfig
	target *Reloadable
	logger *zap.Logger

	isReloading atomic.Bool
	reloadMu    sync.Mutex

	reloads  atomic.Uint64
	failures atomic.Uint64
	lastErr  atomic.Value
}

// NewWatcher creates a Watcher that publishes into target.
func NewWatcher(cfg WatcherConfig, target *Reloadable, logger *zap.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.StableDelay <= 0 {
		cfg.StableDelay = DefaultStableDelay
	}
	return &Watcher{
		cfg:    cfg,
		target: target,
		logger: logger.Named("symbols").With(zap.String("path", cfg.Path)),
	}
}

// IsReloading reports whether a reload is running.
func (w *Watcher) IsReloading() bool {
	return w.isReloading.Load()
}

// Reload waits for the file to settle, loads it and swaps it in. On
// failure the target is left empty rather than holding a stale image.
func (w *Watcher) Reload(ctx context.Context) error {
	if !w.reloadMu.TryLock() {
		return ErrReloadInProgress
	}
	defer w.reloadMu.Unlock()

	w.isReloading.Store(true)
	defer w.isReloading.Store(false)

	if err := WaitStable(ctx, w.cfg.Path, w.cfg.StableDelay); err != nil {
		return w.fail(err)
	}
	set, err := Load(w.cfg.Path, w.cfg.Options)
	if err != nil {
		return w.fail(err)
	}

	w.target.Swap(set)
	w.reloads.Add(1)
	w.lastErr.Store("")
	w.logger.Info("symbols loaded",
		zap.Int("functions", set.Functions()),
		zap.Time("loadedAt", set.LoadedAt()),
	)
	return nil
}

func (w *Watcher) fail(err error) error {
	w.target.Swap(nil)
	w.failures.Add(1)
	w.lastErr.Store(err.Error())
	w.logger.Warn("symbol load failed", zap.Error(err))
	return err
}

// Run loads the image and then polls it until ctx is cancelled, reloading
// whenever the file changes.
func (w *Watcher) Run(ctx context.Context) {
	if err := w.Reload(ctx); err != nil && ctx.Err() != nil {
		return
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur := w.target.Current()
		if cur != nil && cur.Valid() {
			continue
		}
		if cur != nil {
			w.logger.Info("symbol file changed")
			w.target.Swap(nil)
		}
		if err := w.Reload(ctx); err != nil && !errors.Is(err, ErrReloadInProgress) && ctx.Err() != nil {
			return
		}
	}
}

// Status returns the current state.
func (w *Watcher) Status() Status {
	st := Status{
		Path:     w.cfg.Path,
		Reloads:  w.reloads.Load(),
		Failures: w.failures.Load(),
	}
	if msg, ok := w.lastErr.Load().(string); ok {
		st.LastError = msg
	}
	if cur := w.target.Current(); cur != nil {
		st.Loaded = true
		st.Functions = cur.Functions()
		st.LoadedAt = cur.LoadedAt()
	}
	return st
}
