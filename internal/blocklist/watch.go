package blocklist

import (
	"context"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/fsnotify/fsnotify"
)

// ReloadFunc reloads the blocklist from path and installs it, returning the
// stats of the reload.  Implementations are expected to call Load and then
// Swap the result into the live Blocklist.
type ReloadFunc func(ctx context.Context, path string) (stats LoadStats, err error)

// Watcher watches a blocklist file for changes and triggers reload on
// write events.  It debounces nothing: rapid successive writes simply
// cause successive reloads, which is safe because Swap is atomic.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	reload ReloadFunc
	logger *slog.Logger
}

// NewWatcher creates a Watcher for path.  reload and l must not be nil.
func NewWatcher(path string, reload ReloadFunc, l *slog.Logger) (w *Watcher, err error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = fsw.Add(path)
	if err != nil {
		_ = fsw.Close()

		return nil, err
	}

	return &Watcher{fsw: fsw, path: path, reload: reload, logger: l}, nil
}

// Run watches for file-change events until ctx is canceled.  It should be
// called in its own goroutine.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			w.triggerReload(ctx)
		case fsErr, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

			w.logger.WarnContext(ctx, "watching blocklist file", slogutil.KeyError, fsErr)
		}
	}
}

// triggerReload invokes the reload callback and logs the outcome.
func (w *Watcher) triggerReload(ctx context.Context) {
	stats, err := w.reload(ctx, w.path)
	if err != nil {
		w.logger.ErrorContext(ctx, "reloading blocklist after file change", slogutil.KeyError, err)

		return
	}

	w.logger.InfoContext(ctx, "reloaded blocklist after file change",
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
	)
}

// Close stops watching and releases the underlying inotify/kqueue/etc.
// handle.
func (w *Watcher) Close() (err error) {
	return w.fsw.Close()
}
