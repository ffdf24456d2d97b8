package barpipeline

import (
	"context"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"barchive/internal/barconfig"
	"barchive/internal/barlog"
)

// Watcher drives continuous mode (spec 4.6: "continuous mode additionally
// drives Process from an fsnotify.Watcher event loop instead of a single
// directory walk"). Grounded on internal/ingester/tail's discovery +
// fsnotify event-loop shape (here: watch root and every directory under
// it, yield an entry on create/write; remove and rename events are dropped).
type Watcher struct {
	root   string
	cfg    barconfig.Config
	logger *slog.Logger
}

// NewWatcher builds a Watcher over root, restricted to cfg's include/exclude
// patterns.
func NewWatcher(root string, cfg barconfig.Config, logger *slog.Logger) *Watcher {
	return &Watcher{root: root, cfg: cfg, logger: barlog.Default(logger).With("component", "barpipeline.watch")}
}

// Watch yields one SourceEntry per create/write event observed on an
// included non-directory path under root, until ctx is done. Rename events
// yield nothing (fsnotify reports them under the old name; a file renamed
// into a watched directory arrives as a create). It performs no initial
// directory walk of its own; callers that want an initial full pass should
// range over Walk first and then Watch.
func (cw *Watcher) Watch(ctx context.Context) iter.Seq[SourceEntry] {
	return func(yield func(SourceEntry) bool) {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cw.logger.Error("create fsnotify watcher", "error", err)
			return
		}
		defer watcher.Close()

		if err := cw.addDirs(watcher); err != nil {
			cw.logger.Error("watch directories", "error", err)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				entry, ok := cw.handleEvent(watcher, event)
				if !ok {
					continue
				}
				if !yield(entry) {
					return
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				cw.logger.Warn("fsnotify error", "error", err)
			}
		}
	}
}

// addDirs registers a watch on root and every directory already under it,
// so creation of new files anywhere in the tree is observed. New
// subdirectories created later are picked up from their own Create event.
func (cw *Watcher) addDirs(watcher *fsnotify.Watcher) error {
	return filepath.Walk(cw.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if addErr := watcher.Add(path); addErr != nil {
				cw.logger.Warn("failed to watch directory", "dir", path, "error", addErr)
			}
		}
		return nil
	})
}

// handleEvent turns one fsnotify.Event into a SourceEntry, or reports ok=false
// when the event names an excluded path, a removal or a rename (nothing to
// process).
func (cw *Watcher) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) (SourceEntry, bool) {
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return SourceEntry{}, false
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return SourceEntry{}, false
	}

	rel, err := filepath.Rel(cw.root, event.Name)
	if err != nil {
		rel = event.Name
	}
	if excludedDir(rel, cw.cfg.ExcludePatterns) || !cw.cfg.Included(rel) {
		return SourceEntry{}, false
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if addErr := watcher.Add(event.Name); addErr != nil {
				cw.logger.Warn("failed to watch new directory", "dir", event.Name, "error", addErr)
			}
			return SourceEntry{}, false
		}
	}

	return SourceEntry{Path: event.Name, Name: rel}, true
}
