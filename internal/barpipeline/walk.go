package barpipeline

import (
	"context"
	"io/fs"
	"iter"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"barchive/internal/barconfig"
)

// Walk yields one SourceEntry per path under root that cfg's include/exclude
// patterns admit (spec 4.6: the per-job directory walk feeding barjob's
// iter.Seq[SourceEntry]). Yielded Names are root-relative, the form
// LookupPriorEntry/Add*Entry key on across successive jobs over the same
// tree. Walking stops early, without error, if ctx is done or the consumer
// stops ranging.
func Walk(ctx context.Context, root string, cfg barconfig.Config) iter.Seq[SourceEntry] {
	return func(yield func(SourceEntry) bool) {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if ctx.Err() != nil {
				return fs.SkipAll
			}
			if err != nil {
				return nil // per-entry stat/read errors are surfaced by Process, not here
			}
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			if rel == "." {
				return nil
			}
			// Exclude patterns prune whole subtrees; include patterns only
			// gate whether a given path is itself backed up. Pruning on
			// Included instead would stop the walk from ever reaching a
			// file two levels under a directory that doesn't itself match
			// an include pattern like "**/*.txt".
			if d.IsDir() && excludedDir(rel, cfg.ExcludePatterns) {
				return fs.SkipDir
			}
			if !cfg.Included(rel) {
				return nil
			}
			if !yield(SourceEntry{Path: path, Name: rel}) {
				return fs.SkipAll
			}
			return nil
		})
	}
}

// excludedDir reports whether rel matches any exclude pattern outright
// (not a prefix match): a directory that is itself excluded has its whole
// subtree pruned.
func excludedDir(rel string, excludePatterns []string) bool {
	for _, p := range excludePatterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}
