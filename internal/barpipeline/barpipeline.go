// Package barpipeline implements the Entry Pipeline (spec section 4.6):
// turning one stat-able source path into archive chunks and an index
// catalog row. Grounded on internal/ingester's general "turn an external
// change into a record" shape (stat/collect, decide, emit), specialized
// here to a filesystem entry instead of a log line.
package barpipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"sync"

	"barchive/internal/bararchive"
	"barchive/internal/barconfig"
	"barchive/internal/barerr"
	"barchive/internal/barhandle"
	"barchive/internal/barindex"
	"barchive/internal/barlog"
	"barchive/internal/callgroup"
)

// defaultSegmentSize is used when Pipeline is constructed with a
// non-positive segmentSize.
const defaultSegmentSize = 1 << 20 // 1 MiB

// SourceEntry names one filesystem path the pipeline should process. Name
// is the path recorded in the index catalog and archive metadata (usually
// Path relative to the job's source root).
type SourceEntry struct {
	Path string
	Name string
}

// Progress is reported after every segment written (spec 4.6: "Progress is
// reported after each segment").
type Progress struct {
	Entry        SourceEntry
	BytesWritten int64
	TotalBytes   int64 // the entry's size from stat at collection time; never -1
}

// Pipeline turns SourceEntrys into archive entries plus index catalog rows.
// One Pipeline is scoped to a single job: its hardlink registry tracks
// device/inode pairs seen so far within that job only.
type Pipeline struct {
	catalog     barindex.Catalog
	segmentSize int
	logger      *slog.Logger

	mu   sync.Mutex
	seen map[hardlinkKey]barindex.IndexID

	priorGroup   callgroup.Group[string]
	priorMu      sync.Mutex
	priorResults map[string]priorLookup
}

type priorLookup struct {
	entry *barindex.PriorEntry
	err   error
}

// New builds a Pipeline. segmentSize <= 0 selects defaultSegmentSize.
func New(catalog barindex.Catalog, segmentSize int, logger *slog.Logger) *Pipeline {
	if segmentSize <= 0 {
		segmentSize = defaultSegmentSize
	}
	return &Pipeline{
		catalog:      catalog,
		segmentSize:  segmentSize,
		logger:       barlog.Default(logger).With("component", "barpipeline"),
		seen:         make(map[hardlinkKey]barindex.IndexID),
		priorResults: make(map[string]priorLookup),
	}
}

// lookupPrior dedupes concurrent LookupPriorEntry calls for the same
// (uuidID, name) pair, which happen whenever a Job fans one entry out to
// several storage Targets at once (barjob.processEntry): every Target's
// goroutine needs the identical answer from the catalog, so only the first
// caller actually queries it.
func (p *Pipeline) lookupPrior(ctx context.Context, uuidID barindex.IndexID, name string) (*barindex.PriorEntry, error) {
	key := strconv.FormatInt(uuidID.N, 10) + "/" + name

	<-p.priorGroup.DoChan(key, func() error {
		entry, err := p.catalog.LookupPriorEntry(ctx, uuidID, name)
		p.priorMu.Lock()
		p.priorResults[key] = priorLookup{entry: entry, err: err}
		p.priorMu.Unlock()
		return err
	})

	p.priorMu.Lock()
	res := p.priorResults[key]
	p.priorMu.Unlock()
	return res.entry, res.err
}

// Process implements spec 4.6 steps (a)-(g) for one SourceEntry: stat +
// attribute collection, the incremental decision (skipped unless mode is
// Incremental or Differential), opening the source handle, streaming its
// bytes through w in fixed segments, and recording the resulting catalog
// row. uuidID scopes the incremental lookup; storageID is the catalog
// parent row new entries attach to.
func (p *Pipeline) Process(ctx context.Context, uuidID, storageID barindex.IndexID, mode barconfig.Mode, entry SourceEntry, w *bararchive.Writer, progress func(Progress)) error {
	c, err := collect(entry.Path, entry.Name)
	if err != nil {
		return barerr.WithContext(fmt.Errorf("stat: %w", classifyStatErr(err)), entry.Name)
	}

	if (c.kind == bararchive.KindFile || c.kind == bararchive.KindImage) && (mode == barconfig.ModeIncremental || mode == barconfig.ModeDifferential) {
		prior, err := p.lookupPrior(ctx, uuidID, entry.Name)
		if err != nil {
			return barerr.WithContext(fmt.Errorf("lookup prior entry: %w", err), entry.Name)
		}
		if prior != nil && prior.Size == c.size && prior.TimeLastChanged.Equal(c.meta.CTime) {
			p.logger.Debug("unchanged, skipping", "name", entry.Name)
			return nil
		}
	}

	if c.kind == bararchive.KindFile && c.multi {
		p.mu.Lock()
		target, ok := p.seen[c.link]
		p.mu.Unlock()
		if ok {
			return p.addHardlink(ctx, storageID, entry.Name, c, w, target)
		}
	}

	switch c.kind {
	case bararchive.KindDirectory:
		return p.addSimple(ctx, storageID, w, c, func() (barindex.IndexID, error) {
			return p.catalog.AddDirectoryEntry(ctx, storageID, barindex.DirectoryEntry{Name: entry.Name, Attrs: attrsOf(c.meta)})
		})
	case bararchive.KindLink:
		return p.addSimple(ctx, storageID, w, c, func() (barindex.IndexID, error) {
			return p.catalog.AddLinkEntry(ctx, storageID, barindex.LinkEntry{Name: entry.Name, Attrs: attrsOf(c.meta), Target: c.meta.LinkTarget})
		})
	case bararchive.KindSpecial:
		return p.addSimple(ctx, storageID, w, c, func() (barindex.IndexID, error) {
			return p.catalog.AddSpecialEntry(ctx, storageID, barindex.SpecialEntry{Name: entry.Name, Attrs: attrsOf(c.meta), RDev: c.meta.RDev})
		})
	case bararchive.KindFile, bararchive.KindImage:
		return p.addData(ctx, storageID, entry, w, c, progress)
	default:
		return fmt.Errorf("barpipeline: unrecognized entry kind for %s", entry.Name)
	}
}

// addSimple handles the no-data entry kinds (directory/link/special):
// begin/end the archive entry (so the chunk stream still carries its
// metadata) and write the catalog row.
func (p *Pipeline) addSimple(ctx context.Context, storageID barindex.IndexID, w *bararchive.Writer, c collected, add func() (barindex.IndexID, error)) error {
	if err := w.BeginEntry(c.kind, c.meta); err != nil {
		return fmt.Errorf("begin entry %s: %w", c.meta.Name, err)
	}
	if err := w.EndEntry(); err != nil {
		return fmt.Errorf("end entry %s: %w", c.meta.Name, err)
	}
	if _, err := add(); err != nil {
		return barerr.WithContext(fmt.Errorf("catalog: %w", err), c.meta.Name)
	}
	return nil
}

// addHardlink records a HardlinkEntry pointing at a previously-written
// entry's id, without opening or re-reading the source file (spec section
// 3: hardlink entries store the target entry id by value).
func (p *Pipeline) addHardlink(ctx context.Context, storageID barindex.IndexID, name string, c collected, w *bararchive.Writer, target barindex.IndexID) error {
	c.meta.HardlinkTarget = uint64(target.N)
	if err := w.BeginEntry(bararchive.KindHardlink, c.meta); err != nil {
		return fmt.Errorf("begin hardlink entry %s: %w", name, err)
	}
	if err := w.EndEntry(); err != nil {
		return fmt.Errorf("end hardlink entry %s: %w", name, err)
	}
	_, err := p.catalog.AddHardlinkEntry(ctx, storageID, barindex.HardlinkEntry{
		Name: name, Attrs: attrsOf(c.meta), TargetEntryID: target,
	})
	if err != nil {
		return barerr.WithContext(fmt.Errorf("catalog: %w", err), name)
	}
	return nil
}

// addData streams a file/image entry's bytes in fixed segments (spec 4.6
// step (e)), reporting Progress after each and observing ctx.Done() at
// segment boundaries (step (f)/section 5 cancellation).
func (p *Pipeline) addData(ctx context.Context, storageID barindex.IndexID, entry SourceEntry, w *bararchive.Writer, c collected, progress func(Progress)) error {
	src, err := barhandle.Open(entry.Path, barhandle.Read)
	if err != nil {
		return barerr.WithContext(fmt.Errorf("open source: %w", err), entry.Name)
	}
	defer src.Close()

	if err := w.BeginEntry(c.kind, c.meta); err != nil {
		return fmt.Errorf("begin entry %s: %w", entry.Name, err)
	}

	digest := sha256.New()
	buf := make([]byte, p.segmentSize)
	var fragments []barindex.Fragment
	var offset int64

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", entry.Name, barerr.ErrCancelled)
		default:
		}

		n, readErr := io.ReadFull(src, buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := w.WriteData(chunk); err != nil {
				return fmt.Errorf("write data %s: %w", entry.Name, err)
			}
			digest.Write(chunk)
			seg := sha256.Sum256(chunk)
			fragments = append(fragments, barindex.Fragment{
				Offset: offset, Length: int64(n), Checksum: hex.EncodeToString(seg[:]),
			})
			offset += int64(n)
			if progress != nil {
				progress(Progress{Entry: entry, BytesWritten: offset, TotalBytes: c.size})
			}
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return barerr.WithContext(fmt.Errorf("read source: %w", readErr), entry.Name)
		}
	}

	if err := w.EndEntry(); err != nil {
		return fmt.Errorf("end entry %s: %w", entry.Name, err)
	}

	checksum := hex.EncodeToString(digest.Sum(nil))
	var entryID barindex.IndexID
	switch c.kind {
	case bararchive.KindImage:
		entryID, err = p.catalog.AddImageEntry(ctx, storageID, barindex.ImageEntry{
			Name: entry.Name, Attrs: attrsOf(c.meta), Size: offset, Fragments: fragments,
		})
	default:
		entryID, err = p.catalog.AddFileEntry(ctx, storageID, barindex.FileEntry{
			Name: entry.Name, Attrs: attrsOf(c.meta), Size: offset, Fragments: fragments, Checksum: checksum,
		})
	}
	if err != nil {
		return barerr.WithContext(fmt.Errorf("catalog: %w", err), entry.Name)
	}

	if c.multi {
		p.mu.Lock()
		p.seen[c.link] = entryID
		p.mu.Unlock()
	}
	return nil
}

func attrsOf(m bararchive.Metadata) barindex.Attributes {
	return barindex.Attributes{
		UID: m.UID, GID: m.GID, Mode: m.Mode,
		MTime: m.MTime, CTime: m.CTime, ATime: m.ATime,
		XAttrs: m.XAttrs,
	}
}

func classifyStatErr(err error) error {
	switch {
	case err == nil:
		return nil
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", barerr.ErrSourceNotFound, err)
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", barerr.ErrPermissionDenied, err)
	default:
		return fmt.Errorf("%w: %v", barerr.ErrReadFailed, err)
	}
}
