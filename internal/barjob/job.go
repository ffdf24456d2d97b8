package barjob

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"barchive/internal/bararchive"
	"barchive/internal/barconfig"
	"barchive/internal/barerr"
	"barchive/internal/barindex"
	"barchive/internal/barlog"
	"barchive/internal/barpipeline"
	"barchive/internal/barstorage"
)

// noSplitVolumeSize is the effective volume ceiling used when
// barconfig.Config.ArchivePartSize is 0 ("no splitting"); bararchive.Writer
// always requires a positive VolumeMaxBytes, so 0 is mapped to a ceiling
// large enough that no real archive ever reaches it.
const noSplitVolumeSize = 1 << 60

// Target is one archive destination a Job writes to. A Job with more than
// one Target produces independent, identical-content archives, one per
// Target, fanned out concurrently (spec 4.7: "across archive objects of
// the same job, writes are independent and may proceed in parallel").
type Target struct {
	Name    string
	Adapter barstorage.Adapter
}

// Outcome summarizes a finished Run call: the history row a caller may
// want to inspect plus the final entity state (spec section 3, 4.9).
type Outcome struct {
	EntityID          barindex.IndexID
	State             barindex.EntityState
	Duration          time.Duration
	TotalEntryCount   int64
	TotalEntrySize    int64
	SkippedEntryCount int64
	SkippedEntrySize  int64
	ErrorEntryCount   int64
	ErrorEntrySize    int64
	ErrorMessage      string
}

// Job is one run of the archive engine over a SourceEntry stream. Run
// records the entity as RUNNING in the catalog and then as COMPLETE or
// ERROR; a cancelled run is recorded as ERROR, with no separate aborted
// state.
type Job struct {
	JobUUID      uuid.UUID
	ScheduleUUID uuid.UUID
	HostName     string
	UserName     string

	Catalog  barindex.Catalog
	Pool     *Pool
	Pipeline *barpipeline.Pipeline
	Cfg      barconfig.Config
	Targets  []Target

	// Password is the deployed plaintext key material for Cfg.Encryption.
	// It is caller-owned: the caller deploys it from a barpass.Password
	// (see barpass.Password.Deploy) and is responsible for the matching
	// undeploy/zero once Run returns. Ignored when Cfg.Encryption is
	// barconfig.EncryptionNone.
	Password []byte

	logger *slog.Logger
	cancel atomic.Bool
}

// New builds a Job. The Pool is shared across Jobs; pipeline and catalog
// are the same dependencies barpipeline.Pipeline already needs.
func New(jobUUID, scheduleUUID uuid.UUID, catalog barindex.Catalog, pool *Pool, pipeline *barpipeline.Pipeline, cfg barconfig.Config, targets []Target, logger *slog.Logger) *Job {
	return &Job{
		JobUUID:      jobUUID,
		ScheduleUUID: scheduleUUID,
		Catalog:      catalog,
		Pool:         pool,
		Pipeline:     pipeline,
		Cfg:          cfg,
		Targets:      targets,
		logger:       barlog.Default(logger).With("component", "barjob.job", "job_uuid", jobUUID),
	}
}

// Abort requests cooperative cancellation: at the next entry boundary Run
// stops, closes its targets and returns barerr.ErrCancelled with state
// EntityError (spec 4.9: "cancellation is observed at entry boundaries,
// not mid-segment").
func (j *Job) Abort() { j.cancel.Store(true) }

func entityTypeFor(mode barconfig.Mode) barindex.EntityType {
	switch mode {
	case barconfig.ModeIncremental:
		return barindex.EntityIncremental
	case barconfig.ModeDifferential:
		return barindex.EntityDifferential
	case barconfig.ModeContinuous:
		return barindex.EntityContinuous
	default:
		return barindex.EntityFull
	}
}

// Run drives entries through the pipeline into every configured Target,
// recording the entity as RUNNING and then COMPLETE or ERROR in the
// catalog, and appending a history row.
func (j *Job) Run(ctx context.Context, entries iter.Seq[barpipeline.SourceEntry]) (Outcome, error) {
	start := time.Now()

	uuidID, err := j.Catalog.NewUUID(ctx, j.JobUUID)
	if err != nil {
		return Outcome{}, fmt.Errorf("barjob: new uuid: %w", err)
	}
	entityID, err := j.Catalog.NewEntity(ctx, uuidID, j.ScheduleUUID, entityTypeFor(j.Cfg.Mode), start)
	if err != nil {
		return Outcome{}, fmt.Errorf("barjob: new entity: %w", err)
	}
	j.logger.Info("job running", "entity_id", entityID)

	writers, storageIDs, err := j.openTargets(ctx, entityID)
	if err != nil {
		j.failEntity(ctx, entityID, err)
		return j.outcome(entityID, barindex.EntityError, start, err), err
	}

	out := j.outcome(entityID, barindex.EntityComplete, start, nil)
	var runErr error

	for entry := range entries {
		if j.cancel.Load() || ctx.Err() != nil {
			runErr = barerr.ErrCancelled
			break
		}

		if err := j.processEntry(ctx, uuidID, storageIDs, entry, writers, &out); err != nil {
			if j.Cfg.Strict {
				runErr = err
				break
			}
			out.ErrorEntryCount++
			j.logger.Warn("entry failed", "name", entry.Name, "error", err)
		}
	}

	closeErr := j.closeTargets(ctx, writers, storageIDs)
	if runErr == nil {
		runErr = closeErr
	}

	state := barindex.EntityComplete
	if runErr != nil {
		state = barindex.EntityError
	}

	out.State = state
	out.Duration = time.Since(start)
	if runErr != nil {
		out.ErrorMessage = runErr.Error()
	}

	if err := j.Catalog.UpdateEntityState(ctx, entityID, state); err != nil {
		j.logger.Error("update entity state", "error", err)
	}

	hist := barindex.History{
		JobUUID:           j.JobUUID,
		ScheduleUUID:      j.ScheduleUUID,
		HostName:          j.HostName,
		UserName:          j.UserName,
		Type:              entityTypeFor(j.Cfg.Mode),
		Created:           start,
		ErrorMessage:      out.ErrorMessage,
		Duration:          out.Duration,
		TotalEntryCount:   out.TotalEntryCount,
		TotalEntrySize:    out.TotalEntrySize,
		SkippedEntryCount: out.SkippedEntryCount,
		SkippedEntrySize:  out.SkippedEntrySize,
		ErrorEntryCount:   out.ErrorEntryCount,
		ErrorEntrySize:    out.ErrorEntrySize,
	}
	if _, err := j.Catalog.NewHistory(ctx, hist); err != nil {
		j.logger.Error("record history", "error", err)
	}

	return out, runErr
}

func (j *Job) outcome(entityID barindex.IndexID, state barindex.EntityState, start time.Time, err error) Outcome {
	o := Outcome{EntityID: entityID, State: state, Duration: time.Since(start)}
	if err != nil {
		o.ErrorMessage = err.Error()
	}
	return o
}

func (j *Job) failEntity(ctx context.Context, entityID barindex.IndexID, err error) {
	if uerr := j.Catalog.UpdateEntityState(ctx, entityID, barindex.EntityError); uerr != nil {
		j.logger.Error("update entity state after failure", "error", uerr)
	}
	j.logger.Error("job failed to start", "error", err)
}

// openTargets creates one storages row and one bararchive.Writer per
// configured Target.
func (j *Job) openTargets(ctx context.Context, entityID barindex.IndexID) ([]*bararchive.Writer, []barindex.IndexID, error) {
	writers := make([]*bararchive.Writer, len(j.Targets))
	storageIDs := make([]barindex.IndexID, len(j.Targets))

	for i, t := range j.Targets {
		storageID, err := j.Catalog.NewStorage(ctx, entityID, t.Name)
		if err != nil {
			return nil, nil, fmt.Errorf("barjob: new storage %s: %w", t.Name, err)
		}
		storageIDs[i] = storageID

		w, err := j.createWriter(ctx, t)
		if err != nil {
			_ = j.Catalog.UpdateStorageState(ctx, storageID, barindex.StorageError, err.Error())
			return nil, nil, fmt.Errorf("barjob: create writer for %s: %w", t.Name, err)
		}
		if err := j.Catalog.UpdateStorageState(ctx, storageID, barindex.StorageCreated, ""); err != nil {
			j.logger.Warn("update storage state", "error", err)
		}
		writers[i] = w
	}
	return writers, storageIDs, nil
}

// createWriter mounts t's adapter (if needed) and opens a bararchive.Writer
// on it, retrying transient storage errors per j.Cfg.Retry: MaxAttempts
// attempts in all, with a backoff delay before each attempt after the
// first (3 attempts wait about 100 ms and then 200 ms at the default base).
func (j *Job) createWriter(ctx context.Context, t Target) (*bararchive.Writer, error) {
	var w *bararchive.Writer
	err := withRetry(ctx, j.Cfg.Retry, j.logger, func() error {
		if !t.Adapter.IsMounted() {
			if err := t.Adapter.Mount(ctx); err != nil {
				return err
			}
		}
		volumeMax := j.Cfg.ArchivePartSize
		if volumeMax <= 0 {
			volumeMax = noSplitVolumeSize // barconfig.ArchivePartSize == 0 means "no splitting"
		}
		writer, err := bararchive.Create(t.Adapter, t.Name, bararchive.WriterConfig{
			Compression:    j.Cfg.Compression,
			Encryption:     j.Cfg.Encryption,
			Password:       j.Password,
			VolumeMaxBytes: volumeMax,
		})
		if err != nil {
			return err
		}
		w = writer
		return nil
	})
	return w, err
}

// processEntry fans the same SourceEntry out to every open Target
// concurrently (golang.org/x/sync/errgroup), each writing through its own
// Writer instance, and folds the progress counters into out.
func (j *Job) processEntry(ctx context.Context, uuidID barindex.IndexID, storageIDs []barindex.IndexID, entry barpipeline.SourceEntry, writers []*bararchive.Writer, out *Outcome) error {
	g, gctx := errgroup.WithContext(ctx)
	var size int64

	for i := range writers {
		i := i
		g.Go(func() error {
			return withRetry(gctx, j.Cfg.Retry, j.logger, func() error {
				return j.Pipeline.Process(gctx, uuidID, storageIDs[i], j.Cfg.Mode, entry, writers[i], func(p barpipeline.Progress) {
					atomic.StoreInt64(&size, p.TotalBytes)
				})
			})
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	out.TotalEntryCount++
	out.TotalEntrySize += atomic.LoadInt64(&size)
	return nil
}

// closeTargets closes every Target's Writer, retrying the final volume's
// upload (the one Put every job always makes at completion) the same way
// createWriter and processEntry retry theirs.
func (j *Job) closeTargets(ctx context.Context, writers []*bararchive.Writer, storageIDs []barindex.IndexID) error {
	var firstErr error
	for i, w := range writers {
		if w == nil {
			continue
		}
		err := withRetry(ctx, j.Cfg.Retry, j.logger, func() error {
			_, err := w.Close()
			return err
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			_ = j.Catalog.UpdateStorageState(ctx, storageIDs[i], barindex.StorageError, err.Error())
			continue
		}
		if err := j.Catalog.UpdateStorageState(ctx, storageIDs[i], barindex.StorageOK, ""); err != nil {
			j.logger.Warn("update storage state", "error", err)
		}
	}
	return firstErr
}

// withRetry runs fn, retrying barerr.Retryable failures with exponential
// backoff bounded by retry.MaxAttempts/BaseDelay/MaxDelay (spec 4.7). A
// zero Retry (MaxAttempts == 0) means "no retry, try exactly once".
func withRetry(ctx context.Context, retry barconfig.Retry, logger *slog.Logger, fn func() error) error {
	attempts := retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !barerr.Retryable(err) || attempt == attempts {
			return err
		}

		delay := backoff(retry, attempt)
		logger.Warn("retrying after transient storage error", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// backoff computes attempt's exponential delay, capped at retry.MaxDelay,
// with up to 20% jitter to avoid synchronized retries across Jobs.
func backoff(retry barconfig.Retry, attempt int) time.Duration {
	base := retry.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	max := retry.MaxDelay
	if max <= 0 {
		max = 30 * time.Second
	}

	d := base * time.Duration(1<<uint(attempt-1))
	if d > max || d <= 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5 + 1))
	return d + jitter
}
