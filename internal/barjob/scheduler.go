package barjob

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"barchive/internal/barlog"
)

// Scheduler runs Jobs on cron schedules, one gocron job per
// scheduleUUID (grounded on internal/orchestrator's cronRotationManager:
// one named job per key, add/remove/update/start/stop, ported from
// "seal a chunk on a timer" to "run a job on a cron expression").
type Scheduler struct {
	mu     sync.Mutex
	gocron gocron.Scheduler
	jobs   map[uuid.UUID]gocron.Job
	pool   *Pool
	logger *slog.Logger
}

// NewScheduler creates a Scheduler backed by pool: every scheduled run is
// submitted to the pool under a SubmitterID derived from its scheduleUUID.
func NewScheduler(pool *Pool, logger *slog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("barjob: create cron scheduler: %w", err)
	}
	s := &Scheduler{
		gocron: gs,
		jobs:   make(map[uuid.UUID]gocron.Job),
		pool:   pool,
		logger: barlog.Default(logger).With("component", "barjob.scheduler"),
	}
	gs.Start()
	return s, nil
}

// runFunc is what a scheduled tick executes: build the Job's entry stream
// and run it to completion, logging (not returning) the outcome, since
// gocron tasks are fire-and-forget by design.
type runFunc func(ctx context.Context)

// AddCron registers job to run on cronExpr (standard 5-field cron syntax),
// keyed by scheduleUUID. Replaces any existing schedule for that UUID.
func (s *Scheduler) AddCron(scheduleUUID uuid.UUID, cronExpr string, run runFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(scheduleUUID)

	task := func() {
		s.pool.Run(SubmitterID(scheduleUUID.String()), run)
		s.pool.JoinAll(SubmitterID(scheduleUUID.String()))
	}

	j, err := s.gocron.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(task),
		gocron.WithName(scheduleUUID.String()),
	)
	if err != nil {
		return fmt.Errorf("barjob: schedule %s: %w", scheduleUUID, err)
	}
	s.jobs[scheduleUUID] = j
	s.logger.Info("schedule added", "schedule_uuid", scheduleUUID, "cron", cronExpr)
	return nil
}

// Remove stops and forgets scheduleUUID's job, if any.
func (s *Scheduler) Remove(scheduleUUID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(scheduleUUID)
}

func (s *Scheduler) removeLocked(scheduleUUID uuid.UUID) {
	j, ok := s.jobs[scheduleUUID]
	if !ok {
		return
	}
	if err := s.gocron.RemoveJob(j.ID()); err != nil {
		s.logger.Warn("remove schedule", "schedule_uuid", scheduleUUID, "error", err)
	}
	delete(s.jobs, scheduleUUID)
	s.logger.Info("schedule removed", "schedule_uuid", scheduleUUID)
}

// Has reports whether scheduleUUID currently has a registered schedule.
func (s *Scheduler) Has(scheduleUUID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[scheduleUUID]
	return ok
}

// Shutdown stops the underlying cron scheduler. It does not stop the
// shared Pool; callers shut that down separately once every Job using it
// has finished.
func (s *Scheduler) Shutdown() error {
	return s.gocron.Shutdown()
}
