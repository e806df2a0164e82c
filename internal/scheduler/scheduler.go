// Package scheduler enqueues catalog job definitions when their schedule
// comes due and prunes finished jobs past the retention window.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
)

// Source is recorded on every job the scheduler enqueues.
const Source = "scheduler"

// Catalog is the part of *jobs.Catalog the scheduler needs.
type Catalog interface {
	Due(now time.Time) ([]jobs.Definition, error)
	MarkRun(d jobs.Definition, jobID string, now time.Time) error
}

// Queue is the part of *jobs.Queue the scheduler needs.
type Queue interface {
	Add(spec jobs.Spec) (jobs.Job, error)
	Prune(cutoff time.Time) int
}

type Scheduler struct {
	catalog      Catalog
	queue        Queue
	events       jobs.Publisher
	pollInterval time.Duration
	retention    time.Duration
	now          func() time.Time
	reloadCh     chan struct{}
}

// New creates a scheduler. events may be nil. A zero retention keeps
// finished jobs forever.
func New(c Catalog, q Queue, events jobs.Publisher, cfg config.SchedulerConfig, retention time.Duration) *Scheduler {
	return &Scheduler{
		catalog:      c,
		queue:        q,
		events:       events,
		pollInterval: cfg.PollInterval,
		retention:    retention,
		now:          func() time.Time { return time.Now().UTC() },
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.pollInterval = pollInterval
	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "retention", s.retention)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.pollInterval)
			slog.Info("scheduler config reloaded", "poll_interval", s.pollInterval)
		case <-ticker.C:
			s.poll()
		}
	}
}

// poll enqueues every due definition and returns how many were enqueued.
func (s *Scheduler) poll() int {
	now := s.now()
	if s.retention > 0 {
		if n := s.queue.Prune(now.Add(-s.retention)); n > 0 {
			slog.Info("pruned finished jobs", "count", n)
		}
	}

	due, err := s.catalog.Due(now)
	if err != nil {
		slog.Error("failed to get due job definitions", "error", err)
		return 0
	}

	enqueued := 0
	for _, d := range due {
		if s.execute(d, now) {
			enqueued++
		}
	}
	return enqueued
}

// execute enqueues d under the role it was saved with. Definitions with no
// recorded role run as viewer.
func (s *Scheduler) execute(d jobs.Definition, now time.Time) bool {
	spec := d.Spec(Source)
	if spec.Role == "" {
		spec.Role = command.RoleViewer
	}

	job, err := s.queue.Add(spec)
	if err != nil {
		slog.Error("scheduled job rejected", "name", d.Name, "error", err)
		// Advance the schedule so a broken definition is not retried every poll.
		if err := s.catalog.MarkRun(d, "", now); err != nil {
			slog.Error("failed to update job definition run", "name", d.Name, "error", err)
		}
		return false
	}
	slog.Info("scheduled job enqueued", "name", d.Name, "job", job.ID, "role", spec.Role)

	if err := s.catalog.MarkRun(d, job.ID, now); err != nil {
		slog.Error("failed to update job definition run", "name", d.Name, "error", err)
	}
	s.publishFired(d, job.ID)
	return true
}

func (s *Scheduler) publishFired(d jobs.Definition, jobID string) {
	if s.events == nil {
		return
	}
	data := map[string]any{
		"name":     d.Name,
		"schedule": d.Schedule,
	}
	if err := s.events.PublishEvent(natsbus.TopicEventsSchedule, "schedule_fired", jobID, data); err != nil {
		slog.Warn("publish schedule event failed", "name", d.Name, "error", err)
	}
}
