package jobs

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
)

const stateKey = "jobs"

// Persister stores the queue between restarts. *store.Store satisfies it.
type Persister interface {
	SaveState(key string, v any) error
	LoadState(key string, v any) (bool, error)
}

// Publisher receives job lifecycle events. *natsbus.Client satisfies it.
type Publisher interface {
	PublishEvent(topic, eventType, jobID string, data map[string]any) error
}

type Option func(*Queue)

func WithPersister(p Persister) Option {
	return func(q *Queue) { q.persist = p }
}

func WithPublisher(p Publisher) Option {
	return func(q *Queue) { q.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// Queue is the ordered set of jobs plus the standalone artifacts and the
// pause flag. Jobs run in queue order.
type Queue struct {
	mu        sync.Mutex
	jobs      []*Job
	artifacts []Artifact
	paused    bool

	persist   Persister
	publisher Publisher
	now       func() time.Time
}

type snapshot struct {
	Jobs      []Job      `json:"jobs"`
	Artifacts []Artifact `json:"artifacts"`
	Paused    bool       `json:"paused"`
}

// NewQueue creates a queue, restoring any persisted state. Jobs that were
// running when the previous process stopped are marked failed.
func NewQueue(opts ...Option) (*Queue, error) {
	q := &Queue{now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(q)
	}

	if q.persist != nil {
		var snap snapshot
		if _, err := q.persist.LoadState(stateKey, &snap); err != nil {
			return nil, fmt.Errorf("load job queue: %w", err)
		}
		for i := range snap.Jobs {
			j := snap.Jobs[i]
			if j.Status == StatusRunning {
				j.Status = StatusFailed
				j.Result = "interrupted by restart"
				j.UpdatedAt = q.now()
			}
			if j.Artifacts == nil {
				j.Artifacts = []Artifact{}
			}
			q.jobs = append(q.jobs, &j)
		}
		q.artifacts = snap.Artifacts
		q.paused = snap.Paused
	}
	return q, nil
}

// save must be called with q.mu held.
func (q *Queue) save() {
	if q.persist == nil {
		return
	}
	snap := snapshot{Jobs: make([]Job, len(q.jobs)), Artifacts: q.artifacts, Paused: q.paused}
	for i, j := range q.jobs {
		snap.Jobs[i] = *j
	}
	if err := q.persist.SaveState(stateKey, snap); err != nil {
		slog.Error("persist job queue failed", "error", err)
	}
}

func (q *Queue) publish(eventType string, j *Job, data map[string]any) {
	if q.publisher == nil {
		return
	}
	topic := natsbus.TopicEventsQueue
	id := ""
	if j != nil {
		topic = natsbus.TopicEventsJob(j.ID)
		id = j.ID
		if data == nil {
			data = map[string]any{}
		}
		data["status"] = j.Status
		if j.Type != "" {
			data["type"] = j.Type
		}
	}
	if err := q.publisher.PublishEvent(topic, eventType, id, data); err != nil {
		slog.Warn("publish job event failed", "event", eventType, "error", err)
	}
}

func (q *Queue) find(id string) *Job {
	for _, j := range q.jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// Add enqueues a job in the queued state and returns it.
func (q *Queue) Add(spec Spec) (Job, error) {
	if err := spec.validate(); err != nil {
		return Job{}, err
	}
	if spec.Request == nil {
		spec.Request = map[string]any{}
	}
	steps := slices.Clone(spec.Steps)
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = uuid.NewString()
		}
	}
	mode := spec.Mode
	if len(steps) > 0 && mode == "" {
		mode = ModeSerial
	}

	now := q.now()
	j := &Job{
		ID:        uuid.NewString(),
		Type:      spec.Type,
		Status:    StatusQueued,
		Request:   spec.Request,
		Steps:     steps,
		Mode:      mode,
		Artifacts: []Artifact{},
		Actor:     spec.Actor,
		Role:      spec.Role,
		Source:    spec.Source,
		CreatedAt: now,
		UpdatedAt: now,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, j)
	q.save()
	q.publish("job_queued", j, nil)
	return j.clone(), nil
}

func (q *Queue) Get(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j := q.find(id)
	if j == nil {
		return Job{}, false
	}
	return j.clone(), true
}

// List returns copies of all jobs in queue order.
func (q *Queue) List() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = j.clone()
	}
	return out
}

// UpdateStatus moves a job to status and sets its result. A failed job loses
// any artifacts attached while it ran. Unknown ids are ignored; illegal
// transitions return ErrInvalidTransition.
func (q *Queue) UpdateStatus(id string, status Status, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.find(id)
	if j == nil {
		return nil
	}
	if !CanTransition(j.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, status)
	}
	j.Status = status
	j.Result = result
	if status == StatusFailed {
		j.Artifacts = []Artifact{}
	}
	j.UpdatedAt = q.now()
	q.save()

	eventType := "job_" + string(status)
	var data map[string]any
	if result != "" {
		data = map[string]any{"result": result}
	}
	q.publish(eventType, j, data)
	return nil
}

// ClaimNext marks the first queued job running and returns it. It returns
// false when the queue is paused or nothing is queued.
func (q *Queue) ClaimNext() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.paused {
		return Job{}, false
	}
	for _, j := range q.jobs {
		if j.Status != StatusQueued {
			continue
		}
		j.Status = StatusRunning
		j.UpdatedAt = q.now()
		q.save()
		q.publish("job_started", j, nil)
		return j.clone(), true
	}
	return Job{}, false
}

// AddArtifact attaches a to the job. Unknown ids are ignored; finished jobs
// reject new artifacts.
func (q *Queue) AddArtifact(jobID string, a Artifact) error {
	if err := a.validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.find(jobID)
	if j == nil {
		return nil
	}
	if j.Status.Terminal() {
		return ErrJobFinished
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.now()
	}
	a.JobID = jobID
	j.Artifacts = append(j.Artifacts, a)
	j.UpdatedAt = q.now()
	q.save()
	q.publish("artifact_added", j, map[string]any{"artifact_id": a.ID, "name": a.Name})
	return nil
}

// FailQueued fails a job that has not been claimed yet. The status check
// and the transition happen under one lock, so a job claimed concurrently
// is reported as running instead of being failed mid-run.
func (q *Queue) FailQueued(id, result string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.find(id)
	if j == nil {
		return ErrJobNotFound
	}
	switch {
	case j.Status == StatusRunning:
		return ErrJobRunning
	case j.Status.Terminal():
		return fmt.Errorf("%w: job is %s", ErrJobFinished, j.Status)
	}
	j.Status = StatusFailed
	j.Result = result
	j.Artifacts = []Artifact{}
	j.UpdatedAt = q.now()
	q.save()
	q.publish("job_"+string(StatusFailed), j, map[string]any{"result": result})
	return nil
}

// Remove deletes a job that is not running.
func (q *Queue) Remove(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	j := q.find(id)
	if j == nil {
		return ErrJobNotFound
	}
	if j.Status == StatusRunning {
		return ErrJobRunning
	}
	q.jobs = slices.DeleteFunc(q.jobs, func(j *Job) bool { return j.ID == id })
	q.save()
	q.publish("job_removed", j, nil)
	return nil
}

// Clear empties the queue and the standalone artifacts. A running job is
// kept so its outcome is still recorded.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs = slices.DeleteFunc(q.jobs, func(j *Job) bool { return j.Status != StatusRunning })
	q.artifacts = nil
	q.save()
	q.publish("queue_cleared", nil, nil)
}

// Prune drops finished jobs last updated before cutoff.
func (q *Queue) Prune(cutoff time.Time) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.jobs)
	q.jobs = slices.DeleteFunc(q.jobs, func(j *Job) bool {
		return j.Status.Terminal() && j.UpdatedAt.Before(cutoff)
	})
	removed := before - len(q.jobs)
	if removed > 0 {
		q.save()
	}
	return removed
}

func (q *Queue) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// TogglePause flips the pause flag and returns the new value.
func (q *Queue) TogglePause() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setPaused(!q.paused)
	return q.paused
}

func (q *Queue) Pause() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setPaused(true)
}

func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.setPaused(false)
}

func (q *Queue) setPaused(p bool) {
	if q.paused == p {
		return
	}
	q.paused = p
	q.save()
	if p {
		q.publish("queue_paused", nil, nil)
	} else {
		q.publish("queue_resumed", nil, nil)
	}
}

// Reorder places the given queued jobs in the order listed, using only the
// slots queued jobs already occupy. Running and finished jobs never move.
func (q *Queue) Reorder(ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool, len(ids))
	moving := make([]*Job, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fmt.Errorf("job %s listed twice", id)
		}
		seen[id] = true
		j := q.find(id)
		if j == nil {
			return fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		if j.Status != StatusQueued {
			return fmt.Errorf("job %s is %s, only queued jobs can be reordered", id, j.Status)
		}
		moving = append(moving, j)
	}

	next := 0
	for i, j := range q.jobs {
		if seen[j.ID] {
			q.jobs[i] = moving[next]
			next++
		}
	}
	q.save()
	q.publish("queue_reordered", nil, map[string]any{"ids": ids})
	return nil
}

// ImportArtifact stores a standalone artifact.
func (q *Queue) ImportArtifact(a Artifact) (Artifact, error) {
	if err := a.validate(); err != nil {
		return Artifact{}, err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = q.now()
	}
	a.JobID = ""

	q.mu.Lock()
	defer q.mu.Unlock()
	q.artifacts = append(q.artifacts, a)
	q.save()
	return a, nil
}

// RemoveArtifact deletes a standalone or job-produced artifact by id.
func (q *Queue) RemoveArtifact(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.artifacts)
	q.artifacts = slices.DeleteFunc(q.artifacts, func(a Artifact) bool { return a.ID == id })
	if len(q.artifacts) != before {
		q.save()
		return nil
	}
	for _, j := range q.jobs {
		n := len(j.Artifacts)
		j.Artifacts = slices.DeleteFunc(j.Artifacts, func(a Artifact) bool { return a.ID == id })
		if len(j.Artifacts) != n {
			q.save()
			return nil
		}
	}
	return ErrArtifactNotFound
}

// Artifacts merges standalone and job artifacts, newest first.
func (q *Queue) Artifacts() []Artifact {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := slices.Clone(q.artifacts)
	for _, j := range q.jobs {
		out = append(out, j.Artifacts...)
	}
	slices.SortStableFunc(out, func(a, b Artifact) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}
