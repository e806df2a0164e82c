package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/commands"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
	"github.com/mtzanidakis/meshwork/internal/store"
)

type recordedEvent struct {
	topic, eventType, jobID string
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recorder) PublishEvent(topic, eventType, jobID string, _ map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{topic, eventType, jobID})
	return nil
}

func setup(t *testing.T) (*jobs.Catalog, *jobs.Queue) {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q, err := jobs.NewQueue()
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return jobs.NewCatalog(s), q
}

func TestPollEnqueuesDueDefinitions(t *testing.T) {
	catalog, q := setup(t)
	if _, err := catalog.Save(jobs.Definition{Name: "hourly-stats", Type: "workspace_stats", Schedule: "1h"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := catalog.Save(jobs.Definition{Name: "manual", Type: "list_agents"}); err != nil {
		t.Fatalf("save: %v", err)
	}

	rec := &recorder{}
	s := New(catalog, q, rec, config.SchedulerConfig{PollInterval: time.Second}, 0)

	if n := s.poll(); n != 0 {
		t.Fatalf("expected nothing due yet, enqueued %d", n)
	}

	later := time.Now().UTC().Add(2 * time.Hour)
	s.now = func() time.Time { return later }
	if n := s.poll(); n != 1 {
		t.Fatalf("expected 1 job enqueued, got %d", n)
	}

	list := q.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 queued job, got %d", len(list))
	}
	job := list[0]
	if job.Type != "workspace_stats" || job.Source != Source || job.Role != command.RoleViewer {
		t.Errorf("unexpected job %+v", job)
	}

	d, err := catalog.Get("hourly-stats")
	if err != nil || d == nil {
		t.Fatalf("get definition: %v", err)
	}
	if d.LastJobID != job.ID {
		t.Errorf("expected last job %s, got %s", job.ID, d.LastJobID)
	}
	if d.NextRunAt == nil || !d.NextRunAt.After(later) {
		t.Errorf("expected next run after %v, got %v", later, d.NextRunAt)
	}

	if n := s.poll(); n != 0 {
		t.Errorf("expected definition to wait for its next run, enqueued %d", n)
	}

	if len(rec.events) != 1 || rec.events[0].eventType != "schedule_fired" || rec.events[0].jobID != job.ID {
		t.Errorf("unexpected events %+v", rec.events)
	}
}

// runner wires the built-in commands to q so scheduled jobs can be
// processed end to end.
func runner(t *testing.T, catalog *jobs.Catalog, q *jobs.Queue) (*command.Registry, *command.Env, *jobs.Processor) {
	t.Helper()
	reg := command.NewRegistry()
	if err := commands.Register(reg); err != nil {
		t.Fatalf("register commands: %v", err)
	}
	ws, err := mesh.NewWorkspaceStore(nil)
	if err != nil {
		t.Fatalf("workspace store: %v", err)
	}
	eco, err := mesh.NewEcosystemStore(nil)
	if err != nil {
		t.Fatalf("ecosystem store: %v", err)
	}
	env := &command.Env{Workspace: ws, Ecosystem: eco, Jobs: q, Catalog: catalog}
	return reg, env, jobs.NewProcessor(q, command.NewDispatcher(reg, env), 0)
}

func TestScheduledJobsRunUnderSaverRole(t *testing.T) {
	catalog, q := setup(t)
	reg, env, p := runner(t, catalog, q)

	err := env.Workspace.Update(func(w *mesh.Workspace) error {
		w.Agents = append(w.Agents, mesh.Agent{ID: "a1", Name: "Scout", Role: "researcher"})
		return nil
	})
	if err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	operator := env.ContextFor(jobs.Job{Actor: "op", Role: command.RoleOperator})
	_, err = reg.Execute(context.Background(), "save_job_definition", map[string]any{
		"name":     "wipe",
		"type":     "reset_workspace",
		"schedule": "1m",
	}, operator)
	if !errors.Is(err, command.ErrForbidden) {
		t.Fatalf("operator saving reset_workspace: err = %v, want forbidden", err)
	}

	// A definition already stored under the operator role still cannot
	// escalate when it fires.
	if _, err := catalog.Save(jobs.Definition{Name: "wipe", Type: "reset_workspace", Schedule: "1m", Role: command.RoleOperator}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s := New(catalog, q, nil, config.SchedulerConfig{}, 0)
	s.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if n := s.poll(); n != 1 {
		t.Fatalf("expected 1 job enqueued, got %d", n)
	}

	job := q.List()[0]
	if job.Role != command.RoleOperator {
		t.Fatalf("scheduled job role = %q, want operator", job.Role)
	}
	p.Tick(context.Background())

	got, _ := q.Get(job.ID)
	if got.Status != jobs.StatusFailed || !strings.Contains(got.Result, "reset_workspace") {
		t.Errorf("scheduled job = %s %q, want failed and forbidden", got.Status, got.Result)
	}
	if n := len(env.Workspace.Snapshot().Agents); n != 1 {
		t.Errorf("agents after scheduled run = %d, want 1", n)
	}
}

func TestScheduledJobsKeepAdminRole(t *testing.T) {
	catalog, q := setup(t)
	reg, env, p := runner(t, catalog, q)

	err := env.Workspace.Update(func(w *mesh.Workspace) error {
		w.Agents = append(w.Agents, mesh.Agent{ID: "a1", Name: "Scout", Role: "researcher"})
		return nil
	})
	if err != nil {
		t.Fatalf("seed workspace: %v", err)
	}

	admin := env.ContextFor(jobs.Job{Actor: "root", Role: command.RoleAdmin})
	if _, err := reg.Execute(context.Background(), "save_job_definition", map[string]any{
		"name":     "nightly-wipe",
		"type":     "reset_workspace",
		"schedule": "1m",
	}, admin); err != nil {
		t.Fatalf("admin save: %v", err)
	}

	s := New(catalog, q, nil, config.SchedulerConfig{}, 0)
	s.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	if n := s.poll(); n != 1 {
		t.Fatalf("expected 1 job enqueued, got %d", n)
	}
	p.Tick(context.Background())

	got := q.List()[0]
	if got.Role != command.RoleAdmin || got.Status != jobs.StatusCompleted {
		t.Errorf("scheduled job = %s/%s %q, want admin completed", got.Role, got.Status, got.Result)
	}
	if n := len(env.Workspace.Snapshot().Agents); n != 0 {
		t.Errorf("agents after scheduled reset = %d, want 0", n)
	}
}

func TestPollPrunesFinishedJobs(t *testing.T) {
	catalog, q := setup(t)
	job, err := q.Add(jobs.Spec{Type: "list_agents"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, ok := q.ClaimNext(); !ok {
		t.Fatal("expected to claim job")
	}
	if err := q.UpdateStatus(job.ID, jobs.StatusCompleted, "done"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := q.Add(jobs.Spec{Type: "list_agents"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	s := New(catalog, q, nil, config.SchedulerConfig{}, time.Hour)
	s.now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }
	s.poll()

	list := q.List()
	if len(list) != 1 || list[0].Status != jobs.StatusQueued {
		t.Fatalf("expected only the queued job to remain, got %+v", list)
	}
}

func TestStartStopsOnCancel(t *testing.T) {
	catalog, q := setup(t)
	s := New(catalog, q, nil, config.SchedulerConfig{PollInterval: 10 * time.Millisecond}, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
