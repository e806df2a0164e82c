package ipc

import (
	"context"
	"testing"
	"time"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
)

func newTestServer(t *testing.T) (*natsbus.Client, *jobs.Queue) {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)

	serverConn, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(serverConn.Close)

	q, err := jobs.NewQueue()
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	reg := command.NewRegistry()
	reg.MustRegister(command.Definition{
		ID:          "list_agents",
		Description: "List agents",
		Execute:     func(context.Context, command.Args, *command.Context) (any, error) { return nil, nil },
	})

	srv := New(serverConn, q, reg, command.RoleOperator)
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(srv.Stop)
	if err := serverConn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)
	return client, q
}

func call(t *testing.T, client *natsbus.Client, reqType string, payload any) *Response {
	t.Helper()
	resp, err := Call(client, reqType, payload, 2*time.Second)
	if err != nil {
		t.Fatalf("%s: %v", reqType, err)
	}
	return resp
}

func TestEnqueueAndGet(t *testing.T) {
	client, q := newTestServer(t)

	resp := call(t, client, TypeEnqueue, EnqueuePayload{Type: "list_agents"})
	if !resp.OK || resp.ID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}

	job, ok := q.Get(resp.ID)
	if !ok {
		t.Fatal("job not in queue")
	}
	if job.Source != Source || job.Role != command.RoleOperator {
		t.Errorf("unexpected job origin %+v", job)
	}

	got := call(t, client, TypeGet, map[string]string{"id": resp.ID})
	if got.Job == nil || got.Job.ID != resp.ID {
		t.Errorf("unexpected get response %+v", got)
	}

	list := call(t, client, TypeList, nil)
	if len(list.Jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(list.Jobs))
	}

	removed := call(t, client, TypeRemove, map[string]string{"id": resp.ID})
	if !removed.OK {
		t.Errorf("remove failed: %s", removed.Error)
	}
	if len(q.List()) != 0 {
		t.Error("expected empty queue after remove")
	}
}

func TestEnqueueRejectsEmptyJob(t *testing.T) {
	client, _ := newTestServer(t)

	resp := call(t, client, TypeEnqueue, EnqueuePayload{})
	if resp.OK || resp.Error == "" {
		t.Errorf("expected error, got %+v", resp)
	}
}

func TestPauseResumeAndCommands(t *testing.T) {
	client, q := newTestServer(t)

	call(t, client, TypePause, nil)
	if !q.Paused() {
		t.Error("expected queue to be paused")
	}
	call(t, client, TypeResume, nil)
	if q.Paused() {
		t.Error("expected queue to be resumed")
	}

	resp := call(t, client, TypeCommands, nil)
	if len(resp.Commands) != 1 || resp.Commands[0].ID != "list_agents" {
		t.Errorf("unexpected commands %+v", resp.Commands)
	}
}

func TestErrors(t *testing.T) {
	client, _ := newTestServer(t)

	if resp := call(t, client, "explode", nil); resp.Error == "" {
		t.Error("expected error for unknown request")
	}
	if resp := call(t, client, TypeGet, map[string]string{"id": "missing"}); resp.Error == "" {
		t.Error("expected error for missing job")
	}
	if resp := call(t, client, TypeRemove, nil); resp.Error != "id is required" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}
