package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/ipc"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		wantFlags   map[string]string
		wantRequest map[string]any
	}{
		{
			name:        "empty",
			args:        []string{},
			wantFlags:   map[string]string{},
			wantRequest: map[string]any{},
		},
		{
			name:        "single flag",
			args:        []string{"--type", "list_agents"},
			wantFlags:   map[string]string{"type": "list_agents"},
			wantRequest: map[string]any{},
		},
		{
			name:        "request args",
			args:        []string{"--type", "create_agent", "--arg", "name=Scout", "--arg", "prompt=find a=b"},
			wantFlags:   map[string]string{"type": "create_agent"},
			wantRequest: map[string]any{"name": "Scout", "prompt": "find a=b"},
		},
		{
			name:        "malformed arg ignored",
			args:        []string{"--arg", "novalue", "--arg", "=x"},
			wantFlags:   map[string]string{},
			wantRequest: map[string]any{},
		},
		{
			name:        "flag without value is ignored",
			args:        []string{"--id"},
			wantFlags:   map[string]string{},
			wantRequest: map[string]any{},
		},
		{
			name:        "short prefix not treated as flag",
			args:        []string{"-n", "test"},
			wantFlags:   map[string]string{},
			wantRequest: map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flags, request := parseArgs(tt.args)
			if len(flags) != len(tt.wantFlags) {
				t.Errorf("parseArgs(%v) returned %d flags, want %d", tt.args, len(flags), len(tt.wantFlags))
			}
			for k, v := range tt.wantFlags {
				if flags[k] != v {
					t.Errorf("flags[%q] = %q, want %q", k, flags[k], v)
				}
			}
			if len(request) != len(tt.wantRequest) {
				t.Errorf("parseArgs(%v) returned %d request args, want %d", tt.args, len(request), len(tt.wantRequest))
			}
			for k, v := range tt.wantRequest {
				if request[k] != v {
					t.Errorf("request[%q] = %v, want %v", k, request[k], v)
				}
			}
		})
	}
}

func TestEnqueuePayload(t *testing.T) {
	p, err := enqueuePayload(map[string]string{"type": "send_message", "request": `{"from":"a","to":"b"}`}, map[string]any{"content": "hi"})
	if err != nil {
		t.Fatalf("enqueuePayload: %v", err)
	}
	if p.Type != "send_message" || p.Request["from"] != "a" || p.Request["content"] != "hi" {
		t.Errorf("unexpected payload %+v", p)
	}

	p, err = enqueuePayload(map[string]string{"steps": `[{"id":"s1","commandId":"list_agents"}]`, "mode": "parallel"}, nil)
	if err != nil {
		t.Fatalf("enqueuePayload steps: %v", err)
	}
	if len(p.Steps) != 1 || p.Mode != jobs.ModeParallel {
		t.Errorf("unexpected payload %+v", p)
	}

	if _, err := enqueuePayload(map[string]string{}, nil); err == nil {
		t.Error("expected error without type or steps")
	}
	if _, err := enqueuePayload(map[string]string{"type": "x", "request": "{"}, nil); err == nil {
		t.Error("expected error for invalid request JSON")
	}
}

func startGateway(t *testing.T) (*natsbus.Client, *jobs.Queue) {
	t.Helper()
	bus, err := natsbus.New(config.NATSConfig{Port: -1})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bus.Close)

	serverConn, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("server client: %v", err)
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
	srv := ipc.New(serverConn, q, reg, command.RoleOperator)
	if err := srv.Start(); err != nil {
		t.Fatalf("start ipc: %v", err)
	}
	t.Cleanup(srv.Stop)
	if err := serverConn.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	client, err := natsbus.NewClientFromURL(bus.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client, q
}

func TestRunAgainstGateway(t *testing.T) {
	client, q := startGateway(t)

	var out bytes.Buffer
	if err := run(client, "list", nil, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "No jobs found.") {
		t.Errorf("list output = %q", out.String())
	}

	out.Reset()
	if err := run(client, "enqueue", []string{"--type", "list_agents"}, &out); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	all := q.List()
	if len(all) != 1 {
		t.Fatalf("queue has %d jobs, want 1", len(all))
	}
	id := all[0].ID
	if !strings.Contains(out.String(), id) {
		t.Errorf("enqueue output %q missing id %s", out.String(), id)
	}
	if all[0].Source != ipc.Source || all[0].Role != command.RoleOperator {
		t.Errorf("job source/role = %s/%s", all[0].Source, all[0].Role)
	}

	out.Reset()
	if err := run(client, "list", nil, &out); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), id) || !strings.Contains(out.String(), "list_agents") {
		t.Errorf("list output = %q", out.String())
	}

	out.Reset()
	if err := run(client, "get", []string{"--id", id}, &out); err != nil {
		t.Fatalf("get: %v", err)
	}
	if !strings.Contains(out.String(), `"status": "queued"`) {
		t.Errorf("get output = %q", out.String())
	}

	if err := run(client, "pause", nil, &out); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !q.Paused() {
		t.Error("queue should be paused")
	}
	if err := run(client, "resume", nil, &out); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if q.Paused() {
		t.Error("queue should be resumed")
	}

	out.Reset()
	if err := run(client, "commands", nil, &out); err != nil {
		t.Fatalf("commands: %v", err)
	}
	if !strings.Contains(out.String(), "list_agents") {
		t.Errorf("commands output = %q", out.String())
	}

	if err := run(client, "remove", []string{"--id", id}, &out); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(q.List()) != 0 {
		t.Error("job should be removed")
	}
}

func TestRunErrors(t *testing.T) {
	client, _ := startGateway(t)
	var out bytes.Buffer

	if err := run(client, "get", nil, &out); err == nil {
		t.Error("get without --id should fail")
	}
	if err := run(client, "remove", []string{"--id", "missing"}, &out); err == nil {
		t.Error("removing an unknown job should fail")
	}
	if err := run(client, "enqueue", nil, &out); err == nil {
		t.Error("enqueue without a type should fail")
	}
	if err := run(client, "launch", nil, &out); err == nil {
		t.Error("unknown command should fail")
	}
}
