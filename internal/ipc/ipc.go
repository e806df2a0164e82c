// Package ipc serves job queue requests over NATS request/reply for
// meshctl and other local tools.
package ipc

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/natsbus"
	"github.com/nats-io/nats.go"
)

// Source is recorded on jobs enqueued over IPC.
const Source = "ipc"

// Request types.
const (
	TypeEnqueue  = "enqueue"
	TypeList     = "list"
	TypeGet      = "get"
	TypeRemove   = "remove"
	TypePause    = "pause"
	TypeResume   = "resume"
	TypeCommands = "commands"
)

type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	OK       bool          `json:"ok,omitempty"`
	Error    string        `json:"error,omitempty"`
	ID       string        `json:"id,omitempty"`
	Jobs     []jobs.Job    `json:"jobs,omitempty"`
	Job      *jobs.Job     `json:"job,omitempty"`
	Commands []CommandInfo `json:"commands,omitempty"`
}

type CommandInfo struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Tags        []string `json:"tags,omitempty"`
}

// EnqueuePayload is the body of an enqueue request.
type EnqueuePayload struct {
	Type    string         `json:"type"`
	Request map[string]any `json:"request,omitempty"`
	Steps   []jobs.Step    `json:"steps,omitempty"`
	Mode    jobs.Mode      `json:"mode,omitempty"`
}

type Queue interface {
	Add(spec jobs.Spec) (jobs.Job, error)
	Get(id string) (jobs.Job, bool)
	List() []jobs.Job
	Remove(id string) error
	Pause()
	Resume()
}

type Commands interface {
	List() []command.Definition
}

type Server struct {
	client   *natsbus.Client
	queue    Queue
	commands Commands
	role     string
	sub      *nats.Subscription
}

// New creates a server. Jobs it enqueues run with role.
func New(client *natsbus.Client, q Queue, cmds Commands, role string) *Server {
	return &Server{client: client, queue: q, commands: cmds, role: role}
}

func (s *Server) Start() error {
	sub, err := s.client.Subscribe(natsbus.TopicIPCJobs, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe ipc: %w", err)
	}
	s.sub = sub
	slog.Info("ipc server started", "subject", natsbus.TopicIPCJobs)
	return nil
}

func (s *Server) Stop() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
}

func (s *Server) handle(msg *nats.Msg) {
	var req Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		slog.Warn("invalid IPC request", "error", err)
		respond(msg, Response{Error: "invalid request"})
		return
	}

	slog.Info("IPC request received", "type", req.Type)
	respond(msg, s.dispatch(req))
}

func (s *Server) dispatch(req Request) Response {
	switch req.Type {
	case TypeEnqueue:
		var p EnqueuePayload
		if err := decode(req.Payload, &p); err != nil {
			return Response{Error: "invalid payload"}
		}
		job, err := s.queue.Add(jobs.Spec{
			Type:    p.Type,
			Request: p.Request,
			Steps:   p.Steps,
			Mode:    p.Mode,
			Actor:   Source,
			Role:    s.role,
			Source:  Source,
		})
		if err != nil {
			return Response{Error: err.Error()}
		}
		slog.Info("job enqueued via IPC", "id", job.ID, "type", job.Type)
		return Response{OK: true, ID: job.ID}

	case TypeList:
		return Response{OK: true, Jobs: s.queue.List()}

	case TypeGet, TypeRemove:
		var p struct {
			ID string `json:"id"`
		}
		if err := decode(req.Payload, &p); err != nil || p.ID == "" {
			return Response{Error: "id is required"}
		}
		if req.Type == TypeRemove {
			if err := s.queue.Remove(p.ID); err != nil {
				return Response{Error: err.Error()}
			}
			return Response{OK: true, ID: p.ID}
		}
		job, ok := s.queue.Get(p.ID)
		if !ok {
			return Response{Error: jobs.ErrJobNotFound.Error()}
		}
		return Response{OK: true, Job: &job}

	case TypePause:
		s.queue.Pause()
		return Response{OK: true}

	case TypeResume:
		s.queue.Resume()
		return Response{OK: true}

	case TypeCommands:
		defs := s.commands.List()
		out := make([]CommandInfo, 0, len(defs))
		for _, d := range defs {
			out = append(out, CommandInfo{ID: d.ID, Description: d.Description, Tags: d.Tags})
		}
		return Response{OK: true, Commands: out}

	default:
		slog.Warn("unknown IPC request", "type", req.Type)
		return Response{Error: "unknown request: " + req.Type}
	}
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func respond(msg *nats.Msg, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

// Call sends one request to a running server and decodes the reply.
func Call(client *natsbus.Client, reqType string, payload any, timeout time.Duration) (*Response, error) {
	req := Request{Type: reqType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		req.Payload = raw
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := client.Request(natsbus.TopicIPCJobs, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}
