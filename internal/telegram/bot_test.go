package telegram

import (
	"strings"
	"testing"

	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/router"
)

func TestChunkMessage(t *testing.T) {
	// Short message
	chunks := chunkMessage("hello", 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}

	// Exact limit
	msg := make([]byte, 4096)
	for i := range msg {
		msg[i] = 'a'
	}
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 1 {
		t.Errorf("expected 1 chunk for exact limit, got %d", len(chunks))
	}

	// Over limit
	msg = make([]byte, 8192)
	for i := range msg {
		msg[i] = 'a'
	}
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks, got %d", len(chunks))
	}

	// Split at newline
	msg = make([]byte, 5000)
	for i := range msg {
		msg[i] = 'a'
	}
	msg[3000] = '\n'
	chunks = chunkMessage(string(msg), 4096)
	if len(chunks) != 2 {
		t.Errorf("expected 2 chunks with newline split, got %d", len(chunks))
	}
	if len(chunks[0]) != 3001 { // Up to and including the newline
		t.Errorf("expected first chunk length 3001, got %d", len(chunks[0]))
	}
}

func TestToTelegramMarkdown(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"**bold**", "*bold*"},
		{"hello **world**!", "hello *world*!"},
		{"**a** and **b**", "*a* and *b*"},
		{"no bold here", "no bold here"},
		{"*already single*", "*already single*"},
	}
	for _, tt := range tests {
		got := toTelegramMarkdown(tt.in)
		if got != tt.want {
			t.Errorf("toTelegramMarkdown(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func newTestBot(t *testing.T, allow ...int64) (*Bot, *jobs.Queue) {
	t.Helper()
	q, err := jobs.NewQueue()
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return &Bot{
		router: router.New(nil, nil),
		queue:  q,
		cfg:    config.TelegramConfig{AllowFrom: allow, Role: "operator"},
		chats:  make(map[string]int64),
	}, q
}

func TestAllowed(t *testing.T) {
	open, _ := newTestBot(t)
	if !open.allowed(42) {
		t.Error("expected empty allow list to admit everyone")
	}

	closed, _ := newTestBot(t, 7)
	if closed.allowed(42) || !closed.allowed(7) {
		t.Error("allow list not enforced")
	}
}

func TestReplyEnqueuesJob(t *testing.T) {
	b, q := newTestBot(t)

	out := b.reply("how many agents?", "42", 1001)
	if !strings.HasPrefix(out, "Queued chat_with_workspace") {
		t.Fatalf("unexpected reply %q", out)
	}

	list := q.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 job, got %d", len(list))
	}
	job := list[0]
	if job.Actor != "telegram:42" || job.Role != "operator" || job.Source != Source {
		t.Errorf("unexpected job origin %+v", job)
	}
	if b.chats[job.ID] != 1001 {
		t.Errorf("expected chat 1001 to await job, got %d", b.chats[job.ID])
	}
}

func TestReplyControls(t *testing.T) {
	b, q := newTestBot(t)

	if out := b.reply("/pause", "42", 1); out != "Queue paused." || !q.Paused() {
		t.Errorf("pause failed: %q", out)
	}
	if out := b.reply("/jobs@meshbot", "42", 1); !strings.Contains(out, "Queue paused") {
		t.Errorf("unexpected jobs reply %q", out)
	}
	if out := b.reply("/resume", "42", 1); out != "Queue resumed." || q.Paused() {
		t.Errorf("resume failed: %q", out)
	}
	if out := b.reply(`/create_agent prompt="open`, "42", 1); !strings.HasPrefix(out, "Error:") {
		t.Errorf("expected error reply, got %q", out)
	}
	if len(q.List()) != 0 {
		t.Error("controls must not enqueue jobs")
	}
}

func TestFormatResult(t *testing.T) {
	done := formatResult(jobs.Job{ID: "0123456789", Type: "list_agents", Status: jobs.StatusCompleted, Result: "[]"})
	if done != "**Done** list_agents (01234567)\n[]" {
		t.Errorf("unexpected result %q", done)
	}

	failed := formatResult(jobs.Job{ID: "abc", Steps: make([]jobs.Step, 2), Status: jobs.StatusFailed})
	if failed != "**Failed** 2 steps (abc)" {
		t.Errorf("unexpected result %q", failed)
	}
}
