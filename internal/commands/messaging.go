package commands

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/ai"
	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

// UserSender is the sender id recorded for messages typed by a person.
const UserSender = "user"

const workspaceChatPrompt = `You are the assistant of an agent-mesh workspace. Answer questions about the workspace below concisely.

%s`

func messagingCommands() []command.Definition {
	content := command.ArgSpec{Type: command.TypeString, Description: "Message text", Required: true, Validate: command.NonEmpty}
	return []command.Definition{
		{
			ID:          "send_message",
			Description: "Send a message over an existing channel and record the reply",
			Tags:        []string{"messaging"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"from":    str("Sender agent", true),
				"to":      str("Recipient agent", true),
				"content": content,
			},
			Execute: sendMessage,
		},
		{
			ID:          "broadcast_message",
			Description: "Send a message to every connected member of a group",
			Tags:        []string{"messaging", "broadcast"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"from":    str("Sender agent", true),
				"group":   str("Group name or id", true),
				"content": content,
			},
			Execute: broadcastMessage,
		},
		{
			ID:          "ask_agent",
			Description: "Ask an agent a question directly",
			Tags:        []string{"messaging"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"agent":   str("Agent name or id", true),
				"content": content,
			},
			Execute: askAgent,
		},
		{
			ID:          "chat_with_workspace",
			Description: "Ask the assistant about the workspace",
			Tags:        []string{"messaging", "query"},
			RBAC:        readers,
			Args: map[string]command.ArgSpec{
				"message": {Type: command.TypeString, Description: "Question", Required: true, Validate: command.NonEmpty},
			},
			Execute: chatWithWorkspace,
		},
		{
			ID:          "clear_messages",
			Description: "Delete all messages, or those between two agents",
			Tags:        []string{"messaging", "maintenance"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"from": str("First agent", false),
				"to":   str("Second agent", false),
			},
			Execute: clearMessages,
		},
	}
}

func sendMessage(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	from, err := resolveAgent(&ws, args.String("from"))
	if err != nil {
		return nil, err
	}
	to, err := resolveAgent(&ws, args.String("to"))
	if err != nil {
		return nil, err
	}

	msg, err := mesh.Send(ctx, c.Workspace, c.AI, from.ID, to.ID, args.String("content"))
	if err != nil {
		return nil, err
	}
	c.Logf("message sent", "from", from.Name, "to", to.Name, "status", msg.Status)
	return map[string]any{
		"messageId": msg.ID,
		"status":    msg.Status,
		"response":  msg.Response,
	}, nil
}

func broadcastMessage(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	content := args.String("content")
	var (
		sender     mesh.Agent
		recipients []mesh.Agent
		msgs       []mesh.Message
	)
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		from, err := resolveAgent(w, args.String("from"))
		if err != nil {
			return err
		}
		g, err := resolveGroup(w, args.String("group"))
		if err != nil {
			return err
		}
		sender = *from

		ts := now()
		for _, id := range g.Members {
			if id == from.ID {
				continue
			}
			ch := w.ChannelBetween(from.ID, id)
			to := w.Agent(id)
			if ch == nil || to == nil {
				continue
			}
			m := mesh.Message{
				ID:        uuid.NewString(),
				ChannelID: ch.ID,
				FromID:    from.ID,
				ToID:      id,
				Content:   content,
				Status:    mesh.MessageSending,
				CreatedAt: ts,
				UpdatedAt: ts,
			}
			recipients = append(recipients, *to)
			msgs = append(msgs, m)
		}
		w.Messages = append(w.Messages, msgs...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var wg sync.WaitGroup
	for i := range msgs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &msgs[i]
			m.Response, m.Status, m.Error = mesh.Reply(ctx, c.AI, recipients[i], sender.Name, content)
			m.UpdatedAt = now()
		}(i)
	}
	wg.Wait()

	err = c.Workspace.Update(func(w *mesh.Workspace) error {
		for _, settled := range msgs {
			w.UpdateMessage(settled.ID, func(m *mesh.Message) {
				m.Response, m.Status, m.Error, m.UpdatedAt = settled.Response, settled.Status, settled.Error, settled.UpdatedAt
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Logf("broadcast sent", "from", sender.Name, "sent", len(msgs))
	return map[string]any{"sent": len(msgs)}, nil
}

func askAgent(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	a, err := resolveAgent(&ws, args.String("agent"))
	if err != nil {
		return nil, err
	}
	content := args.String("content")

	ts := now()
	msg := mesh.Message{
		ID:        uuid.NewString(),
		FromID:    UserSender,
		ToID:      a.ID,
		Content:   content,
		CreatedAt: ts,
	}
	msg.Response, msg.Status, msg.Error = mesh.Reply(ctx, c.AI, *a, UserSender, content)
	msg.UpdatedAt = now()

	err = c.Workspace.Update(func(w *mesh.Workspace) error {
		if w.Agent(a.ID) == nil {
			return fmt.Errorf("agent %q no longer exists", a.Name)
		}
		w.Messages = append(w.Messages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messageId": msg.ID,
		"status":    msg.Status,
		"response":  msg.Response,
		"error":     msg.Error,
	}, nil
}

func chatWithWorkspace(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	if c.AI == nil {
		return nil, fmt.Errorf("no AI service available")
	}
	ws := c.Workspace.Snapshot()
	return c.AI.Complete(ctx, ai.Request{
		System: fmt.Sprintf(workspaceChatPrompt, ws.Summary()),
		Prompt: args.String("message"),
	})
}

func clearMessages(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var removed int
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		if !args.Has("from") && !args.Has("to") {
			removed = len(w.Messages)
			w.Messages = []mesh.Message{}
			return nil
		}
		from, err := resolveAgent(w, args.String("from"))
		if err != nil {
			return err
		}
		to, err := resolveAgent(w, args.String("to"))
		if err != nil {
			return err
		}
		before := len(w.Messages)
		w.Messages = slices.DeleteFunc(w.Messages, func(m mesh.Message) bool {
			return (m.FromID == from.ID && m.ToID == to.ID) || (m.FromID == to.ID && m.ToID == from.ID)
		})
		removed = before - len(w.Messages)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"deleted": removed}, nil
}
