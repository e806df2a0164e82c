package mesh

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/ai"
)

// NoPromptResponse is recorded when the recipient has no prompt to answer with.
const NoPromptResponse = "(agent has no prompt configured)"

// Updater is the read/update surface of a workspace store.
type Updater interface {
	Snapshot() Workspace
	Update(fn func(*Workspace) error) error
}

// Send records a message on the channel between the two agents and asks
// the recipient for a reply. Reply failures are stored on the message and
// do not fail the send.
func Send(ctx context.Context, ws Updater, svc ai.Service, fromID, toID, content string) (Message, error) {
	var msg Message
	var from, to Agent
	err := ws.Update(func(w *Workspace) error {
		f, t := w.Agent(fromID), w.Agent(toID)
		if f == nil || t == nil {
			return fmt.Errorf("sender or recipient no longer exists")
		}
		ch := w.ChannelBetween(fromID, toID)
		if ch == nil {
			return fmt.Errorf("no channel between %s and %s; create one first", f.Name, t.Name)
		}
		from, to = *f, *t
		now := time.Now().UTC()
		msg = Message{
			ID:        uuid.NewString(),
			ChannelID: ch.ID,
			FromID:    fromID,
			ToID:      toID,
			Content:   content,
			Status:    MessageSending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		w.Messages = append(w.Messages, msg)
		return nil
	})
	if err != nil {
		return Message{}, err
	}

	response, status, replyErr := Reply(ctx, svc, to, from.Name, content)
	msg.Response, msg.Status, msg.Error = response, status, replyErr
	msg.UpdatedAt = time.Now().UTC()

	err = ws.Update(func(w *Workspace) error {
		w.UpdateMessage(msg.ID, func(m *Message) {
			m.Response, m.Status, m.Error, m.UpdatedAt = msg.Response, msg.Status, msg.Error, msg.UpdatedAt
		})
		return nil
	})
	return msg, err
}

// Reply asks to's model to answer content. It returns the response, the
// resulting message status and an error text for failed replies.
func Reply(ctx context.Context, svc ai.Service, to Agent, fromName, content string) (response, status, errText string) {
	if to.Prompt == "" {
		return NoPromptResponse, MessageNoPrompt, ""
	}
	if svc == nil {
		return "", MessageFailed, "no AI service available"
	}
	out, err := svc.Complete(ctx, ai.AgentRequest(to.Name, to.Role, to.Prompt, fromName, content))
	if err != nil {
		return "", MessageFailed, err.Error()
	}
	return out, MessageDelivered, ""
}
