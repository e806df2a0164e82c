package mesh

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Collection names accepted by Delete.
const (
	KindAgents   = "agents"
	KindChannels = "channels"
	KindGroups   = "groups"
	KindMessages = "messages"
)

func (w *Workspace) Agent(id string) *Agent {
	for i := range w.Agents {
		if w.Agents[i].ID == id {
			return &w.Agents[i]
		}
	}
	return nil
}

// AgentByName resolves an agent by name, ignoring case.
func (w *Workspace) AgentByName(name string) *Agent {
	name = strings.TrimSpace(name)
	for i := range w.Agents {
		if strings.EqualFold(w.Agents[i].Name, name) {
			return &w.Agents[i]
		}
	}
	return nil
}

// ResolveAgent accepts either an agent id or a name.
func (w *Workspace) ResolveAgent(ref string) *Agent {
	if a := w.Agent(ref); a != nil {
		return a
	}
	return w.AgentByName(ref)
}

func (w *Workspace) Group(ref string) *Group {
	for i := range w.Groups {
		if w.Groups[i].ID == ref || strings.EqualFold(w.Groups[i].Name, ref) {
			return &w.Groups[i]
		}
	}
	return nil
}

// ChannelBetween returns the channel joining a and b in either direction.
func (w *Workspace) ChannelBetween(a, b string) *Channel {
	for i := range w.Channels {
		if w.Channels[i].Connects(a, b) {
			return &w.Channels[i]
		}
	}
	return nil
}

// EnsureChannel returns the existing channel between from and to, or
// appends a new one of the given type. created reports which happened.
func (w *Workspace) EnsureChannel(from, to, typ string, now time.Time) (ch Channel, created bool) {
	if existing := w.ChannelBetween(from, to); existing != nil {
		return *existing, false
	}
	ch = Channel{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.Channels = append(w.Channels, ch)
	return ch, true
}

// BackfillConsensus creates every missing pairwise consensus channel among
// members and returns the channels it added.
func (w *Workspace) BackfillConsensus(members []string, now time.Time) []Channel {
	var added []Channel
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			if members[i] == members[j] {
				continue
			}
			if ch, ok := w.EnsureChannel(members[i], members[j], ChannelConsensus, now); ok {
				added = append(added, ch)
			}
		}
	}
	return added
}

// DefaultThreshold is the majority threshold for a group of n members.
func DefaultThreshold(n int) int {
	return (n + 1) / 2
}

// Delete removes entities of kind by id and cascades: agents drop out of
// channels, group memberships and messages; channels take their messages
// with them. It returns the number of entities of kind removed.
func (w *Workspace) Delete(kind string, ids []string) (int, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	switch kind {
	case KindAgents:
		before := len(w.Agents)
		w.Agents = slices.DeleteFunc(w.Agents, func(a Agent) bool { return drop[a.ID] })
		removed := before - len(w.Agents)

		var gone []string
		w.Channels = slices.DeleteFunc(w.Channels, func(c Channel) bool {
			if drop[c.From] || drop[c.To] {
				gone = append(gone, c.ID)
				return true
			}
			return false
		})
		w.dropChannelMessages(gone)
		for i := range w.Groups {
			w.Groups[i].Members = slices.DeleteFunc(w.Groups[i].Members, func(m string) bool { return drop[m] })
		}
		w.Messages = slices.DeleteFunc(w.Messages, func(m Message) bool { return drop[m.FromID] || drop[m.ToID] })
		return removed, nil

	case KindChannels:
		before := len(w.Channels)
		w.Channels = slices.DeleteFunc(w.Channels, func(c Channel) bool { return drop[c.ID] })
		w.dropChannelMessages(ids)
		if drop[w.ActiveChannelID] {
			w.ActiveChannelID = ""
		}
		return before - len(w.Channels), nil

	case KindGroups:
		before := len(w.Groups)
		w.Groups = slices.DeleteFunc(w.Groups, func(g Group) bool { return drop[g.ID] })
		return before - len(w.Groups), nil

	case KindMessages:
		before := len(w.Messages)
		w.Messages = slices.DeleteFunc(w.Messages, func(m Message) bool { return drop[m.ID] })
		return before - len(w.Messages), nil

	default:
		return 0, fmt.Errorf("unknown entity type %q", kind)
	}
}

func (w *Workspace) dropChannelMessages(channelIDs []string) {
	if len(channelIDs) == 0 {
		return
	}
	w.Messages = slices.DeleteFunc(w.Messages, func(m Message) bool {
		return slices.Contains(channelIDs, m.ChannelID)
	})
}

func (w *Workspace) UpdateMessage(id string, fn func(*Message)) bool {
	for i := range w.Messages {
		if w.Messages[i].ID == id {
			fn(&w.Messages[i])
			return true
		}
	}
	return false
}

// Reset empties every collection.
func (w *Workspace) Reset() {
	*w = Workspace{}
	w.Normalize()
}

// Summary renders the workspace as plain text for AI grounding.
func (w *Workspace) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Agents (%d):\n", len(w.Agents))
	for _, a := range w.Agents {
		fmt.Fprintf(&b, "- %s (%s, %s)\n", a.Name, a.Role, a.Status)
	}
	fmt.Fprintf(&b, "Channels (%d):\n", len(w.Channels))
	for _, c := range w.Channels {
		fmt.Fprintf(&b, "- %s <-> %s [%s]\n", w.agentName(c.From), w.agentName(c.To), c.Type)
	}
	fmt.Fprintf(&b, "Groups (%d):\n", len(w.Groups))
	for _, g := range w.Groups {
		names := make([]string, 0, len(g.Members))
		for _, m := range g.Members {
			names = append(names, w.agentName(m))
		}
		fmt.Fprintf(&b, "- %s (%s, threshold %d): %s\n", g.Name, g.Governance, g.Threshold, strings.Join(names, ", "))
	}
	fmt.Fprintf(&b, "Messages: %d\n", len(w.Messages))
	return b.String()
}

func (w *Workspace) agentName(id string) string {
	if a := w.Agent(id); a != nil {
		return a.Name
	}
	return id
}
