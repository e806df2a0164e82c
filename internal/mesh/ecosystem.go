package mesh

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultNetworkColor is used when a network is created without a color.
const DefaultNetworkColor = "#6366f1"

func (e *Ecosystem) Network(ref string) *Network {
	for i := range e.Networks {
		if e.Networks[i].ID == ref || strings.EqualFold(e.Networks[i].Name, ref) {
			return &e.Networks[i]
		}
	}
	return nil
}

func (e *Ecosystem) Bridge(id string) *Bridge {
	for i := range e.Bridges {
		if e.Bridges[i].ID == id {
			return &e.Bridges[i]
		}
	}
	return nil
}

// AddNetwork appends an empty network with a fresh identifier.
func (e *Ecosystem) AddNetwork(name, color string, now time.Time) (*Network, error) {
	if e.Network(name) != nil {
		return nil, fmt.Errorf("network %q already exists", name)
	}
	did, err := NewDID()
	if err != nil {
		return nil, err
	}
	if color == "" {
		color = DefaultNetworkColor
	}
	e.Networks = append(e.Networks, Network{
		ID:        uuid.NewString(),
		Name:      name,
		DID:       did,
		Color:     color,
		Agents:    []Agent{},
		Channels:  []Channel{},
		Groups:    []Group{},
		Messages:  []Message{},
		CreatedAt: now,
	})
	return &e.Networks[len(e.Networks)-1], nil
}

// SaveNetwork stores ws as the contents of the named network, creating the
// network if needed.
func (e *Ecosystem) SaveNetwork(name string, ws Workspace, now time.Time) (*Network, error) {
	n := e.Network(name)
	if n == nil {
		var err error
		if n, err = e.AddNetwork(name, "", now); err != nil {
			return nil, err
		}
	}
	c := ws.Clone()
	n.Agents, n.Channels, n.Groups, n.Messages = c.Agents, c.Channels, c.Groups, c.Messages
	return n, nil
}

// Dissolve removes the network along with every bridge touching it and the
// messages carried over those bridges.
func (e *Ecosystem) Dissolve(ref string) error {
	n := e.Network(ref)
	if n == nil {
		return fmt.Errorf("network %q not found", ref)
	}
	id := n.ID
	e.Networks = slices.DeleteFunc(e.Networks, func(n Network) bool { return n.ID == id })

	var gone []string
	e.Bridges = slices.DeleteFunc(e.Bridges, func(b Bridge) bool {
		if b.FromNetworkID == id || b.ToNetworkID == id {
			gone = append(gone, b.ID)
			return true
		}
		return false
	})
	e.BridgeMessages = slices.DeleteFunc(e.BridgeMessages, func(m BridgeMessage) bool {
		return slices.Contains(gone, m.BridgeID)
	})
	return nil
}

// EnsureBridge returns the bridge already joining the two agents or adds one.
func (e *Ecosystem) EnsureBridge(fromNet, fromAgent, toNet, toAgent string, now time.Time) (b Bridge, created bool, err error) {
	if fromNet == toNet {
		return Bridge{}, false, fmt.Errorf("bridge endpoints must be in different networks")
	}
	for _, existing := range e.Bridges {
		if (existing.FromAgentID == fromAgent && existing.ToAgentID == toAgent) ||
			(existing.FromAgentID == toAgent && existing.ToAgentID == fromAgent) {
			return existing, false, nil
		}
	}
	b = Bridge{
		ID:            uuid.NewString(),
		FromNetworkID: fromNet,
		FromAgentID:   fromAgent,
		ToNetworkID:   toNet,
		ToAgentID:     toAgent,
		Status:        StatusActive,
		CreatedAt:     now,
	}
	e.Bridges = append(e.Bridges, b)
	return b, true, nil
}

func (e *Ecosystem) DeleteBridge(id string) error {
	if e.Bridge(id) == nil {
		return fmt.Errorf("bridge %q not found", id)
	}
	e.Bridges = slices.DeleteFunc(e.Bridges, func(b Bridge) bool { return b.ID == id })
	e.BridgeMessages = slices.DeleteFunc(e.BridgeMessages, func(m BridgeMessage) bool { return m.BridgeID == id })
	return nil
}

// AgentIn looks up an agent by id or name inside a network.
func (n *Network) AgentIn(ref string) *Agent {
	for i := range n.Agents {
		if n.Agents[i].ID == ref || strings.EqualFold(n.Agents[i].Name, ref) {
			return &n.Agents[i]
		}
	}
	return nil
}

// FindAgent searches every network for the agent id.
func (e *Ecosystem) FindAgent(id string) (*Network, *Agent) {
	for i := range e.Networks {
		if a := e.Networks[i].AgentIn(id); a != nil {
			return &e.Networks[i], a
		}
	}
	return nil, nil
}
