// Package mesh holds the agent-mesh domain model: agents, channels, groups,
// messages, networks and bridges, plus the stores that own them.
package mesh

import (
	"slices"
	"time"
)

const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Message delivery states.
const (
	MessageSending   = "sending"
	MessageDelivered = "delivered"
	MessageFailed    = "failed"
	MessageNoPrompt  = "no-prompt"
)

const (
	ChannelDirect    = "direct"
	ChannelConsensus = "consensus"
	ChannelBroadcast = "broadcast"
)

// Roles is the fixed set of agent roles.
var Roles = []string{
	"researcher",
	"builder",
	"analyst",
	"coordinator",
	"critic",
	"writer",
	"validator",
}

// Governance is the fixed set of group decision models.
var Governance = []string{
	"majority",
	"unanimous",
	"consensus",
	"delegated",
	"weighted",
}

func ValidRole(role string) bool {
	return slices.Contains(Roles, role)
}

func ValidGovernance(g string) bool {
	return slices.Contains(Governance, g)
}

type Agent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Role       string    `json:"role"`
	Prompt     string    `json:"prompt"`
	DID        string    `json:"did"`
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Channel is an undirected link between two agents; From and To are agent ids.
type Channel struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Connects reports whether the channel joins a and b in either direction.
func (c Channel) Connects(a, b string) bool {
	return (c.From == a && c.To == b) || (c.From == b && c.To == a)
}

func (c Channel) Touches(agentID string) bool {
	return c.From == agentID || c.To == agentID
}

type Group struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Governance string    `json:"governance"`
	Members    []string  `json:"members"`
	Threshold  int       `json:"threshold"`
	DID        string    `json:"did"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	FromID    string    `json:"fromId"`
	ToID      string    `json:"toId"`
	Content   string    `json:"content"`
	Response  string    `json:"response,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Workspace is the live set of entities commands operate on.
type Workspace struct {
	Agents          []Agent   `json:"agents"`
	Channels        []Channel `json:"channels"`
	Groups          []Group   `json:"groups"`
	Messages        []Message `json:"messages"`
	ActiveChannelID string    `json:"activeChannelId,omitempty"`
}

// Clone returns a copy that shares no slices with w.
func (w Workspace) Clone() Workspace {
	out := Workspace{
		Agents:          slices.Clone(w.Agents),
		Channels:        slices.Clone(w.Channels),
		Messages:        slices.Clone(w.Messages),
		ActiveChannelID: w.ActiveChannelID,
	}
	out.Groups = make([]Group, len(w.Groups))
	for i, g := range w.Groups {
		g.Members = slices.Clone(g.Members)
		out.Groups[i] = g
	}
	return out
}

// Normalize replaces nil collections with empty ones so snapshots always
// encode as arrays.
func (w *Workspace) Normalize() {
	if w.Agents == nil {
		w.Agents = []Agent{}
	}
	if w.Channels == nil {
		w.Channels = []Channel{}
	}
	if w.Groups == nil {
		w.Groups = []Group{}
	}
	if w.Messages == nil {
		w.Messages = []Message{}
	}
}

type Network struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DID       string    `json:"did"`
	Color     string    `json:"color"`
	Agents    []Agent   `json:"agents"`
	Channels  []Channel `json:"channels"`
	Groups    []Group   `json:"groups"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
}

// Contents returns the network's entities as a workspace.
func (n Network) Contents() Workspace {
	return Workspace{
		Agents:   n.Agents,
		Channels: n.Channels,
		Groups:   n.Groups,
		Messages: n.Messages,
	}.Clone()
}

// Bridge links one agent in a network to one agent in a different network.
type Bridge struct {
	ID            string    `json:"id"`
	FromNetworkID string    `json:"fromNetworkId"`
	FromAgentID   string    `json:"fromAgentId"`
	ToNetworkID   string    `json:"toNetworkId"`
	ToAgentID     string    `json:"toAgentId"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

type BridgeMessage struct {
	ID          string    `json:"id"`
	BridgeID    string    `json:"bridgeId"`
	FromAgentID string    `json:"fromAgentId"`
	ToAgentID   string    `json:"toAgentId"`
	Content     string    `json:"content"`
	Response    string    `json:"response,omitempty"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Ecosystem struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	DID            string          `json:"did"`
	Networks       []Network       `json:"networks"`
	Bridges        []Bridge        `json:"bridges"`
	BridgeMessages []BridgeMessage `json:"bridgeMessages"`
	CreatedAt      time.Time       `json:"createdAt"`
}

func (e Ecosystem) Clone() Ecosystem {
	out := e
	out.Networks = make([]Network, len(e.Networks))
	for i, n := range e.Networks {
		c := n.Contents()
		n.Agents, n.Channels, n.Groups, n.Messages = c.Agents, c.Channels, c.Groups, c.Messages
		out.Networks[i] = n
	}
	out.Bridges = slices.Clone(e.Bridges)
	out.BridgeMessages = slices.Clone(e.BridgeMessages)
	return out
}

func (e *Ecosystem) Normalize() {
	if e.Networks == nil {
		e.Networks = []Network{}
	}
	for i := range e.Networks {
		n := &e.Networks[i]
		if n.Agents == nil {
			n.Agents = []Agent{}
		}
		if n.Channels == nil {
			n.Channels = []Channel{}
		}
		if n.Groups == nil {
			n.Groups = []Group{}
		}
		if n.Messages == nil {
			n.Messages = []Message{}
		}
	}
	if e.Bridges == nil {
		e.Bridges = []Bridge{}
	}
	if e.BridgeMessages == nil {
		e.BridgeMessages = []BridgeMessage{}
	}
}
