// Package architect turns a natural-language description into a mesh
// configuration and materializes it into the workspace and ecosystem.
package architect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mtzanidakis/meshwork/internal/ai"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

// MeshConfig describes networks, agents and their wiring. Cross references
// are indexes into the sibling lists.
type MeshConfig struct {
	Networks        []NetworkSpec `json:"networks"`
	Agents          []AgentSpec   `json:"agents"`
	Channels        []ChannelSpec `json:"channels"`
	Groups          []GroupSpec   `json:"groups"`
	Bridges         []BridgeSpec  `json:"bridges"`
	ExampleMessages []MessageSpec `json:"exampleMessages"`
}

type NetworkSpec struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
}

type AgentSpec struct {
	Name    string `json:"name"`
	Role    string `json:"role"`
	Prompt  string `json:"prompt"`
	Network int    `json:"network"`
}

type ChannelSpec struct {
	From int    `json:"from"`
	To   int    `json:"to"`
	Type string `json:"type,omitempty"`
}

type GroupSpec struct {
	Name       string `json:"name"`
	Governance string `json:"governance"`
	Members    []int  `json:"members"`
	Threshold  int    `json:"threshold,omitempty"`
}

type BridgeSpec struct {
	From int `json:"from"`
	To   int `json:"to"`
}

type MessageSpec struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Content string `json:"content"`
}

// Validate checks that every index reference points at an existing entry.
func (c *MeshConfig) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("mesh config has no agents")
	}
	agent := func(i int) bool { return i >= 0 && i < len(c.Agents) }
	for i, a := range c.Agents {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("agent %d has no name", i)
		}
		if len(c.Networks) > 0 && (a.Network < 0 || a.Network >= len(c.Networks)) {
			return fmt.Errorf("agent %q references network %d", a.Name, a.Network)
		}
	}
	for i, ch := range c.Channels {
		if !agent(ch.From) || !agent(ch.To) {
			return fmt.Errorf("channel %d references a missing agent", i)
		}
	}
	for _, g := range c.Groups {
		for _, m := range g.Members {
			if !agent(m) {
				return fmt.Errorf("group %q references agent %d", g.Name, m)
			}
		}
	}
	for i, b := range c.Bridges {
		if !agent(b.From) || !agent(b.To) {
			return fmt.Errorf("bridge %d references a missing agent", i)
		}
	}
	for i, m := range c.ExampleMessages {
		if !agent(m.From) || !agent(m.To) {
			return fmt.Errorf("example message %d references a missing agent", i)
		}
	}
	return nil
}

type WorkspaceStore interface {
	Snapshot() mesh.Workspace
	Update(fn func(*mesh.Workspace) error) error
}

type EcosystemStore interface {
	Snapshot() mesh.Ecosystem
	Update(fn func(*mesh.Ecosystem) error) error
}

type Architect struct {
	workspace WorkspaceStore
	ecosystem EcosystemStore
	ai        ai.Service
}

func New(ws WorkspaceStore, eco EcosystemStore, svc ai.Service) *Architect {
	return &Architect{workspace: ws, ecosystem: eco, ai: svc}
}

const generatePrompt = `You design multi-agent networks. Answer with a single JSON object and nothing else:
{
  "networks": [{"name": "", "description": "", "color": "#hex"}],
  "agents": [{"name": "", "role": "", "prompt": "", "network": 0}],
  "channels": [{"from": 0, "to": 1, "type": "direct"}],
  "groups": [{"name": "", "governance": "", "members": [0, 1], "threshold": 1}],
  "bridges": [{"from": 0, "to": 2}],
  "exampleMessages": [{"from": 0, "to": 1, "content": ""}]
}
Indexes refer to positions in the agents and networks arrays.
Agent roles must be one of: %s.
Group governance must be one of: %s.
Bridges only connect agents in different networks.`

// Generate asks the model for a MeshConfig matching prompt.
func (a *Architect) Generate(ctx context.Context, prompt string) (*MeshConfig, error) {
	if a.ai == nil {
		return nil, fmt.Errorf("no AI service available")
	}
	out, err := a.ai.Complete(ctx, ai.Request{
		System: fmt.Sprintf(generatePrompt, strings.Join(mesh.Roles, ", "), strings.Join(mesh.Governance, ", ")),
		Prompt: prompt,
	})
	if err != nil {
		return nil, fmt.Errorf("generate mesh: %w", err)
	}
	return Parse(out)
}

// Parse decodes a model reply into a validated MeshConfig.
func Parse(text string) (*MeshConfig, error) {
	var cfg MeshConfig
	if err := json.Unmarshal([]byte(ai.ExtractJSON(text)), &cfg); err != nil {
		return nil, fmt.Errorf("decode mesh config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
