package architect

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

// DefaultNetworkName owns every agent when a config declares no networks.
const DefaultNetworkName = "Default Network"

// deployment tracks index to id mappings while a config is materialized.
type deployment struct {
	networks []string
	agents   []string
	agentNet []int

	channels int
	groups   int
	bridges  int
	messages int
	failed   int
}

// Deploy creates the config's entities in dependency order: networks,
// agents, channels, groups with their consensus channels, bridges, then
// example messages with live replies. It returns a summary.
func (a *Architect) Deploy(ctx context.Context, cfg *MeshConfig) (string, error) {
	if cfg == nil {
		return "", fmt.Errorf("no mesh config to deploy")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	networks := cfg.Networks
	if len(networks) == 0 {
		networks = []NetworkSpec{{Name: DefaultNetworkName}}
	}

	d := &deployment{}
	now := time.Now().UTC()

	err := a.ecosystem.Update(func(e *mesh.Ecosystem) error {
		for _, spec := range networks {
			name := uniqueName(spec.Name, func(n string) bool { return e.Network(n) != nil })
			n, err := e.AddNetwork(name, spec.Color, now)
			if err != nil {
				return err
			}
			d.networks = append(d.networks, n.ID)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create networks: %w", err)
	}

	err = a.workspace.Update(func(w *mesh.Workspace) error {
		for _, spec := range cfg.Agents {
			id, err := mesh.NewIdentity()
			if err != nil {
				return err
			}
			name := uniqueName(spec.Name, func(n string) bool { return w.AgentByName(n) != nil })
			agent := mesh.Agent{
				ID:         uuid.NewString(),
				Name:       name,
				Role:       normalizeRole(spec.Role),
				Prompt:     spec.Prompt,
				DID:        id.DID,
				PublicKey:  id.PublicKey,
				PrivateKey: id.PrivateKey,
				Status:     mesh.StatusActive,
				CreatedAt:  now,
			}
			w.Agents = append(w.Agents, agent)
			d.agents = append(d.agents, agent.ID)
			net := 0
			if len(cfg.Networks) > 0 {
				net = spec.Network
			}
			d.agentNet = append(d.agentNet, net)
		}

		for _, spec := range cfg.Channels {
			if spec.From == spec.To {
				continue
			}
			typ := spec.Type
			if typ == "" {
				typ = mesh.ChannelDirect
			}
			if _, created := w.EnsureChannel(d.agents[spec.From], d.agents[spec.To], typ, now); created {
				d.channels++
			}
		}

		for _, spec := range cfg.Groups {
			var members []string
			for _, idx := range spec.Members {
				if id := d.agents[idx]; !slices.Contains(members, id) {
					members = append(members, id)
				}
			}
			if len(members) < 2 {
				continue
			}
			did, err := mesh.NewDID()
			if err != nil {
				return err
			}
			threshold := spec.Threshold
			if threshold <= 0 || threshold > len(members) {
				threshold = mesh.DefaultThreshold(len(members))
			}
			w.Groups = append(w.Groups, mesh.Group{
				ID:         uuid.NewString(),
				Name:       uniqueName(spec.Name, func(n string) bool { return w.Group(n) != nil }),
				Governance: normalizeGovernance(spec.Governance),
				Members:    members,
				Threshold:  threshold,
				DID:        did,
				CreatedAt:  now,
			})
			d.groups++
			d.channels += len(w.BackfillConsensus(members, now))
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create agents: %w", err)
	}

	ws := a.workspace.Snapshot()
	err = a.ecosystem.Update(func(e *mesh.Ecosystem) error {
		for netIdx, netID := range d.networks {
			n := e.Network(netID)
			if n == nil {
				continue
			}
			if _, err := e.SaveNetwork(n.Name, d.contents(ws, netIdx), now); err != nil {
				return err
			}
		}
		for _, spec := range cfg.Bridges {
			fromNet, toNet := d.agentNet[spec.From], d.agentNet[spec.To]
			if fromNet == toNet {
				continue
			}
			_, created, err := e.EnsureBridge(d.networks[fromNet], d.agents[spec.From], d.networks[toNet], d.agents[spec.To], now)
			if err != nil {
				return err
			}
			if created {
				d.bridges++
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("populate networks: %w", err)
	}

	for _, spec := range cfg.ExampleMessages {
		if spec.From == spec.To {
			continue
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
		from, to := d.agents[spec.From], d.agents[spec.To]
		err := a.workspace.Update(func(w *mesh.Workspace) error {
			if _, created := w.EnsureChannel(from, to, mesh.ChannelDirect, time.Now().UTC()); created {
				d.channels++
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		msg, err := mesh.Send(ctx, a.workspace, a.ai, from, to, spec.Content)
		if err != nil {
			return "", fmt.Errorf("send example message: %w", err)
		}
		d.messages++
		if msg.Status == mesh.MessageFailed {
			d.failed++
		}
	}

	return d.summary(), nil
}

// contents returns the part of ws deployed into network netIdx.
func (d *deployment) contents(ws mesh.Workspace, netIdx int) mesh.Workspace {
	in := map[string]bool{}
	for i, id := range d.agents {
		if d.agentNet[i] == netIdx {
			in[id] = true
		}
	}
	var out mesh.Workspace
	for _, ag := range ws.Agents {
		if in[ag.ID] {
			out.Agents = append(out.Agents, ag)
		}
	}
	for _, c := range ws.Channels {
		if in[c.From] && in[c.To] {
			out.Channels = append(out.Channels, c)
		}
	}
	for _, g := range ws.Groups {
		if len(g.Members) > 0 && !slices.ContainsFunc(g.Members, func(m string) bool { return !in[m] }) {
			out.Groups = append(out.Groups, g)
		}
	}
	out.Normalize()
	return out
}

func (d *deployment) summary() string {
	s := fmt.Sprintf("Deployed %d networks, %d agents, %d channels, %d groups, %d bridges and %d example messages",
		len(d.networks), len(d.agents), d.channels, d.groups, d.bridges, d.messages)
	if d.failed > 0 {
		s += fmt.Sprintf(" (%d replies failed)", d.failed)
	}
	return s
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if mesh.ValidRole(role) {
		return role
	}
	return mesh.Roles[0]
}

func normalizeGovernance(g string) string {
	g = strings.ToLower(strings.TrimSpace(g))
	if mesh.ValidGovernance(g) {
		return g
	}
	return mesh.Governance[0]
}

// uniqueName appends a counter to name until taken reports false.
func uniqueName(name string, taken func(string) bool) string {
	name = strings.TrimSpace(name)
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s %d", name, i)
		if !taken(candidate) {
			return candidate
		}
	}
}
