package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

func agentCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "create_agent",
			Description: "Create an agent with a generated identity",
			Tags:        []string{"agent"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name":   {Type: command.TypeString, Description: "Unique agent name", Required: true, Validate: command.MinLength(3)},
				"role":   {Type: command.TypeString, Description: "Agent role", Required: true, Validate: command.OneOf(mesh.Roles...)},
				"prompt": str("System prompt the agent answers with", true),
			},
			Execute: createAgent,
		},
		{
			ID:          "update_agent",
			Description: "Rename an agent or change its role, prompt or status",
			Tags:        []string{"agent"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name":    str("Agent name or id", true),
				"newName": {Type: command.TypeString, Description: "New name", Validate: command.MinLength(3)},
				"role":    {Type: command.TypeString, Description: "New role", Validate: command.OneOf(mesh.Roles...)},
				"prompt":  str("New prompt", false),
				"status":  {Type: command.TypeString, Description: "active or inactive", Validate: command.OneOf(mesh.StatusActive, mesh.StatusInactive)},
			},
			Execute: updateAgent,
		},
		{
			ID:          "delete_agent",
			Description: "Delete an agent and everything attached to it",
			Tags:        []string{"agent"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name": str("Agent name or id", true),
			},
			Execute: deleteAgent,
		},
		{
			ID:          "list_agents",
			Description: "List agents",
			Tags:        []string{"agent", "query"},
			RBAC:        readers,
			Execute:     listAgents,
		},
		{
			ID:          "get_agent",
			Description: "Show one agent with its channels and groups",
			Tags:        []string{"agent", "query"},
			RBAC:        readers,
			Args: map[string]command.ArgSpec{
				"name": str("Agent name or id", true),
			},
			Execute: getAgent,
		},
	}
}

func createAgent(_ context.Context, args command.Args, c *command.Context) (any, error) {
	name := trimmed(args, "name")
	id, err := mesh.NewIdentity()
	if err != nil {
		return nil, err
	}

	var agent mesh.Agent
	err = c.Workspace.Update(func(w *mesh.Workspace) error {
		if w.AgentByName(name) != nil {
			return fmt.Errorf("agent %q already exists", name)
		}
		agent = mesh.Agent{
			ID:         uuid.NewString(),
			Name:       name,
			Role:       args.String("role"),
			Prompt:     args.String("prompt"),
			DID:        id.DID,
			PublicKey:  id.PublicKey,
			PrivateKey: id.PrivateKey,
			Status:     mesh.StatusActive,
			CreatedAt:  now(),
		}
		w.Agents = append(w.Agents, agent)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Logf("agent created", "name", agent.Name, "did", agent.DID)
	return map[string]any{"agentId": agent.ID, "did": agent.DID}, nil
}

func updateAgent(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var updated mesh.Agent
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		a, err := resolveAgent(w, args.String("name"))
		if err != nil {
			return err
		}
		if args.Has("newName") {
			newName := trimmed(args, "newName")
			if other := w.AgentByName(newName); other != nil && other.ID != a.ID {
				return fmt.Errorf("agent %q already exists", newName)
			}
			a.Name = newName
		}
		if args.Has("role") {
			a.Role = args.String("role")
		}
		if args.Has("prompt") {
			a.Prompt = args.String("prompt")
		}
		if args.Has("status") {
			a.Status = args.String("status")
		}
		updated = *a
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Logf("agent updated", "name", updated.Name)
	return public(updated), nil
}

func deleteAgent(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var name string
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		a, err := resolveAgent(w, args.String("name"))
		if err != nil {
			return err
		}
		name = a.Name
		_, err = w.Delete(mesh.KindAgents, []string{a.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Logf("agent deleted", "name", name)
	return fmt.Sprintf("Deleted agent %s", name), nil
}

func listAgents(_ context.Context, _ command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	out := make([]mesh.Agent, len(ws.Agents))
	for i, a := range ws.Agents {
		out[i] = public(a)
	}
	return out, nil
}

func getAgent(_ context.Context, args command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	a, err := resolveAgent(&ws, args.String("name"))
	if err != nil {
		return nil, err
	}

	var peers, groups []string
	for _, ch := range ws.Channels {
		if !ch.Touches(a.ID) {
			continue
		}
		peer := ch.To
		if peer == a.ID {
			peer = ch.From
		}
		if p := ws.Agent(peer); p != nil {
			peers = append(peers, p.Name)
		}
	}
	for _, g := range ws.Groups {
		if slices.Contains(g.Members, a.ID) {
			groups = append(groups, g.Name)
		}
	}
	return map[string]any{
		"agent":  public(*a),
		"peers":  peers,
		"groups": groups,
	}, nil
}
