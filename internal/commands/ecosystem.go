package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

func ecosystemCommands() []command.Definition {
	network := str("Network name or id", true)
	return []command.Definition{
		{
			ID:          "create_network",
			Description: "Create an empty network",
			Tags:        []string{"ecosystem"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name":  {Type: command.TypeString, Description: "Network name", Required: true, Validate: command.NonEmpty},
				"color": str("Display color", false),
			},
			Execute: createNetwork,
		},
		{
			ID:          "save_network",
			Description: "Store the current workspace as a network",
			Tags:        []string{"ecosystem"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name": {Type: command.TypeString, Description: "Network name", Required: true, Validate: command.NonEmpty},
			},
			Execute: saveNetwork,
		},
		{
			ID:          "load_network",
			Description: "Replace the workspace with a network's contents",
			Tags:        []string{"ecosystem"},
			RBAC:        writers,
			Args:        map[string]command.ArgSpec{"name": network},
			Execute:     loadNetwork,
		},
		{
			ID:          "dissolve_network",
			Description: "Remove a network and its bridges",
			Tags:        []string{"ecosystem"},
			RBAC:        writers,
			Args:        map[string]command.ArgSpec{"name": network},
			Execute:     dissolveNetwork,
		},
		{
			ID:          "list_networks",
			Description: "List networks with entity counts",
			Tags:        []string{"ecosystem", "query"},
			RBAC:        readers,
			Execute:     listNetworks,
		},
		{
			ID:          "create_bridge",
			Description: "Link two agents in different networks",
			Tags:        []string{"ecosystem", "topology"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"fromNetwork": network,
				"fromAgent":   str("Agent in the first network", true),
				"toNetwork":   network,
				"toAgent":     str("Agent in the second network", true),
			},
			Execute: createBridge,
		},
		{
			ID:          "delete_bridge",
			Description: "Remove a bridge and its messages",
			Tags:        []string{"ecosystem", "topology"},
			RBAC:        writers,
			Args:        map[string]command.ArgSpec{"id": str("Bridge id", true)},
			Execute:     deleteBridge,
		},
		{
			ID:          "send_bridge_message",
			Description: "Send a message across a bridge",
			Tags:        []string{"ecosystem", "messaging"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"bridgeId": str("Bridge id", true),
				"content":  {Type: command.TypeString, Description: "Message text", Required: true, Validate: command.NonEmpty},
				"direction": {
					Type:        command.TypeString,
					Description: "forward sends from the bridge's first agent, reverse from its second",
					Default:     "forward",
					Validate:    command.OneOf("forward", "reverse"),
				},
			},
			Execute: sendBridgeMessage,
		},
	}
}

func createNetwork(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var n mesh.Network
	err := c.Ecosystem.Update(func(e *mesh.Ecosystem) error {
		added, err := e.AddNetwork(trimmed(args, "name"), args.String("color"), now())
		if err != nil {
			return err
		}
		n = *added
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Logf("network created", "name", n.Name, "did", n.DID)
	return map[string]any{"networkId": n.ID, "did": n.DID}, nil
}

func saveNetwork(_ context.Context, args command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	var id string
	err := c.Ecosystem.Update(func(e *mesh.Ecosystem) error {
		n, err := e.SaveNetwork(trimmed(args, "name"), ws, now())
		if err != nil {
			return err
		}
		id = n.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"networkId": id, "agents": len(ws.Agents)}, nil
}

func loadNetwork(_ context.Context, args command.Args, c *command.Context) (any, error) {
	eco := c.Ecosystem.Snapshot()
	n := eco.Network(args.String("name"))
	if n == nil {
		return nil, fmt.Errorf("network %q not found", args.String("name"))
	}
	contents := n.Contents()
	contents.Normalize()
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		*w = contents
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Loaded network %s with %d agents", n.Name, len(contents.Agents)), nil
}

func dissolveNetwork(_ context.Context, args command.Args, c *command.Context) (any, error) {
	err := c.Ecosystem.Update(func(e *mesh.Ecosystem) error {
		return e.Dissolve(args.String("name"))
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Dissolved network %s", args.String("name")), nil
}

type networkView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	DID       string    `json:"did"`
	Color     string    `json:"color"`
	Agents    int       `json:"agents"`
	Channels  int       `json:"channels"`
	Groups    int       `json:"groups"`
	CreatedAt time.Time `json:"createdAt"`
}

func listNetworks(_ context.Context, _ command.Args, c *command.Context) (any, error) {
	eco := c.Ecosystem.Snapshot()
	out := make([]networkView, 0, len(eco.Networks))
	for _, n := range eco.Networks {
		out = append(out, networkView{
			ID:        n.ID,
			Name:      n.Name,
			DID:       n.DID,
			Color:     n.Color,
			Agents:    len(n.Agents),
			Channels:  len(n.Channels),
			Groups:    len(n.Groups),
			CreatedAt: n.CreatedAt,
		})
	}
	return out, nil
}

func createBridge(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var (
		b       mesh.Bridge
		created bool
	)
	err := c.Ecosystem.Update(func(e *mesh.Ecosystem) error {
		fromNet := e.Network(args.String("fromNetwork"))
		if fromNet == nil {
			return fmt.Errorf("network %q not found", args.String("fromNetwork"))
		}
		toNet := e.Network(args.String("toNetwork"))
		if toNet == nil {
			return fmt.Errorf("network %q not found", args.String("toNetwork"))
		}
		fromAgent := fromNet.AgentIn(args.String("fromAgent"))
		if fromAgent == nil {
			return fmt.Errorf("agent %q not found in %s", args.String("fromAgent"), fromNet.Name)
		}
		toAgent := toNet.AgentIn(args.String("toAgent"))
		if toAgent == nil {
			return fmt.Errorf("agent %q not found in %s", args.String("toAgent"), toNet.Name)
		}

		var err error
		b, created, err = e.EnsureBridge(fromNet.ID, fromAgent.ID, toNet.ID, toAgent.ID, now())
		return err
	})
	if err != nil {
		return nil, err
	}
	status := "exists"
	if created {
		status = "created"
		c.Logf("bridge created", "bridge", b.ID)
	}
	return map[string]any{"status": status, "bridgeId": b.ID}, nil
}

func deleteBridge(_ context.Context, args command.Args, c *command.Context) (any, error) {
	err := c.Ecosystem.Update(func(e *mesh.Ecosystem) error {
		return e.DeleteBridge(args.String("id"))
	})
	if err != nil {
		return nil, err
	}
	return "Bridge deleted", nil
}

func sendBridgeMessage(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	eco := c.Ecosystem.Snapshot()
	b := eco.Bridge(args.String("bridgeId"))
	if b == nil {
		return nil, fmt.Errorf("bridge %q not found", args.String("bridgeId"))
	}
	fromID, toID := b.FromAgentID, b.ToAgentID
	if args.String("direction") == "reverse" {
		fromID, toID = toID, fromID
	}
	_, from := eco.FindAgent(fromID)
	_, to := eco.FindAgent(toID)
	if from == nil || to == nil {
		return nil, fmt.Errorf("bridge %s has a missing endpoint", b.ID)
	}

	content := args.String("content")
	msg := mesh.BridgeMessage{
		ID:          uuid.NewString(),
		BridgeID:    b.ID,
		FromAgentID: fromID,
		ToAgentID:   toID,
		Content:     content,
		CreatedAt:   now(),
	}
	msg.Response, msg.Status, msg.Error = mesh.Reply(ctx, c.AI, *to, from.Name, content)

	err := c.Ecosystem.Update(func(e *mesh.Ecosystem) error {
		if e.Bridge(b.ID) == nil {
			return fmt.Errorf("bridge %q no longer exists", b.ID)
		}
		e.BridgeMessages = append(e.BridgeMessages, msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"messageId": msg.ID,
		"status":    msg.Status,
		"response":  msg.Response,
	}, nil
}
