package commands

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

func channelCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "create_channel",
			Description: "Connect two agents; an existing channel is reported, not duplicated",
			Tags:        []string{"channel"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"from": str("First agent", true),
				"to":   str("Second agent", true),
				"type": {
					Type:        command.TypeString,
					Description: "Channel type",
					Default:     mesh.ChannelDirect,
					Validate:    command.OneOf(mesh.ChannelDirect, mesh.ChannelConsensus, mesh.ChannelBroadcast),
				},
			},
			Execute: createChannel,
		},
		{
			ID:          "delete_channel",
			Description: "Delete a channel by id or by its two endpoints",
			Tags:        []string{"channel"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"id":   str("Channel id", false),
				"from": str("First agent", false),
				"to":   str("Second agent", false),
			},
			Execute: deleteChannel,
		},
		{
			ID:          "list_channels",
			Description: "List channels with endpoint names",
			Tags:        []string{"channel", "query"},
			RBAC:        readers,
			Execute:     listChannels,
		},
	}
}

func createChannel(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var (
		ch      mesh.Channel
		created bool
	)
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		from, err := resolveAgent(w, args.String("from"))
		if err != nil {
			return err
		}
		to, err := resolveAgent(w, args.String("to"))
		if err != nil {
			return err
		}
		if from.ID == to.ID {
			return fmt.Errorf("cannot connect %s to itself", from.Name)
		}
		ch, created = w.EnsureChannel(from.ID, to.ID, args.String("type"), now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !created {
		return map[string]any{"status": "exists", "channelId": ch.ID}, nil
	}
	c.Logf("channel created", "channel", ch.ID, "type", ch.Type)
	return map[string]any{"status": "created", "channelId": ch.ID}, nil
}

func deleteChannel(_ context.Context, args command.Args, c *command.Context) (any, error) {
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		id := args.String("id")
		if id == "" {
			if !args.Has("from") || !args.Has("to") {
				return fmt.Errorf("either id or both from and to are required")
			}
			from, err := resolveAgent(w, args.String("from"))
			if err != nil {
				return err
			}
			to, err := resolveAgent(w, args.String("to"))
			if err != nil {
				return err
			}
			ch := w.ChannelBetween(from.ID, to.ID)
			if ch == nil {
				return fmt.Errorf("no channel between %s and %s", from.Name, to.Name)
			}
			id = ch.ID
		}
		n, err := w.Delete(mesh.KindChannels, []string{id})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("channel %q not found", id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return "Channel deleted", nil
}

type channelView struct {
	mesh.Channel
	FromName string `json:"fromName"`
	ToName   string `json:"toName"`
}

func listChannels(_ context.Context, _ command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	out := make([]channelView, 0, len(ws.Channels))
	for _, ch := range ws.Channels {
		v := channelView{Channel: ch, FromName: ch.From, ToName: ch.To}
		if a := ws.Agent(ch.From); a != nil {
			v.FromName = a.Name
		}
		if a := ws.Agent(ch.To); a != nil {
			v.ToName = a.Name
		}
		out = append(out, v)
	}
	return out, nil
}
