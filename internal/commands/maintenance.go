package commands

import (
	"context"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

func maintenanceCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "bulk_delete",
			Description: "Delete entities by id, cascading to dependents",
			Tags:        []string{"maintenance"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"type": {
					Type:        command.TypeString,
					Description: "Collection to delete from",
					Required:    true,
					Validate:    command.OneOf(mesh.KindAgents, mesh.KindChannels, mesh.KindGroups, mesh.KindMessages),
				},
				"ids": {Type: command.TypeArray, Description: "Entity ids", Required: true, Validate: command.MinItems(1)},
			},
			Execute: bulkDelete,
		},
		{
			ID:          "reset_workspace",
			Description: "Empty the workspace and the job queue",
			Tags:        []string{"maintenance"},
			RBAC:        admins,
			Execute:     resetWorkspace,
		},
	}
}

func bulkDelete(_ context.Context, args command.Args, c *command.Context) (any, error) {
	kind := args.String("type")
	var n int
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		var err error
		n, err = w.Delete(kind, args.Strings("ids"))
		return err
	})
	if err != nil {
		return nil, err
	}
	c.Logf("bulk delete", "type", kind, "deleted", n)
	return map[string]any{"deleted": n}, nil
}

func resetWorkspace(_ context.Context, _ command.Args, c *command.Context) (any, error) {
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		w.Reset()
		return nil
	})
	if err != nil {
		return nil, err
	}
	if c.Jobs != nil {
		c.Jobs.Clear()
	}
	c.Logf("workspace reset")
	return "Workspace reset", nil
}
