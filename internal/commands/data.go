package commands

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

func dataCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "export_data",
			Description: "Export the workspace, the ecosystem or both",
			Tags:        []string{"data"},
			RBAC:        readers,
			Args: map[string]command.ArgSpec{
				"type": {
					Type:        command.TypeString,
					Description: "What to export",
					Default:     mesh.ExportFullBackup,
					Validate:    command.OneOf(mesh.ExportWorkspace, mesh.ExportEcosystem, mesh.ExportFullBackup),
				},
			},
			Execute: exportData,
		},
		{
			ID:          "import_data",
			Description: "Replace stored collections with an export",
			Tags:        []string{"data"},
			RBAC:        admins,
			Args: map[string]command.ArgSpec{
				"envelope": {Type: command.TypeObject, Description: "Export envelope", Required: true},
			},
			Execute: importData,
		},
	}
}

func exportData(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var eco mesh.Ecosystem
	if c.Ecosystem != nil {
		eco = c.Ecosystem.Snapshot()
	}
	return mesh.NewEnvelope(args.String("type"), c.Workspace.Snapshot(), eco, now())
}

func importData(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var env mesh.Envelope
	if err := args.Decode("envelope", &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := env.Apply(c.Workspace, c.Ecosystem); err != nil {
		return nil, err
	}
	c.Logf("data imported", "type", env.Type)
	return fmt.Sprintf("Imported %s", env.Type), nil
}
