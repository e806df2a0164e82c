package commands

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/jobs"
)

func catalogCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "save_job_definition",
			Description: "Save a named job template, optionally on a schedule",
			Tags:        []string{"jobs"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name":        {Type: command.TypeString, Description: "Definition name", Required: true, Validate: command.NonEmpty},
				"description": str("What the job does", false),
				"type":        str("Command to run", false),
				"request":     {Type: command.TypeObject, Description: "Arguments for type"},
				"steps":       {Type: command.TypeArray, Description: "Steps as {id, commandId, args}"},
				"mode": {
					Type:        command.TypeString,
					Description: "How steps run",
					Validate:    command.OneOf(string(jobs.ModeSerial), string(jobs.ModeParallel)),
				},
				"schedule": str("Cron expression or schedule JSON", false),
			},
			Execute: saveJobDefinition,
		},
		{
			ID:          "delete_job_definition",
			Description: "Delete a job template",
			Tags:        []string{"jobs"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name": str("Definition name", true),
			},
			Execute: deleteJobDefinition,
		},
	}
}

func saveJobDefinition(_ context.Context, args command.Args, c *command.Context) (any, error) {
	if c.Catalog == nil {
		return nil, fmt.Errorf("job catalog is not available")
	}
	d := jobs.Definition{
		Name:        trimmed(args, "name"),
		Description: args.String("description"),
		Type:        args.String("type"),
		Request:     args.Map("request"),
		Mode:        jobs.Mode(args.String("mode")),
		Schedule:    args.String("schedule"),
	}
	if args.Has("steps") {
		if err := args.Decode("steps", &d.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	if err := c.Authorize(d.Commands()...); err != nil {
		return nil, err
	}
	d.Role = command.RoleSystem
	if c.Auth != nil {
		d.Role = c.Auth.Role
	}

	saved, err := c.Catalog.Save(d)
	if err != nil {
		return nil, err
	}
	c.Logf("job definition saved", "name", saved.Name, "schedule", saved.Schedule)
	return saved, nil
}

func deleteJobDefinition(_ context.Context, args command.Args, c *command.Context) (any, error) {
	if c.Catalog == nil {
		return nil, fmt.Errorf("job catalog is not available")
	}
	if err := c.Catalog.Delete(args.String("name")); err != nil {
		return nil, err
	}
	return fmt.Sprintf("Deleted job definition %s", args.String("name")), nil
}
