package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mtzanidakis/meshwork/internal/architect"
	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/jobs"
)

func architectCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "generate_mesh",
			Description: "Design a mesh configuration from a description",
			Tags:        []string{"architect"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"prompt": {Type: command.TypeString, Description: "What the mesh should do", Required: true, Validate: command.MinLength(10)},
			},
			Execute: generateMesh,
		},
		{
			ID:          "deploy_network",
			Description: "Materialize a mesh configuration, generating one from prompt if none is given",
			Tags:        []string{"architect"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"config": {Type: command.TypeObject, Description: "Mesh configuration"},
				"prompt": str("Description to generate a configuration from", false),
			},
			Execute: deployNetwork,
		},
	}
}

func generateMesh(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	if c.Architect == nil {
		return nil, fmt.Errorf("architect is not available")
	}
	cfg, err := c.Architect.Generate(ctx, args.String("prompt"))
	if err != nil {
		return nil, err
	}

	if c.JobID != "" && c.Jobs != nil {
		content, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return nil, err
		}
		err = c.Jobs.AddArtifact(c.JobID, jobs.Artifact{
			Type:    jobs.ArtifactJSON,
			Name:    "mesh-config.json",
			Content: string(content),
		})
		if err != nil {
			return nil, err
		}
	}
	c.Logf("mesh generated", "agents", len(cfg.Agents), "networks", len(cfg.Networks))
	return cfg, nil
}

func deployNetwork(ctx context.Context, args command.Args, c *command.Context) (any, error) {
	if c.Architect == nil {
		return nil, fmt.Errorf("architect is not available")
	}

	var cfg *architect.MeshConfig
	switch {
	case args.Has("config"):
		cfg = &architect.MeshConfig{}
		if err := args.Decode("config", cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	case args.String("prompt") != "":
		var err error
		if cfg, err = c.Architect.Generate(ctx, args.String("prompt")); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("either config or prompt is required")
	}

	summary, err := c.Architect.Deploy(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.Logf("network deployed", "summary", summary)
	return summary, nil
}
