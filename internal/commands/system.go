package commands

import (
	"context"
	"fmt"

	"github.com/mtzanidakis/meshwork/internal/command"
)

func systemCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "set_api_key",
			Description: "Store the AI provider key, encrypted",
			Tags:        []string{"system"},
			RBAC:        admins,
			Args: map[string]command.ArgSpec{
				"key": {Type: command.TypeString, Description: "API key", Required: true, Validate: command.NonEmpty},
			},
			Execute: setAPIKey,
		},
		{
			ID:          "set_model",
			Description: "Choose the model agents answer with",
			Tags:        []string{"system"},
			RBAC:        admins,
			Args: map[string]command.ArgSpec{
				"model": {Type: command.TypeString, Description: "Model name", Required: true, Validate: command.NonEmpty},
			},
			Execute: setModel,
		},
	}
}

func setAPIKey(_ context.Context, args command.Args, c *command.Context) (any, error) {
	if c.System == nil {
		return nil, fmt.Errorf("system settings are not available")
	}
	if err := c.System.SetAPIKey(trimmed(args, "key")); err != nil {
		return nil, err
	}
	c.Logf("api key updated")
	return "API key saved", nil
}

func setModel(_ context.Context, args command.Args, c *command.Context) (any, error) {
	if c.System == nil {
		return nil, fmt.Errorf("system settings are not available")
	}
	model := trimmed(args, "model")
	if err := c.System.SetModel(model); err != nil {
		return nil, err
	}
	c.Logf("model updated", "model", model)
	return fmt.Sprintf("Model set to %s", model), nil
}
