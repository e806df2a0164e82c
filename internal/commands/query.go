package commands

import (
	"context"

	"github.com/mtzanidakis/meshwork/internal/command"
)

func queryCommands() []command.Definition {
	return []command.Definition{
		{
			ID:          "workspace_stats",
			Description: "Count workspace entities and message outcomes",
			Tags:        []string{"query"},
			RBAC:        readers,
			Execute:     workspaceStats,
		},
	}
}

func workspaceStats(_ context.Context, _ command.Args, c *command.Context) (any, error) {
	ws := c.Workspace.Snapshot()
	messages := make(map[string]int)
	for _, m := range ws.Messages {
		messages[m.Status]++
	}
	stats := map[string]any{
		"agents":        len(ws.Agents),
		"channels":      len(ws.Channels),
		"groups":        len(ws.Groups),
		"messages":      len(ws.Messages),
		"messageStatus": messages,
	}
	if c.Ecosystem != nil {
		eco := c.Ecosystem.Snapshot()
		stats["networks"] = len(eco.Networks)
		stats["bridges"] = len(eco.Bridges)
	}
	if c.Jobs != nil {
		jobs := make(map[string]int)
		for _, j := range c.Jobs.List() {
			jobs[string(j.Status)]++
		}
		stats["jobs"] = jobs
	}
	return stats, nil
}
