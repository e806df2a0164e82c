// Package commands holds the built-in command definitions.
package commands

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

var (
	readers = []string{command.RoleOperator, command.RoleViewer}
	writers = []string{command.RoleOperator}
	admins  = []string{command.RoleAdmin}
)

// All returns every built-in definition.
func All() []command.Definition {
	return slices.Concat(
		agentCommands(),
		channelCommands(),
		groupCommands(),
		messagingCommands(),
		maintenanceCommands(),
		ecosystemCommands(),
		architectCommands(),
		dataCommands(),
		queryCommands(),
		systemCommands(),
		catalogCommands(),
	)
}

// Register adds the built-ins to r.
func Register(r *command.Registry) error {
	for _, def := range All() {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func str(desc string, required bool) command.ArgSpec {
	return command.ArgSpec{Type: command.TypeString, Description: desc, Required: required}
}

func resolveAgent(w *mesh.Workspace, ref string) (*mesh.Agent, error) {
	if a := w.ResolveAgent(ref); a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("agent %q not found", ref)
}

func resolveGroup(w *mesh.Workspace, ref string) (*mesh.Group, error) {
	if g := w.Group(ref); g != nil {
		return g, nil
	}
	return nil, fmt.Errorf("group %q not found", ref)
}

// public strips key material before an agent leaves the process.
func public(a mesh.Agent) mesh.Agent {
	a.PrivateKey = ""
	return a
}

func trimmed(args command.Args, name string) string {
	return strings.TrimSpace(args.String(name))
}
