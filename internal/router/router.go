// Package router turns free-form chat text into job specs.
package router

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

// Commands resolves command ids. *command.Registry satisfies it.
type Commands interface {
	Get(id string) (command.Definition, bool)
}

// Workspace exposes the agents addressable with @name.
type Workspace interface {
	Snapshot() mesh.Workspace
}

type Router struct {
	commands  Commands
	workspace Workspace
}

func New(commands Commands, ws Workspace) *Router {
	return &Router{commands: commands, workspace: ws}
}

// Route maps a message to a job:
//
//	/command key=value ...   runs the command with the given arguments
//	@Agent text              asks the named agent
//	anything else            asks the workspace assistant
//
// An @prefix naming no agent falls through to the assistant.
func (r *Router) Route(message string) (jobs.Spec, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return jobs.Spec{}, fmt.Errorf("empty message")
	}

	if strings.HasPrefix(message, "/") {
		return r.routeCommand(message[1:])
	}

	if strings.HasPrefix(message, "@") && r.workspace != nil {
		parts := strings.SplitN(message, " ", 2)
		name := strings.TrimPrefix(parts[0], "@")
		ws := r.workspace.Snapshot()
		if a := ws.AgentByName(name); a != nil {
			text := ""
			if len(parts) > 1 {
				text = strings.TrimSpace(parts[1])
			}
			if text == "" {
				return jobs.Spec{}, fmt.Errorf("nothing to ask %s", a.Name)
			}
			return jobs.Spec{
				Type:    "ask_agent",
				Request: map[string]any{"agent": a.Name, "content": text},
			}, nil
		}
	}

	return jobs.Spec{
		Type:    "chat_with_workspace",
		Request: map[string]any{"message": message},
	}, nil
}

func (r *Router) routeCommand(text string) (jobs.Spec, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return jobs.Spec{}, err
	}
	if len(tokens) == 0 {
		return jobs.Spec{}, fmt.Errorf("missing command name")
	}

	// Telegram appends @botname to commands in groups.
	id, _, _ := strings.Cut(tokens[0], "@")
	if r.commands != nil {
		if _, ok := r.commands.Get(id); !ok {
			return jobs.Spec{}, fmt.Errorf("unknown command: %s", id)
		}
	}

	args := make(map[string]any, len(tokens)-1)
	for _, tok := range tokens[1:] {
		key, value, ok := strings.Cut(tok, "=")
		if !ok || key == "" {
			return jobs.Spec{}, fmt.Errorf("argument %q is not key=value", tok)
		}
		args[key] = value
	}
	return jobs.Spec{Type: id, Request: args}, nil
}

// tokenize splits on whitespace, keeping double- or single-quoted runs
// together and dropping the quotes.
func tokenize(s string) ([]string, error) {
	var (
		tokens []string
		cur    strings.Builder
		quote  rune
		inTok  bool
	)
	for _, c := range s {
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteRune(c)
			}
		case c == '"' || c == '\'':
			quote = c
			inTok = true
		case c == ' ' || c == '\t' || c == '\n':
			if inTok {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(c)
			inTok = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote")
	}
	if inTok {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
