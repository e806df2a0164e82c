package commands

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/mtzanidakis/meshwork/internal/command"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

func groupCommands() []command.Definition {
	governance := command.ArgSpec{
		Type:        command.TypeString,
		Description: "Decision model",
		Validate:    command.OneOf(mesh.Governance...),
	}
	createGovernance := governance
	createGovernance.Default = mesh.Governance[0]

	return []command.Definition{
		{
			ID:          "create_group",
			Description: "Create a governed group and connect every pair of members",
			Tags:        []string{"group"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name":       {Type: command.TypeString, Description: "Unique group name", Required: true, Validate: command.NonEmpty},
				"members":    {Type: command.TypeArray, Description: "Member agent names", Required: true, Validate: command.MinItems(2)},
				"governance": createGovernance,
				"threshold":  {Type: command.TypeNumber, Description: "Votes needed, defaults to a majority"},
			},
			Execute: createGroup,
		},
		{
			ID:          "update_group",
			Description: "Rename a group or change its governance or threshold",
			Tags:        []string{"group"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name":       str("Group name or id", true),
				"newName":    {Type: command.TypeString, Description: "New name", Validate: command.NonEmpty},
				"governance": governance,
				"threshold":  {Type: command.TypeNumber, Description: "Votes needed"},
			},
			Execute: updateGroup,
		},
		{
			ID:          "add_group_member",
			Description: "Add an agent to a group",
			Tags:        []string{"group"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"group": str("Group name or id", true),
				"agent": str("Agent name or id", true),
			},
			Execute: addGroupMember,
		},
		{
			ID:          "remove_group_member",
			Description: "Remove an agent from a group",
			Tags:        []string{"group"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"group": str("Group name or id", true),
				"agent": str("Agent name or id", true),
			},
			Execute: removeGroupMember,
		},
		{
			ID:          "delete_group",
			Description: "Delete a group",
			Tags:        []string{"group"},
			RBAC:        writers,
			Args: map[string]command.ArgSpec{
				"name": str("Group name or id", true),
			},
			Execute: deleteGroup,
		},
		{
			ID:          "list_groups",
			Description: "List groups",
			Tags:        []string{"group", "query"},
			RBAC:        readers,
			Execute:     listGroups,
		},
	}
}

func checkThreshold(t, members int) error {
	if t < 1 || t > members {
		return fmt.Errorf("threshold must be between 1 and %d", members)
	}
	return nil
}

func createGroup(_ context.Context, args command.Args, c *command.Context) (any, error) {
	name := trimmed(args, "name")
	var (
		group mesh.Group
		added []mesh.Channel
	)
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		if w.Group(name) != nil {
			return fmt.Errorf("group %q already exists", name)
		}

		var members []string
		for _, ref := range args.Strings("members") {
			a, err := resolveAgent(w, ref)
			if err != nil {
				return err
			}
			if !slices.Contains(members, a.ID) {
				members = append(members, a.ID)
			}
		}
		if len(members) < 2 {
			return fmt.Errorf("a group needs at least 2 distinct members")
		}

		threshold := mesh.DefaultThreshold(len(members))
		if args.Has("threshold") {
			threshold = args.Int("threshold")
		}
		if err := checkThreshold(threshold, len(members)); err != nil {
			return err
		}

		did, err := mesh.NewDID()
		if err != nil {
			return err
		}
		group = mesh.Group{
			ID:         uuid.NewString(),
			Name:       name,
			Governance: args.String("governance"),
			Members:    members,
			Threshold:  threshold,
			DID:        did,
			CreatedAt:  now(),
		}
		w.Groups = append(w.Groups, group)
		added = w.BackfillConsensus(members, group.CreatedAt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Logf("group created", "name", group.Name, "members", len(group.Members), "channels", len(added))
	return map[string]any{
		"groupId":         group.ID,
		"threshold":       group.Threshold,
		"channelsCreated": len(added),
	}, nil
}

func updateGroup(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var updated mesh.Group
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		g, err := resolveGroup(w, args.String("name"))
		if err != nil {
			return err
		}
		if args.Has("newName") {
			newName := trimmed(args, "newName")
			if other := w.Group(newName); other != nil && other.ID != g.ID {
				return fmt.Errorf("group %q already exists", newName)
			}
			g.Name = newName
		}
		if args.Has("governance") {
			g.Governance = args.String("governance")
		}
		if args.Has("threshold") {
			t := args.Int("threshold")
			if err := checkThreshold(t, len(g.Members)); err != nil {
				return err
			}
			g.Threshold = t
		}
		updated = *g
		updated.Members = slices.Clone(g.Members)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func addGroupMember(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var added []mesh.Channel
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		g, err := resolveGroup(w, args.String("group"))
		if err != nil {
			return err
		}
		a, err := resolveAgent(w, args.String("agent"))
		if err != nil {
			return err
		}
		if slices.Contains(g.Members, a.ID) {
			return fmt.Errorf("%s is already a member of %s", a.Name, g.Name)
		}
		g.Members = append(g.Members, a.ID)
		added = w.BackfillConsensus(slices.Clone(g.Members), now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"channelsCreated": len(added)}, nil
}

func removeGroupMember(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var remaining int
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		g, err := resolveGroup(w, args.String("group"))
		if err != nil {
			return err
		}
		a, err := resolveAgent(w, args.String("agent"))
		if err != nil {
			return err
		}
		if !slices.Contains(g.Members, a.ID) {
			return fmt.Errorf("%s is not a member of %s", a.Name, g.Name)
		}
		if len(g.Members) <= 2 {
			return fmt.Errorf("group %s must keep at least 2 members", g.Name)
		}
		g.Members = slices.DeleteFunc(g.Members, func(m string) bool { return m == a.ID })
		g.Threshold = min(g.Threshold, len(g.Members))
		remaining = len(g.Members)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"members": remaining}, nil
}

func deleteGroup(_ context.Context, args command.Args, c *command.Context) (any, error) {
	var name string
	err := c.Workspace.Update(func(w *mesh.Workspace) error {
		g, err := resolveGroup(w, args.String("name"))
		if err != nil {
			return err
		}
		name = g.Name
		_, err = w.Delete(mesh.KindGroups, []string{g.ID})
		return err
	})
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Deleted group %s", name), nil
}

func listGroups(_ context.Context, _ command.Args, c *command.Context) (any, error) {
	return c.Workspace.Snapshot().Groups, nil
}
