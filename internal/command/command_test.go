package command

import (
	"context"
	"errors"
	"testing"

	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func echo(_ context.Context, args Args, _ *Context) (any, error) {
	return map[string]any(args), nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(Definition{
		ID:   "create_agent",
		RBAC: []string{RoleOperator},
		Args: map[string]ArgSpec{
			"name":   {Type: TypeString, Required: true, Validate: MinLength(3)},
			"role":   {Type: TypeString, Required: true, Validate: OneOf("researcher", "builder")},
			"prompt": {Type: TypeString, Required: true},
			"status": {Type: TypeString, Default: "active"},
		},
		Execute: echo,
	}))
	require.NoError(t, r.Register(Definition{
		ID: "create_group",
		Args: map[string]ArgSpec{
			"members":   {Type: TypeArray, Required: true, Validate: MinItems(2)},
			"threshold": {Type: TypeNumber},
			"private":   {Type: TypeBoolean},
			"meta":      {Type: TypeObject},
		},
		Execute: echo,
	}))
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(Definition{ID: "create_agent", Execute: echo})
	assert.ErrorIs(t, err, ErrDuplicateCommand)

	assert.Error(t, r.Register(Definition{Execute: echo}))
	assert.Error(t, r.Register(Definition{ID: "no_body"}))
	assert.Panics(t, func() { r.MustRegister(Definition{ID: "create_group", Execute: echo}) })
}

func TestListIsSorted(t *testing.T) {
	r := newTestRegistry(t)
	defs := r.List()
	require.Len(t, defs, 2)
	assert.Equal(t, "create_agent", defs[0].ID)
	assert.Equal(t, "create_group", defs[1].ID)
}

func TestExecuteUnknownCommand(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "launch_rocket", nil, nil)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindUnknownCommand, cerr.Kind)
	assert.ErrorIs(t, err, ErrUnknownCommand)
	assert.NotErrorIs(t, err, ErrValidation)
}

func TestExecuteMissingArgument(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "create_agent", map[string]any{"name": "Scout", "role": "builder"}, nil)

	var cerr *Error
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, KindMissingArgument, cerr.Kind)
	assert.Equal(t, "prompt", cerr.Arg)
	assert.ErrorIs(t, err, ErrMissingArgument)
}

func TestExecuteValidation(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Execute(context.Background(), "create_agent", map[string]any{"name": "Al", "role": "builder", "prompt": ""}, nil)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "name: must be at least 3 characters", err.Error())

	_, err = r.Execute(context.Background(), "create_agent", map[string]any{"name": "Scout", "role": "pilot", "prompt": ""}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Execute(context.Background(), "create_group", map[string]any{"members": []any{"a"}}, nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = r.Execute(context.Background(), "create_group", map[string]any{"members": "a,b", "threshold": "lots"}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestExecuteAppliesDefaultsAndCoerces(t *testing.T) {
	r := newTestRegistry(t)
	out, err := r.Execute(context.Background(), "create_agent", map[string]any{"name": "Scout", "role": "builder", "prompt": ""}, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", out.(map[string]any)["status"])

	out, err = r.Execute(context.Background(), "create_group", map[string]any{
		"members":   "Scout, Forge",
		"threshold": "2",
		"private":   "true",
		"meta":      `{"topic":"ops"}`,
	}, nil)
	require.NoError(t, err)
	args := Args(out.(map[string]any))
	assert.Equal(t, []string{"Scout", "Forge"}, args.Strings("members"))
	assert.Equal(t, 2, args.Int("threshold"))
	assert.True(t, args.Bool("private"))
	assert.Equal(t, "ops", args.Map("meta")["topic"])
}

func TestExecuteDoesNotMutateCallerArgs(t *testing.T) {
	r := newTestRegistry(t)
	in := map[string]any{"name": "Scout", "role": "builder", "prompt": ""}
	_, err := r.Execute(context.Background(), "create_agent", in, nil)
	require.NoError(t, err)
	_, hasStatus := in["status"]
	assert.False(t, hasStatus)
}

func TestExecuteEnforcesRBAC(t *testing.T) {
	r := newTestRegistry(t)
	args := map[string]any{"name": "Scout", "role": "builder", "prompt": ""}

	tests := []struct {
		name    string
		auth    *Auth
		allowed bool
	}{
		{"no auth", nil, true},
		{"admin", &Auth{User: "root", Role: RoleAdmin}, true},
		{"system", &Auth{User: "scheduler", Role: RoleSystem}, true},
		{"operator", &Auth{User: "op", Role: RoleOperator}, true},
		{"viewer", &Auth{User: "v", Role: RoleViewer}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(context.Background(), "create_agent", args, &Context{Auth: tt.auth})
			if tt.allowed {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrForbidden)
			}
		})
	}

	// no RBAC declared: anyone
	_, err := r.Execute(context.Background(), "create_group", map[string]any{"members": []any{"a", "b"}}, &Context{Auth: &Auth{Role: RoleViewer}})
	assert.NoError(t, err)
}

func TestContextAuthorize(t *testing.T) {
	r := newTestRegistry(t)

	viewer := &Context{Commands: r, Auth: &Auth{Role: RoleViewer}}
	assert.NoError(t, viewer.Authorize("create_group"))
	assert.ErrorIs(t, viewer.Authorize("create_group", "create_agent"), ErrForbidden)
	assert.ErrorIs(t, viewer.Authorize("launch"), ErrUnknownCommand)

	operator := &Context{Commands: r, Auth: &Auth{Role: RoleOperator}}
	assert.NoError(t, operator.Authorize("create_agent", "create_group"))

	internal := &Context{Commands: r}
	assert.NoError(t, internal.Authorize("create_agent"))
	assert.ErrorIs(t, internal.Authorize("launch"), ErrUnknownCommand)

	// Execute hands the registry to the command body.
	var seen Lookup
	require.NoError(t, r.Register(Definition{
		ID: "inspect",
		Execute: func(_ context.Context, _ Args, c *Context) (any, error) {
			seen = c.Commands
			return nil, nil
		},
	}))
	_, err := r.Execute(context.Background(), "inspect", nil, &Context{})
	require.NoError(t, err)
	assert.Same(t, r, seen)
}

func TestDispatchErrorsNeverRunTheBody(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ran := false
		r := NewRegistry()
		r.MustRegister(Definition{
			ID:   "guarded",
			RBAC: []string{RoleOperator},
			Args: map[string]ArgSpec{
				"name": {Type: TypeString, Required: true, Validate: MinLength(3)},
			},
			Execute: func(context.Context, Args, *Context) (any, error) {
				ran = true
				return nil, nil
			},
		})

		args := map[string]any{}
		if rapid.Bool().Draw(t, "hasName") {
			args["name"] = rapid.StringN(0, 6, -1).Draw(t, "name")
		}
		role := rapid.SampledFrom([]string{RoleAdmin, RoleOperator, RoleViewer}).Draw(t, "role")

		_, err := r.Execute(context.Background(), "guarded", args, &Context{Auth: &Auth{Role: role}})
		var cerr *Error
		if errors.As(err, &cerr) && ran {
			t.Fatalf("body ran despite dispatch error %v", err)
		}
		if err == nil && !ran {
			t.Fatal("body did not run on success")
		}
	})
}

func TestEnvContextFor(t *testing.T) {
	env := &Env{}
	c := env.ContextFor(jobs.Job{ID: "j1"})
	assert.Nil(t, c.Auth)
	assert.Equal(t, "j1", c.JobID)
	c.Logf("hello", "k", "v")

	c = env.ContextFor(jobs.Job{ID: "j2", Actor: "alice", Role: RoleViewer})
	require.NotNil(t, c.Auth)
	assert.Equal(t, "alice", c.Auth.User)
	assert.Equal(t, RoleViewer, c.Auth.Role)
}

func TestDispatcherBuildsContextPerCall(t *testing.T) {
	r := NewRegistry()
	var seen []*Context
	r.MustRegister(Definition{
		ID: "probe",
		Execute: func(_ context.Context, _ Args, c *Context) (any, error) {
			seen = append(seen, c)
			return c.JobID, nil
		},
	})
	d := NewDispatcher(r, &Env{})

	job := jobs.Job{ID: "j1"}
	out, err := d.Dispatch(context.Background(), job, "probe", nil)
	require.NoError(t, err)
	assert.Equal(t, "j1", out)
	_, err = d.Dispatch(context.Background(), job, "probe", nil)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.NotSame(t, seen[0], seen[1])
}
