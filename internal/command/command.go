// Package command defines the typed, validated and role-gated dispatch
// table every workspace mutation goes through.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/mtzanidakis/meshwork/internal/ai"
	"github.com/mtzanidakis/meshwork/internal/architect"
	"github.com/mtzanidakis/meshwork/internal/jobs"
	"github.com/mtzanidakis/meshwork/internal/mesh"
)

// Roles understood by RBAC checks.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
	RoleSystem   = "system"
)

// Executor is the body of a command.
type Executor func(ctx context.Context, args Args, c *Context) (any, error)

// Definition describes one command: its arguments, the roles allowed to run
// it and its body.
type Definition struct {
	ID          string             `json:"id"`
	Description string             `json:"description"`
	Tags        []string           `json:"tags,omitempty"`
	RBAC        []string           `json:"rbac,omitempty"`
	Args        map[string]ArgSpec `json:"args,omitempty"`
	Execute     Executor           `json:"-"`
}

// Allows reports whether role may run the command.
func (d *Definition) Allows(role string) bool {
	if role == RoleAdmin || role == RoleSystem || len(d.RBAC) == 0 {
		return true
	}
	return slices.Contains(d.RBAC, role)
}

// WorkspaceStore reads and mutates the workspace. *mesh.WorkspaceStore
// satisfies it.
type WorkspaceStore interface {
	Snapshot() mesh.Workspace
	Update(fn func(*mesh.Workspace) error) error
}

// EcosystemStore reads and mutates the ecosystem.
type EcosystemStore interface {
	Snapshot() mesh.Ecosystem
	Update(fn func(*mesh.Ecosystem) error) error
}

// JobControl is the queue surface available to commands. *jobs.Queue
// satisfies it.
type JobControl interface {
	Add(spec jobs.Spec) (jobs.Job, error)
	Remove(id string) error
	List() []jobs.Job
	Clear()
	Pause()
	Resume()
	Paused() bool
	AddArtifact(jobID string, a jobs.Artifact) error
	ImportArtifact(a jobs.Artifact) (jobs.Artifact, error)
	RemoveArtifact(id string) error
	Artifacts() []jobs.Artifact
}

// Catalog stores named job definitions. *jobs.Catalog satisfies it.
type Catalog interface {
	List() ([]jobs.Definition, error)
	Save(d jobs.Definition) (jobs.Definition, error)
	Delete(name string) error
}

// System holds the AI settings.
type System interface {
	Model() string
	SetModel(model string) error
	SetAPIKey(key string) error
}

// Architect generates and deploys mesh configurations.
type Architect interface {
	Generate(ctx context.Context, prompt string) (*architect.MeshConfig, error)
	Deploy(ctx context.Context, cfg *architect.MeshConfig) (string, error)
}

// Lookup resolves command definitions by id. *Registry satisfies it.
type Lookup interface {
	Get(id string) (Definition, bool)
}

// Auth is the identity a command runs as.
type Auth struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// Context is assembled fresh for every command invocation.
type Context struct {
	Workspace WorkspaceStore
	Ecosystem EcosystemStore
	Jobs      JobControl
	Catalog   Catalog
	System    System
	Architect Architect
	AI        ai.Service
	Auth      *Auth

	// Commands is set by Registry.Execute to the registry running the
	// command.
	Commands Lookup

	// JobID is the job the command runs under, empty for direct calls.
	JobID string
	Log   func(msg string, args ...any)
}

func (c *Context) Logf(msg string, args ...any) {
	if c.Log != nil {
		c.Log(msg, args...)
	}
}

// Authorize fails unless every command in ids exists and c's role may run
// it. Without an Auth only existence is checked.
func (c *Context) Authorize(ids ...string) error {
	if c.Commands == nil {
		return nil
	}
	for _, id := range ids {
		def, ok := c.Commands.Get(id)
		if !ok {
			return unknownCommand(id)
		}
		if c.Auth != nil && !def.Allows(c.Auth.Role) {
			return forbidden(id, c.Auth.Role)
		}
	}
	return nil
}

// Registry maps command ids to definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]*Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Register adds def. A second definition with the same id is rejected.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return fmt.Errorf("command id is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("command %s has no executor", def.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, def.ID)
	}
	r.defs[def.ID] = &def
	return nil
}

// MustRegister registers defs and panics on the first failure.
func (r *Registry) MustRegister(defs ...Definition) {
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
}

func (r *Registry) Get(id string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[id]
	if !ok {
		return Definition{}, false
	}
	return *d, true
}

// List returns all definitions sorted by id.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Execute resolves the command, enforces RBAC against c.Auth, validates
// and coerces args, then runs the command body. Dispatch failures return
// *Error before anything is mutated.
func (r *Registry) Execute(ctx context.Context, id string, args map[string]any, c *Context) (any, error) {
	def, ok := r.Get(id)
	if !ok {
		return nil, unknownCommand(id)
	}
	if c == nil {
		c = &Context{}
	}
	if c.Commands == nil {
		c.Commands = r
	}
	if c.Auth != nil && !def.Allows(c.Auth.Role) {
		return nil, forbidden(id, c.Auth.Role)
	}

	validated, err := validate(&def, args)
	if err != nil {
		return nil, err
	}
	return def.Execute(ctx, validated, c)
}

func validate(def *Definition, args map[string]any) (Args, error) {
	out := make(Args, len(args))
	for k, v := range args {
		out[k] = v
	}

	names := make([]string, 0, len(def.Args))
	for name := range def.Args {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := def.Args[name]
		v, present := out[name]
		if !present || v == nil {
			if spec.Default != nil {
				v = spec.Default
			} else if spec.Required {
				return nil, missingArgument(def.ID, name)
			} else {
				continue
			}
		}

		coerced, err := coerce(spec.Type, v)
		if err != nil {
			return nil, invalidArgument(def.ID, name, err.Error())
		}
		if spec.Validate != nil {
			if err := spec.Validate(coerced); err != nil {
				return nil, invalidArgument(def.ID, name, err.Error())
			}
		}
		out[name] = coerced
	}
	return out, nil
}

// Env holds the long-lived collaborators from which a Context is built.
type Env struct {
	Workspace WorkspaceStore
	Ecosystem EcosystemStore
	Jobs      JobControl
	Catalog   Catalog
	System    System
	Architect Architect
	AI        ai.Service
	Logger    *slog.Logger
}

// ContextFor builds the context a job's commands run with. Jobs without a
// role run unchecked.
func (e *Env) ContextFor(job jobs.Job) *Context {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("job", job.ID)

	c := &Context{
		Workspace: e.Workspace,
		Ecosystem: e.Ecosystem,
		Jobs:      e.Jobs,
		Catalog:   e.Catalog,
		System:    e.System,
		Architect: e.Architect,
		AI:        e.AI,
		JobID:     job.ID,
		Log:       logger.Info,
	}
	if job.Role != "" {
		c.Auth = &Auth{User: job.Actor, Role: job.Role}
	}
	return c
}

// Dispatcher runs job commands through a Registry with a freshly built
// Context per call. It satisfies jobs.Dispatcher.
type Dispatcher struct {
	registry *Registry
	env      *Env
}

func NewDispatcher(r *Registry, env *Env) *Dispatcher {
	return &Dispatcher{registry: r, env: env}
}

func (d *Dispatcher) Dispatch(ctx context.Context, job jobs.Job, commandID string, args map[string]any) (any, error) {
	c := d.env.ContextFor(job)
	log := c.Log
	c.Log = func(msg string, kv ...any) {
		log(msg, append([]any{"command", commandID}, kv...)...)
	}
	return d.registry.Execute(ctx, commandID, args, c)
}
