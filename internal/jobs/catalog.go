package jobs

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mtzanidakis/meshwork/internal/schedule"
	"github.com/mtzanidakis/meshwork/internal/store"
)

// Definition is a named, reusable job template with an optional schedule.
// Role is the role of whoever saved it; scheduled runs execute under it.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type,omitempty"`
	Request     map[string]any `json:"request,omitempty"`
	Steps       []Step         `json:"steps,omitempty"`
	Mode        Mode           `json:"mode,omitempty"`
	Schedule    string         `json:"schedule,omitempty"`
	Role        string         `json:"role,omitempty"`
	NextRunAt   *time.Time     `json:"nextRunAt,omitempty"`
	LastRunAt   *time.Time     `json:"lastRunAt,omitempty"`
	LastJobID   string         `json:"lastJobId,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Spec returns the job described by the definition.
func (d Definition) Spec(source string) Spec {
	return Spec{
		Type:    d.Type,
		Request: d.Request,
		Steps:   d.Steps,
		Mode:    d.Mode,
		Actor:   d.Name,
		Role:    d.Role,
		Source:  source,
	}
}

// Commands returns every command id the definition runs.
func (d Definition) Commands() []string {
	if len(d.Steps) == 0 {
		if d.Type == "" {
			return nil
		}
		return []string{d.Type}
	}
	ids := make([]string, 0, len(d.Steps))
	for _, st := range d.Steps {
		if st.CommandID != "" {
			ids = append(ids, st.CommandID)
		}
	}
	return ids
}

// CatalogStore persists definitions. *store.Store satisfies it.
type CatalogStore interface {
	SaveDefinition(d *store.JobDefinition) error
	GetDefinition(name string) (*store.JobDefinition, error)
	ListDefinitions() ([]store.JobDefinition, error)
	GetDueDefinitions(now time.Time) ([]store.JobDefinition, error)
	UpdateDefinitionRun(name, jobID string, nextRunAt *time.Time) error
	DeleteDefinition(name string) error
}

type Catalog struct {
	store CatalogStore
}

func NewCatalog(s CatalogStore) *Catalog {
	return &Catalog{store: s}
}

// Save validates d, normalizes its schedule and computes the next run.
func (c *Catalog) Save(d Definition) (Definition, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return Definition{}, fmt.Errorf("definition name is required")
	}
	if err := d.Spec("").validate(); err != nil {
		return Definition{}, err
	}

	d.NextRunAt = nil
	if d.Schedule != "" {
		norm, err := schedule.Normalize(d.Schedule)
		if err != nil {
			return Definition{}, err
		}
		d.Schedule = norm
		d.NextRunAt = schedule.Next(norm, time.Now().UTC())
	}

	row, err := toRow(d)
	if err != nil {
		return Definition{}, err
	}
	if err := c.store.SaveDefinition(row); err != nil {
		return Definition{}, err
	}
	saved, err := c.Get(d.Name)
	if err != nil {
		return Definition{}, err
	}
	if saved == nil {
		return d, nil
	}
	return *saved, nil
}

// Get returns nil when no definition has the name.
func (c *Catalog) Get(name string) (*Definition, error) {
	row, err := c.store.GetDefinition(name)
	if err != nil || row == nil {
		return nil, err
	}
	d, err := fromRow(*row)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (c *Catalog) List() ([]Definition, error) {
	rows, err := c.store.ListDefinitions()
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

func (c *Catalog) Delete(name string) error {
	existing, err := c.store.GetDefinition(name)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("job definition %q not found", name)
	}
	return c.store.DeleteDefinition(name)
}

// Due returns scheduled definitions whose next run is at or before now.
func (c *Catalog) Due(now time.Time) ([]Definition, error) {
	rows, err := c.store.GetDueDefinitions(now)
	if err != nil {
		return nil, err
	}
	return fromRows(rows)
}

// Enqueue adds the named definition to q, run under the caller's role
// rather than the saver's, and records the run.
func (c *Catalog) Enqueue(q *Queue, name, source, role string) (Job, error) {
	d, err := c.Get(name)
	if err != nil {
		return Job{}, err
	}
	if d == nil {
		return Job{}, fmt.Errorf("job definition %q not found", name)
	}
	spec := d.Spec(source)
	spec.Role = role
	job, err := q.Add(spec)
	if err != nil {
		return Job{}, err
	}
	if err := c.MarkRun(*d, job.ID, time.Now().UTC()); err != nil {
		return job, err
	}
	return job, nil
}

// MarkRun records jobID as the latest run and advances the schedule.
func (c *Catalog) MarkRun(d Definition, jobID string, now time.Time) error {
	var next *time.Time
	if d.Schedule != "" {
		next = schedule.Next(d.Schedule, now)
	}
	return c.store.UpdateDefinitionRun(d.Name, jobID, next)
}

func toRow(d Definition) (*store.JobDefinition, error) {
	row := &store.JobDefinition{
		Name:        d.Name,
		Description: d.Description,
		Type:        d.Type,
		Mode:        string(d.Mode),
		Schedule:    d.Schedule,
		Role:        d.Role,
		NextRunAt:   d.NextRunAt,
	}
	if len(d.Request) > 0 {
		data, err := json.Marshal(d.Request)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		row.Request = data
	}
	if len(d.Steps) > 0 {
		data, err := json.Marshal(d.Steps)
		if err != nil {
			return nil, fmt.Errorf("marshal steps: %w", err)
		}
		row.Steps = data
	}
	return row, nil
}

func fromRow(row store.JobDefinition) (Definition, error) {
	d := Definition{
		Name:        row.Name,
		Description: row.Description,
		Type:        row.Type,
		Mode:        Mode(row.Mode),
		Schedule:    row.Schedule,
		Role:        row.Role,
		NextRunAt:   row.NextRunAt,
		LastRunAt:   row.LastRunAt,
		LastJobID:   row.LastJobID,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Request) > 0 {
		if err := json.Unmarshal(row.Request, &d.Request); err != nil {
			return Definition{}, fmt.Errorf("decode request of %s: %w", row.Name, err)
		}
	}
	if len(row.Steps) > 0 {
		if err := json.Unmarshal(row.Steps, &d.Steps); err != nil {
			return Definition{}, fmt.Errorf("decode steps of %s: %w", row.Name, err)
		}
	}
	return d, nil
}

func fromRows(rows []store.JobDefinition) ([]Definition, error) {
	out := make([]Definition, 0, len(rows))
	for _, row := range rows {
		d, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
