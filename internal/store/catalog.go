package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// JobDefinition is a named, reusable job template. Either Type/Request or
// Steps/Mode describe the work; Schedule is optional. Role is the role of
// whoever saved it.
type JobDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Type        string          `json:"type,omitempty"`
	Request     json.RawMessage `json:"request,omitempty"`
	Steps       json.RawMessage `json:"steps,omitempty"`
	Mode        string          `json:"mode,omitempty"`
	Schedule    string          `json:"schedule,omitempty"`
	Role        string          `json:"role,omitempty"`
	NextRunAt   *time.Time      `json:"next_run_at,omitempty"`
	LastRunAt   *time.Time      `json:"last_run_at,omitempty"`
	LastJobID   string          `json:"last_job_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

const definitionColumns = `name, description, type, request, steps, mode, schedule, role,
	next_run_at, last_run_at, last_job_id, created_at, updated_at`

func scanDefinition(s scanner) (*JobDefinition, error) {
	d := &JobDefinition{}
	var description, typ, request, steps, mode, sched, role, lastJobID sql.NullString
	err := s.Scan(&d.Name, &description, &typ, &request, &steps, &mode, &sched, &role,
		&d.NextRunAt, &d.LastRunAt, &lastJobID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Description = description.String
	d.Type = typ.String
	d.Mode = mode.String
	d.Schedule = sched.String
	d.Role = role.String
	d.LastJobID = lastJobID.String
	if request.Valid && request.String != "" {
		d.Request = json.RawMessage(request.String)
	}
	if steps.Valid && steps.String != "" {
		d.Steps = json.RawMessage(steps.String)
	}
	return d, nil
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *Store) SaveDefinition(d *JobDefinition) error {
	_, err := s.db.Exec(`
		INSERT INTO job_definitions (name, description, type, request, steps, mode, schedule, role, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			type = excluded.type,
			request = excluded.request,
			steps = excluded.steps,
			mode = excluded.mode,
			schedule = excluded.schedule,
			role = excluded.role,
			next_run_at = excluded.next_run_at,
			updated_at = CURRENT_TIMESTAMP`,
		d.Name, d.Description, d.Type, nullRaw(d.Request), nullRaw(d.Steps), d.Mode, d.Schedule, d.Role, d.NextRunAt)
	if err != nil {
		return fmt.Errorf("save job definition: %w", err)
	}
	return nil
}

func (s *Store) GetDefinition(name string) (*JobDefinition, error) {
	row := s.db.QueryRow(`SELECT `+definitionColumns+` FROM job_definitions WHERE name = ?`, name)
	d, err := scanDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job definition: %w", err)
	}
	return d, nil
}

func (s *Store) ListDefinitions() ([]JobDefinition, error) {
	rows, err := s.db.Query(`SELECT ` + definitionColumns + ` FROM job_definitions ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list job definitions: %w", err)
	}
	defer rows.Close()

	var defs []JobDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job definition: %w", err)
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

// GetDueDefinitions returns scheduled definitions whose next run is at or before now.
func (s *Store) GetDueDefinitions(now time.Time) ([]JobDefinition, error) {
	rows, err := s.db.Query(`
		SELECT `+definitionColumns+`
		FROM job_definitions
		WHERE next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due job definitions: %w", err)
	}
	defer rows.Close()

	var defs []JobDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job definition: %w", err)
		}
		defs = append(defs, *d)
	}
	return defs, rows.Err()
}

func (s *Store) UpdateDefinitionRun(name, jobID string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE job_definitions
		SET last_run_at = CURRENT_TIMESTAMP, last_job_id = ?, next_run_at = ?
		WHERE name = ?`, jobID, nextRunAt, name)
	if err != nil {
		return fmt.Errorf("update job definition run: %w", err)
	}
	return nil
}

func (s *Store) DeleteDefinition(name string) error {
	_, err := s.db.Exec(`DELETE FROM job_definitions WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete job definition: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
