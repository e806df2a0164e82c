// Package jobs queues command invocations and executes them one at a time.
package jobs

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// transitions lists the legal status changes. Terminal states have none.
var transitions = map[Status]map[Status]bool{
	StatusQueued: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

type Mode string

const (
	ModeSerial   Mode = "serial"
	ModeParallel Mode = "parallel"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobRunning        = errors.New("job is running")
	ErrJobFinished       = errors.New("job already finished")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobStopped        = errors.New("job stopped")
	ErrArtifactNotFound  = errors.New("artifact not found")
)

// Step is one command invocation inside a multi-step job.
type Step struct {
	ID        string         `json:"id"`
	CommandID string         `json:"commandId"`
	Args      map[string]any `json:"args,omitempty"`
}

type Job struct {
	ID        string         `json:"id"`
	Type      string         `json:"type,omitempty"`
	Status    Status         `json:"status"`
	Request   map[string]any `json:"request"`
	Steps     []Step         `json:"steps,omitempty"`
	Mode      Mode           `json:"mode,omitempty"`
	Result    string         `json:"result,omitempty"`
	Artifacts []Artifact     `json:"artifacts"`
	Actor     string         `json:"actor,omitempty"`
	Role      string         `json:"role,omitempty"`
	Source    string         `json:"source,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// HasSteps reports whether the job runs its step list rather than Type.
func (j Job) HasSteps() bool {
	return len(j.Steps) > 0
}

func (j Job) clone() Job {
	j.Steps = slices.Clone(j.Steps)
	j.Artifacts = slices.Clone(j.Artifacts)
	return j
}

// Spec describes a job to enqueue.
type Spec struct {
	Type    string         `json:"type,omitempty"`
	Request map[string]any `json:"request,omitempty"`
	Steps   []Step         `json:"steps,omitempty"`
	Mode    Mode           `json:"mode,omitempty"`
	Actor   string         `json:"actor,omitempty"`
	Role    string         `json:"role,omitempty"`
	Source  string         `json:"source,omitempty"`
}

func (s Spec) validate() error {
	if s.Type == "" && len(s.Steps) == 0 {
		return fmt.Errorf("job needs a type or at least one step")
	}
	switch s.Mode {
	case "", ModeSerial, ModeParallel:
	default:
		return fmt.Errorf("unknown job mode %q", s.Mode)
	}
	for i, st := range s.Steps {
		if st.CommandID == "" {
			return fmt.Errorf("step %d has no command", i+1)
		}
	}
	return nil
}

type ArtifactType string

const (
	ArtifactMarkdown ArtifactType = "markdown"
	ArtifactJSON     ArtifactType = "json"
	ArtifactYAML     ArtifactType = "yaml"
	ArtifactCSV      ArtifactType = "csv"
	ArtifactImage    ArtifactType = "image"
	ArtifactCode     ArtifactType = "code"
)

func (t ArtifactType) Valid() bool {
	switch t {
	case ArtifactMarkdown, ArtifactJSON, ArtifactYAML, ArtifactCSV, ArtifactImage, ArtifactCode:
		return true
	}
	return false
}

// Artifact is output attached to a job, or imported standalone when JobID
// is empty. It carries either text Content or a URL.
type Artifact struct {
	ID        string       `json:"id"`
	JobID     string       `json:"jobId,omitempty"`
	Type      ArtifactType `json:"type"`
	Name      string       `json:"name"`
	Content   string       `json:"content,omitempty"`
	URL       string       `json:"url,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

func (a Artifact) validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("unknown artifact type %q", a.Type)
	}
	if a.Content == "" && a.URL == "" {
		return fmt.Errorf("artifact %q has neither content nor url", a.Name)
	}
	return nil
}
