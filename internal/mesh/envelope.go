package mesh

import (
	"encoding/json"
	"fmt"
	"time"
)

// Export types.
const (
	ExportWorkspace  = "workspace"
	ExportEcosystem  = "ecosystem"
	ExportFullBackup = "full-backup"
)

const EnvelopeVersion = 1

// Envelope is the export file format.
type Envelope struct {
	Version    int           `json:"version"`
	Type       string        `json:"type"`
	ExportedAt time.Time     `json:"exportedAt"`
	Data       *EnvelopeData `json:"data"`
}

type EnvelopeData struct {
	Agents    []Agent    `json:"agents,omitempty"`
	Channels  []Channel  `json:"channels,omitempty"`
	Groups    []Group    `json:"groups,omitempty"`
	Messages  []Message  `json:"messages,omitempty"`
	Ecosystem *Ecosystem `json:"ecosystem,omitempty"`
}

func validExportType(t string) bool {
	return t == ExportWorkspace || t == ExportEcosystem || t == ExportFullBackup
}

// NewEnvelope packages the parts of ws and eco selected by typ.
func NewEnvelope(typ string, ws Workspace, eco Ecosystem, now time.Time) (*Envelope, error) {
	if !validExportType(typ) {
		return nil, fmt.Errorf("unknown export type %q", typ)
	}
	data := &EnvelopeData{}
	if typ != ExportEcosystem {
		ws = ws.Clone()
		ws.Normalize()
		data.Agents, data.Channels, data.Groups, data.Messages = ws.Agents, ws.Channels, ws.Groups, ws.Messages
	}
	if typ != ExportWorkspace {
		e := eco.Clone()
		e.Normalize()
		data.Ecosystem = &e
	}
	return &Envelope{
		Version:    EnvelopeVersion,
		Type:       typ,
		ExportedAt: now,
		Data:       data,
	}, nil
}

// ParseEnvelope decodes an export file. Missing collections default to
// empty; a missing data section or unknown type is rejected.
func ParseEnvelope(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode export: %w", err)
	}
	if err := env.Check(); err != nil {
		return nil, err
	}
	return &env, nil
}

func (e *Envelope) Check() error {
	if e.Type == "" {
		return fmt.Errorf("export has no type")
	}
	if !validExportType(e.Type) {
		return fmt.Errorf("unknown export type %q", e.Type)
	}
	if e.Data == nil {
		return fmt.Errorf("export has no data")
	}
	return nil
}

// Workspace returns the envelope's workspace collections.
func (e *Envelope) Workspace() Workspace {
	ws := Workspace{
		Agents:   e.Data.Agents,
		Channels: e.Data.Channels,
		Groups:   e.Data.Groups,
		Messages: e.Data.Messages,
	}.Clone()
	ws.Normalize()
	return ws
}

// EcosystemUpdater is the update surface of an ecosystem store.
type EcosystemUpdater interface {
	Update(fn func(*Ecosystem) error) error
}

// Apply replaces the stored collections covered by the envelope's type.
func (e *Envelope) Apply(ws Updater, eco EcosystemUpdater) error {
	if err := e.Check(); err != nil {
		return err
	}
	if e.Type != ExportEcosystem {
		incoming := e.Workspace()
		err := ws.Update(func(w *Workspace) error {
			*w = incoming
			return nil
		})
		if err != nil {
			return fmt.Errorf("import workspace: %w", err)
		}
	}
	if e.Type != ExportWorkspace {
		err := eco.Update(func(cur *Ecosystem) error {
			var incoming Ecosystem
			if e.Data.Ecosystem != nil {
				incoming = e.Data.Ecosystem.Clone()
			}
			if incoming.ID == "" {
				incoming.ID, incoming.Name, incoming.DID, incoming.CreatedAt = cur.ID, cur.Name, cur.DID, cur.CreatedAt
			}
			*cur = incoming
			return nil
		})
		if err != nil {
			return fmt.Errorf("import ecosystem: %w", err)
		}
	}
	return nil
}
