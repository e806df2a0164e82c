package mesh

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State keys used in the persistence layer.
const (
	KeyWorkspace = "workspace"
	KeyEcosystem = "ecosystem"
	KeySettings  = "settings"

	legacyNetworksKey = "networks"
	legacyBridgesKey  = "bridges"
)

// Persister saves and loads JSON documents by key. *store.Store satisfies it.
type Persister interface {
	SaveState(key string, v any) error
	LoadState(key string, v any) (bool, error)
	DeleteState(key string) error
}

// document guards one value and writes it through to a Persister on every
// successful update.
type document[T any] struct {
	mu      sync.RWMutex
	key     string
	value   T
	clone   func(T) T
	persist Persister
}

func (d *document[T]) get() T {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clone(d.value)
}

// update applies fn to a copy and commits it only when fn and persistence
// both succeed.
func (d *document[T]) update(fn func(*T) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := d.clone(d.value)
	if err := fn(&next); err != nil {
		return err
	}
	if d.persist != nil {
		if err := d.persist.SaveState(d.key, next); err != nil {
			return fmt.Errorf("persist %s: %w", d.key, err)
		}
	}
	d.value = next
	return nil
}

// WorkspaceStore owns the live workspace.
type WorkspaceStore struct {
	doc document[Workspace]
}

func NewWorkspaceStore(p Persister) (*WorkspaceStore, error) {
	s := &WorkspaceStore{doc: document[Workspace]{
		key:     KeyWorkspace,
		clone:   Workspace.Clone,
		persist: p,
	}}
	if p != nil {
		if _, err := p.LoadState(KeyWorkspace, &s.doc.value); err != nil {
			return nil, fmt.Errorf("load workspace: %w", err)
		}
	}
	s.doc.value.Normalize()
	return s, nil
}

// Snapshot returns a copy of the current workspace.
func (s *WorkspaceStore) Snapshot() Workspace {
	return s.doc.get()
}

// Update runs fn against the current workspace. Changes are discarded if
// fn returns an error.
func (s *WorkspaceStore) Update(fn func(*Workspace) error) error {
	return s.doc.update(func(w *Workspace) error {
		if err := fn(w); err != nil {
			return err
		}
		w.Normalize()
		return nil
	})
}

// EcosystemStore owns the set of saved networks and the bridges between them.
type EcosystemStore struct {
	doc document[Ecosystem]
}

// NewEcosystemStore loads the ecosystem document, migrating the older flat
// networks/bridges keys into it on first load.
func NewEcosystemStore(p Persister) (*EcosystemStore, error) {
	s := &EcosystemStore{doc: document[Ecosystem]{
		key:     KeyEcosystem,
		clone:   Ecosystem.Clone,
		persist: p,
	}}

	if p != nil {
		found, err := p.LoadState(KeyEcosystem, &s.doc.value)
		if err != nil {
			return nil, fmt.Errorf("load ecosystem: %w", err)
		}
		if !found {
			if err := s.migrateLegacy(p); err != nil {
				return nil, err
			}
		}
	}

	if s.doc.value.ID == "" {
		if err := initEcosystem(&s.doc.value); err != nil {
			return nil, err
		}
	}
	s.doc.value.Normalize()
	return s, nil
}

func initEcosystem(e *Ecosystem) error {
	did, err := NewDID()
	if err != nil {
		return err
	}
	e.ID = uuid.NewString()
	e.Name = "Ecosystem"
	e.DID = did
	e.CreatedAt = time.Now().UTC()
	return nil
}

func (s *EcosystemStore) migrateLegacy(p Persister) error {
	var networks []Network
	var bridges []Bridge
	hasNetworks, err := p.LoadState(legacyNetworksKey, &networks)
	if err != nil {
		return fmt.Errorf("load legacy networks: %w", err)
	}
	hasBridges, err := p.LoadState(legacyBridgesKey, &bridges)
	if err != nil {
		return fmt.Errorf("load legacy bridges: %w", err)
	}
	if !hasNetworks && !hasBridges {
		return nil
	}

	eco := Ecosystem{Networks: networks, Bridges: bridges}
	if err := initEcosystem(&eco); err != nil {
		return err
	}
	eco.Normalize()
	if err := p.SaveState(KeyEcosystem, eco); err != nil {
		return fmt.Errorf("save migrated ecosystem: %w", err)
	}
	_ = p.DeleteState(legacyNetworksKey)
	_ = p.DeleteState(legacyBridgesKey)
	s.doc.value = eco
	return nil
}

func (s *EcosystemStore) Snapshot() Ecosystem {
	return s.doc.get()
}

func (s *EcosystemStore) Update(fn func(*Ecosystem) error) error {
	return s.doc.update(func(e *Ecosystem) error {
		if err := fn(e); err != nil {
			return err
		}
		e.Normalize()
		return nil
	})
}
