package jobs

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mtzanidakis/meshwork/internal/config"
	"github.com/mtzanidakis/meshwork/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewCatalog(s)
}

func TestCatalogSaveAndList(t *testing.T) {
	c := newTestCatalog(t)

	saved, err := c.Save(Definition{
		Name:    "daily-stats",
		Type:    "workspace_stats",
		Request: map[string]any{"verbose": true},
	})
	require.NoError(t, err)
	assert.Nil(t, saved.NextRunAt)

	_, err = c.Save(Definition{
		Name:     "bootstrap",
		Mode:     ModeParallel,
		Steps:    []Step{{ID: "s1", CommandID: "create_agent", Args: map[string]any{"name": "Scout"}}},
		Schedule: "15m",
	})
	require.NoError(t, err)

	defs, err := c.List()
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "bootstrap", defs[0].Name)
	assert.Equal(t, "create_agent", defs[0].Steps[0].CommandID)
	assert.NotNil(t, defs[0].NextRunAt)
	assert.Equal(t, true, defs[1].Request["verbose"])
}

func TestCatalogRejectsInvalid(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.Save(Definition{Type: "x"})
	assert.Error(t, err)
	_, err = c.Save(Definition{Name: "empty"})
	assert.Error(t, err)
	_, err = c.Save(Definition{Name: "bad-schedule", Type: "x", Schedule: "whenever"})
	assert.Error(t, err)
	assert.Error(t, c.Delete("missing"))
}

func TestCatalogEnqueue(t *testing.T) {
	c := newTestCatalog(t)
	q := newTestQueue(t)

	_, err := c.Save(Definition{Name: "stats", Type: "workspace_stats", Schedule: "1h"})
	require.NoError(t, err)

	job, err := c.Enqueue(q, "stats", "catalog", "")
	require.NoError(t, err)
	assert.Equal(t, "workspace_stats", job.Type)
	assert.Equal(t, "catalog", job.Source)

	d, err := c.Get("stats")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, job.ID, d.LastJobID)
	assert.NotNil(t, d.LastRunAt)

	_, err = c.Enqueue(q, "missing", "catalog", "")
	assert.Error(t, err)
}

func TestCatalogDue(t *testing.T) {
	c := newTestCatalog(t)

	_, err := c.Save(Definition{Name: "soon", Type: "workspace_stats", Schedule: "1m"})
	require.NoError(t, err)
	_, err = c.Save(Definition{Name: "unscheduled", Type: "workspace_stats"})
	require.NoError(t, err)

	due, err := c.Due(time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = c.Due(time.Now().UTC().Add(2 * time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "soon", due[0].Name)

	require.NoError(t, c.Delete("soon"))
	defs, err := c.List()
	require.NoError(t, err)
	assert.Len(t, defs, 1)
}
