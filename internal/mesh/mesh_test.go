package mesh

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type memPersister map[string][]byte

func (m memPersister) SaveState(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m[key] = data
	return nil
}

func (m memPersister) LoadState(key string, v any) (bool, error) {
	data, ok := m[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (m memPersister) DeleteState(key string) error {
	delete(m, key)
	return nil
}

func addAgents(w *Workspace, names ...string) []string {
	ids := make([]string, 0, len(names))
	for _, n := range names {
		id := "id-" + n
		w.Agents = append(w.Agents, Agent{ID: id, Name: n, Role: "researcher", Status: StatusActive})
		ids = append(ids, id)
	}
	return ids
}

func TestIdentity(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)
	assert.Contains(t, id.DID, "did:mesh:")
	assert.True(t, Verify(id.DID, id.PublicKey))
	assert.False(t, Verify("did:mesh:00", id.PublicKey))
	assert.False(t, Verify(id.DID, "zz"))

	other, err := NewIdentity()
	require.NoError(t, err)
	assert.NotEqual(t, id.DID, other.DID)
}

func TestEnsureChannelIsUndirected(t *testing.T) {
	var w Workspace
	ids := addAgents(&w, "Scout", "Forge")

	ch, created := w.EnsureChannel(ids[0], ids[1], ChannelDirect, now)
	require.True(t, created)

	again, created := w.EnsureChannel(ids[1], ids[0], ChannelDirect, now)
	assert.False(t, created)
	assert.Equal(t, ch.ID, again.ID)
	assert.Len(t, w.Channels, 1)
}

func TestBackfillConsensusProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 8).Draw(t, "members")
		var w Workspace
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("a%d", i)
		}
		ids := addAgents(&w, names...)

		// some pairs already connected
		pre := rapid.IntRange(0, n-1).Draw(t, "preexisting")
		for i := 0; i < pre; i++ {
			w.EnsureChannel(ids[i], ids[i+1], ChannelDirect, now)
		}
		before := len(w.Channels)

		added := w.BackfillConsensus(ids, now)

		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				if w.ChannelBetween(ids[i], ids[j]) == nil {
					t.Fatalf("missing channel between %s and %s", ids[i], ids[j])
				}
			}
		}
		want := n*(n-1)/2 - pre
		if len(added) != want || len(w.Channels) != before+want {
			t.Fatalf("expected %d new channels, got %d", want, len(added))
		}
		for _, c := range added {
			if c.Type != ChannelConsensus {
				t.Fatalf("expected consensus channel, got %s", c.Type)
			}
		}
	})
}

func TestDefaultThreshold(t *testing.T) {
	assert.Equal(t, 1, DefaultThreshold(2))
	assert.Equal(t, 2, DefaultThreshold(3))
	assert.Equal(t, 2, DefaultThreshold(4))
	assert.Equal(t, 3, DefaultThreshold(5))
}

func TestDeleteAgentsCascades(t *testing.T) {
	var w Workspace
	ids := addAgents(&w, "a1", "a2", "a3")
	c1, _ := w.EnsureChannel(ids[0], ids[1], ChannelDirect, now)
	c2, _ := w.EnsureChannel(ids[1], ids[2], ChannelDirect, now)
	w.Groups = []Group{{ID: "g1", Name: "Core", Members: []string{ids[0], ids[1], ids[2]}}}
	w.Messages = []Message{
		{ID: "m1", ChannelID: c1.ID, FromID: ids[0], ToID: ids[1]},
		{ID: "m2", ChannelID: c2.ID, FromID: ids[1], ToID: ids[2]},
	}

	removed, err := w.Delete(KindAgents, []string{ids[0]})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Len(t, w.Agents, 2)
	assert.Nil(t, w.ChannelBetween(ids[0], ids[1]))
	assert.NotNil(t, w.ChannelBetween(ids[1], ids[2]))
	assert.Equal(t, []string{ids[1], ids[2]}, w.Groups[0].Members)
	require.Len(t, w.Messages, 1)
	assert.Equal(t, "m2", w.Messages[0].ID)
}

func TestDeleteAgentsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "agents")
		var w Workspace
		names := make([]string, n)
		for i := range names {
			names[i] = fmt.Sprintf("a%d", i)
		}
		ids := addAgents(&w, names...)
		w.BackfillConsensus(ids, now)
		w.Groups = []Group{{ID: "g", Members: append([]string(nil), ids...)}}
		for i, c := range w.Channels {
			w.Messages = append(w.Messages, Message{ID: fmt.Sprint(i), ChannelID: c.ID, FromID: c.From, ToID: c.To})
		}

		victim := ids[rapid.IntRange(0, n-1).Draw(t, "victim")]
		_, err := w.Delete(KindAgents, []string{victim})
		if err != nil {
			t.Fatal(err)
		}
		for _, c := range w.Channels {
			if c.Touches(victim) {
				t.Fatalf("channel %s still references %s", c.ID, victim)
			}
		}
		for _, m := range w.Groups[0].Members {
			if m == victim {
				t.Fatalf("group still lists %s", victim)
			}
		}
		for _, m := range w.Messages {
			if m.FromID == victim || m.ToID == victim {
				t.Fatalf("message %s still references %s", m.ID, victim)
			}
		}
	})
}

func TestDeleteChannelsCascadesMessages(t *testing.T) {
	var w Workspace
	ids := addAgents(&w, "a", "b")
	c, _ := w.EnsureChannel(ids[0], ids[1], ChannelDirect, now)
	w.ActiveChannelID = c.ID
	w.Messages = []Message{{ID: "m", ChannelID: c.ID}}

	removed, err := w.Delete(KindChannels, []string{c.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, w.Messages)
	assert.Empty(t, w.ActiveChannelID)

	_, err = w.Delete("widgets", nil)
	assert.Error(t, err)
}

func TestWorkspaceStoreUpdateDiscardsOnError(t *testing.T) {
	p := memPersister{}
	s, err := NewWorkspaceStore(p)
	require.NoError(t, err)

	require.NoError(t, s.Update(func(w *Workspace) error {
		addAgents(w, "Scout")
		return nil
	}))
	err = s.Update(func(w *Workspace) error {
		addAgents(w, "Forge")
		return fmt.Errorf("boom")
	})
	require.Error(t, err)
	assert.Len(t, s.Snapshot().Agents, 1)

	reloaded, err := NewWorkspaceStore(p)
	require.NoError(t, err)
	assert.Equal(t, "Scout", reloaded.Snapshot().Agents[0].Name)
}

func TestSnapshotIsIsolated(t *testing.T) {
	s, err := NewWorkspaceStore(nil)
	require.NoError(t, err)
	require.NoError(t, s.Update(func(w *Workspace) error {
		w.Groups = append(w.Groups, Group{ID: "g", Members: []string{"a", "b"}})
		return nil
	}))

	snap := s.Snapshot()
	snap.Groups[0].Members[0] = "mutated"
	assert.Equal(t, "a", s.Snapshot().Groups[0].Members[0])
}

func TestEcosystemLegacyMigration(t *testing.T) {
	p := memPersister{}
	require.NoError(t, p.SaveState("networks", []Network{{ID: "n1", Name: "Alpha"}}))
	require.NoError(t, p.SaveState("bridges", []Bridge{{ID: "b1", FromNetworkID: "n1", ToNetworkID: "n2"}}))

	s, err := NewEcosystemStore(p)
	require.NoError(t, err)
	eco := s.Snapshot()
	assert.NotEmpty(t, eco.ID)
	assert.NotEmpty(t, eco.DID)
	require.Len(t, eco.Networks, 1)
	assert.Equal(t, "Alpha", eco.Networks[0].Name)
	assert.NotNil(t, eco.Networks[0].Agents)
	require.Len(t, eco.Bridges, 1)

	_, hasLegacy := p["networks"]
	assert.False(t, hasLegacy)
	_, hasEco := p[KeyEcosystem]
	assert.True(t, hasEco)
}

func TestEcosystemNetworksAndBridges(t *testing.T) {
	s, err := NewEcosystemStore(nil)
	require.NoError(t, err)

	err = s.Update(func(e *Ecosystem) error {
		var ws Workspace
		addAgents(&ws, "Scout")
		if _, err := e.SaveNetwork("Alpha", ws, now); err != nil {
			return err
		}
		ws2 := Workspace{}
		addAgents(&ws2, "Forge")
		if _, err := e.SaveNetwork("Beta", ws2, now); err != nil {
			return err
		}
		a, b := e.Network("alpha"), e.Network("Beta")
		_, created, err := e.EnsureBridge(a.ID, "id-Scout", b.ID, "id-Forge", now)
		if err != nil || !created {
			return fmt.Errorf("expected new bridge: %v", err)
		}
		_, created, err = e.EnsureBridge(b.ID, "id-Forge", a.ID, "id-Scout", now)
		if err != nil || created {
			return fmt.Errorf("expected existing bridge: %v", err)
		}
		_, _, err = e.EnsureBridge(a.ID, "id-Scout", a.ID, "id-Scout", now)
		if err == nil {
			return fmt.Errorf("expected same-network bridge to fail")
		}
		return nil
	})
	require.NoError(t, err)

	eco := s.Snapshot()
	require.Len(t, eco.Networks, 2)
	require.Len(t, eco.Bridges, 1)

	require.NoError(t, s.Update(func(e *Ecosystem) error {
		e.BridgeMessages = append(e.BridgeMessages, BridgeMessage{ID: "bm", BridgeID: e.Bridges[0].ID})
		return e.Dissolve("Alpha")
	}))
	eco = s.Snapshot()
	assert.Len(t, eco.Networks, 1)
	assert.Empty(t, eco.Bridges)
	assert.Empty(t, eco.BridgeMessages)
}

type memKeys map[string]string

func (m memKeys) Put(name, value string) error {
	if value == "" {
		delete(m, name)
		return nil
	}
	m[name] = value
	return nil
}

func (m memKeys) Get(name string) (string, error) { return m[name], nil }

func TestSystemStore(t *testing.T) {
	p := memPersister{}
	s, err := NewSystemStore(p, memKeys{}, "gpt-4o-mini", "cfg-key")
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o-mini", s.Model())
	key, err := s.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "cfg-key", key)

	require.NoError(t, s.SetModel("gpt-4.1"))
	require.NoError(t, s.SetAPIKey("sk-runtime"))
	assert.Equal(t, "gpt-4.1", s.Model())
	key, err = s.APIKey()
	require.NoError(t, err)
	assert.Equal(t, "sk-runtime", key)

	reloaded, err := NewSystemStore(p, nil, "gpt-4o-mini", "")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", reloaded.Model())
}
