package architect

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mtzanidakis/meshwork/internal/ai"
	"github.com/mtzanidakis/meshwork/internal/mesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArchitect(t *testing.T, svc ai.Service) (*Architect, *mesh.WorkspaceStore, *mesh.EcosystemStore) {
	t.Helper()
	ws, err := mesh.NewWorkspaceStore(nil)
	require.NoError(t, err)
	eco, err := mesh.NewEcosystemStore(nil)
	require.NoError(t, err)
	return New(ws, eco, svc), ws, eco
}

func echoAI() ai.Service {
	return ai.Func(func(_ context.Context, req ai.Request) (string, error) {
		return "ack: " + req.Prompt, nil
	})
}

const generated = "Here is your mesh:\n```json\n" + `{
  "networks": [{"name": "Research"}, {"name": "Build"}],
  "agents": [
    {"name": "Scout", "role": "researcher", "prompt": "Find facts", "network": 0},
    {"name": "Sage", "role": "Analyst", "prompt": "", "network": 0},
    {"name": "Forge", "role": "wizard", "prompt": "Build things", "network": 1}
  ],
  "channels": [{"from": 0, "to": 1}],
  "groups": [{"name": "Core", "governance": "majority", "members": [0, 1]}],
  "bridges": [{"from": 0, "to": 2}, {"from": 0, "to": 1}],
  "exampleMessages": [{"from": 1, "to": 0, "content": "hello"}, {"from": 0, "to": 2, "content": "ping"}]
}` + "\n```"

func TestGenerateParsesModelReply(t *testing.T) {
	var system string
	a, _, _ := newTestArchitect(t, ai.Func(func(_ context.Context, req ai.Request) (string, error) {
		system = req.System
		return generated, nil
	}))

	cfg, err := a.Generate(context.Background(), "a research team and a build team")
	require.NoError(t, err)
	assert.Len(t, cfg.Networks, 2)
	assert.Len(t, cfg.Agents, 3)
	assert.Contains(t, system, "researcher")
}

func TestGenerateErrors(t *testing.T) {
	a, _, _ := newTestArchitect(t, ai.Func(func(context.Context, ai.Request) (string, error) {
		return "", errors.New("rate limited")
	}))
	_, err := a.Generate(context.Background(), "x")
	assert.ErrorContains(t, err, "rate limited")

	_, err = Parse(`{"agents": []}`)
	assert.Error(t, err)
	_, err = Parse(`{"agents": [{"name": "A"}], "channels": [{"from": 0, "to": 5}]}`)
	assert.Error(t, err)
	_, err = Parse(`not json`)
	assert.Error(t, err)
}

func TestDeploy(t *testing.T) {
	a, wsStore, ecoStore := newTestArchitect(t, echoAI())
	cfg, err := Parse(generated)
	require.NoError(t, err)

	summary, err := a.Deploy(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(summary, "Deployed 2 networks, 3 agents"), summary)

	ws := wsStore.Snapshot()
	require.Len(t, ws.Agents, 3)
	scout, sage, forge := ws.AgentByName("Scout"), ws.AgentByName("Sage"), ws.AgentByName("Forge")
	require.NotNil(t, scout)
	assert.Equal(t, "analyst", sage.Role)
	assert.Equal(t, "researcher", forge.Role, "unknown roles fall back")
	assert.True(t, mesh.Verify(scout.DID, scout.PublicKey))

	require.Len(t, ws.Groups, 1)
	assert.Equal(t, 1, ws.Groups[0].Threshold)
	assert.NotNil(t, ws.ChannelBetween(scout.ID, sage.ID))
	assert.NotNil(t, ws.ChannelBetween(scout.ID, forge.ID), "example message creates its channel")

	require.Len(t, ws.Messages, 2)
	statuses := map[string]string{}
	for _, m := range ws.Messages {
		statuses[m.ToID] = m.Status
	}
	assert.Equal(t, mesh.MessageDelivered, statuses[scout.ID])
	assert.Equal(t, mesh.MessageDelivered, statuses[forge.ID])

	eco := ecoStore.Snapshot()
	require.Len(t, eco.Networks, 2)
	research := eco.Network("Research")
	require.NotNil(t, research)
	assert.Len(t, research.Agents, 2)
	assert.Len(t, research.Groups, 1)
	require.Len(t, eco.Bridges, 1, "same-network bridges are skipped")
	assert.Equal(t, forge.ID, eco.Bridges[0].ToAgentID)
}

func TestDeployDefaultNetwork(t *testing.T) {
	a, _, ecoStore := newTestArchitect(t, echoAI())
	cfg := &MeshConfig{Agents: []AgentSpec{
		{Name: "Solo", Role: "builder"},
		{Name: "Duo", Role: "critic"},
	}}

	_, err := a.Deploy(context.Background(), cfg)
	require.NoError(t, err)

	eco := ecoStore.Snapshot()
	require.Len(t, eco.Networks, 1)
	assert.Equal(t, DefaultNetworkName, eco.Networks[0].Name)
	assert.Len(t, eco.Networks[0].Agents, 2)
}

func TestDeployIsolatesReplyFailures(t *testing.T) {
	a, wsStore, _ := newTestArchitect(t, ai.Func(func(context.Context, ai.Request) (string, error) {
		return "", errors.New("model offline")
	}))
	cfg := &MeshConfig{
		Agents: []AgentSpec{
			{Name: "Alpha", Role: "builder"},
			{Name: "Beta", Role: "critic", Prompt: "Critique"},
		},
		ExampleMessages: []MessageSpec{{From: 0, To: 1, Content: "review this"}},
	}

	summary, err := a.Deploy(context.Background(), cfg)
	require.NoError(t, err)
	assert.Contains(t, summary, "1 replies failed")

	msgs := wsStore.Snapshot().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, mesh.MessageFailed, msgs[0].Status)
	assert.Equal(t, "model offline", msgs[0].Error)
}

func TestDeployRenamesClashingAgents(t *testing.T) {
	a, wsStore, _ := newTestArchitect(t, echoAI())
	cfg := &MeshConfig{Agents: []AgentSpec{{Name: "Scout", Role: "researcher"}}}

	_, err := a.Deploy(context.Background(), cfg)
	require.NoError(t, err)
	_, err = a.Deploy(context.Background(), cfg)
	require.NoError(t, err)

	ws := wsStore.Snapshot()
	require.Len(t, ws.Agents, 2)
	assert.Equal(t, "Scout 2", ws.Agents[1].Name)
}
