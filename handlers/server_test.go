// ABOUTME: End-to-end tests of the assembled MCP server over in-memory transports
// ABOUTME: Verifies tool registration, structured results, and resource reads
package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/huddle/gateway/gatewaytest"
	"github.com/harperreed/huddle/models"
)

func mcpClient(t *testing.T, fake *gatewaytest.Fake) *mcp.ClientSession {
	t.Helper()
	srv := NewServer(setupTestSession(t, fake), "test")

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "huddle-test", Version: "0.0.0"}, nil)
	cs, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func TestServerListsTools(t *testing.T) {
	cs := mcpClient(t, gatewaytest.New())

	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.Contains(t, names, "create_task")
	assert.Contains(t, names, "sync_status")
	assert.Len(t, names, 11)
}

func TestServerCreateTaskRoundTrip(t *testing.T) {
	fake := gatewaytest.New()
	cs := mcpClient(t, fake)
	ctx := context.Background()

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "create_task",
		Arguments: map[string]any{"title": "From the agent"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError)

	text := res.Content[0].(*mcp.TextContent).Text
	var out TaskOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, "From the agent", out.Title)
	assert.Len(t, fake.Rows("tasks"), 1)

	res, err = cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "update_task_status",
		Arguments: map[string]any{"id": out.ID, "status": "bogus"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestServerReadsResources(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("meetings", models.Record{"id": "m1", "project_id": "p1", "title": "Kickoff", "scheduled_at": models.Now(), "created_at": models.Now()})
	fake.Seed("tasks", models.Record{"id": "t1", "project_id": "p1", "title": "Plan", "status": "pending", "created_at": models.Now()})
	cs := mcpClient(t, fake)
	ctx := context.Background()

	res, err := cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "huddle://meetings"})
	require.NoError(t, err)
	var doc snapshotDocument
	require.NoError(t, json.Unmarshal([]byte(res.Contents[0].Text), &doc))
	assert.Equal(t, "meetings", doc.Collection)
	require.Len(t, doc.Records, 1)
	assert.Equal(t, "Kickoff", doc.Records[0].String("title"))

	res, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "huddle://tasks/t1"})
	require.NoError(t, err)
	assert.Contains(t, res.Contents[0].Text, "Plan")

	_, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "huddle://tasks/missing"})
	assert.Error(t, err)
	_, err = cs.ReadResource(ctx, &mcp.ReadResourceParams{URI: "huddle://invoices"})
	assert.Error(t, err)
}
