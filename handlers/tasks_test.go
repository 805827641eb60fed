// ABOUTME: Tests for the task and collaboration MCP tool handlers
// ABOUTME: Calls handlers directly against a session over the in-memory gateway
package handlers

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/gateway/gatewaytest"
	"github.com/harperreed/huddle/health"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

func setupTestSession(t *testing.T, fake *gatewaytest.Fake) *session.Session {
	t.Helper()
	sess, err := session.Open(session.Options{
		Gateway: fake,
		Scoping: models.Scoping{ProjectID: "p1", UserID: "u1"},
		Health:  health.Config{CheckInterval: time.Hour},
		Logger:  log.New(io.Discard),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { _ = sess.Close(context.Background()) })
	return sess
}

func TestCreateAndListTasks(t *testing.T) {
	sess := setupTestSession(t, gatewaytest.New())
	h := NewTaskHandlers(sess)
	ctx := context.Background()

	_, created, err := h.CreateTask(ctx, &mcp.CallToolRequest{}, CreateTaskInput{
		Title: "Draft roadmap",
		DueAt: "2020-01-01T00:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "Draft roadmap", created.Title)
	assert.Equal(t, models.TaskStatusPending, created.Status)
	require.NotNil(t, created.DueAt)
	assert.True(t, created.Overdue)

	_, _, err = h.CreateTask(ctx, &mcp.CallToolRequest{}, CreateTaskInput{})
	assert.Error(t, err)
	_, _, err = h.CreateTask(ctx, &mcp.CallToolRequest{}, CreateTaskInput{Title: "x", DueAt: "tomorrow"})
	assert.Error(t, err)

	_, list, err := h.ListTasks(ctx, &mcp.CallToolRequest{}, ListTasksInput{})
	require.NoError(t, err)
	require.Len(t, list.Tasks, 1)
	assert.Equal(t, created.ID, list.Tasks[0].ID)
	assert.NotEmpty(t, list.Status)

	_, list, err = h.ListTasks(ctx, &mcp.CallToolRequest{}, ListTasksInput{Status: models.TaskStatusCompleted})
	require.NoError(t, err)
	assert.Empty(t, list.Tasks)
	assert.NotNil(t, list.Tasks)

	_, _, err = h.ListTasks(ctx, &mcp.CallToolRequest{}, ListTasksInput{Status: "blocked"})
	assert.Error(t, err)
}

func TestListTasksLimit(t *testing.T) {
	fake := gatewaytest.New()
	for _, id := range []string{"a", "b", "c"} {
		fake.Seed("tasks", models.Record{"id": id, "project_id": "p1", "title": id, "status": "pending", "created_at": models.Now()})
	}
	h := NewTaskHandlers(setupTestSession(t, fake))

	_, list, err := h.ListTasks(context.Background(), &mcp.CallToolRequest{}, ListTasksInput{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, list.Tasks, 2)
}

func TestUpdateAndDeleteTask(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("tasks", models.Record{"id": "t1", "project_id": "p1", "title": "Ship", "status": "pending", "created_at": models.Now()})
	h := NewTaskHandlers(setupTestSession(t, fake))
	ctx := context.Background()

	_, out, err := h.UpdateTaskStatus(ctx, &mcp.CallToolRequest{}, UpdateTaskStatusInput{ID: "t1", Status: models.TaskStatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, out.Status)
	assert.NotNil(t, out.CompletedAt)

	_, _, err = h.UpdateTaskStatus(ctx, &mcp.CallToolRequest{}, UpdateTaskStatusInput{ID: "t1", Status: "nope"})
	assert.ErrorIs(t, err, session.ErrInvalidInput)

	fake.SetWriteError("tasks", gateway.ErrUnauthorized)
	_, _, err = h.DeleteTask(ctx, &mcp.CallToolRequest{}, DeleteTaskInput{ID: "t1"})
	var we *session.WriteError
	require.ErrorAs(t, err, &we)

	fake.SetWriteError("tasks", nil)
	_, del, err := h.DeleteTask(ctx, &mcp.CallToolRequest{}, DeleteTaskInput{ID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, "t1", del.Deleted)
	assert.Empty(t, fake.Rows("tasks"))
}

func TestCollabTools(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("notifications", models.Record{"id": "n1", "user_id": "u1", "kind": "task_assigned", "message": "You have a task", "read": false, "created_at": models.Now()})
	sess := setupTestSession(t, fake)
	h := NewCollabHandlers(sess)
	ctx := context.Background()

	_, c, err := h.AddComment(ctx, &mcp.CallToolRequest{}, AddCommentInput{Body: "Looks good"})
	require.NoError(t, err)
	assert.Equal(t, "u1", c.AuthorID)

	_, d, err := h.AddDiscussionComment(ctx, &mcp.CallToolRequest{}, AddDiscussionCommentInput{Body: "Agreed", ParentID: c.ID})
	require.NoError(t, err)
	assert.Equal(t, c.ID, d.ParentID)

	_, r, err := h.ToggleReaction(ctx, &mcp.CallToolRequest{}, ToggleReactionInput{TargetID: c.ID, Emoji: "🎉"})
	require.NoError(t, err)
	assert.True(t, r.Added)
	assert.Equal(t, 1, r.Counts["🎉"])

	_, m, err := h.ScheduleMeeting(ctx, &mcp.CallToolRequest{}, ScheduleMeetingInput{Title: "Sync", ScheduledAt: "2030-05-01T15:00:00Z", DurationMinutes: 45})
	require.NoError(t, err)
	assert.Equal(t, int64(45), m.DurationMinutes)
	_, _, err = h.ScheduleMeeting(ctx, &mcp.CallToolRequest{}, ScheduleMeetingInput{Title: "Sync", ScheduledAt: "soon"})
	assert.Error(t, err)

	_, notes, err := h.ListNotifications(ctx, &mcp.CallToolRequest{}, ListNotificationsInput{UnreadOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, notes.Unread)

	_, _, err = h.MarkNotificationRead(ctx, &mcp.CallToolRequest{}, MarkNotificationReadInput{ID: "n1"})
	require.NoError(t, err)
	_, notes, err = h.ListNotifications(ctx, &mcp.CallToolRequest{}, ListNotificationsInput{UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, notes.Notifications)

	_, st, err := h.SyncStatus(ctx, &mcp.CallToolRequest{}, SyncStatusInput{})
	require.NoError(t, err)
	assert.True(t, st.Online)
	assert.Len(t, st.Collections, len(models.DefaultCollections()))
}

func TestPrompts(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("tasks", models.Record{"id": "t1", "project_id": "p1", "title": "Write brief", "status": "in_progress", "created_at": models.Now()})
	fake.Seed("comments", models.Record{"id": "c1", "project_id": "p1", "task_id": "t1", "author_id": "u2", "body": "Need numbers", "created_at": models.Now()})
	h := NewPromptHandlers(setupTestSession(t, fake))
	ctx := context.Background()

	res, err := h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "standup"}})
	require.NoError(t, err)
	text := res.Messages[0].Content.(*mcp.TextContent).Text
	assert.Contains(t, text, "[in_progress] Write brief")

	res, err = h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "task-review", Arguments: map[string]string{"task_id": "t1"}}})
	require.NoError(t, err)
	assert.Contains(t, res.Messages[0].Content.(*mcp.TextContent).Text, "Need numbers")

	_, err = h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "task-review"}})
	assert.Error(t, err)
	_, err = h.GetPrompt(ctx, &mcp.GetPromptRequest{Params: &mcp.GetPromptParams{Name: "haiku"}})
	assert.Error(t, err)
}
