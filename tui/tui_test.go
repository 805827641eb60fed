// ABOUTME: Tests for the TUI model driven by key and focus messages
// ABOUTME: Runs against a real session over the in-memory gateway
package tui

import (
	"context"
	"io"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/gateway/gatewaytest"
	"github.com/harperreed/huddle/health"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

func setupModel(t *testing.T, fake *gatewaytest.Fake) Model {
	t.Helper()
	sess, err := session.Open(session.Options{
		Gateway: fake,
		Scoping: models.Scoping{ProjectID: "p1", UserID: "u1"},
		Health: health.Config{
			CheckInterval: time.Hour,
			OnlineSettle:  10 * time.Millisecond,
			VisibleDelay:  10 * time.Millisecond,
		},
		Logger: log.New(io.Discard),
	})
	require.NoError(t, err)
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(func() { _ = sess.Close(context.Background()) })
	return NewModel(context.Background(), sess)
}

func seedTask(fake *gatewaytest.Fake, id, title string) {
	fake.Seed("tasks", models.Record{"id": id, "project_id": "p1", "title": title, "status": "pending", "created_at": models.Now()})
}

func keys(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

// finish runs a write command and feeds its result back into the model.
func finish(t *testing.T, m Model, cmd tea.Cmd) Model {
	t.Helper()
	require.NotNil(t, cmd)
	msg := cmd()
	done, ok := msg.(writeDoneMsg)
	require.True(t, ok, "expected writeDoneMsg, got %T", msg)
	m, _ = update(t, m, done)
	return m
}

func TestListViewRendersTasks(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "Write launch plan")
	m := setupModel(t, fake)

	out := m.View()
	assert.Contains(t, out, "HUDDLE")
	assert.Contains(t, out, "Write launch plan")
	assert.Contains(t, out, "online")
	assert.Contains(t, out, "feeds")
}

func TestTabSwitching(t *testing.T) {
	m := setupModel(t, gatewaytest.New())

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, models.CollectionComments, m.currentTab().Collection)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, models.CollectionNotifications, m.currentTab().Collection)
	assert.Contains(t, m.View(), "Mark read")
}

func TestCompleteTaskFromList(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "Ship it")
	m := setupModel(t, fake)

	m, cmd := update(t, m, keys("d"))
	assert.Equal(t, 1, m.writing)
	m = finish(t, m, cmd)

	assert.Equal(t, 0, m.writing)
	assert.NoError(t, m.err)
	assert.Equal(t, "task completed", m.message)
	require.Len(t, fake.Rows("tasks"), 1)
	assert.Equal(t, models.TaskStatusCompleted, fake.Rows("tasks")[0].String("status"))
}

func TestRejectedWriteShowsError(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "Ship it")
	m := setupModel(t, fake)
	fake.SetWriteError("tasks", gateway.ErrUnauthorized)

	m, cmd := update(t, m, keys("s"))
	m = finish(t, m, cmd)

	var we *session.WriteError
	require.ErrorAs(t, m.err, &we)
	assert.Contains(t, m.View(), "log in again")
	assert.Equal(t, models.TaskStatusPending, m.sess.Tasks("")[0].Status)
}

func TestCreateTaskForm(t *testing.T) {
	fake := gatewaytest.New()
	m := setupModel(t, fake)

	m, _ = update(t, m, keys("n"))
	require.Equal(t, ViewEdit, m.viewMode)
	assert.Contains(t, m.View(), "NEW TASK")

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Equal(t, ViewEdit, m.viewMode)
	assert.EqualError(t, m.err, "title is required")

	m, _ = update(t, m, keys("Plan offsite"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	m, _ = update(t, m, keys("next week"))
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Contains(t, m.err.Error(), "due must look like")

	m.formInputs[2].SetValue("")
	m, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ViewList, m.viewMode)
	m = finish(t, m, cmd)

	require.NoError(t, m.err)
	rows := fake.Rows("tasks")
	require.Len(t, rows, 1)
	assert.Equal(t, "Plan offsite", rows[0].String("title"))
	assert.Contains(t, m.View(), "Plan offsite")
}

func TestEditEscapeCancels(t *testing.T) {
	m := setupModel(t, gatewaytest.New())

	m, _ = update(t, m, keys("n"))
	m, _ = update(t, m, keys("q"))
	assert.Equal(t, ViewEdit, m.viewMode, "q types into the form")
	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewList, m.viewMode)
}

func TestDetailViewAndTaskComment(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "Review copy")
	fake.Seed("comments", models.Record{"id": "c1", "project_id": "p1", "task_id": "t1", "author_id": "u2", "body": "Second paragraph is long", "created_at": models.Now()})
	m := setupModel(t, fake)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	require.Equal(t, ViewDetail, m.viewMode)
	out := m.View()
	assert.Contains(t, out, "Review copy")
	assert.Contains(t, out, "Second paragraph is long")

	m, _ = update(t, m, keys("c"))
	require.Equal(t, ViewEdit, m.viewMode)
	assert.Contains(t, m.View(), "TASK COMMENT")
	m, _ = update(t, m, keys("Trimmed it"))
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Equal(t, ViewDetail, m.viewMode)
	m = finish(t, m, cmd)

	require.NoError(t, m.err)
	assert.Len(t, m.sess.Comments("t1"), 2)

	m, _ = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ViewList, m.viewMode)
}

func TestDeleteConfirmation(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "Obsolete task")
	m := setupModel(t, fake)

	m, _ = update(t, m, keys("x"))
	require.Equal(t, ViewConfirmDelete, m.viewMode)
	assert.Contains(t, m.View(), "Obsolete task")

	m, _ = update(t, m, keys("n"))
	assert.Equal(t, ViewList, m.viewMode)
	assert.Len(t, fake.Rows("tasks"), 1)

	m, _ = update(t, m, keys("x"))
	m, cmd := update(t, m, keys("y"))
	assert.Equal(t, ViewList, m.viewMode)
	m = finish(t, m, cmd)

	require.NoError(t, m.err)
	assert.Empty(t, fake.Rows("tasks"))
	assert.Equal(t, 0, m.selectedRow)
}

func TestMarkNotificationReadFromList(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("notifications", models.Record{"id": "n1", "user_id": "u1", "kind": "mention", "message": "You were mentioned", "read": false, "created_at": models.Now()})
	m := setupModel(t, fake)
	assert.Contains(t, m.View(), "Notifications (1)")

	m.tab = len(Tabs) - 1
	m, cmd := update(t, m, keys("r"))
	m = finish(t, m, cmd)

	require.NoError(t, m.err)
	assert.Empty(t, m.sess.Notifications(true))
	assert.NotContains(t, m.View(), "Notifications (1)")
}

func TestReactionToggleFromDiscussion(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("discussion_comments", models.Record{"id": "d1", "project_id": "p1", "author_id": "u2", "body": "Lunch?", "created_at": models.Now()})
	m := setupModel(t, fake)

	m.tab = 3
	m, cmd := update(t, m, keys("+"))
	m = finish(t, m, cmd)

	require.NoError(t, m.err)
	assert.Equal(t, map[string]int{"👍": 1}, m.sess.Reactions("d1"))
}

func TestFocusMapsToVisibility(t *testing.T) {
	m := setupModel(t, gatewaytest.New())
	mon := m.sess.Monitor()

	m, _ = update(t, m, tea.BlurMsg{})
	require.Eventually(t, func() bool { return !mon.State().Visible }, time.Second, 5*time.Millisecond)

	_, _ = update(t, m, tea.FocusMsg{})
	require.Eventually(t, func() bool { return mon.State().Visible }, time.Second, 5*time.Millisecond)
}

func TestSnapshotMsgClampsSelection(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "One")
	m := setupModel(t, fake)
	m.selectedRow = 5

	m, _ = update(t, m, snapshotMsg{collection: models.CollectionTasks})
	assert.Equal(t, 0, m.selectedRow)
}

func TestAgo(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"zero", time.Time{}, "-"},
		{"seconds", now.Add(-20 * time.Second), "just now"},
		{"minutes", now.Add(-5 * time.Minute), "5m ago"},
		{"hours", now.Add(-3 * time.Hour), "3h ago"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ago(now, tt.t))
		})
	}
}
