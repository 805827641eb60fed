// ABOUTME: Tests for session startup, project switches, teardown, and optimistic writes
// ABOUTME: Drives the session against the in-memory gateway and a testify mock
package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/gateway/gatewaytest"
	"github.com/harperreed/huddle/health"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/viewmodel"
)

var fixedNow = time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)

func testOptions(gw gateway.Gateway) Options {
	return Options{
		Gateway: gw,
		Scoping: models.Scoping{ProjectID: "p1", UserID: "u1"},
		Health: health.Config{
			CheckInterval: time.Hour,
			OnlineSettle:  10 * time.Millisecond,
			VisibleDelay:  10 * time.Millisecond,
		},
		Logger: log.New(io.Discard),
		Now:    func() time.Time { return fixedNow },
	}
}

func startSession(t *testing.T, gw gateway.Gateway) *Session {
	t.Helper()
	s, err := Open(testOptions(gw))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func allLive(s *Session) bool {
	subs := s.Manager().Subscriptions()
	if len(subs) != len(models.DefaultCollections()) {
		return false
	}
	for _, sub := range subs {
		if sub.State != gateway.StateSubscribed {
			return false
		}
	}
	return true
}

func seedTask(fake *gatewaytest.Fake, id, project, status string) {
	fake.Seed("tasks", models.Record{
		"id": id, "project_id": project, "title": "Task " + id, "status": status,
		"created_at": models.FormatTime(fixedNow.Add(-time.Hour)), "updated_at": models.FormatTime(fixedNow.Add(-time.Hour)),
	})
}

func TestOpenValidates(t *testing.T) {
	_, err := Open(Options{})
	assert.Error(t, err)

	opts := testOptions(gatewaytest.New())
	opts.Scoping.UserID = ""
	_, err = Open(opts)
	assert.ErrorIs(t, err, ErrNoUser)
}

func TestStartLoadsAndSubscribesEverything(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "p1", models.TaskStatusPending)
	seedTask(fake, "other", "p2", models.TaskStatusPending)

	s := startSession(t, fake)

	tasks := s.Tasks("")
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].ID)
	for _, name := range s.Store().Collections() {
		assert.NotEqual(t, viewmodel.StatusEmpty, s.Store().Status(name), name)
	}

	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.Monitor().State().Initialized)

	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestStartWithFailedLoadStillSubscribes(t *testing.T) {
	fake := gatewaytest.New()
	fake.SetSelectError("meetings", gateway.ErrUnavailable)

	s := startSession(t, fake)
	assert.Equal(t, viewmodel.StatusEmpty, s.Store().Status(models.CollectionMeetings))
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)
}

func TestRemoteChangeReachesSnapshot(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "p1", models.TaskStatusPending)
	s := startSession(t, fake)
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)

	// Another client completes the task.
	_, err := fake.Update(context.Background(), "tasks", "t1", models.Record{"status": models.TaskStatusCompleted})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, err := s.Task("t1")
		return err == nil && task.Status == models.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNetworkLossThenOnlineReconnects(t *testing.T) {
	fake := gatewaytest.New()
	s := startSession(t, fake)
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)

	fake.DropAll(gateway.ErrUnavailable)
	require.Eventually(t, func() bool {
		st, _ := s.Manager().State(models.CollectionTasks)
		return st == gateway.StateError
	}, time.Second, 5*time.Millisecond)

	s.Monitor().NotifyOffline()
	s.Monitor().NotifyOnline()

	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, fake.SubscribeCount("tasks"))
	assert.Len(t, fake.LiveChannels("tasks"), 1)
}

func TestFeedLossRecoversOnNextCheck(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "p1", models.TaskStatusPending)
	s := startSession(t, fake)
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)

	// The socket dies while the backend stays reachable, and a change
	// lands while no feed is listening.
	fake.DropAll(gateway.ErrUnavailable)
	require.Eventually(t, func() bool {
		for _, sub := range s.Manager().Subscriptions() {
			if sub.State.Live() {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, fake.UpdateSilently("tasks", "t1", models.Record{"status": models.TaskStatusCompleted}))

	s.Monitor().RequestCheck()

	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		task, err := s.Task("t1")
		return err == nil && task.Status == models.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
	_, reconnects := s.Monitor().Counters()
	assert.Equal(t, int64(1), reconnects)
}

func TestSwitchProject(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "a", "p1", models.TaskStatusPending)
	seedTask(fake, "b", "p2", models.TaskStatusPending)

	s := startSession(t, fake)
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SwitchProject(context.Background(), "p2"))
	assert.Equal(t, "p2", s.Scoping().ProjectID)
	tasks := s.Tasks("")
	require.Len(t, tasks, 1)
	assert.Equal(t, "b", tasks[0].ID)

	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, fake.LiveChannels("tasks"), 1, "old project channel was closed")

	// Same project is a no-op.
	before := fake.SubscribeCount("tasks")
	require.NoError(t, s.SwitchProject(context.Background(), "p2"))
	assert.Equal(t, before, fake.SubscribeCount("tasks"))
}

func TestCloseStopsEverything(t *testing.T) {
	fake := gatewaytest.New()
	s, err := Open(testOptions(fake))
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Close(context.Background()))
	require.NoError(t, s.Close(context.Background()))

	assert.Zero(t, s.Manager().Count())
	assert.Empty(t, fake.LiveChannels("tasks"))
	assert.False(t, s.Monitor().State().Initialized)

	assert.ErrorIs(t, s.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.SwitchProject(context.Background(), "p9"), ErrClosed)
	_, err = s.CreateTask(context.Background(), NewTask{Title: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}

type closeRecorder struct {
	*gatewaytest.Fake
	closed int
}

func (c *closeRecorder) Close() error {
	c.closed++
	return nil
}

func TestCloseReleasesClosableGateway(t *testing.T) {
	gw := &closeRecorder{Fake: gatewaytest.New()}
	s, err := Open(testOptions(gw))
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, 1, gw.closed)
}

func TestStatusSummary(t *testing.T) {
	fake := gatewaytest.New()
	s := startSession(t, fake)
	require.Eventually(t, func() bool { return allLive(s) }, 2*time.Second, 10*time.Millisecond)

	st := s.Status()
	assert.True(t, st.Health.Online)
	assert.Len(t, st.Subscriptions, len(models.DefaultCollections()))
	assert.Contains(t, st.Collections, models.CollectionTasks)
	assert.Zero(t, st.Pending[models.CollectionTasks])

	require.Eventually(t, func() bool {
		return s.Status().Collections[models.CollectionTasks] == viewmodel.StatusLoaded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateTaskIsVisibleAndConfirmed(t *testing.T) {
	fake := gatewaytest.New()
	s := startSession(t, fake)

	var mu sync.Mutex
	var seen []int
	cancel := s.Store().Observe(models.CollectionTasks, func(snap viewmodel.Snapshot) {
		mu.Lock()
		seen = append(seen, len(snap.Records))
		mu.Unlock()
	})
	defer cancel()

	task, err := s.CreateTask(context.Background(), NewTask{Title: "  Write agenda  "})
	require.NoError(t, err)
	assert.Equal(t, "Write agenda", task.Title)
	assert.Equal(t, models.TaskStatusPending, task.Status)
	assert.Equal(t, "p1", task.ProjectID)
	assert.Equal(t, "u1", task.CreatedBy)
	assert.True(t, task.CreatedAt.Equal(fixedNow))
	mu.Lock()
	assert.Contains(t, seen, 1, "optimistic record shown")
	mu.Unlock()

	require.Len(t, fake.Rows("tasks"), 1)

	s.Store().Wait()
	require.Eventually(t, func() bool {
		return s.Store().PendingCount(models.CollectionTasks) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, s.Tasks(""), 1)
}

func TestCreateTaskValidation(t *testing.T) {
	s := startSession(t, gatewaytest.New())

	_, err := s.CreateTask(context.Background(), NewTask{Title: "   "})
	assert.ErrorIs(t, err, ErrInvalidInput)

	opts := testOptions(gatewaytest.New())
	opts.Scoping.ProjectID = ""
	noProject, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = noProject.Close(context.Background()) })
	_, err = noProject.CreateTask(context.Background(), NewTask{Title: "x"})
	assert.ErrorIs(t, err, ErrNoProject)
}

func TestRejectedInsertRollsBack(t *testing.T) {
	fake := gatewaytest.New()
	s := startSession(t, fake)
	fake.SetWriteError("comments", gateway.ErrUnauthorized)

	_, err := s.AddComment(context.Background(), "", "hello")
	require.Error(t, err)

	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Equal(t, "add", we.Op)
	assert.Equal(t, models.CollectionComments, we.Collection)
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.Contains(t, err.Error(), "log in again")

	assert.Empty(t, s.Comments(""))
	assert.Zero(t, s.Store().PendingCount(models.CollectionComments))
}

func TestUpdateTaskStatus(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "p1", models.TaskStatusPending)
	s := startSession(t, fake)

	task, err := s.UpdateTaskStatus(context.Background(), "t1", models.TaskStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusCompleted, task.Status)
	require.NotNil(t, task.CompletedAt)
	assert.True(t, task.CompletedAt.Equal(fixedNow))

	rows := fake.Rows("tasks")
	require.Len(t, rows, 1)
	assert.Equal(t, models.TaskStatusCompleted, rows[0].String("status"))

	_, err = s.UpdateTaskStatus(context.Background(), "t1", "someday")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.UpdateTaskStatus(context.Background(), "missing", models.TaskStatusCompleted)
	assert.ErrorIs(t, err, gateway.ErrNotFound)
}

func TestRejectedUpdateRestoresPreviousRecord(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "p1", models.TaskStatusPending)
	s := startSession(t, fake)
	fake.SetWriteError("tasks", gateway.ErrUnavailable)

	_, err := s.UpdateTaskStatus(context.Background(), "t1", models.TaskStatusInProgress)
	var we *WriteError
	require.ErrorAs(t, err, &we)
	assert.Contains(t, err.Error(), "unreachable")

	task, err := s.Task("t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusPending, task.Status)
}

func TestDeleteTask(t *testing.T) {
	fake := gatewaytest.New()
	seedTask(fake, "t1", "p1", models.TaskStatusPending)
	seedTask(fake, "t2", "p1", models.TaskStatusPending)
	s := startSession(t, fake)

	require.NoError(t, s.DeleteTask(context.Background(), "t1"))
	_, err := s.Task("t1")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.Len(t, fake.Rows("tasks"), 1)

	err = s.DeleteTask(context.Background(), "ghost")
	assert.ErrorIs(t, err, gateway.ErrNotFound)
	assert.Len(t, s.Tasks(""), 1)

	assert.ErrorIs(t, s.DeleteTask(context.Background(), ""), ErrInvalidInput)
}

func TestToggleReaction(t *testing.T) {
	fake := gatewaytest.New()
	s := startSession(t, fake)
	ctx := context.Background()

	added, err := s.ToggleReaction(ctx, "c1", "👍")
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, map[string]int{"👍": 1}, s.Reactions("c1"))

	added, err = s.ToggleReaction(ctx, "c1", "👍")
	require.NoError(t, err)
	assert.False(t, added)
	assert.Empty(t, s.Reactions("c1"))
	assert.Empty(t, fake.Rows("reactions"))

	_, err = s.ToggleReaction(ctx, "", "👍")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScheduleMeetingAndDiscussion(t *testing.T) {
	fake := gatewaytest.New()
	s := startSession(t, fake)
	ctx := context.Background()

	m, err := s.ScheduleMeeting(ctx, NewMeeting{Title: "Kickoff", ScheduledAt: fixedNow.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, int64(30), m.DurationMinutes)
	require.Len(t, s.Meetings(), 1)

	_, err = s.ScheduleMeeting(ctx, NewMeeting{Title: "No time"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	root, err := s.AddDiscussionComment(ctx, "", "Thoughts?")
	require.NoError(t, err)
	reply, err := s.AddDiscussionComment(ctx, root.ID, "Ship it")
	require.NoError(t, err)
	assert.Equal(t, root.ID, reply.ParentID)
	assert.Len(t, s.Discussion(), 2)
}

func TestMarkNotificationRead(t *testing.T) {
	fake := gatewaytest.New()
	fake.Seed("notifications",
		models.Record{"id": "n1", "user_id": "u1", "kind": models.NotificationTaskAssigned, "message": "assigned", "read": int64(0), "created_at": models.FormatTime(fixedNow)},
		models.Record{"id": "n2", "user_id": "u1", "kind": models.NotificationCommentAdded, "message": "comment", "read": int64(1), "created_at": models.FormatTime(fixedNow)},
	)
	s := startSession(t, fake)
	assert.Len(t, s.Notifications(true), 1)

	require.NoError(t, s.MarkNotificationRead(context.Background(), "n1"))
	assert.Empty(t, s.Notifications(true))
	assert.Len(t, s.Notifications(false), 2)

	// Already read: no write.
	fake.SetWriteError("notifications", errors.New("should not be called"))
	require.NoError(t, s.MarkNotificationRead(context.Background(), "n2"))
}

// mockGateway lets a test script exact gateway answers.
type mockGateway struct {
	mock.Mock
	*gatewaytest.Fake
}

func (m *mockGateway) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	args := m.Called(ctx, table, rec)
	if r, ok := args.Get(0).(models.Record); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func TestRejectedWriteFromMock(t *testing.T) {
	gw := &mockGateway{Fake: gatewaytest.New()}
	gw.On("Insert", mock.Anything, "tasks", mock.Anything).
		Return(nil, gateway.ErrConflict).Once()

	s, err := Open(testOptions(gw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })

	_, err = s.CreateTask(context.Background(), NewTask{Title: "dup"})
	require.ErrorIs(t, err, gateway.ErrConflict)
	assert.Contains(t, err.Error(), "conflicts")
	assert.Empty(t, s.Tasks(""))
	gw.AssertExpectations(t)
}
