// ABOUTME: Tests for collaboration data models
// ABOUTME: Validates record getters, typed conversions, and task status transitions
package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordGetters(t *testing.T) {
	r := Record{
		"id":       "t1",
		"count":    float64(3),
		"size":     int64(7),
		"read":     int64(1),
		"done":     true,
		"when":     "2025-03-01T10:00:00.000000Z",
		"nothing":  nil,
		"bytes":    []byte("raw"),
		"badTime":  "yesterday",
		"strCount": "42",
	}

	assert.Equal(t, "t1", r.ID())
	assert.Equal(t, int64(3), r.Int("count"))
	assert.Equal(t, int64(7), r.Int("size"))
	assert.Equal(t, int64(42), r.Int("strCount"))
	assert.True(t, r.Bool("read"))
	assert.True(t, r.Bool("done"))
	assert.False(t, r.Bool("missing"))
	assert.Equal(t, "", r.String("nothing"))
	assert.Equal(t, "raw", r.String("bytes"))

	when, ok := r.Time("when")
	require.True(t, ok)
	assert.Equal(t, 2025, when.Year())

	_, ok = r.Time("badTime")
	assert.False(t, ok)
	assert.Nil(t, r.TimePtr("missing"))
}

func TestRecordEqualComparesNumbersByValue(t *testing.T) {
	fromSQLite := Record{"id": "1", "duration_minutes": int64(30)}
	fromJSON := Record{"id": "1", "duration_minutes": float64(30)}

	assert.True(t, fromSQLite.Equal(fromJSON))
	assert.False(t, fromSQLite.Equal(Record{"id": "1", "duration_minutes": float64(31)}))
	assert.False(t, fromSQLite.Equal(Record{"id": "1"}))
}

func TestRecordMergeDoesNotMutate(t *testing.T) {
	base := Record{"id": "1", "status": TaskStatusPending}
	merged := base.Merge(Record{"status": TaskStatusCompleted})

	assert.Equal(t, TaskStatusPending, base["status"])
	assert.Equal(t, TaskStatusCompleted, merged["status"])
	assert.Equal(t, "1", merged.ID())
}

func TestFormatTimeIsLexicallyOrdered(t *testing.T) {
	a := time.Date(2025, 1, 1, 12, 0, 5, 0, time.UTC)
	b := a.Add(100 * time.Millisecond)

	assert.Less(t, FormatTime(a), FormatTime(b))
	assert.Len(t, FormatTime(a), len(FormatTime(b)))
}

func TestTaskRecordRoundTrip(t *testing.T) {
	now := time.Date(2025, 5, 4, 9, 30, 0, 0, time.UTC)
	due := now.Add(48 * time.Hour)
	task := Task{
		ID:        "task-1",
		ProjectID: "proj-1",
		Title:     "Write agenda",
		Status:    TaskStatusPending,
		DueAt:     &due,
		CreatedBy: "user-1",
		CreatedAt: now,
		UpdatedAt: now,
	}

	got := TaskFromRecord(task.Record())

	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, task.Status, got.Status)
	require.NotNil(t, got.DueAt)
	assert.True(t, due.Equal(*got.DueAt))
	assert.Nil(t, got.CompletedAt)
	assert.True(t, now.Equal(got.CreatedAt))
}

func TestNotificationReadFromSQLiteInteger(t *testing.T) {
	n := NotificationFromRecord(Record{"id": "n1", "user_id": "u1", "read": int64(1)})
	assert.True(t, n.Read)

	n = NotificationFromRecord(Record{"id": "n1", "user_id": "u1", "read": int64(0)})
	assert.False(t, n.Read)
}

func TestTaskTransitionStatus(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name          string
		from          string
		to            string
		wantErr       bool
		wantCompleted bool
	}{
		{name: "pending to in progress", from: TaskStatusPending, to: TaskStatusInProgress},
		{name: "pending to completed", from: TaskStatusPending, to: TaskStatusCompleted, wantCompleted: true},
		{name: "completed back to pending", from: TaskStatusCompleted, to: TaskStatusPending},
		{name: "cancelled", from: TaskStatusInProgress, to: TaskStatusCancelled},
		{name: "invalid", from: TaskStatusPending, to: "archived", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			task := &Task{ID: "t", Status: tt.from}
			if tt.from == TaskStatusCompleted {
				done := now.Add(-time.Hour)
				task.CompletedAt = &done
			}

			err := task.TransitionStatus(tt.to, now)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.from, task.Status)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.to, task.Status)
			if tt.wantCompleted {
				require.NotNil(t, task.CompletedAt)
				assert.Equal(t, now, *task.CompletedAt)
			} else {
				assert.Nil(t, task.CompletedAt)
			}
		})
	}
}

func TestTaskStatusPatch(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	task := Task{ID: "t", Status: TaskStatusPending}
	require.NoError(t, task.TransitionStatus(TaskStatusCompleted, now))

	patch := task.StatusPatch()
	assert.Equal(t, TaskStatusCompleted, patch["status"])
	assert.Equal(t, FormatTime(now), patch["completed_at"])
	assert.Equal(t, FormatTime(now), patch["updated_at"])
}

func TestTaskIsOverdue(t *testing.T) {
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	assert.True(t, Task{Status: TaskStatusPending, DueAt: &past}.IsOverdue(now))
	assert.False(t, Task{Status: TaskStatusCompleted, DueAt: &past}.IsOverdue(now))
	assert.False(t, Task{Status: TaskStatusPending}.IsOverdue(now))
}

func TestCollectionByName(t *testing.T) {
	c, ok := CollectionByName(CollectionNotifications)
	require.True(t, ok)
	assert.Equal(t, ScopeUser, c.Scope)
	assert.Equal(t, "user_id", c.Scope.Column())

	_, ok = CollectionByName("contacts")
	assert.False(t, ok)

	scoping := Scoping{ProjectID: "p", UserID: "u"}
	assert.Equal(t, "u", scoping.ValueFor(Notifications))
	assert.Equal(t, "p", scoping.ValueFor(Tasks))
	assert.Len(t, DefaultCollections(), 6)
}
