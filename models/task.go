// ABOUTME: Task status rules shared by the session and the CLI
// ABOUTME: Validates transitions and tracks completion timestamps
package models

import (
	"fmt"
	"time"
)

// Task statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

var validTaskStatuses = map[string]bool{
	TaskStatusPending:    true,
	TaskStatusInProgress: true,
	TaskStatusCompleted:  true,
	TaskStatusCancelled:  true,
}

// ValidTaskStatus reports whether status is a known task status.
func ValidTaskStatus(status string) bool {
	return validTaskStatuses[status]
}

// TransitionStatus validates and applies a new status, setting or clearing
// the completion timestamp.
func (t *Task) TransitionStatus(newStatus string, now time.Time) error {
	if !ValidTaskStatus(newStatus) {
		return fmt.Errorf("invalid task status: %s", newStatus)
	}

	oldStatus := t.Status
	t.Status = newStatus
	t.UpdatedAt = now.UTC()

	if newStatus == TaskStatusCompleted && oldStatus != TaskStatusCompleted {
		completed := now.UTC()
		t.CompletedAt = &completed
	} else if newStatus != TaskStatusCompleted {
		t.CompletedAt = nil
	}

	return nil
}

// StatusPatch returns the columns changed by a status transition.
func (t Task) StatusPatch() Record {
	patch := Record{
		"status":     t.Status,
		"updated_at": FormatTime(t.UpdatedAt),
	}
	putTime(patch, "completed_at", t.CompletedAt)
	return patch
}

// IsOverdue returns true if the task is past its due date and still open.
func (t Task) IsOverdue(now time.Time) bool {
	if t.Status == TaskStatusCompleted || t.Status == TaskStatusCancelled {
		return false
	}
	if t.DueAt == nil {
		return false
	}
	return now.After(*t.DueAt)
}
