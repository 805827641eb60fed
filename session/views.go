// ABOUTME: Typed read accessors over the session's current snapshots
// ABOUTME: Decodes records into models for the CLI, TUI, and MCP tools
package session

import (
	"github.com/harperreed/huddle/models"
)

// Tasks returns the current project's tasks, newest first. An empty status
// returns every task.
func (s *Session) Tasks(status string) []models.Task {
	var out []models.Task
	for _, rec := range s.store.Get(models.CollectionTasks).Records {
		t := models.TaskFromRecord(rec)
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out
}

// Task returns one task from the snapshot.
func (s *Session) Task(id string) (models.Task, error) {
	rec, err := s.find(models.CollectionTasks, id)
	if err != nil {
		return models.Task{}, err
	}
	return models.TaskFromRecord(rec), nil
}

// Comments returns comments on taskID, or every project comment when
// taskID is empty.
func (s *Session) Comments(taskID string) []models.Comment {
	var out []models.Comment
	for _, rec := range s.store.Get(models.CollectionComments).Records {
		c := models.CommentFromRecord(rec)
		if taskID == "" || c.TaskID == taskID {
			out = append(out, c)
		}
	}
	return out
}

func (s *Session) Meetings() []models.Meeting {
	var out []models.Meeting
	for _, rec := range s.store.Get(models.CollectionMeetings).Records {
		out = append(out, models.MeetingFromRecord(rec))
	}
	return out
}

// Notifications returns the user's notifications, optionally only unread.
func (s *Session) Notifications(unreadOnly bool) []models.Notification {
	var out []models.Notification
	for _, rec := range s.store.Get(models.CollectionNotifications).Records {
		n := models.NotificationFromRecord(rec)
		if !unreadOnly || !n.Read {
			out = append(out, n)
		}
	}
	return out
}

func (s *Session) Discussion() []models.DiscussionComment {
	var out []models.DiscussionComment
	for _, rec := range s.store.Get(models.CollectionDiscussionComments).Records {
		out = append(out, models.DiscussionCommentFromRecord(rec))
	}
	return out
}

// Reactions counts reactions on targetID by emoji.
func (s *Session) Reactions(targetID string) map[string]int {
	out := make(map[string]int)
	for _, rec := range s.store.Get(models.CollectionReactions).Records {
		r := models.ReactionFromRecord(rec)
		if r.TargetID == targetID {
			out[r.Emoji]++
		}
	}
	return out
}
