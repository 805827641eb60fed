// ABOUTME: Data models for collaboration entities
// ABOUTME: Defines Project, Task, Comment, Meeting, Notification, DiscussionComment, and Reaction
package models

import (
	"time"
)

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}

type Task struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      string     `json:"status"`
	AssigneeID  string     `json:"assignee_id,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type Comment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id,omitempty"`
	AuthorID  string    `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Meeting struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Title           string    `json:"title"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int64     `json:"duration_minutes"`
	Location        string    `json:"location,omitempty"`
	CreatedBy       string    `json:"created_by"`
	CreatedAt       time.Time `json:"created_at"`
}

type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ProjectID string    `json:"project_id,omitempty"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type DiscussionComment struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	AuthorID  string    `json:"author_id"`
	ParentID  string    `json:"parent_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Reaction struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	TargetID  string    `json:"target_id"`
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// Notification kinds.
const (
	NotificationTaskAssigned = "task_assigned"
	NotificationCommentAdded = "comment_added"
	NotificationMeeting      = "meeting_scheduled"
)

func timeOrZero(r Record, key string) time.Time {
	t, _ := r.Time(key)
	return t
}

func putTime(r Record, key string, t *time.Time) {
	if t == nil {
		r[key] = nil
		return
	}
	r[key] = FormatTime(*t)
}

func ProjectFromRecord(r Record) Project {
	return Project{
		ID:        r.ID(),
		Name:      r.String("name"),
		OwnerID:   r.String("owner_id"),
		CreatedAt: timeOrZero(r, "created_at"),
	}
}

func (p Project) Record() Record {
	return Record{
		"id":         p.ID,
		"name":       p.Name,
		"owner_id":   p.OwnerID,
		"created_at": FormatTime(p.CreatedAt),
	}
}

func TaskFromRecord(r Record) Task {
	return Task{
		ID:          r.ID(),
		ProjectID:   r.String("project_id"),
		Title:       r.String("title"),
		Description: r.String("description"),
		Status:      r.String("status"),
		AssigneeID:  r.String("assignee_id"),
		DueAt:       r.TimePtr("due_at"),
		CompletedAt: r.TimePtr("completed_at"),
		CreatedBy:   r.String("created_by"),
		CreatedAt:   timeOrZero(r, "created_at"),
		UpdatedAt:   timeOrZero(r, "updated_at"),
	}
}

func (t Task) Record() Record {
	r := Record{
		"id":          t.ID,
		"project_id":  t.ProjectID,
		"title":       t.Title,
		"description": t.Description,
		"status":      t.Status,
		"assignee_id": t.AssigneeID,
		"created_by":  t.CreatedBy,
		"created_at":  FormatTime(t.CreatedAt),
		"updated_at":  FormatTime(t.UpdatedAt),
	}
	putTime(r, "due_at", t.DueAt)
	putTime(r, "completed_at", t.CompletedAt)
	return r
}

func CommentFromRecord(r Record) Comment {
	return Comment{
		ID:        r.ID(),
		ProjectID: r.String("project_id"),
		TaskID:    r.String("task_id"),
		AuthorID:  r.String("author_id"),
		Body:      r.String("body"),
		CreatedAt: timeOrZero(r, "created_at"),
	}
}

func (c Comment) Record() Record {
	return Record{
		"id":         c.ID,
		"project_id": c.ProjectID,
		"task_id":    c.TaskID,
		"author_id":  c.AuthorID,
		"body":       c.Body,
		"created_at": FormatTime(c.CreatedAt),
	}
}

func MeetingFromRecord(r Record) Meeting {
	return Meeting{
		ID:              r.ID(),
		ProjectID:       r.String("project_id"),
		Title:           r.String("title"),
		ScheduledAt:     timeOrZero(r, "scheduled_at"),
		DurationMinutes: r.Int("duration_minutes"),
		Location:        r.String("location"),
		CreatedBy:       r.String("created_by"),
		CreatedAt:       timeOrZero(r, "created_at"),
	}
}

func (m Meeting) Record() Record {
	return Record{
		"id":               m.ID,
		"project_id":       m.ProjectID,
		"title":            m.Title,
		"scheduled_at":     FormatTime(m.ScheduledAt),
		"duration_minutes": m.DurationMinutes,
		"location":         m.Location,
		"created_by":       m.CreatedBy,
		"created_at":       FormatTime(m.CreatedAt),
	}
}

func NotificationFromRecord(r Record) Notification {
	return Notification{
		ID:        r.ID(),
		UserID:    r.String("user_id"),
		ProjectID: r.String("project_id"),
		Kind:      r.String("kind"),
		Message:   r.String("message"),
		Read:      r.Bool("read"),
		CreatedAt: timeOrZero(r, "created_at"),
	}
}

func (n Notification) Record() Record {
	return Record{
		"id":         n.ID,
		"user_id":    n.UserID,
		"project_id": n.ProjectID,
		"kind":       n.Kind,
		"message":    n.Message,
		"read":       n.Read,
		"created_at": FormatTime(n.CreatedAt),
	}
}

func DiscussionCommentFromRecord(r Record) DiscussionComment {
	return DiscussionComment{
		ID:        r.ID(),
		ProjectID: r.String("project_id"),
		AuthorID:  r.String("author_id"),
		ParentID:  r.String("parent_id"),
		Body:      r.String("body"),
		CreatedAt: timeOrZero(r, "created_at"),
	}
}

func (d DiscussionComment) Record() Record {
	return Record{
		"id":         d.ID,
		"project_id": d.ProjectID,
		"author_id":  d.AuthorID,
		"parent_id":  d.ParentID,
		"body":       d.Body,
		"created_at": FormatTime(d.CreatedAt),
	}
}

func ReactionFromRecord(r Record) Reaction {
	return Reaction{
		ID:        r.ID(),
		ProjectID: r.String("project_id"),
		TargetID:  r.String("target_id"),
		UserID:    r.String("user_id"),
		Emoji:     r.String("emoji"),
		CreatedAt: timeOrZero(r, "created_at"),
	}
}

func (x Reaction) Record() Record {
	return Record{
		"id":         x.ID,
		"project_id": x.ProjectID,
		"target_id":  x.TargetID,
		"user_id":    x.UserID,
		"emoji":      x.Emoji,
		"created_at": FormatTime(x.CreatedAt),
	}
}
