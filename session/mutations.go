// ABOUTME: Optimistic writes for tasks, comments, meetings, notifications, and reactions
// ABOUTME: Shows each change immediately and confirms or rolls it back after the gateway answers
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// ErrInvalidInput is returned before any write when arguments are unusable.
var ErrInvalidInput = errors.New("invalid input")

// WriteError is an authoritative write the gateway rejected. The
// optimistic change has already been rolled back.
type WriteError struct {
	Op         string
	Collection string
	Err        error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("could not %s %s: %s", e.Op, e.Collection, e.hint())
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) hint() string {
	switch {
	case errors.Is(e.Err, gateway.ErrUnauthorized):
		return "your session has expired, log in again"
	case errors.Is(e.Err, gateway.ErrConflict):
		return "it conflicts with an existing record"
	case errors.Is(e.Err, gateway.ErrNotFound):
		return "it no longer exists"
	case errors.Is(e.Err, gateway.ErrUnavailable):
		return "the server is unreachable, try again shortly"
	default:
		return e.Err.Error()
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (s *Session) project() (models.Scoping, error) {
	scoping := s.Scoping()
	if scoping.ProjectID == "" {
		return scoping, ErrNoProject
	}
	return scoping, nil
}

func tableOf(name string) string {
	if c, ok := models.CollectionByName(name); ok {
		return c.Table
	}
	return name
}

// insert shows rec at once, then writes it.
func (s *Session) insert(ctx context.Context, op, collection string, rec models.Record) (models.Record, error) {
	if err := s.store.ApplyOptimistic(collection, rec); err != nil {
		return nil, err
	}
	saved, err := s.gw.Insert(ctx, tableOf(collection), rec)
	if err != nil {
		s.store.Rollback(collection, rec.ID())
		s.logger.Warn("write rejected", "op", op, "collection", collection, "id", rec.ID(), "err", err)
		return nil, &WriteError{Op: op, Collection: collection, Err: err}
	}
	s.store.Confirmed(collection, saved)
	return saved, nil
}

// update overlays current merged with patch, then writes the patch.
func (s *Session) update(ctx context.Context, op, collection string, current, patch models.Record) (models.Record, error) {
	id := current.ID()
	if err := s.store.ApplyOptimistic(collection, current.Merge(patch)); err != nil {
		return nil, err
	}
	saved, err := s.gw.Update(ctx, tableOf(collection), id, patch)
	if err != nil {
		s.store.Rollback(collection, id)
		s.logger.Warn("write rejected", "op", op, "collection", collection, "id", id, "err", err)
		return nil, &WriteError{Op: op, Collection: collection, Err: err}
	}
	s.store.Confirmed(collection, saved)
	return saved, nil
}

// remove hides id at once, then deletes it.
func (s *Session) remove(ctx context.Context, op, collection, id string) error {
	if err := s.store.RemoveOptimistic(collection, id); err != nil {
		return err
	}
	if err := s.gw.Delete(ctx, tableOf(collection), id); err != nil {
		s.store.Rollback(collection, id)
		s.logger.Warn("write rejected", "op", op, "collection", collection, "id", id, "err", err)
		return &WriteError{Op: op, Collection: collection, Err: err}
	}
	s.store.Confirm(collection, id)
	return nil
}

func (s *Session) find(collection, id string) (models.Record, error) {
	rec, ok := s.store.Get(collection).Find(id)
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", collection, id, gateway.ErrNotFound)
	}
	return rec, nil
}

// NewTask describes a task to create.
type NewTask struct {
	Title       string
	Description string
	AssigneeID  string
	DueAt       *time.Time
}

// CreateTask adds a pending task to the current project.
func (s *Session) CreateTask(ctx context.Context, in NewTask) (models.Task, error) {
	if err := s.alive(); err != nil {
		return models.Task{}, err
	}
	scoping, err := s.project()
	if err != nil {
		return models.Task{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Task{}, invalid("task title is required")
	}

	now := s.now().UTC()
	task := models.Task{
		ID:          uuid.NewString(),
		ProjectID:   scoping.ProjectID,
		Title:       title,
		Description: in.Description,
		Status:      models.TaskStatusPending,
		AssigneeID:  in.AssigneeID,
		DueAt:       in.DueAt,
		CreatedBy:   scoping.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	saved, err := s.insert(ctx, "create", models.CollectionTasks, task.Record())
	if err != nil {
		return models.Task{}, err
	}
	return models.TaskFromRecord(saved), nil
}

// UpdateTaskStatus moves a task to status, maintaining its completion time.
func (s *Session) UpdateTaskStatus(ctx context.Context, id, status string) (models.Task, error) {
	if err := s.alive(); err != nil {
		return models.Task{}, err
	}
	current, err := s.find(models.CollectionTasks, id)
	if err != nil {
		return models.Task{}, err
	}

	task := models.TaskFromRecord(current)
	if err := task.TransitionStatus(status, s.now()); err != nil {
		return models.Task{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	saved, err := s.update(ctx, "update", models.CollectionTasks, current, task.StatusPatch())
	if err != nil {
		return models.Task{}, err
	}
	return models.TaskFromRecord(saved), nil
}

// DeleteTask removes a task.
func (s *Session) DeleteTask(ctx context.Context, id string) error {
	if err := s.alive(); err != nil {
		return err
	}
	if id == "" {
		return invalid("task id is required")
	}
	return s.remove(ctx, "delete", models.CollectionTasks, id)
}

// AddComment comments on the project, or on a task when taskID is set.
func (s *Session) AddComment(ctx context.Context, taskID, body string) (models.Comment, error) {
	if err := s.alive(); err != nil {
		return models.Comment{}, err
	}
	scoping, err := s.project()
	if err != nil {
		return models.Comment{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Comment{}, invalid("comment body is required")
	}

	c := models.Comment{
		ID:        uuid.NewString(),
		ProjectID: scoping.ProjectID,
		TaskID:    taskID,
		AuthorID:  scoping.UserID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	saved, err := s.insert(ctx, "add", models.CollectionComments, c.Record())
	if err != nil {
		return models.Comment{}, err
	}
	return models.CommentFromRecord(saved), nil
}

// AddDiscussionComment posts to the project discussion, replying to
// parentID when set.
func (s *Session) AddDiscussionComment(ctx context.Context, parentID, body string) (models.DiscussionComment, error) {
	if err := s.alive(); err != nil {
		return models.DiscussionComment{}, err
	}
	scoping, err := s.project()
	if err != nil {
		return models.DiscussionComment{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return models.DiscussionComment{}, invalid("discussion comment body is required")
	}

	d := models.DiscussionComment{
		ID:        uuid.NewString(),
		ProjectID: scoping.ProjectID,
		AuthorID:  scoping.UserID,
		ParentID:  parentID,
		Body:      body,
		CreatedAt: s.now().UTC(),
	}
	saved, err := s.insert(ctx, "post", models.CollectionDiscussionComments, d.Record())
	if err != nil {
		return models.DiscussionComment{}, err
	}
	return models.DiscussionCommentFromRecord(saved), nil
}

// ToggleReaction adds the user's emoji reaction to target, or removes it
// if it is already there. It reports whether the reaction is now present.
func (s *Session) ToggleReaction(ctx context.Context, targetID, emoji string) (bool, error) {
	if err := s.alive(); err != nil {
		return false, err
	}
	scoping, err := s.project()
	if err != nil {
		return false, err
	}
	if targetID == "" || strings.TrimSpace(emoji) == "" {
		return false, invalid("reaction needs a target and an emoji")
	}

	for _, rec := range s.store.Get(models.CollectionReactions).Records {
		r := models.ReactionFromRecord(rec)
		if r.TargetID == targetID && r.UserID == scoping.UserID && r.Emoji == emoji {
			return false, s.remove(ctx, "remove", models.CollectionReactions, r.ID)
		}
	}

	r := models.Reaction{
		ID:        uuid.NewString(),
		ProjectID: scoping.ProjectID,
		TargetID:  targetID,
		UserID:    scoping.UserID,
		Emoji:     emoji,
		CreatedAt: s.now().UTC(),
	}
	if _, err := s.insert(ctx, "add", models.CollectionReactions, r.Record()); err != nil {
		return false, err
	}
	return true, nil
}

// NewMeeting describes a meeting to schedule.
type NewMeeting struct {
	Title           string
	ScheduledAt     time.Time
	DurationMinutes int64
	Location        string
}

// ScheduleMeeting adds a meeting to the current project.
func (s *Session) ScheduleMeeting(ctx context.Context, in NewMeeting) (models.Meeting, error) {
	if err := s.alive(); err != nil {
		return models.Meeting{}, err
	}
	scoping, err := s.project()
	if err != nil {
		return models.Meeting{}, err
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Meeting{}, invalid("meeting title is required")
	}
	if in.ScheduledAt.IsZero() {
		return models.Meeting{}, invalid("meeting time is required")
	}
	if in.DurationMinutes < 0 {
		return models.Meeting{}, invalid("meeting duration must not be negative")
	}
	if in.DurationMinutes == 0 {
		in.DurationMinutes = 30
	}

	m := models.Meeting{
		ID:              uuid.NewString(),
		ProjectID:       scoping.ProjectID,
		Title:           title,
		ScheduledAt:     in.ScheduledAt.UTC(),
		DurationMinutes: in.DurationMinutes,
		Location:        in.Location,
		CreatedBy:       scoping.UserID,
		CreatedAt:       s.now().UTC(),
	}
	saved, err := s.insert(ctx, "schedule", models.CollectionMeetings, m.Record())
	if err != nil {
		return models.Meeting{}, err
	}
	return models.MeetingFromRecord(saved), nil
}

// MarkNotificationRead marks one of the user's notifications read.
func (s *Session) MarkNotificationRead(ctx context.Context, id string) error {
	if err := s.alive(); err != nil {
		return err
	}
	current, err := s.find(models.CollectionNotifications, id)
	if err != nil {
		return err
	}
	if current.Bool("read") {
		return nil
	}
	_, err = s.update(ctx, "mark read", models.CollectionNotifications, current, models.Record{"read": true})
	return err
}
