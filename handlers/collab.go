// ABOUTME: Comment, discussion, reaction, meeting, and notification MCP tool handlers
// ABOUTME: Every write goes through the session so the local view updates optimistically
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/huddle/session"
)

type CollabHandlers struct {
	sess *session.Session
}

func NewCollabHandlers(sess *session.Session) *CollabHandlers {
	return &CollabHandlers{sess: sess}
}

type AddCommentInput struct {
	Body   string `json:"body" jsonschema:"Comment text (required)"`
	TaskID string `json:"task_id,omitempty" jsonschema:"Task to comment on; omit for a project comment"`
}

type CommentOutput struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func (h *CollabHandlers) AddComment(ctx context.Context, request *mcp.CallToolRequest, input AddCommentInput) (*mcp.CallToolResult, CommentOutput, error) {
	if input.Body == "" {
		return nil, CommentOutput{}, fmt.Errorf("body is required")
	}
	c, err := h.sess.AddComment(ctx, input.TaskID, input.Body)
	if err != nil {
		return nil, CommentOutput{}, err
	}
	return nil, CommentOutput{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt.Format(time.RFC3339),
	}, nil
}

type AddDiscussionCommentInput struct {
	Body     string `json:"body" jsonschema:"Message text (required)"`
	ParentID string `json:"parent_id,omitempty" jsonschema:"Discussion comment being replied to"`
}

func (h *CollabHandlers) AddDiscussionComment(ctx context.Context, request *mcp.CallToolRequest, input AddDiscussionCommentInput) (*mcp.CallToolResult, CommentOutput, error) {
	if input.Body == "" {
		return nil, CommentOutput{}, fmt.Errorf("body is required")
	}
	d, err := h.sess.AddDiscussionComment(ctx, input.ParentID, input.Body)
	if err != nil {
		return nil, CommentOutput{}, err
	}
	return nil, CommentOutput{
		ID:        d.ID,
		ParentID:  d.ParentID,
		AuthorID:  d.AuthorID,
		Body:      d.Body,
		CreatedAt: d.CreatedAt.Format(time.RFC3339),
	}, nil
}

type ToggleReactionInput struct {
	TargetID string `json:"target_id" jsonschema:"Comment or discussion comment id (required)"`
	Emoji    string `json:"emoji" jsonschema:"Emoji to toggle (required)"`
}

type ToggleReactionOutput struct {
	Added  bool           `json:"added"`
	Counts map[string]int `json:"counts"`
}

func (h *CollabHandlers) ToggleReaction(ctx context.Context, request *mcp.CallToolRequest, input ToggleReactionInput) (*mcp.CallToolResult, ToggleReactionOutput, error) {
	added, err := h.sess.ToggleReaction(ctx, input.TargetID, input.Emoji)
	if err != nil {
		return nil, ToggleReactionOutput{}, err
	}
	return nil, ToggleReactionOutput{Added: added, Counts: h.sess.Reactions(input.TargetID)}, nil
}

type ScheduleMeetingInput struct {
	Title           string `json:"title" jsonschema:"Meeting title (required)"`
	ScheduledAt     string `json:"scheduled_at" jsonschema:"Start time in ISO 8601 format (required)"`
	DurationMinutes int64  `json:"duration_minutes,omitempty" jsonschema:"Length in minutes (default 30)"`
	Location        string `json:"location,omitempty" jsonschema:"Room or link"`
}

type MeetingOutput struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	ScheduledAt     string `json:"scheduled_at"`
	DurationMinutes int64  `json:"duration_minutes"`
	Location        string `json:"location,omitempty"`
}

func (h *CollabHandlers) ScheduleMeeting(ctx context.Context, request *mcp.CallToolRequest, input ScheduleMeetingInput) (*mcp.CallToolResult, MeetingOutput, error) {
	at, err := time.Parse(time.RFC3339, input.ScheduledAt)
	if err != nil {
		return nil, MeetingOutput{}, fmt.Errorf("invalid scheduled_at format (use ISO 8601/RFC3339): %w", err)
	}
	m, err := h.sess.ScheduleMeeting(ctx, session.NewMeeting{
		Title:           input.Title,
		ScheduledAt:     at,
		DurationMinutes: input.DurationMinutes,
		Location:        input.Location,
	})
	if err != nil {
		return nil, MeetingOutput{}, err
	}
	return nil, MeetingOutput{
		ID:              m.ID,
		Title:           m.Title,
		ScheduledAt:     m.ScheduledAt.Format(time.RFC3339),
		DurationMinutes: m.DurationMinutes,
		Location:        m.Location,
	}, nil
}

type ListNotificationsInput struct {
	UnreadOnly bool `json:"unread_only,omitempty" jsonschema:"Only unread notifications"`
}

type NotificationOutput struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

type ListNotificationsOutput struct {
	Notifications []NotificationOutput `json:"notifications"`
	Unread        int                  `json:"unread"`
}

func (h *CollabHandlers) ListNotifications(_ context.Context, request *mcp.CallToolRequest, input ListNotificationsInput) (*mcp.CallToolResult, ListNotificationsOutput, error) {
	out := ListNotificationsOutput{Notifications: []NotificationOutput{}}
	for _, n := range h.sess.Notifications(input.UnreadOnly) {
		if !n.Read {
			out.Unread++
		}
		out.Notifications = append(out.Notifications, NotificationOutput{
			ID:        n.ID,
			Kind:      n.Kind,
			Message:   n.Message,
			Read:      n.Read,
			CreatedAt: n.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

type MarkNotificationReadInput struct {
	ID string `json:"id" jsonschema:"Notification id (required)"`
}

type MarkNotificationReadOutput struct {
	ID   string `json:"id"`
	Read bool   `json:"read"`
}

func (h *CollabHandlers) MarkNotificationRead(ctx context.Context, request *mcp.CallToolRequest, input MarkNotificationReadInput) (*mcp.CallToolResult, MarkNotificationReadOutput, error) {
	if input.ID == "" {
		return nil, MarkNotificationReadOutput{}, fmt.Errorf("id is required")
	}
	if err := h.sess.MarkNotificationRead(ctx, input.ID); err != nil {
		return nil, MarkNotificationReadOutput{}, err
	}
	return nil, MarkNotificationReadOutput{ID: input.ID, Read: true}, nil
}

type SyncStatusInput struct{}

type SubscriptionOutput struct {
	Collection string `json:"collection"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

type SyncStatusOutput struct {
	Online        bool                 `json:"online"`
	LastCheckedAt string               `json:"last_checked_at,omitempty"`
	Subscriptions []SubscriptionOutput `json:"subscriptions"`
	Collections   map[string]string    `json:"collections"`
	Pending       int                  `json:"pending_writes"`
}

func (h *CollabHandlers) SyncStatus(_ context.Context, request *mcp.CallToolRequest, _ SyncStatusInput) (*mcp.CallToolResult, SyncStatusOutput, error) {
	st := h.sess.Status()
	out := SyncStatusOutput{
		Online:        st.Health.Online,
		Subscriptions: []SubscriptionOutput{},
		Collections:   make(map[string]string),
	}
	if !st.Health.LastCheckedAt.IsZero() {
		out.LastCheckedAt = st.Health.LastCheckedAt.Format(time.RFC3339)
	}
	for _, sub := range st.Subscriptions {
		so := SubscriptionOutput{Collection: sub.Collection, State: sub.State.String()}
		if sub.Err != nil {
			so.Error = sub.Err.Error()
		}
		out.Subscriptions = append(out.Subscriptions, so)
	}
	for name, status := range st.Collections {
		out.Collections[name] = status.String()
	}
	for _, n := range st.Pending {
		out.Pending += n
	}
	return nil, out, nil
}
