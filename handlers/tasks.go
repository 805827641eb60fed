// ABOUTME: Task MCP tool handlers
// ABOUTME: Implements create_task, list_tasks, update_task_status, and delete_task over a session
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

type TaskHandlers struct {
	sess *session.Session
}

func NewTaskHandlers(sess *session.Session) *TaskHandlers {
	return &TaskHandlers{sess: sess}
}

type CreateTaskInput struct {
	Title       string `json:"title" jsonschema:"Task title (required)"`
	Description string `json:"description,omitempty" jsonschema:"Longer description"`
	AssigneeID  string `json:"assignee_id,omitempty" jsonschema:"User id of the assignee"`
	DueAt       string `json:"due_at,omitempty" jsonschema:"Due date in ISO 8601 format"`
}

type TaskOutput struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Status      string  `json:"status"`
	AssigneeID  string  `json:"assignee_id,omitempty"`
	DueAt       *string `json:"due_at,omitempty"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Overdue     bool    `json:"overdue,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

func taskToOutput(t models.Task, now time.Time) TaskOutput {
	out := TaskOutput{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      t.Status,
		AssigneeID:  t.AssigneeID,
		Overdue:     t.IsOverdue(now),
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
	}
	if t.DueAt != nil {
		s := t.DueAt.Format(time.RFC3339)
		out.DueAt = &s
	}
	if t.CompletedAt != nil {
		s := t.CompletedAt.Format(time.RFC3339)
		out.CompletedAt = &s
	}
	return out
}

func (h *TaskHandlers) CreateTask(ctx context.Context, request *mcp.CallToolRequest, input CreateTaskInput) (*mcp.CallToolResult, TaskOutput, error) {
	if input.Title == "" {
		return nil, TaskOutput{}, fmt.Errorf("title is required")
	}

	in := session.NewTask{
		Title:       input.Title,
		Description: input.Description,
		AssigneeID:  input.AssigneeID,
	}
	if input.DueAt != "" {
		due, err := time.Parse(time.RFC3339, input.DueAt)
		if err != nil {
			return nil, TaskOutput{}, fmt.Errorf("invalid due_at format (use ISO 8601/RFC3339): %w", err)
		}
		in.DueAt = &due
	}

	task, err := h.sess.CreateTask(ctx, in)
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, taskToOutput(task, time.Now()), nil
}

type ListTasksInput struct {
	Status string `json:"status,omitempty" jsonschema:"Only tasks in this status: pending, in_progress, completed, cancelled"`
	Limit  int    `json:"limit,omitempty" jsonschema:"Maximum number of tasks (default 50)"`
}

type ListTasksOutput struct {
	Tasks []TaskOutput `json:"tasks"`
	// Status is the sync status of the tasks collection. Stale means the
	// list may be missing recent changes.
	Status string `json:"status"`
}

func (h *TaskHandlers) ListTasks(_ context.Context, request *mcp.CallToolRequest, input ListTasksInput) (*mcp.CallToolResult, ListTasksOutput, error) {
	if input.Status != "" && !models.ValidTaskStatus(input.Status) {
		return nil, ListTasksOutput{}, fmt.Errorf("invalid status: %s (valid: pending, in_progress, completed, cancelled)", input.Status)
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}

	now := time.Now()
	out := ListTasksOutput{
		Tasks:  []TaskOutput{},
		Status: h.sess.Store().Status(models.CollectionTasks).String(),
	}
	for _, t := range h.sess.Tasks(input.Status) {
		if len(out.Tasks) == limit {
			break
		}
		out.Tasks = append(out.Tasks, taskToOutput(t, now))
	}
	return nil, out, nil
}

type UpdateTaskStatusInput struct {
	ID     string `json:"id" jsonschema:"Task id (required)"`
	Status string `json:"status" jsonschema:"New status: pending, in_progress, completed, cancelled"`
}

func (h *TaskHandlers) UpdateTaskStatus(ctx context.Context, request *mcp.CallToolRequest, input UpdateTaskStatusInput) (*mcp.CallToolResult, TaskOutput, error) {
	if input.ID == "" {
		return nil, TaskOutput{}, fmt.Errorf("id is required")
	}
	task, err := h.sess.UpdateTaskStatus(ctx, input.ID, input.Status)
	if err != nil {
		return nil, TaskOutput{}, err
	}
	return nil, taskToOutput(task, time.Now()), nil
}

type DeleteTaskInput struct {
	ID string `json:"id" jsonschema:"Task id (required)"`
}

type DeleteOutput struct {
	Deleted string `json:"deleted"`
}

func (h *TaskHandlers) DeleteTask(ctx context.Context, request *mcp.CallToolRequest, input DeleteTaskInput) (*mcp.CallToolResult, DeleteOutput, error) {
	if input.ID == "" {
		return nil, DeleteOutput{}, fmt.Errorf("id is required")
	}
	if err := h.sess.DeleteTask(ctx, input.ID); err != nil {
		return nil, DeleteOutput{}, err
	}
	return nil, DeleteOutput{Deleted: input.ID}, nil
}
