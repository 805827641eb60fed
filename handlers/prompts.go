// ABOUTME: MCP prompt handlers for recurring project workflows
// ABOUTME: Builds standup and task-review prompts from the current snapshots
package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

type PromptHandlers struct {
	sess *session.Session
	now  func() time.Time
}

func NewPromptHandlers(sess *session.Session) *PromptHandlers {
	return &PromptHandlers{sess: sess, now: time.Now}
}

// Prompts lists the prompts GetPrompt can build.
func (h *PromptHandlers) Prompts() []*mcp.Prompt {
	return []*mcp.Prompt{
		{
			Name:        "standup",
			Description: "Summarize open work, overdue tasks, upcoming meetings, and unread notifications",
		},
		{
			Name:        "task-review",
			Description: "Review one task and its comment thread",
			Arguments: []*mcp.PromptArgument{
				{Name: "task_id", Description: "Task to review", Required: true},
			},
		},
	}
}

// GetPrompt generates the prompt message based on the template
func (h *PromptHandlers) GetPrompt(ctx context.Context, request *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	switch request.Params.Name {
	case "standup":
		return h.getStandupPrompt()
	case "task-review":
		return h.getTaskReviewPrompt(request.Params.Arguments)
	default:
		return nil, fmt.Errorf("unknown prompt: %s", request.Params.Name)
	}
}

func userPrompt(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{
				Role:    "user",
				Content: &mcp.TextContent{Text: text},
			},
		},
	}
}

func (h *PromptHandlers) getStandupPrompt() (*mcp.GetPromptResult, error) {
	now := h.now()
	var b strings.Builder

	b.WriteString("Project standup\n\nOpen tasks:\n")
	open := 0
	for _, t := range h.sess.Tasks("") {
		if t.Status == models.TaskStatusCompleted || t.Status == models.TaskStatusCancelled {
			continue
		}
		open++
		line := fmt.Sprintf("- [%s] %s", t.Status, t.Title)
		if t.IsOverdue(now) {
			line += " (OVERDUE)"
		}
		b.WriteString(line + "\n")
	}
	if open == 0 {
		b.WriteString("- none\n")
	}

	b.WriteString("\nUpcoming meetings:\n")
	upcoming := 0
	for _, m := range h.sess.Meetings() {
		if m.ScheduledAt.Before(now) {
			continue
		}
		upcoming++
		fmt.Fprintf(&b, "- %s at %s (%d min)\n", m.Title, m.ScheduledAt.Format(time.RFC1123), m.DurationMinutes)
	}
	if upcoming == 0 {
		b.WriteString("- none\n")
	}

	unread := h.sess.Notifications(true)
	fmt.Fprintf(&b, "\nUnread notifications: %d\n", len(unread))
	for _, n := range unread {
		fmt.Fprintf(&b, "- %s\n", n.Message)
	}

	b.WriteString("\nPlease write a short standup update: what is in flight, what is blocked or overdue, and what needs attention today.")
	return userPrompt("Standup for the active project", b.String()), nil
}

func (h *PromptHandlers) getTaskReviewPrompt(args map[string]string) (*mcp.GetPromptResult, error) {
	id, ok := args["task_id"]
	if !ok || id == "" {
		return nil, fmt.Errorf("task_id is required")
	}
	task, err := h.sess.Task(id)
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\nStatus: %s\n", task.Title, task.Status)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if task.DueAt != nil {
		fmt.Fprintf(&b, "Due: %s\n", task.DueAt.Format(time.RFC1123))
	}

	comments := h.sess.Comments(id)
	fmt.Fprintf(&b, "\nComments (%d):\n", len(comments))
	for _, c := range comments {
		fmt.Fprintf(&b, "- %s: %s\n", c.AuthorID, c.Body)
	}

	b.WriteString("\nPlease review this task and suggest the next concrete step.")
	return userPrompt(fmt.Sprintf("Review of task: %s", task.Title), b.String()), nil
}
