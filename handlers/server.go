// ABOUTME: MCP server assembly for a running session
// ABOUTME: Registers every tool, resource, and prompt against one session
package handlers

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/harperreed/huddle/session"
)

// NewServer builds an MCP server exposing sess.
func NewServer(sess *session.Session, version string) *mcp.Server {
	taskHandlers := NewTaskHandlers(sess)
	collabHandlers := NewCollabHandlers(sess)
	resourceHandlers := NewResourceHandlers(sess)
	promptHandlers := NewPromptHandlers(sess)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "huddle",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_task",
		Description: "Create a pending task in the active project",
	}, taskHandlers.CreateTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_tasks",
		Description: "List tasks in the active project, optionally filtered by status",
	}, taskHandlers.ListTasks)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_task_status",
		Description: "Move a task to pending, in_progress, completed, or cancelled",
	}, taskHandlers.UpdateTaskStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "delete_task",
		Description: "Delete a task",
	}, taskHandlers.DeleteTask)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_comment",
		Description: "Comment on the project or on one task",
	}, collabHandlers.AddComment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_discussion_comment",
		Description: "Post to the project discussion, optionally as a reply",
	}, collabHandlers.AddDiscussionComment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "toggle_reaction",
		Description: "Add or remove your emoji reaction on a comment",
	}, collabHandlers.ToggleReaction)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "schedule_meeting",
		Description: "Schedule a meeting in the active project",
	}, collabHandlers.ScheduleMeeting)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_notifications",
		Description: "List your notifications",
	}, collabHandlers.ListNotifications)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "mark_notification_read",
		Description: "Mark a notification as read",
	}, collabHandlers.MarkNotificationRead)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report connectivity, change-feed subscriptions, and per-collection sync status",
	}, collabHandlers.SyncStatus)

	for _, r := range resourceHandlers.Resources() {
		server.AddResource(r, resourceHandlers.ReadResource)
	}
	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "huddle://tasks/{id}",
		Name:        "task",
		Description: "One task with its comments",
		MIMEType:    "application/json",
	}, resourceHandlers.ReadResource)

	for _, p := range promptHandlers.Prompts() {
		server.AddPrompt(p, promptHandlers.GetPrompt)
	}

	return server
}
