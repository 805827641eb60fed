// ABOUTME: Task detail view for the TUI
// ABOUTME: Shows one task with its comment thread and task actions
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/harperreed/huddle/models"
)

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170")).
			Width(14)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))
)

func (m Model) renderDetailView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("TASK"))
	s.WriteString("\n\n")

	task, err := m.sess.Task(m.selectedID)
	if err != nil {
		s.WriteString(errorStyle.Render("This task no longer exists."))
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("Esc: Back"))
		return s.String()
	}

	s.WriteString(m.renderField("Title", task.Title))
	status := task.Status
	if task.IsOverdue(time.Now()) {
		status += " " + errorStyle.Render("(overdue)")
	}
	s.WriteString(m.renderField("Status", status))
	if task.AssigneeID != "" {
		s.WriteString(m.renderField("Assignee", task.AssigneeID))
	}
	if task.DueAt != nil {
		s.WriteString(m.renderField("Due", task.DueAt.Local().Format("Mon Jan 2 15:04")))
	}
	if task.CompletedAt != nil {
		s.WriteString(m.renderField("Completed", task.CompletedAt.Local().Format("Mon Jan 2 15:04")))
	}
	if task.Description != "" {
		s.WriteString(m.renderField("Description", task.Description))
	}

	s.WriteString("\n")
	comments := m.sess.Comments(task.ID)
	s.WriteString(fieldLabelStyle.Render(fmt.Sprintf("Comments (%d)", len(comments))))
	s.WriteString("\n")
	now := time.Now()
	for _, c := range comments {
		s.WriteString(fmt.Sprintf("  %s %s: %s\n", helpStyle.Render(ago(now, c.CreatedAt)), c.AuthorID, c.Body))
	}

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render(m.err.Error()))
	}
	s.WriteString("\n")
	s.WriteString(m.renderDetailHelp())

	return s.String()
}

func (m Model) renderField(label, value string) string {
	return fieldLabelStyle.Render(label+":") + " " + fieldValueStyle.Render(value) + "\n"
}

func (m Model) renderDetailHelp() string {
	help := []string{
		"c: Comment",
		"s: Start",
		"d: Done",
		"x: Delete",
		"Esc: Back",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

func (m Model) handleDetailKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "backspace":
		m.viewMode = ViewList
		m.err = nil
	case "c":
		return m.startEdit(models.CollectionComments, m.selectedID)
	case "s":
		cmd := m.setTaskStatus(m.selectedID, models.TaskStatusInProgress)
		return m, cmd
	case "d":
		cmd := m.setTaskStatus(m.selectedID, models.TaskStatusCompleted)
		return m, cmd
	case "x":
		m.viewMode = ViewConfirmDelete
	}
	return m, nil
}
