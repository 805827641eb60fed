// ABOUTME: Delete confirmation view for TUI
// ABOUTME: Asks before deleting a task and runs the delete as an optimistic write
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	dangerColor = lipgloss.Color("9")

	confirmBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(dangerColor).
			Padding(1, 2).
			Width(60).
			Align(lipgloss.Center)

	warningStyle = lipgloss.NewStyle().Foreground(dangerColor).Bold(true)

	buttonStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("15")).Padding(0, 2)
	confirmButtonStyle = buttonStyle.Background(dangerColor).MarginRight(2)
	cancelButtonStyle  = buttonStyle.Background(lipgloss.Color("8"))
)

func (m Model) renderConfirmDeleteView() string {
	task, err := m.sess.Task(m.selectedID)
	if err != nil {
		return fmt.Sprintf("Error loading task: %v\n\n%s", err, helpStyle.Render("Esc: Back"))
	}

	title := warningStyle.Render("⚠  DELETE TASK  ⚠")
	message := "Are you sure you want to delete this task?"
	info := fmt.Sprintf("\n%s\n", task.Title)
	if n := len(m.sess.Comments(task.ID)); n > 0 {
		info += fmt.Sprintf("(%d comments)\n", n)
	}

	buttons := lipgloss.JoinHorizontal(
		lipgloss.Left,
		confirmButtonStyle.Render("Yes, Delete (y)"),
		cancelButtonStyle.Render("Cancel (n/esc)"),
	)

	content := lipgloss.JoinVertical(
		lipgloss.Center,
		title,
		"",
		message,
		info,
		buttons,
	)

	return lipgloss.Place(
		m.width,
		m.height,
		lipgloss.Center,
		lipgloss.Center,
		confirmBoxStyle.Render(content),
	)
}

func (m Model) handleConfirmDeleteKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y", "Y":
		id, sess := m.selectedID, m.sess
		m.viewMode = ViewList
		m.selectedID = ""
		cmd := m.write("task deleted", func(ctx context.Context) error {
			return sess.DeleteTask(ctx, id)
		})
		return m, cmd
	case "n", "N", "esc":
		m.viewMode = ViewList
	}
	return m, nil
}
