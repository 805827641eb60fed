// ABOUTME: Form view for creating tasks, comments, meetings, and discussion posts
// ABOUTME: Collects text inputs and submits them as optimistic session writes
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

const formTimeLayout = "2006-01-02 15:04"

func (m Model) renderEditView() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render("NEW " + m.editTargetName()))
	s.WriteString("\n\n")

	for i, input := range m.formInputs {
		if i == m.focusIndex {
			s.WriteString("> ")
		} else {
			s.WriteString("  ")
		}
		s.WriteString(input.View())
		s.WriteString("\n")
	}

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render(m.err.Error()))
		s.WriteString("\n")
	}

	s.WriteString("\n")
	s.WriteString(m.renderEditHelp())

	return s.String()
}

func (m Model) editTargetName() string {
	switch m.editTarget {
	case models.CollectionTasks:
		return "TASK"
	case models.CollectionComments:
		if m.selectedID != "" {
			return "TASK COMMENT"
		}
		return "COMMENT"
	case models.CollectionMeetings:
		return "MEETING"
	case models.CollectionDiscussionComments:
		return "DISCUSSION POST"
	}
	return ""
}

func (m Model) renderEditHelp() string {
	help := []string{
		"Tab: Next field",
		"Enter: Save",
		"Esc: Cancel",
	}
	return helpStyle.Render(strings.Join(help, " • "))
}

// startEdit opens the form for collection. taskID scopes a comment to a task.
func (m Model) startEdit(collection, taskID string) (tea.Model, tea.Cmd) {
	var inputs []textinput.Model
	switch collection {
	case models.CollectionTasks:
		inputs = []textinput.Model{
			newInput("Title", 200),
			newInput("Description", 1000),
			newInput("Due ("+formTimeLayout+", optional)", 16),
		}
	case models.CollectionComments:
		inputs = []textinput.Model{newInput("Comment", 2000)}
	case models.CollectionMeetings:
		inputs = []textinput.Model{
			newInput("Title", 200),
			newInput("When ("+formTimeLayout+")", 16),
			newInput("Minutes (default 30)", 4),
			newInput("Location", 200),
		}
	case models.CollectionDiscussionComments:
		inputs = []textinput.Model{newInput("Message", 2000)}
	default:
		return m, nil
	}

	m.editTarget = collection
	m.selectedID = taskID
	m.formInputs = inputs
	m.focusIndex = 0
	m.err = nil
	m.updateFormFocus()
	m.viewMode = ViewEdit
	return m, textinput.Blink
}

func newInput(placeholder string, limit int) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.CharLimit = limit
	in.Width = 60
	return in
}

func (m *Model) updateFormFocus() {
	for i := range m.formInputs {
		if i == m.focusIndex {
			m.formInputs[i].Focus()
		} else {
			m.formInputs[i].Blur()
		}
	}
}

func (m Model) handleEditKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.viewMode = m.returnView()
		m.err = nil
		return m, nil
	case "tab", "down":
		m.focusIndex = (m.focusIndex + 1) % len(m.formInputs)
		m.updateFormFocus()
		return m, nil
	case "shift+tab", "up":
		m.focusIndex = (m.focusIndex + len(m.formInputs) - 1) % len(m.formInputs)
		m.updateFormFocus()
		return m, nil
	case "enter":
		fn, err := m.submission()
		if err != nil {
			m.err = err
			return m, nil
		}
		m.viewMode = m.returnView()
		cmd := m.write("saved "+strings.ToLower(m.editTargetName()), fn)
		return m, cmd
	}

	return m.updateInputs(msg)
}

// updateInputs forwards msg to the focused input.
func (m Model) updateInputs(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.focusIndex >= len(m.formInputs) {
		return m, nil
	}
	var cmd tea.Cmd
	m.formInputs[m.focusIndex], cmd = m.formInputs[m.focusIndex].Update(msg)
	return m, cmd
}

// returnView is where the form goes back to.
func (m Model) returnView() ViewMode {
	if m.editTarget == models.CollectionComments && m.selectedID != "" {
		return ViewDetail
	}
	return ViewList
}

func (m Model) value(i int) string {
	return strings.TrimSpace(m.formInputs[i].Value())
}

// submission validates the form locally and returns the write to run.
func (m Model) submission() (func(ctx context.Context) error, error) {
	sess := m.sess

	switch m.editTarget {
	case models.CollectionTasks:
		in := session.NewTask{Title: m.value(0), Description: m.value(1)}
		if in.Title == "" {
			return nil, fmt.Errorf("title is required")
		}
		if raw := m.value(2); raw != "" {
			due, err := time.ParseInLocation(formTimeLayout, raw, time.Local)
			if err != nil {
				return nil, fmt.Errorf("due must look like %s", formTimeLayout)
			}
			in.DueAt = &due
		}
		return func(ctx context.Context) error {
			_, err := sess.CreateTask(ctx, in)
			return err
		}, nil

	case models.CollectionComments:
		body, taskID := m.value(0), m.selectedID
		if body == "" {
			return nil, fmt.Errorf("comment is empty")
		}
		return func(ctx context.Context) error {
			_, err := sess.AddComment(ctx, taskID, body)
			return err
		}, nil

	case models.CollectionMeetings:
		in := session.NewMeeting{Title: m.value(0), Location: m.value(3)}
		if in.Title == "" {
			return nil, fmt.Errorf("title is required")
		}
		when, err := time.ParseInLocation(formTimeLayout, m.value(1), time.Local)
		if err != nil {
			return nil, fmt.Errorf("when must look like %s", formTimeLayout)
		}
		in.ScheduledAt = when
		if raw := m.value(2); raw != "" {
			minutes, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("minutes must be a number")
			}
			in.DurationMinutes = minutes
		}
		return func(ctx context.Context) error {
			_, err := sess.ScheduleMeeting(ctx, in)
			return err
		}, nil

	case models.CollectionDiscussionComments:
		body := m.value(0)
		if body == "" {
			return nil, fmt.Errorf("message is empty")
		}
		return func(ctx context.Context) error {
			_, err := sess.AddDiscussionComment(ctx, "", body)
			return err
		}, nil
	}
	return nil, fmt.Errorf("nothing to save")
}
