// ABOUTME: Task CLI commands
// ABOUTME: Adds, lists, transitions, and deletes tasks in the selected project
package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

// withSession opens a session for project, runs fn, and closes it.
func withSession(ctx context.Context, env *Env, project string, fn func(*session.Session) error) error {
	sess, err := env.openSession(ctx, project)
	if err != nil {
		return err
	}
	defer closeSession(sess)
	return fn(sess)
}

// TasksCommand routes `huddle tasks <add|list|start|done|cancel|rm>`.
func TasksCommand(ctx context.Context, env *Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("tasks requires a subcommand: add, list, start, done, cancel, rm")
	}
	sub, args := args[0], args[1:]

	switch sub {
	case "add":
		return addTask(ctx, env, args)
	case "list", "ls":
		return listTasks(ctx, env, args)
	case "start":
		return setTaskStatus(ctx, env, args, models.TaskStatusInProgress)
	case "done":
		return setTaskStatus(ctx, env, args, models.TaskStatusCompleted)
	case "cancel":
		return setTaskStatus(ctx, env, args, models.TaskStatusCancelled)
	case "rm", "delete":
		return deleteTask(ctx, env, args)
	default:
		return fmt.Errorf("unknown tasks command: %s", sub)
	}
}

func addTask(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("tasks add", flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	title := fs.String("title", "", "Task title (required)")
	description := fs.String("description", "", "Details")
	assignee := fs.String("assignee", "", "Assignee user id")
	due := fs.String("due", "", "Due date (YYYY-MM-DD or RFC3339)")
	_ = fs.Parse(args)

	if *title == "" && fs.NArg() > 0 {
		*title = fs.Arg(0)
	}
	if *title == "" {
		return fmt.Errorf("--title is required")
	}

	in := session.NewTask{Title: *title, Description: *description, AssigneeID: *assignee}
	if *due != "" {
		t, err := parseWhen(*due)
		if err != nil {
			return fmt.Errorf("invalid --due: %w", err)
		}
		in.DueAt = &t
	}

	return withSession(ctx, env, *project, func(sess *session.Session) error {
		if err := requireProject(sess); err != nil {
			return err
		}
		task, err := sess.CreateTask(ctx, in)
		if err != nil {
			return err
		}
		env.printf("Created task: %s (ID: %s)\n", task.Title, task.ID)
		return nil
	})
}

func listTasks(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("tasks list", flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	status := fs.String("status", "", "Filter by status")
	_ = fs.Parse(args)

	if *status != "" && !models.ValidTaskStatus(*status) {
		return fmt.Errorf("invalid --status %q", *status)
	}

	return withSession(ctx, env, *project, func(sess *session.Session) error {
		tasks := sess.Tasks(*status)
		if len(tasks) == 0 {
			env.printf("No tasks found\n")
			return nil
		}

		now := time.Now()
		w := tabwriter.NewWriter(env.out(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "TITLE\tSTATUS\tDUE\tCOMMENTS\tID")
		_, _ = fmt.Fprintln(w, "-----\t------\t---\t--------\t--")
		for _, t := range tasks {
			due := "-"
			if t.DueAt != nil {
				due = t.DueAt.Local().Format("2006-01-02 15:04")
				if t.IsOverdue(now) {
					due += " (overdue)"
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", t.Title, t.Status, due, len(sess.Comments(t.ID)), t.ID)
		}
		_ = w.Flush()

		env.printf("\nTotal: %d task(s)\n", len(tasks))
		return nil
	})
}

func setTaskStatus(ctx context.Context, env *Env, args []string, status string) error {
	fs := flag.NewFlagSet("tasks "+status, flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one task id")
	}

	return withSession(ctx, env, *project, func(sess *session.Session) error {
		task, err := sess.UpdateTaskStatus(ctx, fs.Arg(0), status)
		if err != nil {
			return err
		}
		env.printf("Task %s is now %s\n", task.Title, task.Status)
		return nil
	})
}

func deleteTask(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("tasks rm", flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	_ = fs.Parse(args)

	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one task id")
	}

	return withSession(ctx, env, *project, func(sess *session.Session) error {
		if err := sess.DeleteTask(ctx, fs.Arg(0)); err != nil {
			return err
		}
		env.printf("Deleted task %s\n", fs.Arg(0))
		return nil
	})
}

// parseWhen accepts a date, a local date and time, or RFC3339.
func parseWhen(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not a date", s)
}
