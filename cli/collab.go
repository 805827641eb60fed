// ABOUTME: Collaboration CLI commands
// ABOUTME: Comments, discussion posts, meetings, and notifications in the selected project
package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harperreed/huddle/session"
)

// CommentCommand routes `huddle comment <add|list>`.
func CommentCommand(ctx context.Context, env *Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("comment requires a subcommand: add, list")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("comment "+sub, flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	task := fs.String("task", "", "Task id")
	_ = fs.Parse(args)

	switch sub {
	case "add":
		body := strings.Join(fs.Args(), " ")
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			if err := requireProject(sess); err != nil {
				return err
			}
			c, err := sess.AddComment(ctx, *task, body)
			if err != nil {
				return err
			}
			env.printf("Added comment (ID: %s)\n", c.ID)
			return nil
		})
	case "list", "ls":
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			comments := sess.Comments(*task)
			if len(comments) == 0 {
				env.printf("No comments\n")
				return nil
			}
			for _, c := range comments {
				env.printf("%s  %s: %s\n", c.CreatedAt.Local().Format("2006-01-02 15:04"), c.AuthorID, c.Body)
			}
			return nil
		})
	default:
		return fmt.Errorf("unknown comment command: %s", sub)
	}
}

// DiscussCommand routes `huddle discuss <post|list|react>`.
func DiscussCommand(ctx context.Context, env *Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("discuss requires a subcommand: post, list, react")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("discuss "+sub, flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	reply := fs.String("reply-to", "", "Parent post id")
	emoji := fs.String("emoji", "👍", "Reaction emoji")
	_ = fs.Parse(args)

	switch sub {
	case "post":
		body := strings.Join(fs.Args(), " ")
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			if err := requireProject(sess); err != nil {
				return err
			}
			d, err := sess.AddDiscussionComment(ctx, *reply, body)
			if err != nil {
				return err
			}
			env.printf("Posted (ID: %s)\n", d.ID)
			return nil
		})
	case "list", "ls":
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			posts := sess.Discussion()
			if len(posts) == 0 {
				env.printf("No discussion yet\n")
				return nil
			}
			for _, d := range posts {
				indent := ""
				if d.ParentID != "" {
					indent = "    "
				}
				env.printf("%s%s: %s", indent, d.AuthorID, d.Body)
				if counts := sess.Reactions(d.ID); len(counts) > 0 {
					var parts []string
					for e, n := range counts {
						parts = append(parts, fmt.Sprintf("%s %d", e, n))
					}
					env.printf("  [%s]", strings.Join(parts, ", "))
				}
				env.printf("  (%s)\n", d.ID)
			}
			return nil
		})
	case "react":
		if fs.NArg() != 1 {
			return fmt.Errorf("expected exactly one post or comment id")
		}
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			added, err := sess.ToggleReaction(ctx, fs.Arg(0), *emoji)
			if err != nil {
				return err
			}
			if added {
				env.printf("Reacted %s\n", *emoji)
			} else {
				env.printf("Removed %s\n", *emoji)
			}
			return nil
		})
	default:
		return fmt.Errorf("unknown discuss command: %s", sub)
	}
}

// MeetingsCommand routes `huddle meetings <schedule|list>`.
func MeetingsCommand(ctx context.Context, env *Env, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("meetings requires a subcommand: schedule, list")
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("meetings "+sub, flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	title := fs.String("title", "", "Meeting title")
	at := fs.String("at", "", "Start time (YYYY-MM-DD HH:MM or RFC3339)")
	minutes := fs.Int64("minutes", 0, "Length in minutes (default 30)")
	location := fs.String("location", "", "Room or link")
	_ = fs.Parse(args)

	switch sub {
	case "schedule":
		when, err := parseWhen(*at)
		if err != nil {
			return fmt.Errorf("invalid --at: %w", err)
		}
		in := session.NewMeeting{Title: *title, ScheduledAt: when, DurationMinutes: *minutes, Location: *location}
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			if err := requireProject(sess); err != nil {
				return err
			}
			m, err := sess.ScheduleMeeting(ctx, in)
			if err != nil {
				return err
			}
			env.printf("Scheduled %s for %s (ID: %s)\n", m.Title, m.ScheduledAt.Local().Format("Mon Jan 2 15:04"), m.ID)
			return nil
		})
	case "list", "ls":
		return withSession(ctx, env, *project, func(sess *session.Session) error {
			meetings := sess.Meetings()
			if len(meetings) == 0 {
				env.printf("No meetings scheduled\n")
				return nil
			}
			w := tabwriter.NewWriter(env.out(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "TITLE\tWHEN\tLENGTH\tLOCATION\tID")
			_, _ = fmt.Fprintln(w, "-----\t----\t------\t--------\t--")
			for _, m := range meetings {
				loc := m.Location
				if loc == "" {
					loc = "-"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%dm\t%s\t%s\n", m.Title, m.ScheduledAt.Local().Format("2006-01-02 15:04"), m.DurationMinutes, loc, m.ID)
			}
			return w.Flush()
		})
	default:
		return fmt.Errorf("unknown meetings command: %s", sub)
	}
}

// NotificationsCommand lists notifications or marks one read.
func NotificationsCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("notifications", flag.ExitOnError)
	unread := fs.Bool("unread", false, "Only unread notifications")
	read := fs.String("read", "", "Mark this notification id as read")
	_ = fs.Parse(args)

	return withSession(ctx, env, "", func(sess *session.Session) error {
		if *read != "" {
			if err := sess.MarkNotificationRead(ctx, *read); err != nil {
				return err
			}
			env.printf("Marked %s read\n", *read)
			return nil
		}

		notes := sess.Notifications(*unread)
		if len(notes) == 0 {
			env.printf("No notifications\n")
			return nil
		}
		w := tabwriter.NewWriter(env.out(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "\tMESSAGE\tKIND\tWHEN\tID")
		for _, n := range notes {
			mark := "*"
			if n.Read {
				mark = " "
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, n.Message, n.Kind, n.CreatedAt.Local().Format(time.DateTime), n.ID)
		}
		return w.Flush()
	})
}
