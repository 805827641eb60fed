// ABOUTME: Status CLI command
// ABOUTME: Reports login, connectivity, change-feed subscriptions, and per-collection sync state
package cli

import (
	"context"
	"flag"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/session"
)

// StatusCommand prints a sync status report for the saved login.
func StatusCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	wait := fs.Duration("wait", 3*time.Second, "How long to wait for change feeds to connect")
	_ = fs.Parse(args)

	creds, err := env.credentials()
	if err != nil {
		return err
	}
	env.printf("Backend:  %s\n", env.Config.BackendURL)
	env.printf("User:     %s (%s)\n", creds.Email, creds.UserID)
	if !creds.ExpiresAt.IsZero() {
		env.printf("Expires:  %s\n", creds.ExpiresAt.Local().Format(time.DateTime))
	}

	return withSession(ctx, env, *project, func(sess *session.Session) error {
		project := sess.Scoping().ProjectID
		if project == "" {
			project = "(none)"
		}
		env.printf("Project:  %s\n", project)

		st := awaitFeeds(ctx, sess, *wait)
		online := "online"
		if !st.Health.Online {
			online = "offline"
		}
		env.printf("Network:  %s\n\n", online)

		w := tabwriter.NewWriter(env.out(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "COLLECTION\tFEED\tDATA\tPENDING\tERROR")
		_, _ = fmt.Fprintln(w, "----------\t----\t----\t-------\t-----")
		for _, sub := range st.Subscriptions {
			errText := "-"
			if sub.Err != nil {
				errText = sub.Err.Error()
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", sub.Collection, sub.State, st.Collections[sub.Collection], st.Pending[sub.Collection], errText)
		}
		_ = w.Flush()

		env.printf("\nFeeds opened: %d, failures: %d, events: %d, reconnects: %d\n",
			st.Stats.Opened, st.Stats.OpenFailures, st.Stats.Events, st.Stats.Reconnects)
		return nil
	})
}

// awaitFeeds polls until every subscription is live or wait elapses.
func awaitFeeds(ctx context.Context, sess *session.Session, wait time.Duration) session.Status {
	deadline := time.Now().Add(wait)
	for {
		st := sess.Status()
		live := len(st.Subscriptions) > 0
		for _, sub := range st.Subscriptions {
			if sub.State != gateway.StateSubscribed {
				live = false
			}
		}
		if live || time.Now().After(deadline) {
			return st
		}
		select {
		case <-ctx.Done():
			return st
		case <-time.After(50 * time.Millisecond):
		}
	}
}
