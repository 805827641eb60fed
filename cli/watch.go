// ABOUTME: Watch CLI command
// ABOUTME: Opens the live terminal interface on a started session
package cli

import (
	"context"
	"flag"

	"github.com/harperreed/huddle/tui"
)

// WatchCommand runs the TUI until the user quits.
func WatchCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	project := fs.String("project", "", "Project id")
	_ = fs.Parse(args)

	sess, err := env.openSession(ctx, *project)
	if err != nil {
		return err
	}
	defer closeSession(sess)

	return tui.Run(ctx, sess)
}
