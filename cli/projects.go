// ABOUTME: Project CLI commands
// ABOUTME: Lists and creates projects and saves the selected one with the login
package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/huddle/config"
	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// ProjectsCommand routes `huddle projects <list|add|use>`.
func ProjectsCommand(ctx context.Context, env *Env, args []string) error {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}

	creds, err := env.credentials()
	if err != nil {
		return err
	}

	switch sub {
	case "list", "ls":
		return listProjects(ctx, env, creds)
	case "add":
		fs := flag.NewFlagSet("projects add", flag.ExitOnError)
		use := fs.Bool("use", true, "Select the new project")
		_ = fs.Parse(args)
		return addProject(ctx, env, creds, strings.Join(fs.Args(), " "), *use)
	case "use":
		if len(args) != 1 {
			return fmt.Errorf("expected exactly one project id")
		}
		return useProject(env, creds, args[0])
	default:
		return fmt.Errorf("unknown projects command: %s", sub)
	}
}

func listProjects(ctx context.Context, env *Env, creds *config.Credentials) error {
	client, err := env.newClient(creds.AccessToken)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	rows, err := client.Select(ctx, "projects", gateway.Query{OrderBy: "created_at"})
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	if len(rows) == 0 {
		env.printf("No projects. Create one with 'huddle projects add <name>'.\n")
		return nil
	}

	current := env.projectFor(creds, "")
	w := tabwriter.NewWriter(env.out(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "\tNAME\tOWNER\tID")
	for _, r := range rows {
		p := models.ProjectFromRecord(r)
		mark := " "
		if p.ID == current {
			mark = "*"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", mark, p.Name, p.OwnerID, p.ID)
	}
	return w.Flush()
}

func addProject(ctx context.Context, env *Env, creds *config.Credentials, name string, use bool) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("project name is required")
	}

	client, err := env.newClient(creds.AccessToken)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	p := models.Project{ID: uuid.New().String(), Name: name, OwnerID: creds.UserID, CreatedAt: time.Now()}
	if _, err := client.Insert(ctx, "projects", p.Record()); err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	env.printf("Created project: %s (ID: %s)\n", p.Name, p.ID)

	if use {
		return useProject(env, creds, p.ID)
	}
	return nil
}

func useProject(env *Env, creds *config.Credentials, id string) error {
	creds.ProjectID = id
	if err := config.SaveCredentials(env.Config.DataDir, creds); err != nil {
		return err
	}
	env.printf("Using project %s\n", id)
	return nil
}
