// ABOUTME: Account CLI commands
// ABOUTME: Signs up, logs in, and logs out against the configured backend
package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/harperreed/huddle/config"
)

// readPassword prompts without echo on a terminal and reads a line otherwise.
func (e *Env) readPassword(prompt string) (string, error) {
	if f, ok := e.in().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		e.printf("%s", prompt)
		b, err := term.ReadPassword(int(f.Fd()))
		e.printf("\n")
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	line, err := bufio.NewReader(e.in()).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// LoginCommand exchanges email and password for a saved session.
func LoginCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", env.Config.Email, "Account email")
	project := fs.String("project", "", "Project to select after login")
	_ = fs.Parse(args)

	if *email == "" {
		return fmt.Errorf("--email is required (or set email in %s)", config.Path())
	}

	password, err := env.readPassword("Password: ")
	if err != nil {
		return err
	}

	client, err := env.newClient("")
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	grant, err := client.Login(ctx, *email, password)
	if err != nil {
		return err
	}

	creds := &config.Credentials{
		BackendURL:  env.Config.BackendURL,
		AccessToken: grant.AccessToken,
		ExpiresAt:   grant.ExpiresAt,
		UserID:      grant.User.ID,
		Email:       grant.User.Email,
		Name:        grant.User.Name,
		ProjectID:   *project,
	}
	// Keep the previous project selection across re-logins.
	if prev, err := config.LoadCredentials(env.Config.DataDir); err == nil && creds.ProjectID == "" && prev.UserID == creds.UserID {
		creds.ProjectID = prev.ProjectID
	}
	if err := config.SaveCredentials(env.Config.DataDir, creds); err != nil {
		return err
	}

	env.printf("Logged in as %s\n", grant.User.Email)
	if creds.ProjectID == "" && env.Config.Project == "" {
		env.printf("No project selected. Run 'huddle projects list' to pick one.\n")
	}
	return nil
}

// LogoutCommand revokes the token and forgets the saved session.
func LogoutCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	_ = fs.Parse(args)

	creds, err := config.LoadCredentials(env.Config.DataDir)
	if errors.Is(err, config.ErrNotLoggedIn) {
		env.printf("Not logged in\n")
		return nil
	}
	if err != nil {
		return err
	}

	client, err := env.newClient(creds.AccessToken)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	// Revocation is best effort; the local session goes either way.
	if err := client.Logout(ctx); err != nil {
		env.Logger.Warn("could not revoke token", "err", err)
	}
	if err := config.ClearCredentials(env.Config.DataDir); err != nil {
		return err
	}
	env.printf("Logged out\n")
	return nil
}

// SignupCommand registers a new account on the backend.
func SignupCommand(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ExitOnError)
	email := fs.String("email", env.Config.Email, "Account email (required)")
	name := fs.String("name", "", "Display name")
	_ = fs.Parse(args)

	if *email == "" {
		return fmt.Errorf("--email is required")
	}

	password, err := env.readPassword("Choose a password: ")
	if err != nil {
		return err
	}

	client, err := env.newClient("")
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	user, err := client.Signup(ctx, *email, *name, password)
	if err != nil {
		return err
	}
	env.printf("Created account %s (%s). Run 'huddle login' next.\n", user.Email, user.ID)
	return nil
}
