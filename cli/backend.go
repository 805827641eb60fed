// ABOUTME: Development backend CLI commands
// ABOUTME: Serves the SQLite-backed REST and realtime API and manages its users
package cli

import (
	"context"
	"database/sql"
	"flag"
	"fmt"

	"github.com/harperreed/huddle/backend"
	"github.com/harperreed/huddle/db"
)

// BackendCommand routes `huddle backend [serve|adduser]`.
func BackendCommand(ctx context.Context, env *Env, args []string) error {
	sub := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "serve":
		return serveBackend(ctx, env, args)
	case "adduser":
		return addBackendUser(ctx, env, args)
	default:
		return fmt.Errorf("unknown backend command: %s", sub)
	}
}

func openBackend(env *Env, path string) (*sql.DB, *backend.Service, error) {
	database, err := db.OpenDatabase(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	return database, backend.NewService(db.NewRowsRepository(database), env.Logger), nil
}

func serveBackend(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("backend serve", flag.ExitOnError)
	addr := fs.String("addr", env.Config.Backend.Addr, "Listen address")
	dbPath := fs.String("db", env.Config.BackendDatabase(), "SQLite database path")
	watch := fs.Duration("watch", env.Config.Backend.WatchInterval, "Poll interval for writes from other processes (0 disables)")
	_ = fs.Parse(args)

	database, svc, err := openBackend(env, *dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	defer svc.Close()

	if *watch > 0 {
		go svc.WatchExternal(ctx, *watch)
	}

	srv := backend.NewServer(svc, backend.ServerOptions{
		APIKey: env.Config.APIKey,
		Logger: env.Logger,
	})
	env.Logger.Info("serving backend", "db", *dbPath, "addr", *addr)
	return srv.ListenAndServe(ctx, *addr)
}

func addBackendUser(ctx context.Context, env *Env, args []string) error {
	fs := flag.NewFlagSet("backend adduser", flag.ExitOnError)
	email := fs.String("email", "", "Account email (required)")
	name := fs.String("name", "", "Display name")
	dbPath := fs.String("db", env.Config.BackendDatabase(), "SQLite database path")
	_ = fs.Parse(args)

	if *email == "" {
		return fmt.Errorf("--email is required")
	}
	password, err := env.readPassword("Password: ")
	if err != nil {
		return err
	}

	database, svc, err := openBackend(env, *dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()
	defer svc.Close()

	acct, err := svc.Signup(ctx, *email, *name, password)
	if err != nil {
		return fmt.Errorf("failed to add user: %w", err)
	}
	env.printf("Added user %s (%s)\n", acct.Email, acct.ID)
	return nil
}
