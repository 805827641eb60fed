// ABOUTME: Shared plumbing for CLI commands
// ABOUTME: Builds the REST client, offline cache, and started session from config and saved login
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/huddle/cache"
	"github.com/harperreed/huddle/config"
	"github.com/harperreed/huddle/gateway/rest"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/session"
)

// Env carries what every command needs.
type Env struct {
	Config  *config.Config
	Logger  *log.Logger
	Version string

	// Out receives command output. Defaults to stdout.
	Out io.Writer
	// In is read for passwords when stdin is not a terminal.
	In io.Reader
}

func (e *Env) out() io.Writer {
	if e.Out == nil {
		return os.Stdout
	}
	return e.Out
}

func (e *Env) in() io.Reader {
	if e.In == nil {
		return os.Stdin
	}
	return e.In
}

func (e *Env) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(e.out(), format, args...)
}

// newClient builds a REST client for the configured backend.
func (e *Env) newClient(token string) (*rest.Client, error) {
	deviceID, err := config.DeviceID(e.Config.DataDir)
	if err != nil {
		return nil, err
	}
	return rest.New(rest.Options{
		BaseURL:   e.Config.BackendURL,
		APIKey:    e.Config.APIKey,
		Token:     token,
		Logger:    e.Logger,
		Heartbeat: e.Config.HealthConfig().Heartbeat,
		ClientID:  deviceID,
	})
}

// credentials loads the saved login for the configured backend.
func (e *Env) credentials() (*config.Credentials, error) {
	creds, err := config.LoadCredentials(e.Config.DataDir)
	if errors.Is(err, config.ErrNotLoggedIn) {
		return nil, fmt.Errorf("%w: run 'huddle login' first", err)
	}
	if err != nil {
		return nil, err
	}
	if creds.BackendURL != "" && creds.BackendURL != e.Config.BackendURL {
		return nil, fmt.Errorf("%w: saved login is for %s, not %s", config.ErrNotLoggedIn, creds.BackendURL, e.Config.BackendURL)
	}
	return creds, nil
}

// projectFor picks the project: flag, then saved selection, then config.
func (e *Env) projectFor(creds *config.Credentials, override string) string {
	if override != "" {
		return override
	}
	if creds.ProjectID != "" {
		return creds.ProjectID
	}
	return e.Config.Project
}

// openSession restores the saved login and starts a session on it.
func (e *Env) openSession(ctx context.Context, project string) (*session.Session, error) {
	creds, err := e.credentials()
	if err != nil {
		return nil, err
	}
	client, err := e.newClient(creds.AccessToken)
	if err != nil {
		return nil, err
	}

	opts := session.Options{
		Gateway: client,
		Scoping: models.Scoping{ProjectID: e.projectFor(creds, project), UserID: creds.UserID},
		Health:  e.Config.HealthConfig(),
		Pinger:  client,
		Logger:  e.Logger,
	}

	if e.Config.Cache.Enabled {
		// Badger holds a directory lock, so a second process runs without it.
		c, err := cache.Open(cache.Options{
			Dir:    e.Config.CacheDir(),
			MaxAge: e.Config.Cache.MaxAge,
			Logger: e.Logger,
		})
		if err != nil {
			e.Logger.Warn("offline cache unavailable", "err", err)
		} else {
			opts.Cache = c
		}
	}

	sess, err := session.Open(opts)
	if err != nil {
		_ = client.Close()
		if c, ok := opts.Cache.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	if err := sess.Start(ctx); err != nil {
		_ = sess.Close(context.Background())
		return nil, err
	}
	return sess, nil
}

// closeSession tears sess down with a bounded wait.
func closeSession(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sess.Close(ctx)
}

// requireProject fails early for commands that write into a project.
func requireProject(sess *session.Session) error {
	if sess.Scoping().ProjectID == "" {
		return fmt.Errorf("%w: pass --project or run 'huddle projects use <id>'", session.ErrNoProject)
	}
	return nil
}
