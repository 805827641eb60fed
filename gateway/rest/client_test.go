// ABOUTME: Tests for the hosted backend client against an in-process backend server
// ABOUTME: Covers REST CRUD, auth, realtime joins, timeouts, heartbeats, and socket loss
package rest_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/huddle/backend"
	"github.com/harperreed/huddle/db"
	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/gateway/rest"
	"github.com/harperreed/huddle/models"
	"github.com/harperreed/huddle/realtime"
	"github.com/harperreed/huddle/viewmodel"
)

const apiKey = "anon"

type harness struct {
	svc    *backend.Service
	server *backend.Server
	ts     *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	database, err := db.OpenDatabase(filepath.Join(t.TempDir(), "backend.db"))
	require.NoError(t, err)

	logger := log.New(io.Discard)
	svc := backend.NewService(db.NewRowsRepository(database), logger)
	server := backend.NewServer(svc, backend.ServerOptions{APIKey: apiKey, Logger: logger})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.CloseSockets()
		ts.Close()
		svc.Close()
		_ = database.Close()
	})

	_, err = svc.Signup(context.Background(), "ada@example.com", "Ada", "correct horse")
	require.NoError(t, err)
	return &harness{svc: svc, server: server, ts: ts}
}

func (h *harness) client(t *testing.T, opts rest.Options) *rest.Client {
	t.Helper()
	opts.BaseURL = h.ts.URL
	opts.APIKey = apiKey
	opts.Logger = log.New(io.Discard)
	c, err := rest.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (h *harness) loggedIn(t *testing.T, opts rest.Options) *rest.Client {
	t.Helper()
	c := h.client(t, opts)
	_, err := c.Login(context.Background(), "ada@example.com", "correct horse")
	require.NoError(t, err)
	return c
}

type recorder struct {
	mu     sync.Mutex
	events []gateway.ChangeEvent
	states []gateway.ChannelState
	errs   []error
}

func (r *recorder) handlers() gateway.Handlers {
	return gateway.Handlers{
		OnChange: func(ev gateway.ChangeEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		},
		OnStatus: func(s gateway.ChannelState, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
			r.errs = append(r.errs, err)
		},
	}
}

func (r *recorder) Events() []gateway.ChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.ChangeEvent(nil), r.events...)
}

func (r *recorder) States() []gateway.ChannelState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gateway.ChannelState(nil), r.states...)
}

func (r *recorder) LastErr() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.errs) == 0 {
		return nil
	}
	return r.errs[len(r.errs)-1]
}

func waitState(t *testing.T, ch gateway.Channel, want gateway.ChannelState) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.State() == want }, 2*time.Second, 5*time.Millisecond,
		"channel never reached %s (at %s)", want, ch.State())
}

func TestNewValidatesURL(t *testing.T) {
	_, err := rest.New(rest.Options{})
	assert.Error(t, err)

	_, err = rest.New(rest.Options{BaseURL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = rest.New(rest.Options{BaseURL: "https://example.com/"})
	assert.NoError(t, err)
}

func TestLoginAndAuthErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.client(t, rest.Options{})

	_, err := c.Select(ctx, "tasks", gateway.Query{})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)

	_, err = c.Login(ctx, "ada@example.com", "wrong horse")
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
	assert.Empty(t, c.Token())

	grant, err := c.Login(ctx, "ada@example.com", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, grant.AccessToken, c.Token())
	assert.Equal(t, "Ada", grant.User.Name)

	me, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, grant.User.ID, me.ID)

	require.NoError(t, c.Logout(ctx))
	assert.Empty(t, c.Token())

	c.SetToken(grant.AccessToken)
	_, err = c.CurrentUser(ctx)
	assert.ErrorIs(t, err, gateway.ErrUnauthorized, "token revoked by logout")
}

func TestSignup(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.client(t, rest.Options{})

	u, err := c.Signup(ctx, "grace@example.com", "Grace", "hopper1906")
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", u.Email)

	_, err = c.Signup(ctx, "grace@example.com", "Grace", "hopper1906")
	assert.ErrorIs(t, err, gateway.ErrConflict)
}

func TestCRUD(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.loggedIn(t, rest.Options{})

	created, err := c.Insert(ctx, "meetings", models.Record{
		"project_id":   "p1",
		"title":        "Standup",
		"scheduled_at": "2025-03-01T09:00:00.000000Z",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID())
	assert.Equal(t, int64(30), created.Int("duration_minutes"))

	_, err = c.Insert(ctx, "meetings", models.Record{
		"project_id":   "p2",
		"title":        "Retro",
		"scheduled_at": "2025-03-02T09:00:00.000000Z",
	})
	require.NoError(t, err)

	recs, err := c.Select(ctx, "meetings", gateway.CollectionQuery(models.Meetings, models.Scoping{ProjectID: "p1"}))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Equal(created))

	updated, err := c.Update(ctx, "meetings", created.ID(), models.Record{"location": "Room 4"})
	require.NoError(t, err)
	assert.Equal(t, "Room 4", updated.String("location"))

	require.NoError(t, c.Delete(ctx, "meetings", created.ID()))
	assert.ErrorIs(t, c.Delete(ctx, "meetings", created.ID()), gateway.ErrNotFound)

	_, err = c.Select(ctx, "users", gateway.Query{})
	assert.ErrorIs(t, err, gateway.ErrUnknownTable)

	none, err := c.Select(ctx, "meetings", gateway.Query{}.Eq("project_id", "nope"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, rest.Options{})
	require.NoError(t, c.Health(context.Background()))

	h.ts.Close()
	err := c.Health(context.Background())
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestSubscribeDeliversChanges(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.loggedIn(t, rest.Options{})

	var rec recorder
	ch, err := c.Subscribe(ctx, "tasks", gateway.Query{}.Eq("project_id", "p1"), rec.handlers())
	require.NoError(t, err)
	assert.Equal(t, "realtime:tasks", ch.Topic())
	waitState(t, ch, gateway.StateSubscribed)

	_, err = h.svc.Insert(ctx, "tasks", models.Record{"project_id": "p2", "title": "not mine"})
	require.NoError(t, err)
	task, err := c.Insert(ctx, "tasks", models.Record{"project_id": "p1", "title": "mine"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(rec.Events()) == 1 }, 2*time.Second, 5*time.Millisecond)
	ev := rec.Events()[0]
	assert.Equal(t, gateway.OpInsert, ev.Operation)
	assert.Equal(t, task.ID(), ev.RecordID)
	assert.Equal(t, "mine", ev.Record.String("title"))

	require.NoError(t, ch.Unsubscribe(ctx))
	assert.Equal(t, gateway.StateClosed, ch.State())
	require.Eventually(t, func() bool { return h.svc.Stats().Subscriptions == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []gateway.ChannelState{gateway.StateSubscribed, gateway.StateClosed}, rec.States())
}

func TestSubscribeRejectedJoinIsError(t *testing.T) {
	h := newHarness(t)
	c := h.loggedIn(t, rest.Options{})

	var rec recorder
	ch, err := c.Subscribe(context.Background(), "users", gateway.Query{}, rec.handlers())
	require.NoError(t, err)
	waitState(t, ch, gateway.StateError)
	assert.Contains(t, rec.LastErr().Error(), "unknown table")
}

func TestSubscribeWithoutTokenFails(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, rest.Options{})

	_, err := c.Subscribe(context.Background(), "tasks", gateway.Query{}, gateway.Handlers{})
	assert.ErrorIs(t, err, gateway.ErrUnauthorized)
}

func TestSocketLossMovesChannelsToError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.loggedIn(t, rest.Options{})

	var tasks, comments recorder
	ch1, err := c.Subscribe(ctx, "tasks", gateway.Query{}, tasks.handlers())
	require.NoError(t, err)
	ch2, err := c.Subscribe(ctx, "comments", gateway.Query{}, comments.handlers())
	require.NoError(t, err)
	waitState(t, ch1, gateway.StateSubscribed)
	waitState(t, ch2, gateway.StateSubscribed)

	h.server.CloseSockets()

	waitState(t, ch1, gateway.StateError)
	waitState(t, ch2, gateway.StateError)
	assert.ErrorIs(t, tasks.LastErr(), gateway.ErrUnavailable)

	// No redial happens until someone subscribes again.
	ch3, err := c.Subscribe(ctx, "tasks", gateway.Query{}, tasks.handlers())
	require.NoError(t, err)
	waitState(t, ch3, gateway.StateSubscribed)
	assert.Equal(t, gateway.StateError, ch1.State())
}

// silentServer accepts websocket connections and never answers.
func silentServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestJoinTimeout(t *testing.T) {
	ts := silentServer(t)
	c, err := rest.New(rest.Options{BaseURL: ts.URL, JoinTimeout: 50 * time.Millisecond, Heartbeat: time.Hour, Logger: log.New(io.Discard)})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var rec recorder
	ch, err := c.Subscribe(context.Background(), "tasks", gateway.Query{}, rec.handlers())
	require.NoError(t, err)
	assert.Equal(t, gateway.StateConnecting, ch.State())

	waitState(t, ch, gateway.StateTimedOut)
	assert.ErrorIs(t, rec.LastErr(), rest.ErrJoinTimeout)
}

func TestMissedHeartbeatKillsSocket(t *testing.T) {
	ts := silentServer(t)
	c, err := rest.New(rest.Options{BaseURL: ts.URL, JoinTimeout: time.Hour, Heartbeat: 20 * time.Millisecond, Logger: log.New(io.Discard)})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	var rec recorder
	ch, err := c.Subscribe(context.Background(), "tasks", gateway.Query{}, rec.handlers())
	require.NoError(t, err)

	waitState(t, ch, gateway.StateError)
	assert.ErrorIs(t, rec.LastErr(), rest.ErrHeartbeatTimeout)
}

func TestCloseReportsChannelsClosed(t *testing.T) {
	h := newHarness(t)
	c := h.loggedIn(t, rest.Options{})

	var rec recorder
	ch, err := c.Subscribe(context.Background(), "notifications", gateway.Query{}, rec.handlers())
	require.NoError(t, err)
	waitState(t, ch, gateway.StateSubscribed)

	require.NoError(t, c.Close())
	assert.Equal(t, gateway.StateClosed, ch.State())

	_, err = c.Subscribe(context.Background(), "notifications", gateway.Query{}, rec.handlers())
	assert.ErrorIs(t, err, gateway.ErrUnavailable)
}

func TestManagerAndStoreOverTheWire(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := h.loggedIn(t, rest.Options{})

	scoping := models.Scoping{ProjectID: "p1", UserID: "u1"}
	collections := []models.Collection{models.Tasks}
	store := viewmodel.New(c, viewmodel.Options{Collections: collections, Scoping: scoping, Logger: log.New(io.Discard)})
	mgr := realtime.NewManager(c, store, realtime.Options{Context: ctx, Collections: collections, Scoping: scoping, Logger: log.New(io.Discard)})

	require.NoError(t, store.Reload(ctx, models.CollectionTasks))
	require.NoError(t, mgr.StartAll(ctx))
	require.Eventually(t, func() bool {
		state, ok := mgr.State(models.CollectionTasks)
		return ok && state == gateway.StateSubscribed
	}, 2*time.Second, 5*time.Millisecond)

	task, err := h.svc.Insert(ctx, "tasks", models.Record{"project_id": "p1", "title": "From elsewhere"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := store.Get(models.CollectionTasks).Find(task.ID())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	_, err = h.svc.Update(ctx, "tasks", task.ID(), models.Record{"status": models.TaskStatusCompleted})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec, ok := store.Get(models.CollectionTasks).Find(task.ID())
		return ok && rec.String("status") == models.TaskStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mgr.StopAll(ctx))
	store.Wait()
	assert.Equal(t, 0, mgr.Count())
}
