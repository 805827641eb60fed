// ABOUTME: Realtime websocket multiplexing every table channel of a client
// ABOUTME: Handles joins with timeouts, heartbeats, and moving channels to error when the socket dies
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/harperreed/huddle/gateway"
)

// ErrJoinTimeout is reported when the server never answers a join.
var ErrJoinTimeout = errors.New("channel join timed out")

// ErrHeartbeatTimeout is reported when a heartbeat goes unanswered.
var ErrHeartbeatTimeout = errors.New("heartbeat timed out")

const socketWriteWait = 10 * time.Second

func newRef() string {
	return ulid.Make().String()
}

type socket struct {
	client *Client
	conn   *websocket.Conn
	logger *log.Logger

	writeMu sync.Mutex

	mu           sync.Mutex
	channels     map[string]*channel
	pending      map[string]func(gateway.ReplyPayload)
	heartbeatRef string
	dead         bool

	done chan struct{}
	once sync.Once
}

func (c *Client) socketURL() string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = c.base.Path + "/realtime/v1/websocket"
	q := url.Values{}
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	if token := c.Token(); token != "" {
		q.Set("access_token", token)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// socketFor returns the open socket, dialing a new one when there is none
// or the last one died. Dials are serialized.
func (c *Client) socketFor(ctx context.Context) (*socket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: client closed", gateway.ErrUnavailable)
	}
	if c.sock != nil && !c.sock.isDead() {
		return c.sock, nil
	}

	c.mu.Unlock()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.socketURL(), http.Header{"X-Client-Info": {c.clientInfo}})
	c.mu.Lock()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: realtime socket rejected credentials", gateway.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: failed to dial realtime socket: %v", gateway.ErrUnavailable, err)
	}
	if c.closed {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: client closed", gateway.ErrUnavailable)
	}
	if c.sock != nil && !c.sock.isDead() {
		// Another caller dialed while we were unlocked.
		_ = conn.Close()
		return c.sock, nil
	}

	s := &socket{
		client:   c,
		conn:     conn,
		logger:   c.logger,
		channels: make(map[string]*channel),
		pending:  make(map[string]func(gateway.ReplyPayload)),
		done:     make(chan struct{}),
	}
	c.sock = s
	go s.readLoop()
	go s.heartbeatLoop(c.heartbeat)

	c.logger.Debug("realtime socket connected")
	return s, nil
}

// dropSocket closes the current socket, reporting its channels Closed.
func (c *Client) dropSocket() {
	c.mu.Lock()
	s := c.sock
	c.sock = nil
	c.mu.Unlock()
	if s != nil {
		s.shutdown()
	}
}

func (c *Client) forgetSocket(s *socket) {
	c.mu.Lock()
	if c.sock == s {
		c.sock = nil
	}
	c.mu.Unlock()
}

func (s *socket) isDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

func (s *socket) write(f gateway.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
	return s.conn.WriteJSON(f)
}

func (s *socket) send(topic, event, ref string, payload any) error {
	f, err := gateway.NewFrame(topic, event, ref, payload)
	if err != nil {
		return err
	}
	return s.write(f)
}

func (s *socket) readLoop() {
	for {
		var f gateway.Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.fail(fmt.Errorf("%w: realtime socket read: %v", gateway.ErrUnavailable, err))
			return
		}
		s.dispatch(f)
	}
}

func (s *socket) dispatch(f gateway.Frame) {
	switch f.Event {
	case gateway.EventReply:
		var p gateway.ReplyPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			s.logger.Warn("malformed reply", "topic", f.Topic, "err", err)
			return
		}
		s.mu.Lock()
		if f.Ref != "" && f.Ref == s.heartbeatRef {
			s.heartbeatRef = ""
			s.mu.Unlock()
			return
		}
		cb := s.pending[f.Ref]
		delete(s.pending, f.Ref)
		s.mu.Unlock()
		if cb != nil {
			cb(p)
		}

	case gateway.EventChange:
		ch := s.channel(f.Topic)
		if ch == nil || ch.State() != gateway.StateSubscribed {
			return
		}
		var ev gateway.ChangeEvent
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			s.logger.Warn("malformed change", "topic", f.Topic, "err", err)
			return
		}
		if ch.handlers.OnChange != nil {
			ch.handlers.OnChange(ev)
		}

	case gateway.EventError:
		if ch := s.channel(f.Topic); ch != nil {
			ch.setState(gateway.StateError, fmt.Errorf("%w: channel %s errored", gateway.ErrUnavailable, f.Topic))
		}

	case gateway.EventClose:
		s.mu.Lock()
		ch := s.channels[f.Topic]
		delete(s.channels, f.Topic)
		s.mu.Unlock()
		if ch != nil {
			ch.setState(gateway.StateClosed, errors.New("channel closed by server"))
		}
	}
}

func (s *socket) channel(topic string) *channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channels[topic]
}

// heartbeatLoop sends a heartbeat every interval. A heartbeat still
// unanswered when the next one is due kills the socket.
func (s *socket) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			missed := s.heartbeatRef != ""
			ref := newRef()
			if !missed {
				s.heartbeatRef = ref
			}
			s.mu.Unlock()

			if missed {
				s.fail(fmt.Errorf("%w: %w", gateway.ErrUnavailable, ErrHeartbeatTimeout))
				return
			}
			if err := s.send(gateway.PhoenixTopic, gateway.EventHeartbeat, ref, struct{}{}); err != nil {
				s.fail(fmt.Errorf("%w: heartbeat write: %v", gateway.ErrUnavailable, err))
				return
			}
		}
	}
}

// fail kills the socket after a transport error. Live channels move to
// Error; nothing is redialed here.
func (s *socket) fail(err error) {
	s.terminate(gateway.StateError, err, false)
}

// shutdown closes the socket on request. Channels move to Closed.
func (s *socket) shutdown() {
	s.terminate(gateway.StateClosed, nil, true)
}

func (s *socket) terminate(state gateway.ChannelState, err error, graceful bool) {
	s.once.Do(func() {
		s.mu.Lock()
		s.dead = true
		channels := make([]*channel, 0, len(s.channels))
		for _, ch := range s.channels {
			channels = append(channels, ch)
		}
		s.channels = make(map[string]*channel)
		s.pending = make(map[string]func(gateway.ReplyPayload))
		s.mu.Unlock()

		close(s.done)
		if graceful {
			s.writeMu.Lock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			s.writeMu.Unlock()
		}
		_ = s.conn.Close()
		s.client.forgetSocket(s)

		if err != nil {
			s.logger.Warn("realtime socket lost", "err", err, "channels", len(channels))
		}
		for _, ch := range channels {
			ch.setState(state, err)
		}
	})
}

// Subscribe joins the change feed for table. The channel starts in
// Connecting and reports Subscribed, Error, or TimedOut once the join
// settles.
func (c *Client) Subscribe(ctx context.Context, table string, q gateway.Query, h gateway.Handlers) (gateway.Channel, error) {
	s, err := c.socketFor(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", table, err)
	}

	ch := &channel{sock: s, table: table, topic: gateway.Topic(table), handlers: h, state: gateway.StateConnecting}
	ref := newRef()
	joined := make(chan struct{})

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to subscribe to %s: %w: socket closed", table, gateway.ErrUnavailable)
	}
	prev := s.channels[ch.topic]
	s.channels[ch.topic] = ch
	s.pending[ref] = func(p gateway.ReplyPayload) {
		close(joined)
		if p.Status == gateway.ReplyOK {
			ch.transition(gateway.StateConnecting, gateway.StateSubscribed, nil)
			return
		}
		ch.transition(gateway.StateConnecting, gateway.StateError, fmt.Errorf("join %s rejected: %s", ch.topic, p.Reason))
	}
	s.mu.Unlock()

	if prev != nil {
		prev.setState(gateway.StateClosed, nil)
	}

	if err := s.send(ch.topic, gateway.EventJoin, ref, gateway.JoinPayload{Table: table, Filters: q.Filters}); err != nil {
		s.fail(fmt.Errorf("%w: join write: %v", gateway.ErrUnavailable, err))
		return nil, fmt.Errorf("failed to subscribe to %s: %w", table, gateway.ErrUnavailable)
	}

	go s.awaitJoin(ch, ref, joined)
	return ch, nil
}

func (s *socket) awaitJoin(ch *channel, ref string, joined <-chan struct{}) {
	timer := time.NewTimer(s.client.joinTimeout)
	defer timer.Stop()

	select {
	case <-joined:
	case <-s.done:
	case <-timer.C:
		s.mu.Lock()
		_, waiting := s.pending[ref]
		delete(s.pending, ref)
		s.mu.Unlock()
		if waiting {
			ch.transition(gateway.StateConnecting, gateway.StateTimedOut, ErrJoinTimeout)
		}
	}
}

type channel struct {
	sock     *socket
	table    string
	topic    string
	handlers gateway.Handlers

	mu    sync.Mutex
	state gateway.ChannelState
}

func (ch *channel) Topic() string { return ch.topic }

func (ch *channel) State() gateway.ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *channel) transition(from, to gateway.ChannelState, err error) {
	ch.mu.Lock()
	if ch.state != from {
		ch.mu.Unlock()
		return
	}
	ch.state = to
	ch.mu.Unlock()

	if ch.handlers.OnStatus != nil {
		ch.handlers.OnStatus(to, err)
	}
}

// setState moves the channel to state unless it is already there or closed.
func (ch *channel) setState(state gateway.ChannelState, err error) {
	ch.mu.Lock()
	if ch.state == state || ch.state == gateway.StateClosed {
		ch.mu.Unlock()
		return
	}
	ch.state = state
	ch.mu.Unlock()

	if ch.handlers.OnStatus != nil {
		ch.handlers.OnStatus(state, err)
	}
}

// Unsubscribe leaves the channel. The socket stays open for other channels.
func (ch *channel) Unsubscribe(ctx context.Context) error {
	if ch.State() == gateway.StateClosed {
		return nil
	}

	s := ch.sock
	s.mu.Lock()
	owned := s.channels[ch.topic] == ch
	if owned {
		delete(s.channels, ch.topic)
	}
	dead := s.dead
	s.mu.Unlock()

	if owned && !dead {
		if err := s.send(ch.topic, gateway.EventLeave, newRef(), struct{}{}); err != nil {
			s.logger.Debug("leave failed", "topic", ch.topic, "err", err)
		}
	}
	ch.setState(gateway.StateClosed, nil)
	return nil
}
