// ABOUTME: Server side of the realtime websocket protocol
// ABOUTME: Joins and leaves table channels per connection and pushes change events as frames
package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/harperreed/huddle/gateway"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Outbound frames buffered per connection before the connection is dropped.
	sendQueueSize = 256

	maxFrameSize = 1 << 20
)

type socketConn struct {
	srv    *Server
	conn   *websocket.Conn
	logger *log.Logger
	send   chan gateway.Frame

	mu       sync.Mutex
	channels map[string]gateway.Channel

	closeOnce sync.Once
	done      chan struct{}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	account, _ := AccountFrom(r.Context())
	c := &socketConn{
		srv:      s,
		conn:     conn,
		logger:   s.logger.With("user", account.Email),
		send:     make(chan gateway.Frame, sendQueueSize),
		channels: make(map[string]gateway.Channel),
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	c.logger.Debug("socket opened")
	go c.writeLoop()
	c.readLoop()
}

func (c *socketConn) readLoop() {
	defer c.close()

	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.pongWait))
	})

	for {
		var f gateway.Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("socket read failed", "err", err)
			}
			return
		}
		// Any frame counts as liveness.
		_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.pongWait))
		c.handle(f)
	}
}

func (c *socketConn) writeLoop() {
	ticker := time.NewTicker(c.srv.pongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				c.logger.Debug("socket write failed", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// push queues f, dropping the connection when the peer cannot keep up.
func (c *socketConn) push(f gateway.Frame) {
	select {
	case <-c.done:
	case c.send <- f:
	default:
		c.logger.Warn("send queue full, dropping socket")
		go c.close()
	}
}

func (c *socketConn) reply(topic, ref, status, reason string) {
	f, err := gateway.NewFrame(topic, gateway.EventReply, ref, gateway.ReplyPayload{Status: status, Reason: reason})
	if err != nil {
		return
	}
	c.push(f)
}

func (c *socketConn) handle(f gateway.Frame) {
	switch f.Event {
	case gateway.EventHeartbeat:
		c.reply(gateway.PhoenixTopic, f.Ref, gateway.ReplyOK, "")

	case gateway.EventJoin:
		var p gateway.JoinPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil || p.Table == "" {
			c.reply(f.Topic, f.Ref, gateway.ReplyError, "invalid join payload")
			return
		}
		if f.Topic != gateway.Topic(p.Table) {
			c.reply(f.Topic, f.Ref, gateway.ReplyError, "topic does not match table")
			return
		}
		c.join(f.Topic, f.Ref, p)

	case gateway.EventLeave:
		c.leave(f.Topic)
		c.reply(f.Topic, f.Ref, gateway.ReplyOK, "")

	default:
		c.reply(f.Topic, f.Ref, gateway.ReplyError, "unknown event "+f.Event)
	}
}

func (c *socketConn) join(topic, ref string, p gateway.JoinPayload) {
	// A rejoin replaces the previous feed for the topic.
	c.leave(topic)

	var once sync.Once
	var ch gateway.Channel
	q := gateway.Query{Filters: p.Filters}

	// ch is assigned under c.mu so a close racing the subscribe sees it.
	c.mu.Lock()
	ch, err := c.srv.svc.Subscribe(context.Background(), p.Table, q, gateway.Handlers{
		OnChange: func(ev gateway.ChangeEvent) {
			f, err := gateway.NewFrame(topic, gateway.EventChange, "", ev)
			if err != nil {
				c.logger.Error("failed to encode change", "err", err)
				return
			}
			c.push(f)
		},
		OnStatus: func(state gateway.ChannelState, err error) {
			switch state {
			case gateway.StateSubscribed:
				// Acknowledge only once the feed delivers events.
				once.Do(func() { c.reply(topic, ref, gateway.ReplyOK, "") })
			case gateway.StateClosed:
				c.mu.Lock()
				current := c.channels[topic] == ch
				if current {
					delete(c.channels, topic)
				}
				c.mu.Unlock()
				if current {
					f, _ := gateway.NewFrame(topic, gateway.EventClose, "", nil)
					c.push(f)
				}
			}
		},
	})
	if err != nil {
		c.mu.Unlock()
		c.reply(topic, ref, gateway.ReplyError, err.Error())
		return
	}
	c.channels[topic] = ch
	c.mu.Unlock()

	c.logger.Debug("joined", "topic", topic, "filters", len(p.Filters))
}

func (c *socketConn) leave(topic string) {
	c.mu.Lock()
	ch, ok := c.channels[topic]
	delete(c.channels, topic)
	c.mu.Unlock()

	if ok {
		_ = ch.Unsubscribe(context.Background())
	}
}

func (c *socketConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()

		c.mu.Lock()
		channels := c.channels
		c.channels = make(map[string]gateway.Channel)
		c.mu.Unlock()
		for _, ch := range channels {
			_ = ch.Unsubscribe(context.Background())
		}

		c.srv.mu.Lock()
		delete(c.srv.conns, c)
		c.srv.mu.Unlock()

		c.logger.Debug("socket closed")
	})
}
