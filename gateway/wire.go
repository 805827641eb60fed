// ABOUTME: Realtime websocket frame format shared by the backend server and the hosted client
// ABOUTME: Frames carry a topic, an event name, a JSON payload, and a correlation ref
package gateway

import "encoding/json"

// Realtime frame events.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"
	EventChange    = "postgres_changes"
)

// PhoenixTopic carries socket-level frames such as heartbeats.
const PhoenixTopic = "phoenix"

// Reply statuses.
const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Frame is one websocket message in either direction.
type Frame struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

// JoinPayload asks the server to open a change feed for Table.
type JoinPayload struct {
	Table   string   `json:"table"`
	Filters []Filter `json:"filters,omitempty"`
}

// ReplyPayload answers a join, leave, or heartbeat.
type ReplyPayload struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// NewFrame builds a frame, encoding payload as JSON.
func NewFrame(topic, event, ref string, payload any) (Frame, error) {
	f := Frame{Topic: topic, Event: event, Ref: ref}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, err
		}
		f.Payload = b
	}
	return f, nil
}
