// ABOUTME: Remote data gateway contract used by the store and subscription manager
// ABOUTME: Defines queries, change events, channel states, and sentinel errors
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/harperreed/huddle/models"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a constraint.
	ErrConflict = errors.New("conflicting write")
	// ErrUnauthorized is returned when credentials are missing or rejected.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUnavailable is returned for transient transport failures.
	ErrUnavailable = errors.New("backend unavailable")
	// ErrUnknownTable is returned for tables the backend does not serve.
	ErrUnknownTable = errors.New("unknown table")
)

// Filter is an equality predicate on one column.
type Filter struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Query selects rows from a table.
type Query struct {
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Eq appends an equality filter.
func (q Query) Eq(column, value string) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Column: column, Value: value})
	return q
}

// Matches reports whether rec satisfies every filter in q.
func (q Query) Matches(rec models.Record) bool {
	for _, f := range q.Filters {
		if rec.String(f.Column) != f.Value {
			return false
		}
	}
	return true
}

// CollectionQuery builds the select/subscribe query for a scoped collection.
func CollectionQuery(c models.Collection, scoping models.Scoping) Query {
	q := Query{OrderBy: c.OrderBy, Descending: c.Descending}
	if v := scoping.ValueFor(c); v != "" {
		q = q.Eq(c.Scope.Column(), v)
	}
	return q
}

// Operation is the kind of change carried by a ChangeEvent.
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// ChangeEvent is a push notification for one row of a subscribed table.
// Record is set for inserts and updates. RecordID may be empty when the
// backend only knows that the table changed.
type ChangeEvent struct {
	Table     string        `json:"table"`
	Operation Operation     `json:"type"`
	RecordID  string        `json:"id,omitempty"`
	Record    models.Record `json:"record,omitempty"`
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("%s %s/%s", e.Operation, e.Table, e.RecordID)
}

// ChannelState is the lifecycle state of a change-feed channel.
type ChannelState int

const (
	StateConnecting ChannelState = iota
	StateSubscribed
	StateError
	StateTimedOut
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateSubscribed:
		return "SUBSCRIBED"
	case StateError:
		return "CHANNEL_ERROR"
	case StateTimedOut:
		return "TIMED_OUT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Live reports whether the channel is delivering or about to deliver events.
func (s ChannelState) Live() bool {
	return s == StateConnecting || s == StateSubscribed
}

// Handlers receive a channel's events. Both may be called from any goroutine.
type Handlers struct {
	OnChange func(ChangeEvent)
	OnStatus func(ChannelState, error)
}

// Channel is an open change-feed subscription.
type Channel interface {
	Topic() string
	State() ChannelState
	Unsubscribe(ctx context.Context) error
}

// Gateway is the remote data service: CRUD plus per-table change feeds.
type Gateway interface {
	Select(ctx context.Context, table string, q Query) ([]models.Record, error)
	Insert(ctx context.Context, table string, rec models.Record) (models.Record, error)
	Update(ctx context.Context, table, id string, patch models.Record) (models.Record, error)
	Delete(ctx context.Context, table, id string) error
	Subscribe(ctx context.Context, table string, q Query, h Handlers) (Channel, error)
}

// Topic returns the channel topic for a table.
func Topic(table string) string {
	return "realtime:" + table
}
