// ABOUTME: Entity collection definitions mirrored from remote tables
// ABOUTME: Each collection names its table, ordering convention, and scope column
package models

// Scope selects which identity a collection is filtered by.
type Scope int

const (
	ScopeProject Scope = iota
	ScopeUser
)

// Column returns the equality-filter column for the scope.
func (s Scope) Column() string {
	if s == ScopeUser {
		return "user_id"
	}
	return "project_id"
}

func (s Scope) String() string {
	if s == ScopeUser {
		return "user"
	}
	return "project"
}

// Collection is a logical grouping of records mirrored from one remote table.
type Collection struct {
	Name       string
	Table      string
	OrderBy    string
	Descending bool
	Scope      Scope
}

// Collection names.
const (
	CollectionTasks              = "tasks"
	CollectionComments           = "comments"
	CollectionNotifications      = "notifications"
	CollectionMeetings           = "meetings"
	CollectionDiscussionComments = "discussion_comments"
	CollectionReactions          = "reactions"
)

var (
	Tasks              = Collection{Name: CollectionTasks, Table: "tasks", OrderBy: "created_at", Descending: true, Scope: ScopeProject}
	Comments           = Collection{Name: CollectionComments, Table: "comments", OrderBy: "created_at", Descending: true, Scope: ScopeProject}
	Notifications      = Collection{Name: CollectionNotifications, Table: "notifications", OrderBy: "created_at", Descending: true, Scope: ScopeUser}
	Meetings           = Collection{Name: CollectionMeetings, Table: "meetings", OrderBy: "scheduled_at", Scope: ScopeProject}
	DiscussionComments = Collection{Name: CollectionDiscussionComments, Table: "discussion_comments", OrderBy: "created_at", Descending: true, Scope: ScopeProject}
	Reactions          = Collection{Name: CollectionReactions, Table: "reactions", OrderBy: "created_at", Scope: ScopeProject}
)

// DefaultCollections returns every collection a session subscribes to.
func DefaultCollections() []Collection {
	return []Collection{Tasks, Comments, Notifications, Meetings, DiscussionComments, Reactions}
}

// CollectionByName looks up one of the default collections.
func CollectionByName(name string) (Collection, bool) {
	for _, c := range DefaultCollections() {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}

// Scoping holds the identities a session filters its collections by.
type Scoping struct {
	ProjectID string
	UserID    string
}

// ValueFor returns the filter value for a collection's scope.
func (s Scoping) ValueFor(c Collection) string {
	if c.Scope == ScopeUser {
		return s.UserID
	}
	return s.ProjectID
}
