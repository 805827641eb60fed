// ABOUTME: Database schema definitions for the collaboration backend
// ABOUTME: Handles SQLite table creation and initialization
package db

import (
	"database/sql"
)

// Timestamps are TEXT in a fixed-width UTC layout so ORDER BY on them is chronological.
const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL DEFAULT '',
	password_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS access_tokens (
	token TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	created_at TEXT NOT NULL,
	expires_at TEXT NOT NULL,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	assignee_id TEXT NOT NULL DEFAULT '',
	due_at TEXT,
	completed_at TEXT,
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, created_at);

CREATE TABLE IF NOT EXISTS comments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	task_id TEXT NOT NULL DEFAULT '',
	author_id TEXT NOT NULL,
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_comments_project ON comments(project_id, created_at);

CREATE TABLE IF NOT EXISTS notifications (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL,
	message TEXT NOT NULL,
	read INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);

CREATE TABLE IF NOT EXISTS meetings (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	title TEXT NOT NULL,
	scheduled_at TEXT NOT NULL,
	duration_minutes INTEGER NOT NULL DEFAULT 30,
	location TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_meetings_project ON meetings(project_id, scheduled_at);

CREATE TABLE IF NOT EXISTS discussion_comments (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	parent_id TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_discussion_comments_project ON discussion_comments(project_id, created_at);

CREATE TABLE IF NOT EXISTS reactions (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	target_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	emoji TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (target_id, user_id, emoji)
);

CREATE INDEX IF NOT EXISTS idx_reactions_project ON reactions(project_id, created_at);
`

// DataTables are the tables exposed through the REST and realtime API.
var DataTables = []string{
	"projects",
	"tasks",
	"comments",
	"notifications",
	"meetings",
	"discussion_comments",
	"reactions",
}

// InitSchema creates all tables and indexes.
func InitSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
