// ABOUTME: User and access token database operations
// ABOUTME: Backs password login and bearer token lookups for the backend API
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harperreed/huddle/models"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrTokenNotFound = errors.New("token not found or expired")
)

// User is a backend account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
}

// CreateUser inserts a new user. Emails are stored lowercased.
func CreateUser(ctx context.Context, db *sql.DB, email, name, passwordHash string) (*User, error) {
	user := &User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         name,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.ID, user.Email, user.Name, user.PasswordHash, models.FormatTime(user.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", wrapWriteErr(err))
	}
	return user, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var createdAt string
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	user.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &user, nil
}

// GetUserByEmail looks a user up by email.
func GetUserByEmail(ctx context.Context, db *sql.DB, email string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE email = ?
	`, strings.ToLower(strings.TrimSpace(email))))
}

// GetUser looks a user up by id.
func GetUser(ctx context.Context, db *sql.DB, id string) (*User, error) {
	return scanUser(db.QueryRowContext(ctx, `
		SELECT id, email, name, password_hash, created_at
		FROM users WHERE id = ?
	`, id))
}

// CreateToken issues an access token for userID valid for ttl.
func CreateToken(ctx context.Context, db *sql.DB, userID string, ttl time.Duration) (string, time.Time, error) {
	token := strings.ReplaceAll(uuid.New().String()+uuid.New().String(), "-", "")
	now := time.Now().UTC()
	expires := now.Add(ttl)

	_, err := db.ExecContext(ctx, `
		INSERT INTO access_tokens (token, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, token, userID, models.FormatTime(now), models.FormatTime(expires))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to create token: %w", err)
	}
	return token, expires, nil
}

// UserForToken returns the user owning a valid token.
func UserForToken(ctx context.Context, db *sql.DB, token string) (*User, error) {
	user, err := scanUser(db.QueryRowContext(ctx, `
		SELECT u.id, u.email, u.name, u.password_hash, u.created_at
		FROM access_tokens t JOIN users u ON u.id = t.user_id
		WHERE t.token = ? AND t.expires_at > ?
	`, token, models.Now()))
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrTokenNotFound
	}
	return user, err
}

// DeleteToken revokes a token.
func DeleteToken(ctx context.Context, db *sql.DB, token string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM access_tokens WHERE token = ?`, token)
	return err
}

// DeleteExpiredTokens removes tokens past their expiry and returns how many.
func DeleteExpiredTokens(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx, `DELETE FROM access_tokens WHERE expires_at <= ?`, models.Now())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
