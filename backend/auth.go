// ABOUTME: Password accounts and bearer tokens for the backend
// ABOUTME: Hashes passwords with bcrypt and issues expiring access tokens
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/harperreed/huddle/db"
	"github.com/harperreed/huddle/gateway"
)

// DefaultTokenTTL is how long an issued access token stays valid.
const DefaultTokenTTL = 7 * 24 * time.Hour

var ErrInvalidCredentials = errors.New("invalid email or password")

// Account is the public view of a user.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Grant is the result of a successful login.
type Grant struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Account   `json:"user"`
}

func accountOf(u *db.User) Account {
	return Account{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Signup creates a user with a bcrypt-hashed password.
func (s *Service) Signup(ctx context.Context, email, name, password string) (Account, error) {
	email = strings.TrimSpace(email)
	if email == "" || !strings.Contains(email, "@") {
		return Account{}, fmt.Errorf("invalid email %q", email)
	}
	if len(password) < 8 {
		return Account{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Account{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := db.CreateUser(ctx, s.repo.DB(), email, name, string(hash))
	if err != nil {
		return Account{}, mapError(err)
	}
	s.logger.Info("user created", "email", user.Email)
	return accountOf(user), nil
}

// Login checks a password and issues an access token.
func (s *Service) Login(ctx context.Context, email, password string) (*Grant, error) {
	user, err := db.GetUserByEmail(ctx, s.repo.DB(), email)
	if errors.Is(err, db.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	token, expires, err := db.CreateToken(ctx, s.repo.DB(), user.ID, DefaultTokenTTL)
	if err != nil {
		return nil, err
	}
	return &Grant{AccessToken: token, TokenType: "bearer", ExpiresAt: expires, User: accountOf(user)}, nil
}

// Authorize resolves a bearer token to its account.
func (s *Service) Authorize(ctx context.Context, token string) (Account, error) {
	if token == "" {
		return Account{}, gateway.ErrUnauthorized
	}
	user, err := db.UserForToken(ctx, s.repo.DB(), token)
	if errors.Is(err, db.ErrTokenNotFound) {
		return Account{}, gateway.ErrUnauthorized
	}
	if err != nil {
		return Account{}, err
	}
	return accountOf(user), nil
}

// Logout revokes a token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return db.DeleteToken(ctx, s.repo.DB(), token)
}
