// ABOUTME: Hosted backend client speaking the REST and realtime websocket protocol
// ABOUTME: Implements the data gateway plus login and health probing over HTTP
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

const (
	DefaultJoinTimeout = 10 * time.Second
	DefaultHeartbeat   = 25 * time.Second
)

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	// Token is the bearer token sent with every request. It can be set
	// later with SetToken or obtained with Login.
	Token       string
	HTTPClient  *http.Client
	Logger      *log.Logger
	JoinTimeout time.Duration
	Heartbeat   time.Duration
	// ClientID identifies this installation in the X-Client-Info header.
	ClientID string
}

// Client talks to a hosted backend.
type Client struct {
	base        *url.URL
	apiKey      string
	http        *http.Client
	logger      *log.Logger
	joinTimeout time.Duration
	heartbeat   time.Duration
	clientInfo  string

	mu     sync.Mutex
	token  string
	sock   *socket
	closed bool
}

var _ gateway.Gateway = (*Client)(nil)

// New validates opts and builds a client. No connection is made.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("backend url is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", opts.BaseURL)
	}

	c := &Client{
		base:        base,
		apiKey:      opts.APIKey,
		http:        opts.HTTPClient,
		logger:      opts.Logger,
		joinTimeout: opts.JoinTimeout,
		heartbeat:   opts.Heartbeat,
		token:       opts.Token,
		clientInfo:  "huddle",
	}
	if opts.ClientID != "" {
		c.clientInfo += "/" + opts.ClientID
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	if c.logger == nil {
		c.logger = log.Default()
	}
	c.logger = c.logger.WithPrefix("rest")
	if c.joinTimeout <= 0 {
		c.joinTimeout = DefaultJoinTimeout
	}
	if c.heartbeat <= 0 {
		c.heartbeat = DefaultHeartbeat
	}
	return c, nil
}

// SetToken replaces the bearer token. Open sockets keep the token they
// were dialed with.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// apiError is the JSON body of an error response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusError maps an HTTP error response onto gateway sentinels.
func statusError(resp *http.Response) error {
	var body apiError
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(raw, &body); err != nil || body.Message == "" {
		body.Message = strings.TrimSpace(string(raw))
	}
	msg := fmt.Sprintf("%s (%d)", body.Message, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", gateway.ErrUnauthorized, msg)
	case resp.StatusCode == http.StatusNotFound && body.Code == "unknown_table":
		return fmt.Errorf("%w: %s", gateway.ErrUnknownTable, msg)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", gateway.ErrNotFound, msg)
	case resp.StatusCode == http.StatusConflict:
		return fmt.Errorf("%w: %s", gateway.ErrConflict, msg)
	case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", gateway.ErrUnavailable, msg)
	default:
		return errors.New(msg)
	}
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), rd)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-Info", c.clientInfo)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// encodeQuery renders q as REST query parameters.
func encodeQuery(q gateway.Query) url.Values {
	v := url.Values{}
	v.Set("select", "*")
	for _, f := range q.Filters {
		v.Add(f.Column, "eq."+f.Value)
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		v.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

func tablePath(table string) string {
	return "/rest/v1/" + url.PathEscape(table)
}

// Select lists rows of table matching q.
func (c *Client) Select(ctx context.Context, table string, q gateway.Query) ([]models.Record, error) {
	var recs []models.Record
	if err := c.do(ctx, http.MethodGet, tablePath(table), encodeQuery(q), nil, &recs); err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", table, err)
	}
	if recs == nil {
		recs = []models.Record{}
	}
	return recs, nil
}

// Insert creates a row and returns it as stored.
func (c *Client) Insert(ctx context.Context, table string, rec models.Record) (models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodPost, tablePath(table), nil, rec, &out); err != nil {
		return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return out, nil
}

// Update patches a row and returns it as stored.
func (c *Client) Update(ctx context.Context, table, id string, patch models.Record) (models.Record, error) {
	var out models.Record
	if err := c.do(ctx, http.MethodPatch, tablePath(table)+"/"+url.PathEscape(id), nil, patch, &out); err != nil {
		return nil, fmt.Errorf("failed to update %s/%s: %w", table, id, err)
	}
	return out, nil
}

// Delete removes a row.
func (c *Client) Delete(ctx context.Context, table, id string) error {
	if err := c.do(ctx, http.MethodDelete, tablePath(table)+"/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", table, id, err)
	}
	return nil
}

// User is the account a token belongs to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Grant is a successful login.
type Grant struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        User      `json:"user"`
}

// Login exchanges email and password for an access token and starts
// using it.
func (c *Client) Login(ctx context.Context, email, password string) (*Grant, error) {
	var g Grant
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", nil, body, &g); err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	c.SetToken(g.AccessToken)
	return &g, nil
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, email, name, password string) (*User, error) {
	var u User
	body := map[string]string{"email": email, "name": name, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", nil, body, &u); err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	return &u, nil
}

// CurrentUser returns the account owning the current token.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, nil, &u); err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &u, nil
}

// Logout revokes the current token and closes the realtime socket.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, nil, nil)
	c.dropSocket()
	c.SetToken("")
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// Health checks that the backend answers.
func (c *Client) Health(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, nil); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Close shuts the realtime socket. Every open channel reports Closed.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock != nil {
		sock.shutdown()
	}
	return nil
}
