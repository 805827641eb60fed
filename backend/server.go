// ABOUTME: HTTP front end exposing the backend service over REST and a realtime websocket
// ABOUTME: Routes auth, CRUD, and health endpoints with chi and checks api keys and bearer tokens
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/harperreed/huddle/db"
	"github.com/harperreed/huddle/gateway"
	"github.com/harperreed/huddle/models"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// APIKey, when set, must accompany every request as the apikey
	// header or query parameter.
	APIKey string
	Logger *log.Logger
	// PongWait bounds how long a silent websocket stays open. Default: 60s.
	PongWait time.Duration
}

// Server serves a Service over HTTP.
type Server struct {
	svc      *Service
	apiKey   string
	logger   *log.Logger
	router   chi.Router
	upgrader websocket.Upgrader
	pongWait time.Duration

	mu    sync.Mutex
	conns map[*socketConn]struct{}
}

// NewServer builds the router for svc.
func NewServer(svc *Service, opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	pongWait := opts.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}

	s := &Server{
		svc:    svc,
		apiKey: opts.APIKey,
		logger: logger.WithPrefix("server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pongWait: pongWait,
		conns:    make(map[*socketConn]struct{}),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/auth/v1/token", s.handleToken)
		r.Post("/auth/v1/signup", s.handleSignup)

		r.Group(func(r chi.Router) {
			r.Use(s.requireToken)
			r.Post("/auth/v1/logout", s.handleLogout)
			r.Get("/auth/v1/user", s.handleUser)

			r.Route("/rest/v1/{table}", func(r chi.Router) {
				r.Get("/", s.handleSelect)
				r.Post("/", s.handleInsert)
				r.Patch("/{id}", s.handleUpdate)
				r.Delete("/{id}", s.handleDelete)
			})

			r.Get("/realtime/v1/websocket", s.handleSocket)
		})
	})

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.CloseSockets()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

// CloseSockets drops every open websocket connection.
func (s *Server) CloseSockets() {
	s.mu.Lock()
	conns := make([]*socketConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

type accountKey struct{}

// AccountFrom returns the authenticated account stored on ctx.
func AccountFrom(ctx context.Context) (Account, bool) {
	a, ok := ctx.Value(accountKey{}).(Account)
	return a, ok
}

func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" {
			key := r.Header.Get("apikey")
			if key == "" {
				key = r.URL.Query().Get("apikey")
			}
			if key != s.apiKey {
				writeError(w, http.StatusUnauthorized, "invalid_api_key", "missing or invalid api key")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := s.svc.Authorize(r.Context(), bearerToken(r))
		if err != nil {
			s.writeGatewayError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), accountKey{}, account)))
	})
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Code: code, Message: msg})
}

// Error codes carried in ErrorBody.Code.
const (
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnknownTable = "unknown_table"
	CodeUnauthorized = "unauthorized"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)

func (s *Server) writeGatewayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnknownTable):
		writeError(w, http.StatusNotFound, CodeUnknownTable, err.Error())
	case errors.Is(err, gateway.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, gateway.ErrConflict):
		writeError(w, http.StatusConflict, CodeConflict, err.Error())
	case errors.Is(err, gateway.ErrUnauthorized), errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
	case errors.Is(err, ErrBadQuery), isClientError(err):
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := DataVersion(r.Context(), s.svc.Repository().DB()); err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadQuery, err)
	}
	return nil
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	grant, err := s.svc.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	account, err := s.svc.Signup(r.Context(), c.Email, c.Name, c.Password)
	if err != nil {
		if errors.Is(err, gateway.ErrConflict) {
			s.writeGatewayError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context(), bearerToken(r)); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	account, _ := AccountFrom(r.Context())
	writeJSON(w, http.StatusOK, account)
}

// ErrBadQuery marks a malformed request.
var ErrBadQuery = errors.New("bad query")

func isClientError(err error) bool {
	return errors.Is(err, db.ErrInvalidRecord) || errors.Is(err, db.ErrUnknownColumn)
}

// ParseQuery reads filters, ordering, and limit from REST query parameters:
// col=eq.value, order=col.asc|col.desc, limit=n. select is accepted and ignored.
func ParseQuery(values map[string][]string) (gateway.Query, error) {
	var q gateway.Query
	for key, vals := range values {
		switch key {
		case "select", "apikey", "access_token":
			continue
		case "order":
			col, dir, _ := strings.Cut(vals[0], ".")
			q.OrderBy = col
			switch dir {
			case "", "asc":
			case "desc":
				q.Descending = true
			default:
				return q, fmt.Errorf("%w: order direction %q", ErrBadQuery, dir)
			}
		case "limit":
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return q, fmt.Errorf("%w: limit %q", ErrBadQuery, vals[0])
			}
			q.Limit = n
		default:
			for _, v := range vals {
				value, ok := strings.CutPrefix(v, "eq.")
				if !ok {
					return q, fmt.Errorf("%w: only eq filters are supported (%s=%s)", ErrBadQuery, key, v)
				}
				q = q.Eq(key, value)
			}
		}
	}
	// Map iteration order is random; keep filters deterministic.
	sort.Slice(q.Filters, func(i, j int) bool { return q.Filters[i].Column < q.Filters[j].Column })
	return q, nil
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	q, err := ParseQuery(r.URL.Query())
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	recs, err := s.svc.Select(r.Context(), chi.URLParam(r, "table"), q)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var rec models.Record
	if err := decodeBody(w, r, &rec); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	created, err := s.svc.Insert(r.Context(), chi.URLParam(r, "table"), rec)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch models.Record
	if err := decodeBody(w, r, &patch); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	updated, err := s.svc.Update(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), chi.URLParam(r, "table"), chi.URLParam(r, "id")); err != nil {
		s.writeGatewayError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
