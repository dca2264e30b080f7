// Package transport provides the HTTP driver for the MCP bridge: one
// JSON-RPC message per POST, with the session carried in a header.
package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/forgebridge/forgebridge/internal/auth"
	"github.com/forgebridge/forgebridge/internal/session"
)

// SessionHeader carries the session id on every request after initialize.
const SessionHeader = "Mcp-Session-Id"

type contextKey string

const clientContextKey contextKey = "client"

// Config contains the transport's collaborators.
type Config struct {
	Manager *session.Manager
	// Auth is optional; when nil every request is accepted.
	Auth   auth.Authenticator
	Logger *zap.Logger
}

// Server routes HTTP requests to the session manager.
type Server struct {
	cfg    Config
	router *chi.Mux
	logger *zap.Logger
}

// New constructs a Server with middleware and routes configured.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		router: chi.NewRouter(),
		logger: logger,
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/mcp", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleMessage)
		r.Delete("/", s.handleDisconnect)
	})

	return s
}

// Router exposes the root HTTP handler for the server.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth == nil {
			next.ServeHTTP(w, r)
			return
		}
		token, err := auth.ParseBearer(r.Header.Get("Authorization"))
		if err != nil {
			writeUnauthorized(w)
			return
		}
		client, err := s.cfg.Auth.Authenticate(r.Context(), token)
		if err != nil {
			writeUnauthorized(w)
			return
		}
		ctx := context.WithValue(r.Context(), clientContextKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
}

func clientFrom(ctx context.Context) *auth.ClientContext {
	client, _ := ctx.Value(clientContextKey).(*auth.ClientContext)
	return client
}

// handleMessage processes one JSON-RPC message. Notifications and discarded
// results get 202 with no body.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, http.StatusBadRequest, &session.Response{
			JSONRPC: session.JSONRPCVersion,
			ID:      json.RawMessage("null"),
			Error:   &session.RPCError{Code: session.CodeParseError, Message: "parse error"},
		})
		return
	}

	sess, created, ok := s.resolveSession(r, &req)
	if !ok {
		writeResponse(w, http.StatusNotFound, &session.Response{
			JSONRPC: session.JSONRPCVersion,
			ID:      req.ID,
			Error:   &session.RPCError{Code: session.CodeInvalidRequest, Message: "unknown session"},
		})
		return
	}
	if created {
		if client := clientFrom(r.Context()); client != nil && client.ReadOnly {
			sess.RestrictToRead()
		}
		w.Header().Set(SessionHeader, sess.ID)
	}

	resp := s.cfg.Manager.Handle(r.Context(), sess, &req)
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	writeResponse(w, http.StatusOK, resp)
}

// resolveSession finds the session named by the header, or opens one for an
// initialize request that carries none.
func (s *Server) resolveSession(r *http.Request, req *session.Request) (sess *session.Session, created, ok bool) {
	id := r.Header.Get(SessionHeader)
	if id == "" && req.Method == session.MethodInitialize {
		return s.cfg.Manager.Open(), true, true
	}
	sess, found := s.cfg.Manager.Get(id)
	return sess, false, found
}

// handleDisconnect tears the session down; in-flight calls are cancelled.
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Manager.Get(r.Header.Get(SessionHeader))
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.cfg.Manager.Close(sess)
	w.WriteHeader(http.StatusNoContent)
}

func writeResponse(w http.ResponseWriter, status int, resp *session.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
