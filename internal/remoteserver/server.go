// Package remoteserver implements the WebSocket control plane (T3): a
// chi-mounted upgrade route, authenticated via M6's two-tier token
// system, dispatching a closed set of request kinds into the execution
// engine and auditing every request via M7.
package remoteserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/ralphtui/ralph/internal/audit"
	"github.com/ralphtui/ralph/internal/registry"
	"github.com/ralphtui/ralph/internal/remoteauth"
)

// Kind is one of the closed set of request kinds the dispatch loop accepts.
type Kind string

const (
	KindAuth           Kind = "auth"
	KindCheckConfig    Kind = "check_config"
	KindPushConfig     Kind = "push_config"
	KindListSessions   Kind = "list_sessions"
	KindStartRun       Kind = "start_run"
	KindStopRun        Kind = "stop_run"
	KindGetSessionState Kind = "get_session_state"
	KindStreamEvents    Kind = "stream_events"
)

// Request is the envelope every inbound client message arrives in.
type Request struct {
	Type            Kind            `json:"type"`
	ID              string          `json:"id"`
	Token           string          `json:"token,omitempty"`
	ConnectionToken string          `json:"connection_token,omitempty"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// Response is the envelope every outbound reply is wrapped in.
type Response struct {
	Type            string      `json:"type"`
	ID              string      `json:"id,omitempty"`
	Success         bool        `json:"success"`
	Error           string      `json:"error,omitempty"`
	ConnectionToken string      `json:"connection_token,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}

// Dispatcher performs the actual work behind each non-auth request kind,
// implemented by an in-process call into T1/T2 or the config loader.
type Dispatcher interface {
	CheckConfig(ctx context.Context, payload json.RawMessage) (interface{}, error)
	PushConfig(ctx context.Context, payload json.RawMessage) (interface{}, error)
	StartRun(ctx context.Context, payload json.RawMessage) (interface{}, error)
	StopRun(ctx context.Context, payload json.RawMessage) (interface{}, error)
	GetSessionState(ctx context.Context, payload json.RawMessage) (interface{}, error)
}

// State is the lifecycle snapshot returned by Start.
type State struct {
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Server is the T3 WebSocket remote control plane.
type Server struct {
	logger     *slog.Logger
	tokens     *remoteauth.Store
	auditLog   *audit.Log
	sessions   *registry.Registry
	dispatcher Dispatcher
	upgrader   websocket.Upgrader

	httpServer *http.Server

	mu      sync.Mutex
	sockets map[*websocket.Conn]struct{}
}

// New builds a Server. corsOrigins empty means CORS is not enabled.
func New(logger *slog.Logger, tokens *remoteauth.Store, auditLog *audit.Log, sessions *registry.Registry, dispatcher Dispatcher) *Server {
	return &Server{
		logger:     logger,
		tokens:     tokens,
		auditLog:   auditLog,
		sessions:   sessions,
		dispatcher: dispatcher,
		upgrader:   websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		sockets:    make(map[*websocket.Conn]struct{}),
	}
}

// Router builds the chi mount: one upgrade route, cors applied ahead of it.
func (s *Server) Router(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	if len(corsOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   corsOrigins,
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
		}).Handler)
	}
	r.Get("/ws", s.handleUpgrade)
	return r
}

// Start begins listening on addr and returns its lifecycle state.
func (s *Server) Start(host string, port int, corsOrigins []string) (State, error) {
	s.httpServer = &http.Server{
		Addr:    addr(host, port),
		Handler: s.Router(corsOrigins),
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("remote server stopped unexpectedly", "error", err)
		}
	}()
	return State{Host: host, Port: port, PID: os.Getpid(), StartedAt: time.Now()}, nil
}

// Stop closes all sockets, revokes every in-memory connection token, and
// shuts the HTTP server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	for conn := range s.sockets {
		_ = conn.Close()
	}
	s.sockets = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	s.tokens.RevokeAll()

	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func addr(host string, port int) string {
	return host + ":" + strconv.Itoa(port)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	s.mu.Lock()
	s.sockets[conn] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sockets, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	clientID := r.RemoteAddr
	authenticated := false

	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		resp := s.handle(r.Context(), clientID, &authenticated, req)
		if err := conn.WriteJSON(resp); err != nil {
			return
		}
	}
}

func (s *Server) handle(ctx context.Context, clientID string, authenticated *bool, req Request) Response {
	if req.Type == KindAuth {
		return s.handleAuth(clientID, req)
	}

	if !*authenticated {
		tok, ok, refresh := s.tokens.ValidateConnectionToken(req.ConnectionToken)
		if !ok {
			s.audit(clientID, string(req.Type), false, "invalid or expired connection token")
			return Response{Type: string(req.Type) + "_response", ID: req.ID, Success: false, Error: "unauthorized"}
		}
		*authenticated = true
		_ = tok
		_ = refresh
	}

	var data interface{}
	var err error
	switch req.Type {
	case KindCheckConfig:
		data, err = s.dispatcher.CheckConfig(ctx, req.Payload)
	case KindPushConfig:
		data, err = s.dispatcher.PushConfig(ctx, req.Payload)
	case KindListSessions:
		data, err = s.listSessions()
	case KindStartRun:
		data, err = s.dispatcher.StartRun(ctx, req.Payload)
	case KindStopRun:
		data, err = s.dispatcher.StopRun(ctx, req.Payload)
	case KindGetSessionState:
		data, err = s.dispatcher.GetSessionState(ctx, req.Payload)
	default:
		err = errUnknownKind(req.Type)
	}

	success := err == nil
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	s.audit(clientID, string(req.Type), success, errMsg)

	return Response{
		Type:    string(req.Type) + "_response",
		ID:      req.ID,
		Success: success,
		Error:   errMsg,
		Data:    data,
	}
}

func (s *Server) handleAuth(clientID string, req Request) Response {
	if !s.tokens.ValidateServerToken(req.Token) {
		s.audit(clientID, "auth", false, "invalid server token")
		return Response{Type: "auth_response", ID: req.ID, Success: false, Error: "invalid token"}
	}
	conn := s.tokens.IssueConnectionToken(clientID)
	s.audit(clientID, "auth", true, "")
	return Response{Type: "auth_response", ID: req.ID, Success: true, ConnectionToken: conn.Value}
}

func (s *Server) listSessions() (interface{}, error) {
	return s.sessions.List(registry.Filter{})
}

func (s *Server) audit(clientID, action string, success bool, errMsg string) {
	if s.auditLog == nil {
		return
	}
	_ = s.auditLog.Append(audit.Entry{
		Timestamp: time.Now(),
		ClientID:  clientID,
		Action:    action,
		Success:   success,
		Error:     errMsg,
	})
}

type errUnknownKind Kind

func (e errUnknownKind) Error() string {
	return "unknown request kind: " + string(e)
}
