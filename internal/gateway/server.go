// Package gateway exposes the runtime over local HTTP: a chat endpoint with
// optional SSE streaming, a WebSocket feed of bus events, and a task inbox.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/emberlab/hearth/internal/background"
	"github.com/emberlab/hearth/internal/bus"
	"github.com/emberlab/hearth/internal/config"
	"github.com/emberlab/hearth/internal/orchestrator"
	"github.com/emberlab/hearth/internal/sessions"
)

const shutdownGrace = 5 * time.Second

// Server is the local HTTP surface.
type Server struct {
	cfg    config.GatewayConfig
	orch   *orchestrator.Orchestrator
	runner *background.Runner
	events *bus.Bus
	queue  *sessions.Queue

	rateLimiter *RateLimiter
	httpServer  *http.Server
	mux         *http.ServeMux
}

// NewServer builds a Server around the orchestrator and its runtime.
func NewServer(cfg config.GatewayConfig, orch *orchestrator.Orchestrator, runner *background.Runner, events *bus.Bus, queue *sessions.Queue) *Server {
	return &Server{
		cfg:         cfg,
		orch:        orch,
		runner:      runner,
		events:      events,
		queue:       queue,
		rateLimiter: NewRateLimiter(cfg.RateLimitRPM),
	}
}

// BuildMux creates and caches the route table.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.HandleFunc("GET /api/tasks/inbox", s.handleInbox)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux = mux
	return mux
}

// Start serves until ctx is done, then shuts down gracefully: in-flight
// requests get a bounded drain and the session queue is flushed.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.BuildMux(),
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
		if s.queue != nil {
			if err := s.queue.Shutdown(shutdownCtx); err != nil {
				slog.Warn("session queue drain incomplete", "error", err)
			}
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

type chatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Stream  bool   `json:"stream,omitempty"`
}

type chatResponse struct {
	Response string `json:"response"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	if s.cfg.MaxMessageChars > 0 && len(req.Message) > s.cfg.MaxMessageChars {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("message exceeds %d characters", s.cfg.MaxMessageChars))
		return
	}
	if !s.rateLimiter.Allow(req.UserID) {
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	if req.Stream {
		s.streamChat(w, r, req)
		return
	}

	reply, err := s.orch.HandleMessage(r.Context(), req.UserID, req.Message, nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{Response: reply})
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	tasks, err := s.runner.GetUndelivered(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// StartTestServer binds a random local port and returns its address plus a
// blocking start function. Used by integration tests.
func StartTestServer(s *Server, ctx context.Context) (addr string, start func()) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic("listen: " + err.Error())
	}

	s.httpServer = &http.Server{Handler: s.BuildMux()}
	addr = ln.Addr().String()

	start = func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			s.httpServer.Shutdown(shutdownCtx)
		}()
		s.httpServer.Serve(ln)
	}
	return addr, start
}
