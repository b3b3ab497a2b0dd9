// Package web exposes the orchestrator intents as REST routes and streams
// state changes over a WebSocket. It is a transport for a UI, not a UI.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/threaddeck/internal/approval"
	"github.com/codefionn/threaddeck/internal/backend"
	"github.com/codefionn/threaddeck/internal/logger"
	"github.com/codefionn/threaddeck/internal/orchestrator"
	"github.com/codefionn/threaddeck/internal/session"
	"github.com/codefionn/threaddeck/internal/threads"
)

const maxBodyBytes = 32 << 20

// Server serves the REST routes and the /ws stream of one session.
type Server struct {
	addr        string
	authToken   string
	session     *session.Session
	router      *httprouter.Router
	hub         *Hub
	httpServer  *http.Server
	listener    net.Listener
	unsubscribe func()
	log         *logger.Logger
}

// NewServer creates a server for sess. An empty authToken disables auth.
func NewServer(addr, authToken string, sess *session.Session) *Server {
	s := &Server{
		addr:      addr,
		authToken: authToken,
		session:   sess,
		router:    httprouter.New(),
		hub:       NewHub(),
		log:       logger.Global().WithPrefix("web"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.withAuth(s.handleWebSocket))

	s.router.GET("/api/state", s.withAuth(s.handleState))
	s.router.GET("/api/debug", s.withAuth(s.handleDebug))
	s.router.GET("/api/workspaces", s.withAuth(s.handleWorkspaces))
	s.router.PUT("/api/active-workspace", s.withAuth(s.handleSetActiveWorkspace))
	s.router.POST("/api/threads/ensure", s.withAuth(s.handleEnsureThread))

	s.router.GET("/api/workspaces/:ws/threads", s.withAuth(s.handleListThreads))
	s.router.POST("/api/workspaces/:ws/threads", s.withAuth(s.handleStartThread))
	s.router.POST("/api/workspaces/:ws/older-threads", s.withAuth(s.handleOlderThreads))
	s.router.PUT("/api/workspaces/:ws/active-thread", s.withAuth(s.handleSetActiveThread))

	s.router.POST("/api/workspaces/:ws/threads/:thread/resume", s.withAuth(s.handleResumeThread))
	s.router.POST("/api/workspaces/:ws/threads/:thread/messages", s.withAuth(s.handleSendMessage))
	s.router.POST("/api/workspaces/:ws/threads/:thread/interrupt", s.withAuth(s.handleInterrupt))
	s.router.PUT("/api/workspaces/:ws/threads/:thread/name", s.withAuth(s.handleRename))
	s.router.PUT("/api/workspaces/:ws/threads/:thread/pin", s.withAuth(s.handlePin))
	s.router.DELETE("/api/workspaces/:ws/threads/:thread/pin", s.withAuth(s.handleUnpin))
	s.router.DELETE("/api/workspaces/:ws/threads/:thread", s.withAuth(s.handleRemoveThread))

	s.router.POST("/api/user-input/:request", s.withAuth(s.handleUserInput))
	s.router.POST("/api/denials/:denial/remember", s.withAuth(s.handleRemember))
	s.router.POST("/api/denials/:denial/retry", s.withAuth(s.handleRetry))
	s.router.DELETE("/api/denials/:denial", s.withAuth(s.handleDismiss))
}

// Handler returns the router; Start serves it, tests can mount it directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the hub, forwards store changes to it and begins serving.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.NewSlogHandler(s.log), slog.LevelWarn),
	}

	s.Attach()

	go func() {
		s.log.Info("listening on %s", listener.Addr())
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP server error: %v", err)
		}
	}()
	return nil
}

// Attach starts the hub and subscribes it to the store without serving.
func (s *Server) Attach() {
	go s.hub.Run()
	s.unsubscribe = s.session.Store().Subscribe(func(action threads.Action, _ threads.State) {
		s.hub.Broadcast(&Message{Type: MessageTypeState, Action: action.Type()})
	})
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.Stop()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) withAuth(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if s.authToken != "" && !s.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next(w, r, ps)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // The token guards access
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("failed to upgrade WebSocket: %v", err)
		return
	}

	client := NewClient(s.hub, conn)
	state := s.session.Store().State()
	client.send <- &Message{Type: MessageTypeSnapshot, State: &state}
	s.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "clients": s.hub.ClientCount()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.session.Store().State())
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.session.DebugEntries())
}

func (s *Server) handleWorkspaces(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, s.session.Workspaces().List())
}

func (s *Server) handleSetActiveWorkspace(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req workspaceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, ok := s.session.Workspaces().Get(req.WorkspaceID); !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown workspace " + req.WorkspaceID})
		return
	}
	s.orch().SetActiveWorkspace(req.WorkspaceID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnsureThread(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	threadID, err := s.orch().EnsureThreadForActiveWorkspace(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threadResponse{ThreadID: threadID})
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ws := ps.ByName("ws")
	if err := s.orch().LoadThreadList(r.Context(), ws); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Store().State().Threads(ws))
}

func (s *Server) handleOlderThreads(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	ws := ps.ByName("ws")
	if err := s.orch().LoadOlderThreads(r.Context(), ws); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Store().State().Threads(ws))
}

func (s *Server) handleStartThread(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	threadID, err := s.orch().StartThread(r.Context(), ps.ByName("ws"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, threadResponse{ThreadID: threadID})
}

func (s *Server) handleSetActiveThread(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req activeThreadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.orch().SetActiveThreadID(r.Context(), req.ThreadID, ps.ByName("ws")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResumeThread(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	thread := ps.ByName("thread")
	if err := s.orch().ResumeThread(r.Context(), ps.ByName("ws"), thread); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.Store().State().Items(thread))
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	threadID, err := s.orch().SendMessage(r.Context(), ps.ByName("ws"), ps.ByName("thread"), req.Text, req.Images)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, threadResponse{ThreadID: threadID})
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req interruptRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if err := s.orch().InterruptTurn(r.Context(), ps.ByName("ws"), ps.ByName("thread"), req.TurnID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req renameRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.orch().RenameThread(r.Context(), ps.ByName("ws"), ps.ByName("thread"), req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.orch().PinThread(r.Context(), ps.ByName("ws"), ps.ByName("thread")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnpin(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.orch().UnpinThread(r.Context(), ps.ByName("ws"), ps.ByName("thread")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveThread(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if err := s.orch().RemoveThread(r.Context(), ps.ByName("ws"), ps.ByName("thread")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserInput(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req userInputRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.orch().SubmitUserInput(r.Context(), ps.ByName("request"), req.Answers); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemember(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req ruleRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	s.orch().HandlePermissionRemember(r.Context(), ps.ByName("denial"), approval.Rule{ToolName: req.ToolName, Command: req.Command})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req ruleRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	if err := s.orch().HandlePermissionRetry(r.Context(), ps.ByName("denial"), approval.Rule{ToolName: req.ToolName, Command: req.Command}); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	s.orch().HandlePermissionDismiss(ps.ByName("denial"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) orch() *orchestrator.Orchestrator {
	return s.session.Orchestrator()
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, orchestrator.ErrNoWorkspace):
		status = http.StatusBadRequest
	case errors.Is(err, backend.ErrUnknownWorkspace), errors.Is(err, orchestrator.ErrUnknownRequest):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoLastPrompt), errors.Is(err, orchestrator.ErrInterruptPending):
		status = http.StatusConflict
	case errors.Is(err, backend.ErrNoActiveTurn):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response: %v", err)
	}
}
