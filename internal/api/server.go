// Package api implements the HTTP API for chatting with the agent and
// inspecting stored conversations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/nugget/ember-agent/internal/agent"
	"github.com/nugget/ember-agent/internal/buildinfo"
	"github.com/nugget/ember-agent/internal/chatlog"
	"github.com/nugget/ember-agent/internal/memory"
	"github.com/nugget/ember-agent/internal/tools"
	"github.com/nugget/ember-agent/internal/web"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response,
// which is not actionable but worth tracking for debugging.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address      string
	port         int
	agent        *agent.Agent
	registry     *tools.Registry
	store        *memory.Store
	systemPrompt string
	defaultModel string
	logger       *slog.Logger
	server       *http.Server
	stats        *SessionStats

	// turnMu guards turnLocks, which serializes chat turns per
	// conversation so concurrent requests cannot interleave history
	// writes. Entries are refcounted and removed when idle, so the
	// table stays bounded by in-flight turns.
	turnMu    sync.Mutex
	turnLocks map[string]*turnLock
}

// turnLock is one conversation's turn mutex plus the number of
// goroutines holding or waiting on it.
type turnLock struct {
	mu   sync.Mutex
	refs int
}

// SessionStats tracks request counts for the current process lifetime.
type SessionStats struct {
	mu            sync.Mutex
	totalRequests int64
	totalErrors   int64
	lastRequest   time.Time
}

func (s *SessionStats) record(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	if failed {
		s.totalErrors++
	}
	s.lastRequest = time.Now()
}

// Snapshot returns a copy-safe view of the session stats.
func (s *SessionStats) Snapshot() (requests, errors int64, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRequests, s.totalErrors, s.lastRequest
}

// NewServer creates a new API server. The system prompt is prepended to
// every new conversation; defaultModel is reported over MQTT and in the
// stats endpoint.
func NewServer(address string, port int, ag *agent.Agent, registry *tools.Registry, store *memory.Store, systemPrompt, defaultModel string, logger *slog.Logger) *Server {
	return &Server{
		address:      address,
		port:         port,
		agent:        ag,
		registry:     registry,
		store:        store,
		systemPrompt: systemPrompt,
		defaultModel: defaultModel,
		logger:       logger,
		stats:        &SessionStats{},
		turnLocks:    make(map[string]*turnLock),
	}
}

// Start begins serving HTTP requests. It blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)

	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)

	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/session/stats", s.handleSessionStats)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	// Transcript web UI
	web.RegisterRoutes(mux, s.store, s.logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.withLogging(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // tool loops can run long
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// --- MQTT stats source ---

// Uptime returns the process uptime.
func (s *Server) Uptime() time.Duration {
	return buildinfo.Uptime()
}

// Version returns the build version string.
func (s *Server) Version() string {
	return buildinfo.Version
}

// DefaultModel returns the configured default model ID.
func (s *Server) DefaultModel() string {
	return s.defaultModel
}

// ActiveSessions returns the number of stored conversations.
func (s *Server) ActiveSessions() int {
	convs, err := s.store.ListConversations()
	if err != nil {
		s.logger.Debug("list conversations for stats", "error", err)
		return 0
	}
	return len(convs)
}

// LastRequestTime returns when the most recent chat request completed.
func (s *Server) LastRequestTime() time.Time {
	_, _, last := s.stats.Snapshot()
	return last
}

// --- Chat ---

// ChatRequest is the request body for POST /v1/chat. Structure, when
// set, is a JSON schema the final answer must conform to; the response
// text is then a JSON document rather than prose.
type ChatRequest struct {
	Message        string         `json:"message"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Structure      map[string]any `json:"structure,omitempty"`
	StructureName  string         `json:"structure_name,omitempty"`
}

// ChatResponse is the response body for POST /v1/chat.
type ChatResponse struct {
	Response       string   `json:"response"`
	ConversationID string   `json:"conversation_id"`
	ToolCalls      []string `json:"tool_calls,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	convID := req.ConversationID
	if convID == "" {
		convID = "default"
	}

	// One turn at a time per conversation.
	unlock := s.lockConversation(convID)
	defer unlock()

	clog, persisted, err := s.loadConversation(convID)
	if err != nil {
		s.logger.Error("load conversation failed", "conversation_id", convID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		s.stats.record(true)
		return
	}

	clog.Append(chatlog.UserContent{Text: req.Message})

	var answer string
	if req.Structure != nil {
		answer, err = s.agent.HandleStructuredTurn(r.Context(), clog, s.registry, req.StructureName, req.Structure)
	} else {
		answer, err = s.agent.HandleTurn(r.Context(), clog, s.registry)
	}

	// Persist whatever the turn produced even when it failed partway;
	// tool results already executed should not be lost.
	toolsUsed := s.persistNewContents(convID, clog, persisted)

	if err != nil {
		s.logger.Error("agent turn failed", "conversation_id", convID, "error", err)
		s.stats.record(true)
		var soErr *agent.StructuredOutputError
		if errors.As(err, &soErr) {
			s.errorResponse(w, http.StatusBadGateway, "model produced invalid structured output")
			return
		}
		s.errorResponse(w, http.StatusBadGateway, "agent error: "+err.Error())
		return
	}

	s.stats.record(false)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		Response:       answer,
		ConversationID: convID,
		ToolCalls:      toolsUsed,
	}, s.logger)
}

// lockConversation acquires the per-conversation turn lock and returns
// the unlock function. The lock entry is dropped from the table once
// the last holder releases it.
func (s *Server) lockConversation(convID string) func() {
	s.turnMu.Lock()
	l, ok := s.turnLocks[convID]
	if !ok {
		l = &turnLock{}
		s.turnLocks[convID] = l
	}
	l.refs++
	s.turnMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		s.turnMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.turnLocks, convID)
		}
		s.turnMu.Unlock()
	}
}

// loadConversation rebuilds a ChatLog from the store, prepending the
// configured system prompt when the stored history lacks one. It
// returns the log and how many entries are already persisted.
func (s *Server) loadConversation(convID string) (*chatlog.ChatLog, int, error) {
	contents, err := s.store.Load(convID)
	if err != nil {
		return nil, 0, err
	}

	clog := chatlog.New(s.registry, s.logger)
	hasSystem := false
	if len(contents) > 0 {
		_, hasSystem = contents[0].(chatlog.SystemContent)
	}
	if !hasSystem && s.systemPrompt != "" {
		clog.Append(chatlog.SystemContent{Text: s.systemPrompt})
	}
	for _, c := range contents {
		clog.Append(c)
	}

	// Everything currently in the log except a freshly added system
	// prompt is already in the store.
	persisted := len(contents)
	if !hasSystem && s.systemPrompt != "" {
		persisted++
		if err := s.store.Append(convID, chatlog.SystemContent{Text: s.systemPrompt}); err != nil {
			return nil, 0, err
		}
	}
	return clog, persisted, nil
}

// persistNewContents appends every log entry past the persisted mark to
// the store and returns the names of tools invoked during the turn.
func (s *Server) persistNewContents(convID string, clog *chatlog.ChatLog, persisted int) []string {
	var toolsUsed []string
	contents := clog.Contents()
	for _, c := range contents[persisted:] {
		if tr, ok := c.(chatlog.ToolResultContent); ok {
			toolsUsed = append(toolsUsed, tr.ToolName)
		}
		if err := s.store.Append(convID, c); err != nil {
			s.logger.Error("persist conversation entry failed",
				"conversation_id", convID, "error", err)
		}
	}
	return toolsUsed
}

// --- Conversations ---

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	convs, err := s.store.ListConversations()
	if err != nil {
		s.logger.Error("list conversations failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversations": convs,
		"count":         len(convs),
	}, s.logger)
}

// TranscriptMessage is the JSON rendering of one stored history entry.
type TranscriptMessage struct {
	Role       string             `json:"role"`
	Content    string             `json:"content,omitempty"`
	ToolCalls  []chatlog.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
	ToolName   string             `json:"tool_name,omitempty"`
	Result     any                `json:"result,omitempty"`
}

// RenderTranscript converts stored history entries to their JSON
// representation.
func RenderTranscript(contents []chatlog.Content) []TranscriptMessage {
	msgs := make([]TranscriptMessage, 0, len(contents))
	for _, c := range contents {
		switch v := c.(type) {
		case chatlog.SystemContent:
			msgs = append(msgs, TranscriptMessage{Role: "system", Content: v.Text})
		case chatlog.UserContent:
			msgs = append(msgs, TranscriptMessage{Role: "user", Content: v.Text})
		case chatlog.AssistantContent:
			msgs = append(msgs, TranscriptMessage{
				Role:      "assistant",
				Content:   v.Content,
				ToolCalls: v.ToolCalls,
			})
		case chatlog.ToolResultContent:
			msgs = append(msgs, TranscriptMessage{
				Role:       "tool",
				ToolCallID: v.ToolCallID,
				ToolName:   v.ToolName,
				Result:     v.Result,
			})
		}
	}
	return msgs
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.logger.Error("get conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	contents, err := s.store.Load(id)
	if err != nil {
		s.logger.Error("load conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"conversation": conv,
		"messages":     RenderTranscript(contents),
	}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conv, err := s.store.GetConversation(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	if err := s.store.Clear(id); err != nil {
		s.logger.Error("clear conversation failed", "conversation_id", id, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to clear conversation")
		return
	}

	s.logger.Info("conversation cleared", "conversation_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// --- Introspection ---

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	type toolInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	infos := make([]toolInfo, 0, s.registry.Len())
	for _, t := range s.registry.List() {
		infos = append(infos, toolInfo{Name: t.Name, Description: t.Description})
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"tools": infos,
		"count": len(infos),
	}, s.logger)
}

func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	requests, errCount, last := s.stats.Snapshot()

	stats := map[string]any{
		"total_requests": requests,
		"total_errors":   errCount,
		"default_model":  s.defaultModel,
		"uptime":         buildinfo.Uptime().String(),
		"memory":         s.store.Stats(),
		"build":          buildinfo.Info(),
	}
	if !last.IsZero() {
		stats["last_request"] = last.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, stats, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Ember",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
