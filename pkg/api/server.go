package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/session"
	"github.com/prathyushnallamothu/botforge/pkg/store"
)

// Server represents the API server
type Server struct {
	Router    *mux.Router
	Sessions  *session.Manager
	FlowStore *store.FileStore
	Archive   *store.SQLiteStore
	Addr      string
	upgrader  websocket.Upgrader
}

// ChatRequest represents a chat message from the caller
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse represents the terminal outcome of one turn
type ChatResponse struct {
	SessionID string         `json:"session_id"`
	Reply     string         `json:"reply"`
	Status    agent.Status   `json:"status"`
	Flow      map[string]any `json:"flow,omitempty"`
	Defects   []string       `json:"defects,omitempty"`
}

// FlowResponse carries a session's current flow document
type FlowResponse struct {
	SessionID string         `json:"session_id"`
	Flow      map[string]any `json:"flow"`
	SavedPath string         `json:"saved_path,omitempty"`
	SavedID   string         `json:"saved_id,omitempty"`
}

// HistoryResponse carries a read-only transcript snapshot
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Turns     []session.Turn `json:"turns"`
}

// GenerateRequest is the stateless one-shot flow request
type GenerateRequest struct {
	Description string `json:"description"`
}

// NewServer creates a new API server
func NewServer(addr string, sessions *session.Manager) *Server {
	server := &Server{
		Router:   mux.NewRouter(),
		Sessions: sessions,
		Addr:     addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}

	server.registerRoutes()
	return server
}

// WithFlowStore enables saving flows to the flows directory
func (s *Server) WithFlowStore(flowStore *store.FileStore) *Server {
	s.FlowStore = flowStore
	return s
}

// WithArchive enables archiving saved flows to the database
func (s *Server) WithArchive(archive *store.SQLiteStore) *Server {
	s.Archive = archive
	return s
}

// registerRoutes registers all API routes
func (s *Server) registerRoutes() {
	api := s.Router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.healthCheckHandler).Methods("GET")

	api.HandleFunc("/sessions", s.createSessionHandler).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.getSessionHandler).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.deleteSessionHandler).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/chat", s.chatHandler).Methods("POST")
	api.HandleFunc("/sessions/{id}/flow", s.getFlowHandler).Methods("GET")
	api.HandleFunc("/sessions/{id}/flow/save", s.saveFlowHandler).Methods("POST")
	api.HandleFunc("/sessions/{id}/history", s.getHistoryHandler).Methods("GET")
	api.HandleFunc("/sessions/{id}/reset", s.resetSessionHandler).Methods("POST")
	api.HandleFunc("/sessions/{id}/stream", s.streamSessionHandler)

	api.HandleFunc("/generate", s.generateHandler).Methods("POST")
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.Addr)
	return http.ListenAndServe(s.Addr, s.Router)
}

// writeError maps a core error to an HTTP status
func writeError(w http.ResponseWriter, err error) {
	var gatewayErr *agent.GatewayError

	switch {
	case errors.Is(err, session.ErrNotFound):
		http.Error(w, "Session not found", http.StatusNotFound)
	case errors.As(err, &gatewayErr):
		http.Error(w, fmt.Sprintf("Model gateway failed: %v", gatewayErr.Err), http.StatusBadGateway)
	default:
		http.Error(w, fmt.Sprintf("Internal error: %v", err), http.StatusInternalServerError)
	}
}

// healthCheckHandler handles health check requests
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"ok": true, "active_sessions": s.Sessions.Count()})
}

// createSessionHandler creates a new session
func (s *Server) createSessionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sess := s.Sessions.Create()
	json.NewEncoder(w).Encode(map[string]string{"id": sess.ID})
}

// getSessionHandler returns session info
func (s *Server) getSessionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	sess, err := s.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(sess.Info())
}

// deleteSessionHandler removes a session
func (s *Server) deleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.Sessions.Delete(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"detail": "Session deleted"})
}

// chatHandler sends a user message to a session
func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]

	var request ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if request.Message == "" {
		http.Error(w, "Message must not be empty", http.StatusBadRequest)
		return
	}

	result, err := s.Sessions.Chat(r.Context(), id, request.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(ChatResponse{
		SessionID: id,
		Reply:     result.Reply,
		Status:    result.Status,
		Flow:      result.Flow,
		Defects:   result.Defects,
	})
}

// getFlowHandler returns the session's current flow
func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]

	flow, err := s.Sessions.Flow(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if flow == nil {
		http.Error(w, "No flow generated yet", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(FlowResponse{SessionID: id, Flow: flow})
}

// saveFlowHandler persists the session's current flow
func (s *Server) saveFlowHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]
	name := r.URL.Query().Get("name")

	flow, err := s.Sessions.Flow(id)
	if err != nil {
		writeError(w, err)
		return
	}
	if flow == nil {
		http.Error(w, "No flow generated yet", http.StatusNotFound)
		return
	}

	response := FlowResponse{SessionID: id, Flow: flow}

	if s.FlowStore != nil {
		path, err := s.FlowStore.SaveFlow(flow, name)
		if err != nil {
			writeError(w, err)
			return
		}
		response.SavedPath = path
	}

	if s.Archive != nil {
		savedID, err := s.Archive.SaveFlow(r.Context(), id, name, flow)
		if err != nil {
			writeError(w, err)
			return
		}
		response.SavedID = savedID
	}

	json.NewEncoder(w).Encode(response)
}

// getHistoryHandler returns the session transcript
func (s *Server) getHistoryHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id := mux.Vars(r)["id"]

	turns, err := s.Sessions.History(id)
	if err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(HistoryResponse{SessionID: id, Turns: turns})
}

// resetSessionHandler clears a session's transcript and flow
func (s *Server) resetSessionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := s.Sessions.Reset(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]string{"detail": "Session reset"})
}

// generateHandler is the stateless one-shot endpoint: create a session, run
// one turn to completion, tear the session down.
func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var request GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if request.Description == "" {
		http.Error(w, "Description must not be empty", http.StatusBadRequest)
		return
	}

	sess := s.Sessions.Create()
	defer s.Sessions.Delete(sess.ID)

	prompt := fmt.Sprintf("Create a bot with these requirements:\n%s\n\nGenerate the complete flow JSON now.", request.Description)
	result, err := s.Sessions.Chat(r.Context(), sess.ID, prompt)
	if err != nil {
		writeError(w, err)
		return
	}

	if result.Status != agent.StatusReady {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}
	json.NewEncoder(w).Encode(ChatResponse{
		SessionID: sess.ID,
		Reply:     result.Reply,
		Status:    result.Status,
		Flow:      result.Flow,
		Defects:   result.Defects,
	})
}

// streamSessionHandler streams turn events over a WebSocket. Clients see the
// repair loop that is otherwise invisible behind a chat call.
func (s *Server) streamSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	events := make(chan agent.TurnEvent, 32)
	cancel, err := s.Sessions.Subscribe(id, func(event agent.TurnEvent) {
		select {
		case events <- event:
		default:
			// Slow consumer; drop rather than stall the turn
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}
	defer conn.Close()

	// Read loop just detects disconnection
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case event := <-events:
			if err := conn.WriteJSON(event); err != nil {
				log.Printf("Failed to write to WebSocket: %v", err)
				return
			}
		}
	}
}
