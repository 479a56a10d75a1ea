package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"toolgate/pkg/logging"
)

// apiKeyHeader is the fixed header position for the caller secret.
const apiKeyHeader = "X-API-Key"

// Server exposes the gateway over HTTP.
type Server struct {
	gateway    *Gateway
	httpServer *http.Server
}

// NewServer creates the HTTP surface on the given listen address.
func NewServer(gateway *Gateway, addr string) *Server {
	s := &Server{gateway: gateway}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /tools/list", s.handleListTools)
	mux.HandleFunc("POST /tools/call", s.handleCallTool)
	mux.HandleFunc("GET /resources/list", s.handleListResources)
	mux.HandleFunc("POST /resources/read", s.handleReadResource)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the underlying HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the HTTP server until it fails or Stop is called.
func (s *Server) Start() error {
	logging.Info("Gateway", "HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully, bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	logging.Info("Gateway", "Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.gateway.ListTools(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": tools})
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := s.gateway.ListResources(r.Context(), r.Header.Get(apiKeyHeader))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resources": resources})
}

// callToolRequest is the body of POST /tools/call.
type callToolRequest struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

func (s *Server) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req callToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, newError(KindInvalidRequest, "invalid request body", err))
		return
	}

	result, err := s.gateway.CallTool(r.Context(), r.Header.Get(apiKeyHeader), req.Name, req.Arguments)
	if err != nil {
		writeError(w, err)
		return
	}
	// Tool-level errors (IsError results) still return 200 with the
	// result payload; the handler's own error content is the response.
	writeJSON(w, http.StatusOK, result)
}

// readResourceRequest is the body of POST /resources/read.
type readResourceRequest struct {
	URI string `json:"uri"`
}

func (s *Server) handleReadResource(w http.ResponseWriter, r *http.Request) {
	var req readResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, newError(KindInvalidRequest, "invalid request body", err))
		return
	}

	result, err := s.gateway.ReadResource(r.Context(), r.Header.Get(apiKeyHeader), req.URI)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Error struct {
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
	} `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	gerr := classify(err)

	var body errorBody
	body.Error.Kind = gerr.Kind
	body.Error.Message = gerr.Message

	if gerr.Kind == KindInternal {
		logging.Error("Gateway", gerr.Err, "Internal error on gateway call")
	}
	writeJSON(w, gerr.Kind.HTTPStatus(), body)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug("Gateway", "Failed to encode response: %v", err)
	}
}
