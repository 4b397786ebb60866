// Package server exposes the federator over HTTP: the query ingress,
// the debug schema search, and liveness endpoints.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polyfed/federator/catalog"
	"github.com/polyfed/federator/core"
	"github.com/polyfed/federator/orchestration"
)

// Server is the ingress HTTP server.
type Server struct {
	orchestrator *orchestration.Orchestrator
	catalog      *catalog.SchemaCatalog
	logger       core.Logger

	httpServer *http.Server
}

// New creates a server on the given port.
func New(port int, orchestrator *orchestration.Orchestrator, cat *catalog.SchemaCatalog) *Server {
	s := &Server{
		orchestrator: orchestrator,
		catalog:      cat,
		logger:       &core.NoOpLogger{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/schema/search", s.handleSchemaSearch)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           otelhttp.NewHandler(mux, "federator-ingress"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// SetLogger sets the logger provider
func (s *Server) SetLogger(logger core.Logger) {
	if logger == nil {
		s.logger = &core.NoOpLogger{}
	} else {
		s.logger = logger
	}
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{
		"operation": "server_start",
		"addr":      s.httpServer.Addr,
	})
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the full handler chain, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// QueryRequest is the ingress request body.
type QueryRequest struct {
	UserID  string                 `json:"user_id"`
	NLQuery string                 `json:"nl_query"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.NLQuery) == "" {
		writeError(w, http.StatusBadRequest, "nl_query is required")
		return
	}

	result, err := s.orchestrator.Handle(r.Context(), req.UserID, req.NLQuery, req.Context)
	if err != nil {
		s.logger.Error("Query failed", map[string]interface{}{
			"operation": "http_query",
			"user_id":   req.UserID,
			"error":     err.Error(),
		})
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSchemaSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query().Get("q")
	s.catalog.EnsureLoaded(r.Context())
	hits := s.catalog.SearchFields(q)
	if hits == nil {
		hits = []catalog.FieldHit{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"q":    q,
		"hits": hits,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"schemas": s.catalog.Len(),
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "federator",
		"endpoints": []string{
			"POST /api/v1/query",
			"GET /api/v1/schema/search",
			"GET /health",
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
