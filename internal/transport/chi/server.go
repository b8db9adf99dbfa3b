// Package chi is the HTTP surface: the search endpoint, health and metrics.
package chi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// tenantHeader carries the tenant on every search request.
const tenantHeader = "X-Company-Key"

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Searcher is the consumer interface over the search driver (ISP).
type Searcher interface {
	Search(ctx context.Context, tenant, text, objectType string, limit int) []map[string]any
	Ping(ctx context.Context) error
}

// Server exposes the search API over HTTP.
type Server struct {
	searcher Searcher
	logger   *zap.Logger
}

// NewServer creates an HTTP API server.
func NewServer(searcher Searcher, logger *zap.Logger) *Server {
	return &Server{searcher: searcher, logger: logger}
}

// Routes mounts the API endpoints on a router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/search", s.handleSearch)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
}

// handleSearch handles GET /search. The driver degrades failures to an empty
// result set, so this endpoint answers 200 even when the cluster is down.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	tenant := r.Header.Get(tenantHeader)
	if tenant == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing "+tenantHeader+" header")
		return
	}

	q := r.URL.Query()
	text := q.Get("q")
	if text == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "query parameter q is required")
		return
	}

	limit := defaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxLimit {
			writeError(w, http.StatusBadRequest, "validation_failed",
				"limit must be between 1 and "+strconv.Itoa(maxLimit))
			return
		}
		limit = n
	}

	items := s.searcher.Search(r.Context(), tenant, text, q.Get("type"), limit)
	if items == nil {
		items = []map[string]any{}
	}

	writeJSON(w, http.StatusOK, searchResponse{Items: items, Total: len(items)})
}

// handleHealth handles GET /healthz.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.searcher.Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics handles GET /metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

type searchResponse struct {
	Items []map[string]any `json:"items"`
	Total int              `json:"total"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
