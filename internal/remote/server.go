package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/crawlkit/crawld/internal/crawler"
	"github.com/crawlkit/crawld/internal/logging"
	"github.com/crawlkit/crawld/internal/middleware"
)

// ServerConfig controls the worker HTTP surface.
type ServerConfig struct {
	// MaxBatchSize caps the number of URLs per /batch call.
	MaxBatchSize int
	// FetchTimeout bounds each individual fetch inside a batch.
	FetchTimeout time.Duration
	// Capabilities is what this worker advertises in /meta.
	Capabilities Capabilities
}

func (c *ServerConfig) applyDefaults() {
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 32
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
}

// Server serves the worker protocol on top of a local fetcher.
type Server struct {
	cfg     ServerConfig
	fetcher crawler.Fetcher
	router  chi.Router
	logger  *zap.Logger
}

// NewServer wires the protocol routes to the given fetcher.
func NewServer(fetcher crawler.Fetcher, cfg ServerConfig, logger *zap.Logger) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logging.Component(logger, "worker-server"),
	}
	r := chi.NewRouter()
	r.Use(recoverMiddleware(s.logger))
	r.Use(middleware.Metrics)
	r.Get("/meta", s.meta)
	r.Get("/health", s.health)
	r.Get("/openapi.json", s.openapi)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/batch", s.batch)
	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) meta(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, MetaResponse{
		APIVersion:   APIVersion,
		Capabilities: s.cfg.Capabilities,
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, HealthResponse{OK: true, APIVersion: APIVersion})
}

func (s *Server) batch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Requests) == 0 {
		writeError(s.logger, w, http.StatusBadRequest, "requests is empty")
		return
	}
	if len(req.Requests) > s.cfg.MaxBatchSize {
		writeError(s.logger, w, http.StatusBadRequest,
			fmt.Sprintf("batch size %d exceeds limit %d", len(req.Requests), s.cfg.MaxBatchSize))
		return
	}
	if req.IncludeBody && !s.cfg.Capabilities.IncludeBody {
		writeError(s.logger, w, http.StatusBadRequest, "includeBody capability not enabled")
		return
	}

	results := make([]FetchResult, 0, len(req.Requests))
	for _, fr := range req.Requests {
		results = append(results, s.fetchOne(r.Context(), fr, req.IncludeBody))
	}

	w.Header().Set(VersionHeader, strconv.Itoa(APIVersion))
	writeJSON(s.logger, w, http.StatusOK, BatchResponse{
		Summary: BatchSummary{APIVersion: APIVersion, Count: len(results)},
		Results: results,
	})
}

func (s *Server) fetchOne(ctx context.Context, req FetchRequest, includeBody bool) FetchResult {
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	outcome, err := s.fetcher.Fetch(fetchCtx, req.URL)
	if err != nil {
		s.logger.Warn("batch fetch failed", zap.String("url", req.URL), zap.Error(err))
		return FetchResult{URL: req.URL, Error: err.Error()}
	}
	result := FetchResult{
		URL:        req.URL,
		FinalURL:   outcome.FinalURL,
		StatusCode: outcome.StatusCode,
		Headers:    outcome.Headers,
		Bytes:      outcome.Bytes,
		DurationMs: outcome.Duration.Milliseconds(),
	}
	if includeBody && len(outcome.Body) > 0 {
		result.BodyBase64 = base64.StdEncoding.EncodeToString(outcome.Body)
	}
	return result
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(logger, w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
