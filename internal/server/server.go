// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/deannos/tariff-billing-engine/internal/billing"
	"github.com/deannos/tariff-billing-engine/internal/config"
	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BillCalculator computes a bill for a request.
type BillCalculator interface {
	Calculate(ctx context.Context, req model.BillRequest) (*model.BillResult, error)
}

// BillPublisher forwards computed bills downstream.
type BillPublisher interface {
	Publish(ctx context.Context, bill *model.BillResult) error
	GetMetrics() map[string]interface{}
}

// HTTPServer exposes the billing engine over HTTP.
type HTTPServer struct {
	server      *http.Server
	config      *config.Config
	calculator  BillCalculator
	publisher   BillPublisher
	rateLimiter *rate.Limiter
	shutdownWg  sync.WaitGroup
	logger      *zap.Logger

	mu       sync.Mutex
	requests uint64
	computed uint64
	failures map[string]uint64
}

// NewHTTPServer creates a new HTTPServer. publisher may be nil when bill events are disabled.
func NewHTTPServer(cfg *config.Config, calculator BillCalculator, publisher BillPublisher, logger *zap.Logger) *HTTPServer {
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = cfg.RateLimit.PerSecond * 2
	}

	mux := http.NewServeMux()
	srv := &HTTPServer{
		config:      cfg,
		calculator:  calculator,
		publisher:   publisher,
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), burst),
		logger:      logger,
		failures:    make(map[string]uint64),
	}

	srv.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	mux.HandleFunc("/api/v1/bills/calculate", srv.handleCalculate)
	mux.HandleFunc("/api/v1/bills/batch", srv.handleBatch)
	mux.HandleFunc("/health", srv.handleHealthCheck)
	if cfg.Metrics.Enabled {
		mux.HandleFunc(cfg.Metrics.Path, srv.handleMetrics)
	}
	return srv
}

// Handler returns the request router.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server.
func (s *HTTPServer) Start() error {
	s.shutdownWg.Add(1)
	go func() {
		defer s.shutdownWg.Done()
		s.logger.Info("HTTP server starting", zap.Int("port", s.config.Server.Port))

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("HTTP server failed to start", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *HTTPServer) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.shutdownWg.Wait()
	return err
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// BatchItem is one entry of a batch response: either Result or Error is set.
type BatchItem struct {
	Index  int               `json:"index"`
	Result *model.BillResult `json:"result,omitempty"`
	Error  *ErrorResponse    `json:"error,omitempty"`
}

func (s *HTTPServer) allow(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method_not_allowed", Message: "use POST"})
		return false
	}
	if !s.rateLimiter.Allow() {
		s.writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate_limited", Message: "Rate limit exceeded. Please try again later."})
		return false
	}
	return true
}

// handleCalculate handles POST /api/v1/bills/calculate.
func (s *HTTPServer) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	defer r.Body.Close()

	var req model.BillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: fmt.Sprintf("Invalid JSON payload: %v", err)})
		return
	}

	result, err := s.calculate(r.Context(), req)
	if err != nil {
		s.writeJSON(w, statusFor(err), toErrorResponse(err))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleBatch handles POST /api/v1/bills/batch. Items are computed independently and in parallel.
func (s *HTTPServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	if !s.allow(w, r) {
		return
	}
	defer r.Body.Close()

	var reqs []model.BillRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: fmt.Sprintf("Invalid JSON payload: %v", err)})
		return
	}
	if len(reqs) == 0 {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_input", Message: "No bill requests provided"})
		return
	}
	if len(reqs) > s.config.Batch.MaxItems {
		s.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_input",
			Message: fmt.Sprintf("Batch of %d exceeds the limit of %d", len(reqs), s.config.Batch.MaxItems),
		})
		return
	}

	ctx := r.Context()
	mapper := iter.Mapper[model.BillRequest, BatchItem]{MaxGoroutines: s.config.Batch.MaxConcurrency}
	items := mapper.Map(reqs, func(req *model.BillRequest) BatchItem {
		result, err := s.calculate(ctx, *req)
		if err != nil {
			resp := toErrorResponse(err)
			return BatchItem{Error: &resp}
		}
		return BatchItem{Result: result}
	})
	for i := range items {
		items[i].Index = i
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *HTTPServer) calculate(ctx context.Context, req model.BillRequest) (*model.BillResult, error) {
	s.mu.Lock()
	s.requests++
	s.mu.Unlock()

	result, err := s.calculator.Calculate(ctx, req)
	if err != nil {
		class := billing.Class(err)
		s.mu.Lock()
		s.failures[class]++
		s.mu.Unlock()

		fields := []zap.Field{
			zap.String("provider", req.ProviderCode),
			zap.String("category", req.Category),
			zap.String("class", class),
			zap.Error(err),
		}
		if class == "repository_error" || class == "internal" {
			s.logger.Error("Bill calculation failed", fields...)
		} else {
			s.logger.Info("Bill request rejected", fields...)
		}
		return nil, err
	}

	s.mu.Lock()
	s.computed++
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, result); err != nil {
			s.logger.Warn("Bill computed but not published",
				zap.String("provider", result.ProviderCode),
				zap.Error(err),
			)
		}
	}
	return result, nil
}

func statusFor(err error) int {
	switch billing.Class(err) {
	case "invalid_input":
		return http.StatusBadRequest
	case "provider_not_found", "tariff_not_found":
		return http.StatusNotFound
	case "repository_error":
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func toErrorResponse(err error) ErrorResponse {
	class := billing.Class(err)
	if class == "repository_error" || class == "internal" {
		// Data-layer details stay in the logs.
		return ErrorResponse{Error: class, Message: "bill could not be computed, try again later"}
	}
	return ErrorResponse{Error: class, Message: err.Error()}
}

// handleHealthCheck handles GET requests to /health.
func (s *HTTPServer) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

// handleMetrics reports request and publisher counters as JSON.
func (s *HTTPServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, s.GetMetrics())
}

// GetMetrics returns the server counters merged with the publisher's, if any.
func (s *HTTPServer) GetMetrics() map[string]interface{} {
	s.mu.Lock()
	metrics := map[string]interface{}{
		"bill_requests_total":  s.requests,
		"bills_computed_total": s.computed,
	}
	for class, n := range s.failures {
		metrics["bill_failures_"+class+"_total"] = n
	}
	s.mu.Unlock()

	if s.publisher != nil {
		for k, v := range s.publisher.GetMetrics() {
			metrics[k] = v
		}
	}
	return metrics
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Int("status", status), zap.Error(err))
	}
}
