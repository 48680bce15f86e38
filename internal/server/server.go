/**
 * Service endpoint layer
 *
 * External-facing HTTP surface: validates input, invokes the reconciliation
 * workflow, and maps its outcome to the response envelope. Requests are
 * handled synchronously to completion unless the caller opts into the queued
 * mode. CORS is restricted to a single configured origin.
 */

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gradeworks/mcq-service/internal/config"
	svcerrors "github.com/gradeworks/mcq-service/internal/errors"
	"github.com/gradeworks/mcq-service/internal/logging"
	"github.com/gradeworks/mcq-service/internal/queue"
	"github.com/gradeworks/mcq-service/internal/storage"
	"github.com/gradeworks/mcq-service/internal/workflow"
)

// healthProbeTimeout bounds the remote reachability probe on /health
const healthProbeTimeout = 5 * time.Second

// ScriptRunner runs the reconciliation workflow for one script
type ScriptRunner interface {
	RunForScript(ctx context.Context, scriptID int) (*workflow.Outcome, error)
}

// HealthChecker probes the remote record store
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// JobQueue is the optional async job surface
type JobQueue interface {
	Enqueue(ctx context.Context, scriptID int) (string, error)
}

// JobReader serves job status polls and queue stats
type JobReader interface {
	Job(ctx context.Context, jobID string) (*queue.JobStatus, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// RunHistory serves recorded workflow runs
type RunHistory interface {
	GetRunsForScript(ctx context.Context, scriptID int) ([]storage.RunRecord, error)
}

// Server is the HTTP service
type Server struct {
	cfg        *config.Config
	runner     ScriptRunner
	health     HealthChecker
	jobs       JobQueue   // nil when async mode is disabled
	jobReader  JobReader  // nil when async mode is disabled
	runHistory RunHistory // nil when run history is disabled
	logger     *logging.Logger
	httpServer *http.Server
}

// Options holds the optional collaborators of the server
type Options struct {
	Jobs       JobQueue
	JobReader  JobReader
	RunHistory RunHistory
}

// New creates the HTTP service
func New(cfg *config.Config, runner ScriptRunner, health HealthChecker, opts Options) *Server {
	s := &Server{
		cfg:        cfg,
		runner:     runner,
		health:     health,
		jobs:       opts.Jobs,
		jobReader:  opts.JobReader,
		runHistory: opts.RunHistory,
		logger:     logging.NewLogger("Server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /run/{scriptID}", s.handleRunGet)
	mux.HandleFunc("POST /run", s.handleRunPost)
	mux.HandleFunc("POST /run/async", s.handleRunAsync)
	mux.HandleFunc("GET /jobs/{jobID}", s.handleJobStatus)
	mux.HandleFunc("GET /queue/stats", s.handleQueueStats)
	mux.HandleFunc("GET /runs/{scriptID}", s.handleRunHistory)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		// No write timeout: the synchronous run path blocks for the full,
		// unbounded pipeline invocation.
		IdleTimeout: 120 * time.Second,
	}

	return s
}

// Handler exposes the configured handler, primarily for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP traffic and blocks until shutdown
func (s *Server) Start() error {
	s.logger.Info("Starting MCQ API server", "port", s.cfg.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "MCQ Processing API is running",
		"usage":        "Access /run/<script_id> to process a script",
		"health_check": "/health",
		"endpoints": map[string]string{
			"process_script":       "GET /run/<script_id>",
			"process_script_async": "POST /run/async",
			"job_status":           "GET /jobs/<job_id>",
			"health_check":         "GET /health",
		},
	})
}

func (s *Server) handleRunGet(w http.ResponseWriter, r *http.Request) {
	scriptID, err := strconv.Atoi(r.PathValue("scriptID"))
	if err != nil || scriptID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "Script ID is required",
		})
		return
	}

	s.runScript(w, r, scriptID)
}

// runRequest is the POST /run body
type runRequest struct {
	ScriptID *int `json:"script_id"`
}

func (s *Server) handleRunPost(w http.ResponseWriter, r *http.Request) {
	scriptID, ok := s.decodeScriptID(w, r)
	if !ok {
		return
	}

	s.runScript(w, r, scriptID)
}

func (s *Server) runScript(w http.ResponseWriter, r *http.Request, scriptID int) {
	s.logger.Info("Processing MCQ pipeline", "scriptId", scriptID)

	outcome, err := s.runner.RunForScript(r.Context(), scriptID)
	if err != nil {
		s.logger.Error("MCQ processing failed", "scriptId", scriptID,
			"stage", stageOf(err), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":    "error",
			"script_id": scriptID,
			"message":   outwardMessage(err),
		})
		return
	}

	response := map[string]interface{}{
		"status":    "success",
		"script_id": scriptID,
		"message":   fmt.Sprintf("MCQ processing completed successfully for script %d", scriptID),
		"data":      outcomeEnvelope(outcome),
	}
	if outcome.TokenUsage != nil {
		response["token_usage"] = outcome.TokenUsage
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleRunAsync(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "error",
			"message": "async mode is not enabled",
		})
		return
	}

	scriptID, ok := s.decodeScriptID(w, r)
	if !ok {
		return
	}

	jobID, err := s.jobs.Enqueue(r.Context(), scriptID)
	if err != nil {
		s.logger.Error("Failed to enqueue script job", "scriptId", scriptID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":    "error",
			"script_id": scriptID,
			"message":   "failed to enqueue script job",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":    "queued",
		"job_id":    jobID,
		"script_id": scriptID,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.jobReader == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "error",
			"message": "async mode is not enabled",
		})
		return
	}

	jobID := r.PathValue("jobID")
	job, err := s.jobReader.Job(r.Context(), jobID)
	if err != nil {
		s.logger.Error("Failed to read job status", "jobId", jobID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "failed to read job status",
		})
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"status":  "error",
			"message": fmt.Sprintf("unknown job: %s", jobID),
		})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	if s.jobReader == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "error",
			"message": "async mode is not enabled",
		})
		return
	}

	stats, err := s.jobReader.Stats(r.Context())
	if err != nil {
		s.logger.Error("Failed to read queue stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "failed to read queue stats",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"queue":  stats,
	})
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	if s.runHistory == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":  "error",
			"message": "run history is not enabled",
		})
		return
	}

	scriptID, err := strconv.Atoi(r.PathValue("scriptID"))
	if err != nil || scriptID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "Script ID is required",
		})
		return
	}

	runs, err := s.runHistory.GetRunsForScript(r.Context(), scriptID)
	if err != nil {
		s.logger.Error("Failed to read run history", "scriptId", scriptID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":    "error",
			"script_id": scriptID,
			"message":   "failed to read run history",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"script_id": scriptID,
		"runs":      runs,
	})
}

// handleHealth always answers 200; the body reflects remote reachability
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
	defer cancel()

	if err := s.health.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "unhealthy",
			"django_api": "disconnected",
			"error":      err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "healthy",
		"django_api":          "connected",
		"endpoints_available": []string{"ocr", "compare-text"},
	})
}

// decodeScriptID parses the {script_id} JSON body shared by the run endpoints
func (s *Server) decodeScriptID(w http.ResponseWriter, r *http.Request) (int, bool) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ScriptID == nil || *req.ScriptID <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "error",
			"message": "script_id is required in JSON payload",
		})
		return 0, false
	}
	return *req.ScriptID, true
}

// corsMiddleware restricts cross-origin access to the single allowed origin
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && origin == s.cfg.AllowedOrigin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// outcomeEnvelope mirrors the historical response layout: page bookkeeping at
// the top, generation and persistence detail nested under result.
func outcomeEnvelope(outcome *workflow.Outcome) map[string]interface{} {
	result := map[string]interface{}{
		"mcq_result":     outcome.MCQResult,
		"database_saved": outcome.DatabaseSaved,
	}
	if outcome.TokenUsage != nil {
		result["token_usage"] = outcome.TokenUsage
	}
	if outcome.DatabaseSaved {
		result["database_response"] = outcome.DatabaseResponse
	} else if outcome.DatabaseError != "" {
		result["database_error"] = outcome.DatabaseError
	}

	return map[string]interface{}{
		"script_id":       outcome.ScriptID,
		"total_pages":     outcome.TotalPages,
		"pages_processed": outcome.PagesProcessed,
		"result":          result,
	}
}

// outwardMessage converts a workflow error to its user-facing message
func outwardMessage(err error) string {
	var se *svcerrors.ServiceError
	if errors.As(err, &se) {
		if se.Cause != nil {
			return fmt.Sprintf("%s: %v", se.Message, se.Cause)
		}
		return se.Message
	}
	return err.Error()
}

func stageOf(err error) string {
	var se *svcerrors.ServiceError
	if errors.As(err, &se) {
		return se.Stage
	}
	return "unknown"
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
