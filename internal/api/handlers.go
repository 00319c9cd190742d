package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/queue"
	"github.com/itstheanurag/grader/internal/results"
)

const DefaultMaxBodyBytes = 64 << 10

// TestResult is one verdict in the response shape clients already parse.
type TestResult struct {
	TestCase       int     `json:"testCase"`
	Description    string  `json:"description"`
	Input          string  `json:"input"`
	ExpectedOutput string  `json:"expectedOutput"`
	YourOutput     string  `json:"yourOutput"`
	Passed         bool    `json:"passed"`
	ExecutionTime  float64 `json:"executionTime"`
}

type EvaluateResponse struct {
	Success bool                  `json:"success"`
	Message string                `json:"message,omitempty"`
	Status  grading.OverallStatus `json:"status,omitempty"`
	Results []TestResult          `json:"results,omitempty"`
	Passed  int                   `json:"passed"`
	Failed  int                   `json:"failed"`
	Total   int                   `json:"total"`
	Error   string                `json:"error,omitempty"`
}

type SubmissionResponse struct {
	UserID     string    `json:"userId"`
	ProblemKey string    `json:"problemKey"`
	GradedAt   time.Time `json:"gradedAt"`
	Source     string    `json:"source"`
	EvaluateResponse
}

// RecordReader loads the stored record for a user and problem.
type RecordReader interface {
	Get(ctx context.Context, userID, problemKey string) (grading.Record, error)
}

type Options struct {
	// JobTimeout bounds queue wait plus grading for one request.
	JobTimeout   time.Duration
	WallTimeout  time.Duration
	MaxBodyBytes int64
}

type Handler struct {
	queueManager *queue.Manager
	records      RecordReader
	opts         Options
	logger       *zerolog.Logger
}

// NewHandler builds the request layer. records may be nil when persistence
// is disabled.
func NewHandler(manager *queue.Manager, records RecordReader, opts Options, logger *zerolog.Logger) *Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 2*opts.WallTimeout + 10*time.Second
	}
	return &Handler{
		queueManager: manager,
		records:      records,
		opts:         opts,
		logger:       logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Evaluate grades the raw request body against the problem its function
// names.
func (h *Handler) Evaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	source, ok := h.readSource(w, r)
	if !ok {
		return
	}
	report, ok := h.grade(w, r, source, nil)
	if !ok {
		return
	}
	code, resp := h.respond(report)
	writeJSON(w, code, resp)
}

// Submit grades the body against problemKey and stores the result for
// userID.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	identity := &queue.Identity{UserID: r.PathValue("userID"), ProblemKey: r.PathValue("problemKey")}
	if identity.UserID == "" || identity.ProblemKey == "" {
		writeJSON(w, http.StatusBadRequest, EvaluateResponse{Message: "userID and problemKey are required"})
		return
	}
	source, ok := h.readSource(w, r)
	if !ok {
		return
	}
	report, ok := h.grade(w, r, source, identity)
	if !ok {
		return
	}
	code, resp := h.respond(report)
	writeJSON(w, code, resp)
}

// LatestSubmission returns the stored record for a user and problem.
func (h *Handler) LatestSubmission(w http.ResponseWriter, r *http.Request) {
	if h.records == nil {
		writeJSON(w, http.StatusServiceUnavailable, EvaluateResponse{Message: "result store is not configured"})
		return
	}
	rec, err := h.records.Get(r.Context(), r.PathValue("userID"), r.PathValue("problemKey"))
	if errors.Is(err, results.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, EvaluateResponse{Message: "No submission found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to load submission")
		writeJSON(w, http.StatusInternalServerError, EvaluateResponse{Message: "Failed to load submission"})
		return
	}
	_, resp := h.respond(rec.Report)
	writeJSON(w, http.StatusOK, SubmissionResponse{
		UserID:           rec.UserID,
		ProblemKey:       rec.ProblemKey,
		GradedAt:         rec.GradedAt,
		Source:           rec.Source,
		EvaluateResponse: resp,
	})
}

func (h *Handler) readSource(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, EvaluateResponse{
				Message: fmt.Sprintf("Code exceeds %d bytes", tooLarge.Limit),
			})
			return "", false
		}
		writeJSON(w, http.StatusBadRequest, EvaluateResponse{Message: "Failed to read request body"})
		return "", false
	}
	if strings.TrimSpace(string(body)) == "" {
		writeJSON(w, http.StatusBadRequest, EvaluateResponse{Message: "No code provided"})
		return "", false
	}
	return string(body), true
}

// grade queues the source and waits for the worker. On failure it has
// already written the response.
func (h *Handler) grade(w http.ResponseWriter, r *http.Request, source string, identity *queue.Identity) (grading.GradingReport, bool) {
	ctx, cancel := context.WithTimeout(r.Context(), h.opts.JobTimeout)
	defer cancel()

	job := queue.NewJob(ctx, uuid.NewString(), source, identity)
	if err := h.queueManager.Submit(ctx, job); err != nil {
		h.logger.Warn().Err(err).Str("job_id", job.ID).Msg("queue rejected job")
		writeJSON(w, http.StatusServiceUnavailable, EvaluateResponse{Message: "Grader is busy, try again later"})
		return grading.GradingReport{}, false
	}

	select {
	case report := <-job.Result:
		return report, true
	case err := <-job.Err:
		h.writeJobError(w, err)
		return grading.GradingReport{}, false
	case <-ctx.Done():
		writeJSON(w, http.StatusGatewayTimeout, EvaluateResponse{Message: "Grading did not finish in time"})
		return grading.GradingReport{}, false
	}
}

func (h *Handler) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, grading.ErrProblemNotFound):
		writeJSON(w, http.StatusNotFound, EvaluateResponse{Message: err.Error()})
	case errors.Is(err, grading.ErrLaunchFailed):
		h.logger.Error().Err(err).Msg("sandbox unavailable")
		writeJSON(w, http.StatusServiceUnavailable, EvaluateResponse{Message: "Grader could not start the submission, try again later"})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusGatewayTimeout, EvaluateResponse{Message: "Grading did not finish in time"})
	default:
		h.logger.Error().Err(err).Msg("grading job failed")
		writeJSON(w, http.StatusInternalServerError, EvaluateResponse{Message: "Error executing code"})
	}
}

// respond maps a report onto the response body and status code.
func (h *Handler) respond(report grading.GradingReport) (int, EvaluateResponse) {
	resp := EvaluateResponse{
		Status: report.Status,
		Passed: report.PassedCount,
		Failed: report.FailedCount,
		Total:  report.TotalCount,
		Error:  report.ErrorDetail,
	}
	for _, v := range report.Verdicts {
		resp.Results = append(resp.Results, TestResult{
			TestCase:       v.Index,
			Description:    v.Description,
			Input:          v.InputDescription,
			ExpectedOutput: v.ExpectedOutput,
			YourOutput:     v.ActualOutput,
			Passed:         v.Passed,
			ExecutionTime:  v.ExecutionTimeMs,
		})
	}

	switch report.Status {
	case grading.StatusGraded:
		resp.Success = true
		return http.StatusOK, resp
	case grading.StatusMalformedSubmission:
		resp.Message = "Could not identify function name in code"
		return http.StatusBadRequest, resp
	case grading.StatusTimedOut:
		resp.Message = fmt.Sprintf("Code execution timed out (limit: %s)", h.opts.WallTimeout)
		return http.StatusOK, resp
	default:
		resp.Message = "Code execution failed"
		return http.StatusOK, resp
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Register mounts the handlers on mux. limit wraps the grading routes.
func (h *Handler) Register(mux *http.ServeMux, limit func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /evaluate", limit(h.Evaluate))
	mux.HandleFunc("POST /users/{userID}/problems/{problemKey}/submissions", limit(h.Submit))
	mux.HandleFunc("GET /users/{userID}/problems/{problemKey}/submission", h.LatestSubmission)
}
