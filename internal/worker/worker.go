package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/metrics"
	"github.com/itstheanurag/grader/internal/queue"
)

// Service grades raw sources; grader.Service satisfies it.
type Service interface {
	Evaluate(ctx context.Context, source string) (grading.GradingReport, error)
	Submit(ctx context.Context, userID, problemKey, source string) (grading.GradingReport, grading.Record, error)
}

// Recorder persists the latest record per (user, problem). stored is false
// when a newer record was already present.
type Recorder interface {
	Upsert(ctx context.Context, rec grading.Record) (stored bool, err error)
}

// Publisher announces stored records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, rec grading.Record) error
}

type Worker struct {
	id        int
	service   Service
	manager   *queue.Manager
	recorder  Recorder
	publisher Publisher
	logger    *zerolog.Logger
}

// NewWorker builds a worker. recorder and publisher may be nil; jobs that
// carry an identity then fail when no recorder is configured.
func NewWorker(id int, svc Service, manager *queue.Manager, recorder Recorder, publisher Publisher, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:        id,
		service:   svc,
		manager:   manager,
		recorder:  recorder,
		publisher: publisher,
		logger:    logger,
	}
}

func (w *Worker) Start(ctx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(job *queue.Job) {
	if err := job.Ctx.Err(); err != nil {
		w.logger.Debug().Int("worker_id", w.id).Str("job_id", job.ID).Msg("job abandoned before start")
		job.Err <- err
		return
	}
	w.logger.Info().Int("worker_id", w.id).Str("job_id", job.ID).Msg("processing job")

	startTime := time.Now()
	report, err := w.run(job)
	duration := time.Since(startTime).Milliseconds()
	if err != nil {
		w.logger.Info().Err(err).Int("worker_id", w.id).Str("job_id", job.ID).Int64("elapsed_ms", duration).Msg("job rejected")
		job.Err <- err
		return
	}

	w.logger.Info().
		Int("worker_id", w.id).
		Str("job_id", job.ID).
		Str("status", string(report.Status)).
		Int64("elapsed_ms", duration).
		Msg("job finished")
	job.Result <- report
}

func (w *Worker) run(job *queue.Job) (grading.GradingReport, error) {
	// Once started, a run finishes under the sandbox's own limits. The
	// caller's deadline or disconnect must not be read as a verdict.
	gradeCtx := context.WithoutCancel(job.Ctx)
	if job.Identity == nil {
		return w.service.Evaluate(gradeCtx, job.Source)
	}
	if w.recorder == nil {
		return grading.GradingReport{}, fmt.Errorf("result store is not configured")
	}

	report, rec, err := w.service.Submit(gradeCtx, job.Identity.UserID, job.Identity.ProblemKey, job.Source)
	if err != nil {
		return grading.GradingReport{}, err
	}

	// The client may already be gone; the record is stored regardless.
	stored, err := w.recorder.Upsert(gradeCtx, rec)
	if err != nil {
		metrics.RecordsPersisted.WithLabelValues("error").Inc()
		return grading.GradingReport{}, fmt.Errorf("failed to store result: %w", err)
	}
	if !stored {
		metrics.RecordsPersisted.WithLabelValues("stale").Inc()
		w.logger.Warn().Str("job_id", job.ID).Str("user_id", rec.UserID).Str("problem_key", rec.ProblemKey).
			Msg("newer result already stored, record skipped")
		return report, nil
	}
	metrics.RecordsPersisted.WithLabelValues("stored").Inc()

	if w.publisher != nil {
		if err := w.publisher.Publish(gradeCtx, rec); err != nil {
			w.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to publish result")
		}
	}
	return report, nil
}
