package queue

import (
	"context"
	"fmt"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/metrics"
)

// Identity marks a job whose result must be persisted for a user.
type Identity struct {
	UserID     string
	ProblemKey string
}

type Job struct {
	ID     string
	Source string
	// Identity is nil for anonymous evaluations.
	Identity *Identity
	Result   chan grading.GradingReport
	Err      chan error
	Ctx      context.Context
}

func NewJob(ctx context.Context, id, source string, identity *Identity) *Job {
	return &Job{
		ID:       id,
		Source:   source,
		Identity: identity,
		Result:   make(chan grading.GradingReport, 1),
		Err:      make(chan error, 1),
		Ctx:      ctx,
	}
}

type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

// Submit enqueues job, waiting while the queue is full. It gives up when
// ctx is done so callers beyond capacity are not held forever.
func (m *Manager) Submit(ctx context.Context, job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue full: %w", ctx.Err())
	}
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) Len() int {
	return len(m.jobQueue)
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
