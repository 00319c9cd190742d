package sandbox

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
)

// Pool bounds how many runs share the host's isolation capacity. Callers
// beyond the slot count wait for a release instead of oversubscribing.
type Pool struct {
	inner Sandbox
	slots *semaphore.Weighted
	size  int64
}

func NewPool(inner Sandbox, slots int) *Pool {
	if slots < 1 {
		slots = 1
	}
	return &Pool{inner: inner, slots: semaphore.NewWeighted(int64(slots)), size: int64(slots)}
}

func (p *Pool) Size() int64 {
	return p.size
}

func (p *Pool) Run(ctx context.Context, cfg RunConfig) (grading.ExecutionOutcome, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return launchFailed("waiting for a sandbox slot: %v", err)
	}
	defer p.slots.Release(1)
	return p.inner.Run(ctx, cfg)
}

func (p *Pool) EnsureRuntime(ctx context.Context, lang languages.Language) error {
	return p.inner.EnsureRuntime(ctx, lang)
}
