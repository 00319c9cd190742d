// Package executor runs one execution unit through the sandbox with the
// configured runtime and ceilings, and records what happened.
package executor

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
	"github.com/itstheanurag/grader/internal/metrics"
	"github.com/itstheanurag/grader/internal/sandbox"
)

type Executor struct {
	lang    languages.Language
	sandbox sandbox.Sandbox
	limits  sandbox.Limits
	logger  *zerolog.Logger
}

func NewExecutor(lang languages.Language, sb sandbox.Sandbox, limits sandbox.Limits, logger *zerolog.Logger) *Executor {
	return &Executor{
		lang:    lang,
		sandbox: sb,
		limits:  limits.WithDefaults(),
		logger:  logger,
	}
}

func (e *Executor) Language() languages.Language {
	return e.lang
}

func (e *Executor) Limits() sandbox.Limits {
	return e.limits
}

// Execute runs unit in a fresh sandbox. A non-nil error always wraps
// grading.ErrLaunchFailed and the returned outcome then carries
// ExitLaunchFailed.
func (e *Executor) Execute(ctx context.Context, unit grading.ExecutionUnit) (grading.ExecutionOutcome, error) {
	runID := uuid.NewString()
	cfg := sandbox.NewRunConfig(runID, e.lang, unit, e.limits)

	out, err := e.sandbox.Run(ctx, cfg)
	if err != nil {
		if !errors.Is(err, grading.ErrLaunchFailed) {
			err = errors.Join(grading.ErrLaunchFailed, err)
		}
		metrics.SandboxLaunchFailures.Inc()
		e.logger.Error().Err(err).
			Str("run_id", runID).
			Str("function", unit.FunctionName).
			Str("kind", "infrastructure").
			Msg("sandbox launch failed")
		return grading.ExecutionOutcome{
			Status:   grading.ExitLaunchFailed,
			ExitCode: -1,
			Detail:   err.Error(),
		}, err
	}

	metrics.ExecutionDuration.WithLabelValues(string(out.Status)).Observe(float64(out.Elapsed.Milliseconds()))
	if out.Truncated {
		metrics.OutputTruncations.Inc()
	}

	e.logger.Debug().
		Str("run_id", runID).
		Str("function", unit.FunctionName).
		Str("exit_status", string(out.Status)).
		Int("exit_code", out.ExitCode).
		Int64("elapsed_ms", out.Elapsed.Milliseconds()).
		Msg("sandbox run finished")
	return out, nil
}
