package grader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/problems"
)

// Service resolves which problem a raw submission targets before grading
// it. Problem lookup failures are reported as errors and never executed.
type Service struct {
	grader *Grader
	store  problems.Store
	logger *zerolog.Logger
	now    func() time.Time
}

func NewService(g *Grader, store problems.Store, logger *zerolog.Logger) *Service {
	return &Service{
		grader: g,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve picks the problem for source. Every defined function is tried in
// source order so helpers declared above the solution do not hide it. When
// no definition is known the error names the first one.
func (s *Service) Resolve(source string) (grading.Submission, grading.ProblemDefinition, error) {
	names := s.grader.Assembler().FunctionNames(source)
	if len(names) == 0 {
		_, err := s.grader.Assembler().FunctionName(source)
		return grading.Submission{Source: source}, grading.ProblemDefinition{}, err
	}
	for _, name := range names {
		p, err := s.store.Lookup(name)
		if err == nil {
			return grading.Submission{FunctionName: name, Source: source}, p, nil
		}
		if !errors.Is(err, grading.ErrProblemNotFound) {
			return grading.Submission{}, grading.ProblemDefinition{}, fmt.Errorf("failed to look up problem %q: %w", name, err)
		}
	}
	return grading.Submission{FunctionName: names[0], Source: source}, grading.ProblemDefinition{},
		fmt.Errorf("%w: function %q is not a known problem", grading.ErrProblemNotFound, names[0])
}

// Evaluate grades source against the problem its function names. A source
// with no recognizable definition still yields a malformed-submission
// report; an unknown function yields an error wrapping
// grading.ErrProblemNotFound. When the sandbox cannot run the submission
// the error wraps grading.ErrLaunchFailed and no report is returned.
func (s *Service) Evaluate(ctx context.Context, source string) (grading.GradingReport, error) {
	sub, problem, err := s.Resolve(source)
	switch {
	case errors.Is(err, grading.ErrMalformedSubmission):
		problem = grading.ProblemDefinition{}
	case err != nil:
		s.logger.Info().Err(err).Str("function", sub.FunctionName).Msg("submission rejected")
		return grading.GradingReport{}, err
	}
	report, fault := s.grader.GradeChecked(ctx, sub, problem)
	if fault != nil {
		return grading.GradingReport{}, fault
	}
	return report, nil
}

// Submit grades source against the problem keyed by problemKey and returns
// the record the caller should hand to the result store. Infrastructure
// faults return an error and no record.
func (s *Service) Submit(ctx context.Context, userID, problemKey, source string) (grading.GradingReport, grading.Record, error) {
	problem, err := s.store.Lookup(problemKey)
	if err != nil {
		return grading.GradingReport{}, grading.Record{}, err
	}
	sub := grading.Submission{FunctionName: problemKey, Source: source}
	report, fault := s.grader.GradeChecked(ctx, sub, problem)
	if fault != nil {
		return grading.GradingReport{}, grading.Record{}, fault
	}
	return report, grading.NewRecord(userID, problemKey, report, source, s.now()), nil
}
