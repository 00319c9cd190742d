// Package grader turns a submission and a problem definition into a
// grading report. Assembly, execution, parsing and comparison run strictly
// in sequence; the only blocking stage is the sandboxed run.
package grader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/assembler"
	"github.com/itstheanurag/grader/internal/comparator"
	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/metrics"
	"github.com/itstheanurag/grader/internal/parser"
)

// Runner executes one assembled unit. A non-nil error means the isolated
// environment could not be created.
type Runner interface {
	Execute(ctx context.Context, unit grading.ExecutionUnit) (grading.ExecutionOutcome, error)
}

type Grader struct {
	assembler *assembler.Assembler
	runner    Runner
	logger    *zerolog.Logger
}

func New(asm *assembler.Assembler, runner Runner, logger *zerolog.Logger) *Grader {
	return &Grader{
		assembler: asm,
		runner:    runner,
		logger:    logger,
	}
}

func (g *Grader) Assembler() *assembler.Assembler {
	return g.assembler
}

// Grade never fails: every path, including a panic below it, yields a
// well-formed report.
func (g *Grader) Grade(ctx context.Context, sub grading.Submission, problem grading.ProblemDefinition) grading.GradingReport {
	report, _ := g.GradeChecked(ctx, sub, problem)
	return report
}

// GradeChecked is Grade that also returns the infrastructure fault behind an
// execution_failed report: an error wrapping grading.ErrLaunchFailed when no
// sandbox could run the unit, or grading.ErrGradingFault after a panic. A
// report with a non-nil fault says nothing about the submission and must
// not be stored.
func (g *Grader) GradeChecked(ctx context.Context, sub grading.Submission, problem grading.ProblemDefinition) (report grading.GradingReport, fault error) {
	kind := "submission"
	defer func() {
		if r := recover(); r != nil {
			kind = "infrastructure"
			g.logger.Error().
				Str("function", problem.FunctionName).
				Str("kind", "infrastructure").
				Interface("panic", r).
				Msg("grading panicked")
			fault = fmt.Errorf("%w: %v", grading.ErrGradingFault, r)
			report = build(grading.StatusExecutionFailed, comparator.Unparsed(problem.TestCases, 0), fault.Error())
		}
		g.record(problem.FunctionName, kind, report)
	}()

	unit, err := g.assembler.Assemble(sub, problem)
	if err != nil {
		return grading.GradingReport{
			Status:      grading.StatusMalformedSubmission,
			Verdicts:    []grading.TestVerdict{},
			ErrorDetail: err.Error(),
		}, nil
	}

	out, err := g.runner.Execute(ctx, unit)
	if err != nil {
		kind = "infrastructure"
		return build(grading.StatusExecutionFailed, comparator.Unparsed(problem.TestCases, 0), err.Error()), err
	}

	switch out.Status {
	case grading.ExitSuccess:
		return build(grading.StatusGraded, g.compare(out, problem, unit.Nonce), ""), nil
	case grading.ExitTimedOut:
		return build(grading.StatusTimedOut, comparator.Unparsed(problem.TestCases, out.Elapsed), out.Detail), nil
	case grading.ExitNonZero:
		detail := out.Stderr
		if detail == "" {
			detail = fmt.Sprintf("process exited with code %d", out.ExitCode)
		}
		return build(grading.StatusExecutionFailed, g.compare(out, problem, unit.Nonce), detail), nil
	case grading.ExitResourceExceeded:
		detail := "resource limit exceeded: " + out.Detail
		if out.Stderr != "" {
			detail += "\n" + out.Stderr
		}
		return build(grading.StatusExecutionFailed, g.compare(out, problem, unit.Nonce), detail), nil
	default:
		return build(grading.StatusExecutionFailed, comparator.Unparsed(problem.TestCases, out.Elapsed), out.Detail), nil
	}
}

// compare parses whatever stdout exists, so lines printed before a crash
// still earn their verdicts. Only lines tagged with nonce count.
func (g *Grader) compare(out grading.ExecutionOutcome, problem grading.ProblemDefinition, nonce string) comparator.Summary {
	tokens := parser.Parse(out.Stdout, problem.TestCases, nonce)
	return comparator.Compare(problem.TestCases, tokens, out.Elapsed)
}

func (g *Grader) record(function, kind string, report grading.GradingReport) {
	metrics.GradingsTotal.WithLabelValues(function, string(report.Status)).Inc()
	metrics.TestCasesTotal.WithLabelValues("passed").Add(float64(report.PassedCount))
	metrics.TestCasesTotal.WithLabelValues("failed").Add(float64(report.FailedCount))

	var ev *zerolog.Event
	switch {
	case report.Status == grading.StatusGraded:
		ev = g.logger.Info()
	case kind == "infrastructure":
		ev = g.logger.Error().Str("kind", kind)
	case report.Status == grading.StatusMalformedSubmission:
		ev = g.logger.Info().Str("kind", kind)
	default:
		ev = g.logger.Warn().Str("kind", kind)
	}
	ev.Str("function", function).
		Str("status", string(report.Status)).
		Int("passed", report.PassedCount).
		Int("total", report.TotalCount).
		Msg("submission graded")
}

func build(status grading.OverallStatus, s comparator.Summary, detail string) grading.GradingReport {
	verdicts := s.Verdicts
	if verdicts == nil {
		verdicts = []grading.TestVerdict{}
	}
	return grading.GradingReport{
		Status:      status,
		Verdicts:    verdicts,
		PassedCount: s.Passed,
		FailedCount: s.Failed,
		TotalCount:  s.Total,
		ErrorDetail: detail,
	}
}
