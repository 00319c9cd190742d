// Package sandbox runs an assembled execution unit as an isolated process
// under wall-clock, CPU, memory and output ceilings.
//
// Run returns an error only when the isolated environment itself could not
// be created; such errors wrap grading.ErrLaunchFailed. Everything the
// submitted code does, including crashing or hanging, is reported through
// the returned outcome.
package sandbox

import (
	"context"
	"time"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
)

const (
	DefaultWallTime       = 5 * time.Second
	DefaultCPUTime        = 5 * time.Second
	DefaultMemoryLimitKb  = 256 * 1024
	DefaultMaxOutputBytes = 1 << 20
	DefaultMaxProcesses   = 64
)

type Sandbox interface {
	Run(ctx context.Context, config RunConfig) (grading.ExecutionOutcome, error)
	// EnsureRuntime checks that lang can be launched, fetching what is
	// missing where the driver supports it.
	EnsureRuntime(ctx context.Context, lang languages.Language) error
}

type Limits struct {
	WallTime       time.Duration
	CPUTime        time.Duration
	MemoryLimitKb  int
	MaxOutputBytes int64
	MaxProcesses   int
}

func DefaultLimits() Limits {
	return Limits{
		WallTime:       DefaultWallTime,
		CPUTime:        DefaultCPUTime,
		MemoryLimitKb:  DefaultMemoryLimitKb,
		MaxOutputBytes: DefaultMaxOutputBytes,
		MaxProcesses:   DefaultMaxProcesses,
	}
}

// WithDefaults fills every unset ceiling from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	d := DefaultLimits()
	if l.WallTime <= 0 {
		l.WallTime = d.WallTime
	}
	if l.CPUTime <= 0 {
		l.CPUTime = d.CPUTime
	}
	if l.MemoryLimitKb <= 0 {
		l.MemoryLimitKb = d.MemoryLimitKb
	}
	if l.MaxOutputBytes <= 0 {
		l.MaxOutputBytes = d.MaxOutputBytes
	}
	if l.MaxProcesses <= 0 {
		l.MaxProcesses = d.MaxProcesses
	}
	return l
}

type RunConfig struct {
	// RunID names the scratch area and any cgroup or container of this run.
	RunID      string
	Image      string
	SourceCode string
	SourceFile string
	RunCmd     []string
	Limits     Limits
}

// NewRunConfig prepares a run of unit with lang's runtime.
func NewRunConfig(runID string, lang languages.Language, unit grading.ExecutionUnit, limits Limits) RunConfig {
	return RunConfig{
		RunID:      runID,
		Image:      lang.Config.Image,
		SourceCode: unit.Source,
		SourceFile: lang.Config.SourceFile,
		RunCmd:     lang.Config.RunCommand,
		Limits:     limits.WithDefaults(),
	}
}
