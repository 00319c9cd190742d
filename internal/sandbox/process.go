package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
)

// waitDelay bounds how long Wait keeps draining pipes that a leftover
// descendant holds open after the main process has exited.
const waitDelay = 250 * time.Millisecond

type ProcessConfig struct {
	// ScratchRoot holds one private directory per run.
	ScratchRoot string
	// Shell applies the rlimits before exec'ing the interpreter.
	Shell string
	// CgroupRoot is a writable cgroup v2 directory. Empty disables cgroup
	// memory/pids enforcement and OOM detection.
	CgroupRoot string
}

// ProcessSandbox runs units as local child processes, each in fresh user,
// mount, pid, ipc, uts and network namespaces. The network namespace has no
// interfaces, and every descendant dies with the namespace's first process.
type ProcessSandbox struct {
	cfg    ProcessConfig
	logger *zerolog.Logger
}

func NewProcessSandbox(cfg ProcessConfig, logger *zerolog.Logger) (*ProcessSandbox, error) {
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = os.TempDir()
	}
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if err := os.MkdirAll(cfg.ScratchRoot, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}
	return &ProcessSandbox{cfg: cfg, logger: logger}, nil
}

func (s *ProcessSandbox) EnsureRuntime(_ context.Context, lang languages.Language) error {
	if _, err := exec.LookPath(s.cfg.Shell); err != nil {
		return fmt.Errorf("shell %s not available: %w", s.cfg.Shell, err)
	}
	if len(lang.Config.RunCommand) == 0 {
		return fmt.Errorf("language %s has no run command", lang.ID)
	}
	if _, err := exec.LookPath(lang.Config.RunCommand[0]); err != nil {
		return fmt.Errorf("interpreter %s not available: %w", lang.Config.RunCommand[0], err)
	}
	if err := s.checkIsolation(); err != nil {
		return fmt.Errorf("%w: namespaces unavailable: %v", grading.ErrLaunchFailed, err)
	}
	return nil
}

// limitScript applies the rlimits and replaces the shell with the command
// passed as positional arguments, so no user-controlled text is ever
// interpolated into the script. A limit the shell cannot apply is reported
// on fd 3, which is closed before the command runs, so the command's own
// exit code never stands in for a wrapper failure.
func limitScript(l Limits) string {
	var b strings.Builder
	apply := func(flag string, value int64) {
		fmt.Fprintf(&b, "ulimit -%s %d || { echo 'ulimit -%s %d failed' >&3; exit 125; }; ", flag, value, flag, value)
	}
	if l.CPUTime > 0 {
		apply("t", int64((l.CPUTime+time.Second-1)/time.Second))
	}
	if l.MemoryLimitKb > 0 {
		apply("v", int64(l.MemoryLimitKb))
	}
	if l.MaxOutputBytes > 0 {
		apply("f", int64((l.MaxOutputBytes+511)/512))
	}
	b.WriteString(`exec "$@" 3>&-`)
	return b.String()
}

// readWrapperStatus returns what the limit wrapper reported on its status
// pipe. The write end must already be closed in this process.
func readWrapperStatus(r *os.File) string {
	_ = r.SetReadDeadline(time.Now().Add(waitDelay))
	data, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(data))
}

// runFacts is what the driver observed about a finished process.
type runFacts struct {
	exitCode       int
	signaled       bool
	timedOut       bool
	outputExceeded bool
	oomKilled      bool
	cpuLimitHit    bool
	stderr         string
}

func classify(f runFacts, l Limits) (grading.ExitStatus, string) {
	switch {
	case f.timedOut:
		return grading.ExitTimedOut, fmt.Sprintf("wall-clock limit of %s exceeded", l.WallTime)
	case f.outputExceeded:
		return grading.ExitResourceExceeded, fmt.Sprintf("output limit of %d bytes exceeded", l.MaxOutputBytes)
	case f.oomKilled:
		return grading.ExitResourceExceeded, fmt.Sprintf("memory limit of %d KiB exceeded", l.MemoryLimitKb)
	case f.cpuLimitHit:
		return grading.ExitResourceExceeded, fmt.Sprintf("cpu time limit of %s exceeded", l.CPUTime)
	case f.exitCode == 0 && !f.signaled:
		return grading.ExitSuccess, ""
	case strings.Contains(f.stderr, "MemoryError"):
		return grading.ExitResourceExceeded, fmt.Sprintf("memory limit of %d KiB exceeded", l.MemoryLimitKb)
	default:
		return grading.ExitNonZero, ""
	}
}

func launchFailed(format string, args ...any) (grading.ExecutionOutcome, error) {
	err := fmt.Errorf("%w: "+format, append([]any{grading.ErrLaunchFailed}, args...)...)
	return grading.ExecutionOutcome{Status: grading.ExitLaunchFailed, ExitCode: -1, Detail: err.Error()}, err
}
