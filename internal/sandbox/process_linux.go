//go:build linux

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/itstheanurag/grader/internal/grading"
)

func (s *ProcessSandbox) Run(ctx context.Context, cfg RunConfig) (grading.ExecutionOutcome, error) {
	limits := cfg.Limits.WithDefaults()
	if len(cfg.RunCmd) == 0 {
		return launchFailed("run command is required")
	}
	if err := ctx.Err(); err != nil {
		return launchFailed("run canceled before start: %v", err)
	}
	runCmd := append([]string(nil), cfg.RunCmd...)
	interpreter, err := exec.LookPath(runCmd[0])
	if err != nil {
		return launchFailed("interpreter %s not available: %v", runCmd[0], err)
	}
	runCmd[0] = interpreter

	dir, err := os.MkdirTemp(s.cfg.ScratchRoot, "run-"+cfg.RunID+"-")
	if err != nil {
		return launchFailed("create scratch dir: %v", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Error().Err(err).Str("dir", dir).Msg("failed to remove scratch dir")
		}
	}()

	if err := os.WriteFile(filepath.Join(dir, cfg.SourceFile), []byte(cfg.SourceCode), 0o600); err != nil {
		return launchFailed("write source: %v", err)
	}

	cgroupPath, cgroupFD := "", -1
	if s.cfg.CgroupRoot != "" {
		var cleanup func()
		cgroupPath, cleanup, err = createRunCgroup(s.cfg.CgroupRoot, cfg.RunID)
		if err != nil {
			return launchFailed("create cgroup: %v", err)
		}
		defer cleanup()
		if err := applyCgroupLimits(cgroupPath, limits); err != nil {
			return launchFailed("apply cgroup limits: %v", err)
		}
		if cgroupFD, err = openCgroupDir(cgroupPath); err != nil {
			return launchFailed("open cgroup: %v", err)
		}
		defer unix.Close(cgroupFD)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		return launchFailed("create status pipe: %v", err)
	}
	defer statusR.Close()

	args := append([]string{"-c", limitScript(limits), "sandbox"}, runCmd...)
	cmd := exec.Command(s.cfg.Shell, args...)
	cmd.Dir = dir
	cmd.Env = []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + dir,
		"LANG=C.UTF-8",
		"PYTHONIOENCODING=utf-8",
	}
	cmd.SysProcAttr = buildSysProcAttr(cgroupFD)
	cmd.ExtraFiles = []*os.File{statusW}
	cmd.WaitDelay = waitDelay

	kill := func() {
		killProcessGroup(cmd.Process.Pid)
		if cgroupPath != "" {
			_ = killCgroup(cgroupPath)
		}
	}

	var stdout, stderr bytes.Buffer
	budget := newOutputBudget(limits.MaxOutputBytes, kill)
	cmd.Stdout = budget.Writer(&stdout)
	cmd.Stderr = budget.Writer(&stderr)

	start := time.Now()
	err = cmd.Start()
	statusW.Close()
	if err != nil {
		return launchFailed("start process: %v", err)
	}

	var timedOut atomic.Bool
	timer := time.AfterFunc(limits.WallTime, func() {
		timedOut.Store(true)
		kill()
	})
	stopCtxKill := context.AfterFunc(ctx, kill)

	waitErr := cmd.Wait()
	elapsed := time.Since(start)
	timer.Stop()
	ctxKilled := !stopCtxKill()
	// Anything still in the group outlived the main process.
	kill()

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		s.logger.Warn().Err(waitErr).Str("run_id", cfg.RunID).Msg("process wait returned an unexpected error")
	}

	if msg := readWrapperStatus(statusR); msg != "" {
		return launchFailed("apply limits: %s", msg)
	}
	// Only the wall timer yields a timeout verdict. A run stopped by the
	// caller's context has no verdict at all.
	if ctxKilled && !timedOut.Load() {
		return launchFailed("run canceled: %v", ctx.Err())
	}

	state := cmd.ProcessState
	facts := runFacts{
		exitCode:       state.ExitCode(),
		timedOut:       timedOut.Load(),
		outputExceeded: budget.Exceeded(),
		oomKilled:      cgroupPath != "" && wasOomKilled(cgroupPath),
		stderr:         stderr.String(),
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		facts.signaled = true
		switch ws.Signal() {
		case unix.SIGXCPU:
			facts.cpuLimitHit = true
		case unix.SIGKILL:
			facts.cpuLimitHit = !facts.timedOut && !facts.outputExceeded &&
				state.UserTime()+state.SystemTime() >= limits.CPUTime
		}
	}

	status, detail := classify(facts, limits)
	return grading.ExecutionOutcome{
		Status:    status,
		ExitCode:  facts.exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Elapsed:   elapsed,
		Detail:    detail,
		Truncated: facts.outputExceeded,
	}, nil
}

// buildSysProcAttr isolates the child in new namespaces and, when cgroupFD
// is not negative, places it in that cgroup at clone time so nothing it
// forks escapes the cgroup limits.
func buildSysProcAttr(cgroupFD int) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS | syscall.CLONE_NEWPID |
			syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC | syscall.CLONE_NEWNET,
		GidMappingsEnableSetgroups: false,
		UidMappings: []syscall.SysProcIDMap{{
			ContainerID: 0,
			HostID:      os.Getuid(),
			Size:        1,
		}},
		GidMappings: []syscall.SysProcIDMap{{
			ContainerID: 0,
			HostID:      os.Getgid(),
			Size:        1,
		}},
	}
	if cgroupFD >= 0 {
		attr.UseCgroupFD = true
		attr.CgroupFD = cgroupFD
	}
	return attr
}

// checkIsolation starts a no-op shell with the namespaces every run uses.
// Hosts that forbid unprivileged user namespaces fail here rather than
// running submissions unisolated.
func (s *ProcessSandbox) checkIsolation() error {
	cmd := exec.Command(s.cfg.Shell, "-c", "exit 0")
	cmd.Env = []string{}
	cmd.SysProcAttr = buildSysProcAttr(-1)
	cmd.WaitDelay = waitDelay
	if out, err := cmd.CombinedOutput(); err != nil {
		if len(out) > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimSpace(out))
		}
		return err
	}
	return nil
}

func killProcessGroup(pid int) {
	if pid <= 0 {
		return
	}
	_ = unix.Kill(-pid, unix.SIGKILL)
}
