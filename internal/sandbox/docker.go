package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
	"github.com/itstheanurag/grader/internal/metrics"
)

const (
	sandboxWorkDir = "/home/sandbox"
	// exit codes the container runtime reports for signal deaths
	exitSIGKILL = 128 + 9
	exitSIGXCPU = 128 + 24
)

type DockerSandbox struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerSandbox(logger *zerolog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerSandbox{cli: cli, logger: logger}, nil
}

func (s *DockerSandbox) Run(ctx context.Context, cfg RunConfig) (grading.ExecutionOutcome, error) {
	limits := cfg.Limits.WithDefaults()
	if len(cfg.RunCmd) == 0 {
		return launchFailed("run command is required")
	}

	pidsLimit := int64(limits.MaxProcesses)
	cpuSecs := int64((limits.CPUTime + time.Second - 1) / time.Second)
	fsizeBytes := limits.MaxOutputBytes
	memBytes := int64(limits.MemoryLimitKb) * 1024

	createStart := time.Now()
	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:           cfg.Image,
		Cmd:             []string{"sleep", "infinity"},
		Tty:             false,
		NetworkDisabled: true,
		WorkingDir:      sandboxWorkDir,
		User:            "nobody",
		Env:             []string{"HOME=" + sandboxWorkDir, "PYTHONIOENCODING=utf-8"},
		Labels:          map[string]string{"grader.run_id": cfg.RunID},
	}, &container.HostConfig{
		Resources: container.Resources{
			Memory:     memBytes,
			MemorySwap: memBytes,
			CPUQuota:   100000,
			PidsLimit:  &pidsLimit,
			Ulimits: []*container.Ulimit{
				{Name: "cpu", Soft: cpuSecs, Hard: cpuSecs},
				{Name: "fsize", Soft: fsizeBytes, Hard: fsizeBytes},
			},
		},
		NetworkMode: "none",
		SecurityOpt: []string{"no-new-privileges"},
		CapDrop:     []string{"ALL"},
		Tmpfs: map[string]string{
			sandboxWorkDir: "rw,exec,nosuid,size=16m,mode=1777",
			"/tmp":         "rw,noexec,nosuid,size=4m,mode=1777",
		},
	}, nil, nil, "")
	if err != nil {
		return launchFailed("create container: %v", err)
	}
	defer func() {
		if err := s.cli.ContainerRemove(context.Background(), resp.ID, container.RemoveOptions{Force: true}); err != nil {
			s.logger.Error().Err(err).Str("container", resp.ID).Msg("failed to remove container")
		}
	}()

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return launchFailed("start container: %v", err)
	}
	metrics.ContainerCreationTime.Observe(float64(time.Since(createStart).Milliseconds()))

	if err := s.writeSource(ctx, resp.ID, cfg.SourceFile, cfg.SourceCode); err != nil {
		return launchFailed("%v", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, limits.WallTime)
	defer cancel()

	execResp, err := s.cli.ContainerExecCreate(runCtx, resp.ID, container.ExecOptions{
		Cmd:          cfg.RunCmd,
		WorkingDir:   sandboxWorkDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return launchFailed("create run exec: %v", err)
	}

	start := time.Now()
	attach, err := s.cli.ContainerExecAttach(runCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return launchFailed("attach run exec: %v", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	budget := newOutputBudget(limits.MaxOutputBytes, func() { attach.Close() })

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(budget.Writer(&stdout), budget.Writer(&stderr), attach.Reader)
		done <- err
	}()

	timedOut := false
	select {
	case err := <-done:
		if err != nil && !budget.Exceeded() {
			s.logger.Warn().Err(err).Str("container", resp.ID).Msg("failed to read execution output")
		}
	case <-runCtx.Done():
		// Only the wall limit is a verdict. A caller deadline is not.
		if err := ctx.Err(); err != nil {
			attach.Close()
			<-done
			return launchFailed("run canceled: %v", err)
		}
		timedOut = true
		attach.Close()
		<-done
	}
	elapsed := time.Since(start)

	exitCode := -1
	if !timedOut {
		inspect, err := s.cli.ContainerExecInspect(context.Background(), execResp.ID)
		if err != nil {
			return launchFailed("inspect run exec: %v", err)
		}
		exitCode = inspect.ExitCode
	}

	facts := runFacts{
		exitCode:       exitCode,
		signaled:       exitCode > 128,
		timedOut:       timedOut,
		outputExceeded: budget.Exceeded(),
		cpuLimitHit:    exitCode == exitSIGXCPU,
		stderr:         stderr.String(),
	}
	facts.oomKilled = exitCode == exitSIGKILL && !facts.timedOut && !facts.outputExceeded

	status, detail := classify(facts, limits)
	return grading.ExecutionOutcome{
		Status:    status,
		ExitCode:  exitCode,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Elapsed:   elapsed,
		Detail:    detail,
		Truncated: facts.outputExceeded,
	}, nil
}

// writeSource streams the unit into the tmpfs workdir through an exec, since
// CopyToContainer cannot target tmpfs mounts.
func (s *DockerSandbox) writeSource(ctx context.Context, containerID, name, source string) error {
	execResp, err := s.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:         []string{"sh", "-c", `cat > "$0"`, sandboxWorkDir + "/" + name},
		AttachStdin: true,
	})
	if err != nil {
		return fmt.Errorf("create write exec: %w", err)
	}

	attach, err := s.cli.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return fmt.Errorf("attach write exec: %w", err)
	}
	if _, err := attach.Conn.Write([]byte(source)); err != nil {
		attach.Close()
		return fmt.Errorf("write source: %w", err)
	}
	_ = attach.CloseWrite()
	attach.Close()

	for {
		inspect, err := s.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return fmt.Errorf("inspect write exec: %w", err)
		}
		if !inspect.Running {
			if inspect.ExitCode != 0 {
				return fmt.Errorf("write exec exited with code %d", inspect.ExitCode)
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	s.logger.Debug().Str("container", containerID).Msg("source written via exec")
	return nil
}

func (s *DockerSandbox) EnsureRuntime(ctx context.Context, lang languages.Language) error {
	img := lang.Config.Image
	_, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil
	}

	s.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// the pull only completes once the progress stream is drained
	_, _ = io.Copy(io.Discard, reader)

	s.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}

func (s *DockerSandbox) Close() error {
	return s.cli.Close()
}
