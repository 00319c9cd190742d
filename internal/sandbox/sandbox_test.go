package sandbox

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
)

func TestOutputBudget(t *testing.T) {
	var fired atomic.Int32
	budget := newOutputBudget(10, func() { fired.Add(1) })

	var out, errOut bytes.Buffer
	stdout := budget.Writer(&out)
	stderr := budget.Writer(&errOut)

	n, err := stdout.Write([]byte("123456"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.False(t, budget.Exceeded())

	n, err = stderr.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.True(t, budget.Exceeded())

	_, _ = stdout.Write([]byte("more"))
	assert.Equal(t, "123456", out.String())
	assert.Equal(t, "abcd", errOut.String())
	assert.Equal(t, int32(1), fired.Load())
}

func TestOutputBudgetExactFit(t *testing.T) {
	budget := newOutputBudget(4, nil)
	var out bytes.Buffer
	_, _ = budget.Writer(&out).Write([]byte("abcd"))
	assert.False(t, budget.Exceeded())
	assert.Equal(t, "abcd", out.String())
}

func TestClassify(t *testing.T) {
	l := DefaultLimits()
	cases := []struct {
		name  string
		facts runFacts
		want  grading.ExitStatus
	}{
		{name: "clean exit", facts: runFacts{exitCode: 0}, want: grading.ExitSuccess},
		{name: "nonzero", facts: runFacts{exitCode: 1, stderr: "Traceback\nValueError"}, want: grading.ExitNonZero},
		{name: "signal without limit", facts: runFacts{exitCode: -1, signaled: true}, want: grading.ExitNonZero},
		{name: "timed out wins", facts: runFacts{exitCode: -1, signaled: true, timedOut: true, outputExceeded: true}, want: grading.ExitTimedOut},
		{name: "output", facts: runFacts{exitCode: -1, signaled: true, outputExceeded: true}, want: grading.ExitResourceExceeded},
		{name: "oom", facts: runFacts{exitCode: -1, signaled: true, oomKilled: true}, want: grading.ExitResourceExceeded},
		{name: "cpu", facts: runFacts{exitCode: -1, signaled: true, cpuLimitHit: true}, want: grading.ExitResourceExceeded},
		{name: "memory error", facts: runFacts{exitCode: 1, stderr: "MemoryError"}, want: grading.ExitResourceExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, detail := classify(tc.facts, l)
			assert.Equal(t, tc.want, got)
			if got == grading.ExitResourceExceeded || got == grading.ExitTimedOut {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestLimitScript(t *testing.T) {
	script := limitScript(Limits{CPUTime: 1500 * time.Millisecond, MemoryLimitKb: 1024, MaxOutputBytes: 1000})
	assert.Contains(t, script, "ulimit -t 2 || { echo 'ulimit -t 2 failed' >&3; exit 125; }; ")
	assert.Contains(t, script, "ulimit -v 1024 || ")
	assert.Contains(t, script, "ulimit -f 2 || ")
	assert.True(t, strings.HasSuffix(script, `exec "$@" 3>&-`), script)

	assert.Equal(t, `exec "$@" 3>&-`, limitScript(Limits{}))
}

func TestLimitsWithDefaults(t *testing.T) {
	l := Limits{WallTime: time.Second}.WithDefaults()
	assert.Equal(t, time.Second, l.WallTime)
	assert.Equal(t, DefaultCPUTime, l.CPUTime)
	assert.Equal(t, DefaultMemoryLimitKb, l.MemoryLimitKb)
	assert.Equal(t, int64(DefaultMaxOutputBytes), l.MaxOutputBytes)
	assert.Equal(t, DefaultMaxProcesses, l.MaxProcesses)
}

func TestNewRunConfig(t *testing.T) {
	lang, err := languages.NewRegistry().Get(languages.Python)
	require.NoError(t, err)
	cfg := NewRunConfig("abc", lang, grading.ExecutionUnit{Source: "print(1)"}, Limits{})
	assert.Equal(t, "main.py", cfg.SourceFile)
	assert.Equal(t, "print(1)", cfg.SourceCode)
	assert.Equal(t, DefaultWallTime, cfg.Limits.WallTime)
}

type blockingSandbox struct {
	mu      sync.Mutex
	running int
	peak    int
	release chan struct{}
}

func (b *blockingSandbox) Run(ctx context.Context, _ RunConfig) (grading.ExecutionOutcome, error) {
	b.mu.Lock()
	b.running++
	if b.running > b.peak {
		b.peak = b.running
	}
	b.mu.Unlock()

	<-b.release

	b.mu.Lock()
	b.running--
	b.mu.Unlock()
	return grading.ExecutionOutcome{Status: grading.ExitSuccess}, nil
}

func (b *blockingSandbox) EnsureRuntime(context.Context, languages.Language) error { return nil }

func TestPoolBoundsConcurrency(t *testing.T) {
	inner := &blockingSandbox{release: make(chan struct{})}
	pool := NewPool(inner, 2)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Run(context.Background(), RunConfig{})
			assert.NoError(t, err)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(inner.release)
	wg.Wait()

	assert.LessOrEqual(t, inner.peak, 2)
	assert.Equal(t, int64(2), pool.Size())
}

func TestPoolAcquireCanceled(t *testing.T) {
	inner := &blockingSandbox{release: make(chan struct{})}
	pool := NewPool(inner, 1)

	go func() { _, _ = pool.Run(context.Background(), RunConfig{}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := pool.Run(ctx, RunConfig{})
	require.ErrorIs(t, err, grading.ErrLaunchFailed)
	assert.Equal(t, grading.ExitLaunchFailed, out.Status)
	close(inner.release)
}
