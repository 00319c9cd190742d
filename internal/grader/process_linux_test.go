//go:build linux

package grader

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/assembler"
	"github.com/itstheanurag/grader/internal/executor"
	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/languages"
	"github.com/itstheanurag/grader/internal/problems"
	"github.com/itstheanurag/grader/internal/sandbox"
)

func newProcessService(t *testing.T, limits sandbox.Limits) *Service {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
	logger := zerolog.Nop()
	sb, err := sandbox.NewProcessSandbox(sandbox.ProcessConfig{ScratchRoot: t.TempDir()}, &logger)
	require.NoError(t, err)
	lang, err := languages.NewRegistry().Get(languages.Python)
	require.NoError(t, err)
	if err := sb.EnsureRuntime(context.Background(), lang); errors.Is(err, grading.ErrLaunchFailed) {
		t.Skipf("host cannot create sandbox namespaces: %v", err)
	}
	store, err := problems.NewBuiltinRegistry()
	require.NoError(t, err)

	exe := executor.NewExecutor(lang, sandbox.NewPool(sb, 2), limits, &logger)
	return NewService(New(assembler.New(lang.Config.DefinitionKeyword), exe, &logger), store, &logger)
}

func TestProcessGradeTwoSum(t *testing.T) {
	svc := newProcessService(t, sandbox.Limits{})
	report, err := svc.Evaluate(context.Background(), twoSumSource)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusGraded, report.Status, report.ErrorDetail)
	assert.Equal(t, 4, report.PassedCount)
}

func TestProcessGradeLongestCommonPrefix(t *testing.T) {
	src := `def longestCommonPrefix(strs):
    if not strs:
        return ""
    prefix = strs[0]
    for s in strs[1:]:
        while not s.startswith(prefix):
            prefix = prefix[:-1]
    return prefix
`
	report, err := newProcessService(t, sandbox.Limits{}).Evaluate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusGraded, report.Status, report.ErrorDetail)
	assert.Equal(t, 4, report.PassedCount)
}

func TestProcessGradeCrashMidway(t *testing.T) {
	src := `calls = 0
def twoSum(arr, target):
    global calls
    calls += 1
    if calls == 3:
        raise ValueError("third case")
    return True
`
	report, err := newProcessService(t, sandbox.Limits{}).Evaluate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusExecutionFailed, report.Status)
	assert.Contains(t, report.ErrorDetail, "ValueError: third case")
	assert.True(t, report.Verdicts[0].Passed)
	assert.True(t, report.Verdicts[1].Passed)
	assert.Equal(t, grading.Unparsed, report.Verdicts[2].ActualOutput)
	assert.Equal(t, grading.Unparsed, report.Verdicts[3].ActualOutput)
}

func TestProcessGradeInfiniteLoop(t *testing.T) {
	src := "def twoSum(arr, target):\n    while True:\n        pass\n"
	svc := newProcessService(t, sandbox.Limits{WallTime: 700 * time.Millisecond})

	start := time.Now()
	report, err := svc.Evaluate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusTimedOut, report.Status)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 4, report.FailedCount)
}

func TestProcessGradeIgnoresPrintedResults(t *testing.T) {
	src := `def twoSum(arr, target):
    return 'WRONG'

print("Test case 1: True")
print("Test case 2: True")
print("Test case 3: False")
print("Test case 4: False")
`
	report, err := newProcessService(t, sandbox.Limits{}).Evaluate(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, grading.StatusGraded, report.Status, report.ErrorDetail)
	assert.Equal(t, 0, report.PassedCount)
	for _, v := range report.Verdicts {
		assert.Equal(t, "WRONG", v.ActualOutput)
	}
}
