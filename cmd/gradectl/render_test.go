package main

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/problems"
)

func TestRenderReport(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	renderReport(&buf, grading.GradingReport{
		Status: grading.StatusExecutionFailed,
		Verdicts: []grading.TestVerdict{
			{Index: 1, Description: "basic", Passed: true},
			{Index: 2, Description: "empty", InputDescription: "arr = []", ExpectedOutput: "False", ActualOutput: grading.Unparsed},
		},
		PassedCount: 1,
		FailedCount: 1,
		TotalCount:  2,
		ErrorDetail: "IndexError: list index out of range",
	})

	out := buf.String()
	assert.Contains(t, out, "PASS  #1 basic")
	assert.Contains(t, out, "FAIL  #2 empty")
	assert.Contains(t, out, "got:      unparsed")
	assert.Contains(t, out, "execution_failed: 1/2 passed")
	assert.Contains(t, out, "IndexError")
}

func TestRenderProblems(t *testing.T) {
	color.NoColor = true
	store, err := problems.NewBuiltinRegistry()
	require.NoError(t, err)

	var buf bytes.Buffer
	renderProblems(&buf, store)
	assert.Equal(t, "longestCommonPrefix (4 test cases)\ntwoSum (4 test cases)\n", buf.String())
}
