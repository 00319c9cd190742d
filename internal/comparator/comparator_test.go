package comparator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/comparator"
	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/parser"
)

func TestEqual(t *testing.T) {
	assert.True(t, comparator.Equal("gee", " gee \n"))
	assert.True(t, comparator.Equal("", ""))
	assert.True(t, comparator.Equal(`""`, ` "" `))
	assert.False(t, comparator.Equal("True", "true"))
	assert.False(t, comparator.Equal("1.0", "1"))
	assert.False(t, comparator.Equal("[1, 2]", "[2, 1]"))
}

func TestCompare(t *testing.T) {
	cases := []grading.TestCase{
		{Index: 1, Description: "a", InputDescription: "x = 1", ExpectedOutput: "True"},
		{Index: 2, Description: "b", InputDescription: "x = 2", ExpectedOutput: " False "},
		{Index: 3, Description: "c", InputDescription: "x = 3", ExpectedOutput: "False"},
	}
	tokens := []parser.Token{
		{Value: "True", Found: true},
		{Value: "True", Found: true},
	}

	s := comparator.Compare(cases, tokens, 300*time.Millisecond)
	require.Len(t, s.Verdicts, 3)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 3, s.Total)

	assert.Equal(t, grading.TestVerdict{
		Index: 1, Description: "a", InputDescription: "x = 1",
		ExpectedOutput: "True", ActualOutput: "True", Passed: true, ExecutionTimeMs: 100,
	}, s.Verdicts[0])
	assert.Equal(t, "False", s.Verdicts[1].ExpectedOutput)
	assert.False(t, s.Verdicts[1].Passed)
	assert.Equal(t, grading.Unparsed, s.Verdicts[2].ActualOutput)
	assert.False(t, s.Verdicts[2].Passed)
}

func TestCompareUnparsedNeverPasses(t *testing.T) {
	cases := []grading.TestCase{{Index: 1, ExpectedOutput: grading.Unparsed}}
	s := comparator.Unparsed(cases, 0)
	assert.False(t, s.Verdicts[0].Passed)
	assert.Equal(t, 0, s.Passed)
	assert.Equal(t, 1, s.Failed)
}

func TestCompareIsDeterministic(t *testing.T) {
	cases := []grading.TestCase{{Index: 1, ExpectedOutput: "x"}, {Index: 2, ExpectedOutput: "y"}}
	tokens := []parser.Token{{Value: "x", Found: true}, {Value: "z", Found: true}}

	a := comparator.Compare(cases, tokens, 10*time.Millisecond)
	b := comparator.Compare(cases, tokens, 90*time.Millisecond)
	for i := range a.Verdicts {
		assert.Equal(t, a.Verdicts[i].Passed, b.Verdicts[i].Passed)
		assert.Equal(t, a.Verdicts[i].ActualOutput, b.Verdicts[i].ActualOutput)
	}
	assert.Equal(t, a.Passed, b.Passed)
}

func TestTimeShareRounding(t *testing.T) {
	cases := []grading.TestCase{{Index: 1}, {Index: 2}, {Index: 3}}
	s := comparator.Unparsed(cases, 100*time.Millisecond)
	assert.InDelta(t, 33.33, s.Verdicts[0].ExecutionTimeMs, 0.001)
}
