package assembler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/assembler"
	"github.com/itstheanurag/grader/internal/grading"
)

func TestFunctionName(t *testing.T) {
	a := assembler.New("def")

	cases := []struct {
		name    string
		source  string
		want    string
		wantErr bool
	}{
		{name: "simple", source: "def twoSum(arr, target):\n    return False\n", want: "twoSum"},
		{name: "space before paren", source: "def  solve  (x):\n    pass", want: "solve"},
		{name: "underscore start", source: "def _helper():\n    pass", want: "_helper"},
		{name: "indented method", source: "class A:\n    def run(self):\n        pass", want: "run"},
		{name: "first of many", source: "def a():\n  pass\ndef b():\n  pass", want: "a"},
		{name: "no definition", source: "print('hi')\n", wantErr: true},
		{name: "empty", source: "", wantErr: true},
		{name: "leading digit", source: "def 1abc():\n  pass", wantErr: true},
		{name: "missing paren", source: "def solve:\n  pass", wantErr: true},
		{name: "keyword mid line", source: "x = 'def fake(': 1", wantErr: true},
		{name: "prefix keyword", source: "undef solve():\n  pass", wantErr: true},
		{name: "newline inside signature", source: "def\nsolve():\n  pass", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := a.FunctionName(tc.source)
			if tc.wantErr {
				require.ErrorIs(t, err, grading.ErrMalformedSubmission)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFunctionNamesDeduplicatesInOrder(t *testing.T) {
	a := assembler.New("def")
	src := "def helper(x):\n  pass\ndef twoSum(a, t):\n  pass\ndef helper(y):\n  pass\n"
	assert.Equal(t, []string{"helper", "twoSum"}, a.FunctionNames(src))
	assert.Empty(t, a.FunctionNames("x = 1"))
}

func TestAssemble(t *testing.T) {
	a := assembler.New("def")
	problem := grading.ProblemDefinition{
		FunctionName: "twoSum",
		DriverCode:   "print(f\"Test case 1: {twoSum([1], 1)}\")",
		TestCases:    []grading.TestCase{{Index: 1, ExpectedOutput: "False"}},
	}

	t.Run("concatenates with one line break", func(t *testing.T) {
		sub := grading.Submission{FunctionName: "twoSum", Source: "def twoSum(arr, target):\n    return False"}
		unit, err := a.Assemble(sub, problem)
		require.NoError(t, err)
		assert.Equal(t, "twoSum", unit.FunctionName)
		require.NotEmpty(t, unit.Nonce)
		driver := "print(f\"[" + unit.Nonce + "] Test case 1: {twoSum([1], 1)}\")"
		assert.Equal(t, sub.Source+"\n"+driver, unit.Source)
	})

	t.Run("nonce is fresh per unit", func(t *testing.T) {
		sub := grading.Submission{Source: "def twoSum(arr, target):\n    print('Test case 1: False')"}
		first, err := a.Assemble(sub, problem)
		require.NoError(t, err)
		second, err := a.Assemble(sub, problem)
		require.NoError(t, err)
		assert.NotEqual(t, first.Nonce, second.Nonce)
		assert.Contains(t, first.Source, "print('Test case 1: False')", "submission text is left untagged")
	})

	t.Run("source is not sanitised", func(t *testing.T) {
		src := "import os\ndef twoSum(a, t):\n    os.system('true')\n"
		unit, err := a.Assemble(grading.Submission{Source: src}, problem)
		require.NoError(t, err)
		assert.Contains(t, unit.Source, "os.system('true')")
	})

	t.Run("no definition", func(t *testing.T) {
		_, err := a.Assemble(grading.Submission{Source: "print(1)"}, problem)
		require.ErrorIs(t, err, grading.ErrMalformedSubmission)
	})

	t.Run("different function", func(t *testing.T) {
		_, err := a.Assemble(grading.Submission{Source: "def other():\n  pass"}, problem)
		require.ErrorIs(t, err, grading.ErrMalformedSubmission)
	})
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, assembler.ValidIdentifier("longestCommonPrefix"))
	assert.True(t, assembler.ValidIdentifier("_x9"))
	assert.False(t, assembler.ValidIdentifier("9x"))
	assert.False(t, assembler.ValidIdentifier("a-b"))
	assert.False(t, assembler.ValidIdentifier(""))
}
