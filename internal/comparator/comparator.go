// Package comparator turns parsed tokens into verdicts and summary counts.
// Comparison is exact string equality after trimming surrounding whitespace.
package comparator

import (
	"math"
	"strings"
	"time"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/parser"
)

// Summary is the aggregate of a verdict list.
type Summary struct {
	Verdicts []grading.TestVerdict
	Passed   int
	Failed   int
	Total    int
}

// Equal reports whether actual matches expected.
func Equal(expected, actual string) bool {
	return strings.TrimSpace(expected) == strings.TrimSpace(actual)
}

// Compare builds one verdict per test case, in declared order. tokens must
// be aligned with cases; a missing or unfound token is unparsed and fails.
// elapsed only feeds the approximate per-test time share.
func Compare(cases []grading.TestCase, tokens []parser.Token, elapsed time.Duration) Summary {
	share := timeShare(elapsed, len(cases))
	s := Summary{
		Verdicts: make([]grading.TestVerdict, len(cases)),
		Total:    len(cases),
	}
	for i, tc := range cases {
		var tok parser.Token
		if i < len(tokens) {
			tok = tokens[i]
		}
		passed := tok.Found && Equal(tc.ExpectedOutput, tok.Value)
		s.Verdicts[i] = grading.TestVerdict{
			Index:            tc.Index,
			Description:      tc.Description,
			InputDescription: tc.InputDescription,
			ExpectedOutput:   strings.TrimSpace(tc.ExpectedOutput),
			ActualOutput:     strings.TrimSpace(tok.Actual()),
			Passed:           passed,
			ExecutionTimeMs:  share,
		}
		if passed {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	return s
}

// Unparsed fails every case without looking at output.
func Unparsed(cases []grading.TestCase, elapsed time.Duration) Summary {
	return Compare(cases, nil, elapsed)
}

func timeShare(elapsed time.Duration, n int) float64 {
	if n == 0 || elapsed <= 0 {
		return 0
	}
	ms := float64(elapsed) / float64(time.Millisecond) / float64(n)
	return math.Round(ms*100) / 100
}
