// Package parser extracts per-test result tokens from captured stdout.
//
// A result line has the form
//
//	[<nonce>] Test case <index>: <payload>
//
// optionally indented. Nonce is the tag the assembler gave the run's driver;
// index is a decimal test-case index declared by the problem; payload is
// trimmed. All other lines are ignored so that debug prints from the
// submission cannot shift results between test cases.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/itstheanurag/grader/internal/grading"
)

// Marker opens every result line a driver prints.
const Marker = "Test case "

var resultLineRe = regexp.MustCompile(`^[ \t]*Test case[ \t]+([0-9]+):(.*)$`)

// Tag is the prefix placed before Marker in a run tagged with nonce. An
// empty nonce means untagged result lines.
func Tag(nonce string) string {
	if nonce == "" {
		return ""
	}
	return "[" + nonce + "] "
}

// Token is the raw output for one declared test case.
type Token struct {
	Value string
	Found bool
}

// Actual returns the token value, or grading.Unparsed when no line matched.
func (t Token) Actual() string {
	if !t.Found {
		return grading.Unparsed
	}
	return t.Value
}

// Parse returns exactly one token per test case, aligned by position with
// cases. A line is assigned to the case whose declared index it names, so
// the order lines appear in does not matter. Only lines carrying the run's
// tag count. When an index repeats the last line wins, since the driver
// prints each result after the call for it returns; lines naming
// undeclared indices are ignored.
func Parse(stdout string, cases []grading.TestCase, nonce string) []Token {
	tokens := make([]Token, len(cases))
	if len(cases) == 0 {
		return tokens
	}

	position := make(map[int]int, len(cases))
	for i, tc := range cases {
		if _, dup := position[tc.Index]; !dup {
			position[tc.Index] = i
		}
	}

	tag := Tag(nonce)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimLeft(line, " \t")
		if tag != "" {
			var tagged bool
			if line, tagged = strings.CutPrefix(line, tag); !tagged {
				continue
			}
		}
		index, payload, ok := ParseLine(line)
		if !ok {
			continue
		}
		if pos, declared := position[index]; declared {
			tokens[pos] = Token{Value: payload, Found: true}
		}
	}
	return tokens
}

// ParseLine matches a single untagged result line. The trailing carriage
// return of CRLF output is ignored.
func ParseLine(line string) (index int, payload string, ok bool) {
	m := resultLineRe.FindStringSubmatch(strings.TrimSuffix(line, "\r"))
	if m == nil {
		return 0, "", false
	}
	index, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return index, strings.TrimSpace(m[2]), true
}
