// Package assembler merges submitted source with a problem's driver code.
//
// A function definition is recognised by the grammar
//
//	^[ \t]*<keyword>[ \t]+<identifier>[ \t]*(
//
// where identifier is [A-Za-z_][A-Za-z0-9_]*. Definitions are matched at the
// start of a line only, so keywords inside strings or comments mid-line are
// not mistaken for definitions. No other inspection of the source happens
// here; containment is the sandbox's job.
//
// The driver's result markers are rewritten to carry a per-unit nonce which
// the parser then requires. The nonce is a literal in the assembled file, so
// it only stops forgeries written into the submission; code that reads its
// own source can still find it.
package assembler

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/parser"
)

const identifierPattern = `[A-Za-z_][A-Za-z0-9_]*`

var identifierRe = regexp.MustCompile(`^` + identifierPattern + `$`)

func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

type Assembler struct {
	keyword string
	defRe   *regexp.Regexp
}

func New(keyword string) *Assembler {
	return &Assembler{
		keyword: keyword,
		defRe: regexp.MustCompile(`(?m)^[ \t]*` + regexp.QuoteMeta(keyword) +
			`[ \t]+(` + identifierPattern + `)[ \t]*\(`),
	}
}

// ValidIdentifier reports whether name could be extracted by the grammar.
func ValidIdentifier(name string) bool {
	return identifierRe.MatchString(name)
}

// FunctionNames returns every defined function name in source order,
// without duplicates.
func (a *Assembler) FunctionNames(source string) []string {
	matches := a.defRe.FindAllStringSubmatch(source, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		names = append(names, m[1])
	}
	return names
}

// FunctionName returns the first defined function name.
func (a *Assembler) FunctionName(source string) (string, error) {
	m := a.defRe.FindStringSubmatch(source)
	if m == nil {
		return "", fmt.Errorf("%w: no %q function definition found", grading.ErrMalformedSubmission, a.keyword)
	}
	return m[1], nil
}

// Assemble appends the driver to the submission with exactly one separating
// line break. The submission must define the problem's function. Every
// result marker in the driver is tagged with a nonce fresh to this unit, so
// lines the submission prints itself cannot pass for results.
func (a *Assembler) Assemble(sub grading.Submission, problem grading.ProblemDefinition) (grading.ExecutionUnit, error) {
	names := a.FunctionNames(sub.Source)
	if len(names) == 0 {
		return grading.ExecutionUnit{}, fmt.Errorf("%w: no %q function definition found", grading.ErrMalformedSubmission, a.keyword)
	}
	found := false
	for _, n := range names {
		if n == problem.FunctionName {
			found = true
			break
		}
	}
	if !found {
		return grading.ExecutionUnit{}, fmt.Errorf("%w: source does not define %q", grading.ErrMalformedSubmission, problem.FunctionName)
	}
	nonce := newNonce()
	driver := strings.ReplaceAll(problem.DriverCode, parser.Marker, parser.Tag(nonce)+parser.Marker)
	return grading.ExecutionUnit{
		FunctionName: problem.FunctionName,
		Source:       sub.Source + "\n" + driver,
		Nonce:        nonce,
	}, nil
}
