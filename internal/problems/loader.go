package problems

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/itstheanurag/grader/internal/assembler"
	"github.com/itstheanurag/grader/internal/grading"
	"github.com/itstheanurag/grader/internal/parser"
)

//go:embed builtin/*.toml
var builtinFS embed.FS

var (
	ErrInvalidProblem = errors.New("invalid problem definition")
)

// Parse decodes one problem file. Unknown keys are rejected so a typo in a
// field name does not silently drop a test case attribute.
func Parse(data []byte) (grading.ProblemDefinition, error) {
	var p grading.ProblemDefinition
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return grading.ProblemDefinition{}, fmt.Errorf("%w: %v", ErrInvalidProblem, err)
	}
	if err := Validate(p); err != nil {
		return grading.ProblemDefinition{}, err
	}
	return p, nil
}

// Validate checks that p can be graded: a function name the assembler can
// extract, a driver that prints result lines, and at least one test case
// with unique positive indices.
func Validate(p grading.ProblemDefinition) error {
	if !assembler.ValidIdentifier(p.FunctionName) {
		return fmt.Errorf("%w: function name %q is not a valid identifier", ErrInvalidProblem, p.FunctionName)
	}
	if strings.TrimSpace(p.DriverCode) == "" {
		return fmt.Errorf("%w: %s has no driver code", ErrInvalidProblem, p.FunctionName)
	}
	if !strings.Contains(p.DriverCode, parser.Marker) {
		return fmt.Errorf("%w: %s driver never prints %q", ErrInvalidProblem, p.FunctionName, parser.Marker)
	}
	if len(p.TestCases) == 0 {
		return fmt.Errorf("%w: %s declares no test cases", ErrInvalidProblem, p.FunctionName)
	}
	seen := make(map[int]struct{}, len(p.TestCases))
	for _, tc := range p.TestCases {
		if tc.Index < 1 {
			return fmt.Errorf("%w: %s test case index %d must be positive", ErrInvalidProblem, p.FunctionName, tc.Index)
		}
		if _, dup := seen[tc.Index]; dup {
			return fmt.Errorf("%w: %s declares test case %d twice", ErrInvalidProblem, p.FunctionName, tc.Index)
		}
		seen[tc.Index] = struct{}{}
	}
	return nil
}

func (r *Registry) loadBuiltin() error {
	return r.loadFS(builtinFS, "builtin")
}

// LoadDir registers every *.toml file in dir. A file that defines an
// already registered function replaces it; the count covers new names only.
func (r *Registry) LoadDir(dir string) (int, error) {
	if _, err := os.Stat(dir); err != nil {
		return 0, fmt.Errorf("problem directory %s: %w", dir, err)
	}
	before := r.Len()
	if err := r.loadFS(os.DirFS(dir), "."); err != nil {
		return 0, err
	}
	return r.Len() - before, nil
}

func (r *Registry) loadFS(fsys fs.FS, root string) error {
	paths, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*.toml")))
	if err != nil {
		return fmt.Errorf("failed to list problem files: %w", err)
	}
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		p, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := r.Register(p); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}
