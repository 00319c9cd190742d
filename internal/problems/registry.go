// Package problems is the problem store: the definitions submissions are
// graded against, keyed by the function name they exercise.
package problems

import (
	"fmt"
	"sort"
	"sync"

	"github.com/itstheanurag/grader/internal/grading"
)

// Store resolves a function name to its problem definition. Lookup returns
// an error wrapping grading.ErrProblemNotFound for unknown names.
type Store interface {
	Lookup(functionName string) (grading.ProblemDefinition, error)
}

type Registry struct {
	mu       sync.RWMutex
	problems map[string]grading.ProblemDefinition
}

func NewRegistry() *Registry {
	return &Registry{
		problems: make(map[string]grading.ProblemDefinition),
	}
}

// NewBuiltinRegistry returns a registry preloaded with the bundled problems.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	if err := r.loadBuiltin(); err != nil {
		return nil, err
	}
	return r, nil
}

// Register validates p and stores it, replacing any definition for the
// same function name.
func (r *Registry) Register(p grading.ProblemDefinition) error {
	if err := Validate(p); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.problems[p.FunctionName] = p
	return nil
}

func (r *Registry) Lookup(functionName string) (grading.ProblemDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.problems[functionName]
	if !ok {
		return grading.ProblemDefinition{}, fmt.Errorf("%w: %q", grading.ErrProblemNotFound, functionName)
	}
	return p, nil
}

// Names lists the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.problems))
	for name := range r.problems {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.problems)
}
