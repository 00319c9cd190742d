//go:build !linux

package sandbox

import (
	"context"
	"errors"

	"github.com/itstheanurag/grader/internal/grading"
)

func (s *ProcessSandbox) Run(_ context.Context, _ RunConfig) (grading.ExecutionOutcome, error) {
	return launchFailed("process sandbox is only supported on linux")
}

func (s *ProcessSandbox) checkIsolation() error {
	return errors.New("namespaces require linux")
}
