package grading

import "errors"

var (
	// ErrMalformedSubmission means no function definition could be found in
	// the submitted source. Such submissions are never executed.
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrProblemNotFound means the problem store has no definition for the
	// submitted function. Such submissions are never executed.
	ErrProblemNotFound = errors.New("problem not found")

	// ErrLaunchFailed marks infrastructure failures: the isolated
	// environment could not be created. It never describes user code.
	ErrLaunchFailed = errors.New("sandbox launch failed")

	// ErrGradingFault marks a panic recovered while grading.
	ErrGradingFault = errors.New("internal grading error")
)
