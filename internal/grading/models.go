// Package grading holds the values that flow through one grading call:
// the submission, the problem it is graded against, the raw execution
// outcome and the final report.
package grading

import "time"

// Unparsed is the actual output recorded for a test case that produced no
// matching result line.
const Unparsed = "unparsed"

// Submission is untrusted source implementing one named function.
type Submission struct {
	FunctionName string
	Source       string
}

// TestCase is one declared case of a problem's hidden suite.
type TestCase struct {
	Index            int    `toml:"index" json:"index"`
	Description      string `toml:"description" json:"description"`
	InputDescription string `toml:"input" json:"input"`
	ExpectedOutput   string `toml:"expected_output" json:"expected_output"`
}

// ProblemDefinition pairs a function name with the driver that exercises it
// and the ordered expectations for each printed result line.
type ProblemDefinition struct {
	FunctionName string     `toml:"function_name" json:"function_name"`
	DriverCode   string     `toml:"driver_code" json:"-"`
	TestCases    []TestCase `toml:"test_cases" json:"test_cases"`
}

// ExitStatus classifies how a sandboxed run ended.
type ExitStatus string

const (
	ExitSuccess          ExitStatus = "success"
	ExitNonZero          ExitStatus = "nonzero_exit"
	ExitTimedOut         ExitStatus = "timed_out"
	ExitResourceExceeded ExitStatus = "resource_exceeded"
	ExitLaunchFailed     ExitStatus = "launch_failed"
)

// ExecutionOutcome is what the sandbox reports for one run.
type ExecutionOutcome struct {
	Status   ExitStatus
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
	// Detail names the ceiling that was crossed or the launch step that failed.
	Detail string
	// Truncated is set when output past the ceiling was discarded.
	Truncated bool
}

// TestVerdict is the outcome of one declared test case.
type TestVerdict struct {
	Index            int    `json:"index"`
	Description      string `json:"description"`
	InputDescription string `json:"input"`
	ExpectedOutput   string `json:"expected_output"`
	ActualOutput     string `json:"actual_output"`
	Passed           bool   `json:"passed"`
	// ExecutionTimeMs is an approximate share of the whole run. It is never
	// used to decide Passed.
	ExecutionTimeMs float64 `json:"execution_time_ms"`
}

// OverallStatus is the request-level outcome of a grading call.
type OverallStatus string

const (
	StatusGraded              OverallStatus = "graded"
	StatusExecutionFailed     OverallStatus = "execution_failed"
	StatusTimedOut            OverallStatus = "timed_out"
	StatusMalformedSubmission OverallStatus = "malformed_submission"
)

// GradingReport is the only artifact that leaves the grading core.
type GradingReport struct {
	Status      OverallStatus `json:"status"`
	Verdicts    []TestVerdict `json:"verdicts"`
	PassedCount int           `json:"passed"`
	FailedCount int           `json:"failed"`
	TotalCount  int           `json:"total"`
	ErrorDetail string        `json:"error,omitempty"`
}

// Record is the tuple handed to the result store. At most one record is
// kept per (UserID, ProblemKey); the latest GradedAt wins.
type Record struct {
	UserID     string
	ProblemKey string
	Report     GradingReport
	Source     string
	GradedAt   time.Time
}

// NewRecord builds the persistence tuple for a finished grading call.
func NewRecord(userID, problemKey string, report GradingReport, source string, gradedAt time.Time) Record {
	return Record{
		UserID:     userID,
		ProblemKey: problemKey,
		Report:     report,
		Source:     source,
		GradedAt:   gradedAt.UTC(),
	}
}

// ExecutionUnit is the submission merged with a problem's driver. It lives
// for a single sandboxed run and is never reused.
type ExecutionUnit struct {
	FunctionName string
	Source       string
	// Nonce tags the driver's result lines in Source.
	Nonce string
}
