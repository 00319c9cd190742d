package grading

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRecordNormalizesToUTC(t *testing.T) {
	at := time.Date(2026, 6, 1, 9, 30, 0, 0, time.FixedZone("CEST", 2*3600))
	rec := NewRecord("u", "twoSum", GradingReport{Status: StatusGraded}, "src", at)
	assert.Equal(t, time.UTC, rec.GradedAt.Location())
	assert.True(t, at.Equal(rec.GradedAt))
}

func TestProblemDefinitionHidesDriver(t *testing.T) {
	b, err := json.Marshal(ProblemDefinition{FunctionName: "f", DriverCode: "secret()"})
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
}
