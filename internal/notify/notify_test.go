package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/grading"
)

type stubConn struct {
	subject string
	data    []byte
	err     error
}

func (c *stubConn) Publish(subject string, data []byte) error {
	c.subject = subject
	c.data = data
	return c.err
}

func TestPublish(t *testing.T) {
	conn := &stubConn{}
	rec := grading.NewRecord("u1", "twoSum", grading.GradingReport{
		Status: grading.StatusExecutionFailed, PassedCount: 2, FailedCount: 2, TotalCount: 4,
	}, "secret source", time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))

	require.NoError(t, NewPublisher(conn, "grader.results").Publish(context.Background(), rec))
	assert.Equal(t, "grader.results", conn.subject)
	assert.NotContains(t, string(conn.data), "secret source")

	var msg ResultMessage
	require.NoError(t, json.Unmarshal(conn.data, &msg))
	assert.Equal(t, NewResultMessage(rec), msg)
}

func TestPublishError(t *testing.T) {
	conn := &stubConn{err: errors.New("nats: connection closed")}
	err := NewPublisher(conn, "s").Publish(context.Background(), grading.Record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
}

func TestPublishCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn := &stubConn{}
	assert.ErrorIs(t, NewPublisher(conn, "s").Publish(ctx, grading.Record{}), context.Canceled)
	assert.Empty(t, conn.subject)
}
