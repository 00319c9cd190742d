// Package notify announces stored grading results on a NATS subject.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/itstheanurag/grader/internal/grading"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

// ResultMessage is the payload published for each stored record. The
// submission source is not included.
type ResultMessage struct {
	UserID     string                `json:"user_id"`
	ProblemKey string                `json:"problem_key"`
	Status     grading.OverallStatus `json:"status"`
	Passed     int                   `json:"passed"`
	Failed     int                   `json:"failed"`
	Total      int                   `json:"total"`
	GradedAt   time.Time             `json:"graded_at"`
}

func NewResultMessage(rec grading.Record) ResultMessage {
	return ResultMessage{
		UserID:     rec.UserID,
		ProblemKey: rec.ProblemKey,
		Status:     rec.Report.Status,
		Passed:     rec.Report.PassedCount,
		Failed:     rec.Report.FailedCount,
		Total:      rec.Report.TotalCount,
		GradedAt:   rec.GradedAt,
	}
}

type Publisher struct {
	conn    Conn
	subject string
}

func NewPublisher(conn Conn, subject string) *Publisher {
	return &Publisher{conn: conn, subject: subject}
}

func (p *Publisher) Publish(ctx context.Context, rec grading.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(NewResultMessage(rec))
	if err != nil {
		return fmt.Errorf("failed to marshal result message: %w", err)
	}
	if err := p.conn.Publish(p.subject, b); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.subject, err)
	}
	return nil
}

// Connect dials url and keeps reconnecting in the background for the life
// of the connection.
func Connect(url string, logger *zerolog.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("grader"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return nc, nil
}
