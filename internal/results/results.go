// Package results persists the latest grading record per user and problem
// in PostgreSQL. Submission source is stored zstd-compressed.
package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"github.com/itstheanurag/grader/internal/grading"
)

var ErrNotFound = errors.New("result not found")

// DBTX is the subset of pgxpool.Pool the store needs.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// The WHERE clause keeps an older grading from overwriting a newer one when
// two submissions for the same key finish out of order.
const upsertSubmission = `
INSERT INTO submissions (user_id, problem_key, status, passed, total, report, source_zstd, graded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, problem_key) DO UPDATE SET
	status      = EXCLUDED.status,
	passed      = EXCLUDED.passed,
	total       = EXCLUDED.total,
	report      = EXCLUDED.report,
	source_zstd = EXCLUDED.source_zstd,
	graded_at   = EXCLUDED.graded_at
WHERE submissions.graded_at <= EXCLUDED.graded_at
RETURNING graded_at`

const getSubmission = `
SELECT report, source_zstd, graded_at
FROM submissions
WHERE user_id = $1 AND problem_key = $2`

type Store struct {
	db  DBTX
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func NewStore(db DBTX) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// Upsert stores rec unless a record graded later already exists for the
// same key, in which case stored is false.
func (s *Store) Upsert(ctx context.Context, rec grading.Record) (bool, error) {
	report, err := json.Marshal(rec.Report)
	if err != nil {
		return false, fmt.Errorf("failed to encode report: %w", err)
	}
	source := s.enc.EncodeAll([]byte(rec.Source), nil)

	var gradedAt time.Time
	err = s.db.QueryRow(ctx, upsertSubmission,
		rec.UserID,
		rec.ProblemKey,
		string(rec.Report.Status),
		rec.Report.PassedCount,
		rec.Report.TotalCount,
		report,
		source,
		rec.GradedAt,
	).Scan(&gradedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert submission: %w", err)
	}
	return true, nil
}

func (s *Store) Get(ctx context.Context, userID, problemKey string) (grading.Record, error) {
	var (
		report   []byte
		source   []byte
		gradedAt time.Time
	)
	err := s.db.QueryRow(ctx, getSubmission, userID, problemKey).Scan(&report, &source, &gradedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return grading.Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, userID, problemKey)
	}
	if err != nil {
		return grading.Record{}, fmt.Errorf("failed to load submission: %w", err)
	}

	rec := grading.Record{UserID: userID, ProblemKey: problemKey, GradedAt: gradedAt.UTC()}
	if err := json.Unmarshal(report, &rec.Report); err != nil {
		return grading.Record{}, fmt.Errorf("failed to decode report: %w", err)
	}
	plain, err := s.dec.DecodeAll(source, nil)
	if err != nil {
		return grading.Record{}, fmt.Errorf("failed to decompress source: %w", err)
	}
	rec.Source = string(plain)
	return rec, nil
}

func (s *Store) Close() {
	s.dec.Close()
	_ = s.enc.Close()
}
