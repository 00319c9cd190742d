package results

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itstheanurag/grader/internal/grading"
)

// stubRow replays fixed values into Scan destinations.
type stubRow struct {
	values []any
	err    error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *time.Time:
			*p = r.values[i].(time.Time)
		case *[]byte:
			*p = r.values[i].([]byte)
		default:
			return errors.New("unexpected scan target")
		}
	}
	return nil
}

// stubDB implements DBTX and remembers the last query.
type stubDB struct {
	row  stubRow
	sql  string
	args []any
}

func (s *stubDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	s.sql = sql
	s.args = args
	return s.row
}

func sampleRecord() grading.Record {
	report := grading.GradingReport{
		Status:      grading.StatusGraded,
		Verdicts:    []grading.TestVerdict{{Index: 1, ExpectedOutput: "True", ActualOutput: "True", Passed: true}},
		PassedCount: 1,
		TotalCount:  1,
	}
	return grading.NewRecord("u1", "twoSum", report, "def twoSum(a, t):\n    return True\n",
		time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestUpsertStored(t *testing.T) {
	rec := sampleRecord()
	db := &stubDB{row: stubRow{values: []any{rec.GradedAt}}}
	store, err := NewStore(db)
	require.NoError(t, err)
	defer store.Close()

	stored, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, stored)

	assert.Contains(t, db.sql, "ON CONFLICT (user_id, problem_key)")
	require.Len(t, db.args, 8)
	assert.Equal(t, "u1", db.args[0])
	assert.Equal(t, "twoSum", db.args[1])
	assert.Equal(t, "graded", db.args[2])

	var report grading.GradingReport
	require.NoError(t, json.Unmarshal(db.args[5].([]byte), &report))
	assert.Equal(t, rec.Report, report)

	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	plain, err := dec.DecodeAll(db.args[6].([]byte), nil)
	require.NoError(t, err)
	assert.Equal(t, rec.Source, string(plain))
}

func TestUpsertStale(t *testing.T) {
	store, err := NewStore(&stubDB{row: stubRow{err: pgx.ErrNoRows}})
	require.NoError(t, err)
	defer store.Close()

	stored, err := store.Upsert(context.Background(), sampleRecord())
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestUpsertError(t *testing.T) {
	store, err := NewStore(&stubDB{row: stubRow{err: errors.New("connection reset")}})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Upsert(context.Background(), sampleRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestGet(t *testing.T) {
	rec := sampleRecord()
	report, err := json.Marshal(rec.Report)
	require.NoError(t, err)

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	source := enc.EncodeAll([]byte(rec.Source), nil)
	require.NoError(t, enc.Close())

	store, err := NewStore(&stubDB{row: stubRow{values: []any{report, source, rec.GradedAt}}})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(context.Background(), "u1", "twoSum")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestGetNotFound(t *testing.T) {
	store, err := NewStore(&stubDB{row: stubRow{err: pgx.ErrNoRows}})
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get(context.Background(), "u1", "twoSum")
	assert.ErrorIs(t, err, ErrNotFound)
}
