package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brojonat/ledgersync/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a journal entry does not exist.
var ErrNotFound = errors.New("submission not found")

const submissionsTable = "submissions"

// Schema creates the submission journal. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS submissions (
    signature               TEXT PRIMARY KEY,
    payer                   TEXT NOT NULL,
    signer_kind             TEXT NOT NULL,
    status                  TEXT NOT NULL,
    error                   TEXT,
    slot                    BIGINT NOT NULL DEFAULT 0,
    commitment              TEXT NOT NULL,
    last_valid_block_height BIGINT NOT NULL DEFAULT 0,
    workflow_id             TEXT,
    created_at              TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at              TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS submissions_payer_created_idx ON submissions (payer, created_at DESC);
CREATE INDEX IF NOT EXISTS submissions_status_idx ON submissions (status);
`

const submissionColumns = `signature, payer, signer_kind, status, error, slot, commitment,
    last_valid_block_height, workflow_id, created_at, updated_at`

// Store provides database operations for the submission journal.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If metrics is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Submission is one journaled transaction submission.
type Submission struct {
	Signature            string    `db:"signature"`
	Payer                string    `db:"payer"`
	SignerKind           string    `db:"signer_kind"`
	Status               string    `db:"status"`
	Error                *string   `db:"error"`
	Slot                 int64     `db:"slot"`
	Commitment           string    `db:"commitment"`
	LastValidBlockHeight int64     `db:"last_valid_block_height"`
	WorkflowID           *string   `db:"workflow_id"`
	CreatedAt            time.Time `db:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"`
}

// CreateSubmissionParams contains the parameters for journaling a new submission.
type CreateSubmissionParams struct {
	Signature            string
	Payer                string
	SignerKind           string
	Status               string
	Commitment           string
	LastValidBlockHeight int64
	WorkflowID           *string
}

// UpdateSubmissionStatusParams contains the terminal state of a submission.
// A zero LastValidBlockHeight leaves the stored value unchanged.
type UpdateSubmissionStatusParams struct {
	Signature            string
	Status               string
	Slot                 int64
	LastValidBlockHeight int64
	Error                *string
}

// ListSubmissionsParams contains filter and pagination parameters.
// Empty Payer or Status matches everything.
type ListSubmissionsParams struct {
	Payer  string
	Status string
	Limit  int32
	Offset int32
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, Schema)
	s.metrics.RecordDBQuery("migrate", submissionsTable, time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// CreateSubmission journals a broadcast transaction. Recording the same
// signature twice keeps the first row and returns it.
func (s *Store) CreateSubmission(ctx context.Context, params CreateSubmissionParams) (*Submission, error) {
	query := `
INSERT INTO submissions (signature, payer, signer_kind, status, commitment, last_valid_block_height, workflow_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (signature) DO UPDATE SET updated_at = submissions.updated_at
RETURNING ` + submissionColumns

	return s.queryOne(ctx, "create", query,
		params.Signature,
		params.Payer,
		params.SignerKind,
		params.Status,
		params.Commitment,
		params.LastValidBlockHeight,
		pgtextFromStringPtr(params.WorkflowID),
	)
}

// UpdateSubmissionStatus records the outcome of confirmation.
func (s *Store) UpdateSubmissionStatus(ctx context.Context, params UpdateSubmissionStatusParams) (*Submission, error) {
	query := `
UPDATE submissions
SET status = $2, slot = $3, error = $4,
    last_valid_block_height = GREATEST(last_valid_block_height, $5),
    updated_at = now()
WHERE signature = $1
RETURNING ` + submissionColumns

	return s.queryOne(ctx, "update_status", query,
		params.Signature,
		params.Status,
		params.Slot,
		pgtextFromStringPtr(params.Error),
		params.LastValidBlockHeight,
	)
}

// GetSubmission retrieves a submission by signature.
func (s *Store) GetSubmission(ctx context.Context, signature string) (*Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE signature = $1`
	return s.queryOne(ctx, "get", query, signature)
}

// ListSubmissions returns submissions, newest first.
func (s *Store) ListSubmissions(ctx context.Context, params ListSubmissionsParams) ([]*Submission, error) {
	if params.Limit <= 0 {
		params.Limit = 50
	}
	query := `SELECT ` + submissionColumns + `
FROM submissions
WHERE ($1::text = '' OR payer = $1) AND ($2::text = '' OR status = $2)
ORDER BY created_at DESC
LIMIT $3 OFFSET $4`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, params.Payer, params.Status, params.Limit, params.Offset)
	if err != nil {
		s.metrics.RecordDBQuery("list", submissionsTable, time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list submissions: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[Submission])
	s.metrics.RecordDBQuery("list", submissionsTable, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to scan submissions: %w", err)
	}
	return out, nil
}

// CountSubmissionsByStatus returns the number of submissions in each status.
func (s *Store) CountSubmissionsByStatus(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM submissions GROUP BY status`)
	if err != nil {
		s.metrics.RecordDBQuery("count", submissionsTable, time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to count submissions: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("count", submissionsTable, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// DeleteSubmissionsOlderThan prunes the journal and returns the number of rows removed.
func (s *Store) DeleteSubmissionsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	start := time.Now()
	tag, err := s.pool.Exec(ctx, `DELETE FROM submissions WHERE created_at < $1`,
		pgtype.Timestamptz{Time: before, Valid: true})
	s.metrics.RecordDBQuery("delete", submissionsTable, time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("failed to delete submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) queryOne(ctx context.Context, op, query string, args ...any) (*Submission, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		s.metrics.RecordDBQuery(op, submissionsTable, time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to %s submission: %w", op, err)
	}
	sub, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[Submission])
	s.metrics.RecordDBQuery(op, submissionsTable, time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to %s submission: %w", op, err)
	}
	return sub, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}
