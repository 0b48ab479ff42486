package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cognidex/portal-backend/internal/model"
)

// SubmissionLogRepository persists the submission audit trail.
type SubmissionLogRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionLogRepository creates a new SubmissionLogRepository.
func NewSubmissionLogRepository(pool *pgxpool.Pool) *SubmissionLogRepository {
	return &SubmissionLogRepository{pool: pool}
}

// Record inserts one settled submission.
func (r *SubmissionLogRepository) Record(ctx context.Context, entry *model.SubmissionLog) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO submission_logs (test_id, flow, status, reason, upstream_ms)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		entry.TestID, entry.Flow, entry.Status, nullableReason(entry.Reason), entry.UpstreamMS,
	).Scan(&entry.ID, &entry.CreatedAt)
}

// ListByTest retrieves the audit trail for one test, newest first.
func (r *SubmissionLogRepository) ListByTest(ctx context.Context, testID int) ([]model.SubmissionLog, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, test_id, flow, status, COALESCE(reason, ''), upstream_ms, created_at
		 FROM submission_logs
		 WHERE test_id = $1
		 ORDER BY created_at DESC`, testID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []model.SubmissionLog
	for rows.Next() {
		var l model.SubmissionLog
		if err := rows.Scan(&l.ID, &l.TestID, &l.Flow, &l.Status, &l.Reason, &l.UpstreamMS, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func nullableReason(r model.InconclusiveReason) interface{} {
	if r == "" {
		return nil
	}
	return string(r)
}
