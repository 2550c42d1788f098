package calllog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores call logs in PostgreSQL. The caller_id and
// receiver_id columns are indexed for the history query.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Append inserts a call log record.
func (r *PostgresRepository) Append(ctx context.Context, log CallLog) error {
	id, err := uuid.Parse(log.ID)
	if err != nil {
		id = uuid.New()
	}
	_, err = r.db.Exec(ctx, `INSERT INTO call_logs (id, caller_id, receiver_id, start_time, end_time, outcome)
        VALUES ($1, $2, $3, $4, $5, $6)`,
		id, log.CallerID, log.ReceiverID, log.StartTime.UTC(), log.EndTime.UTC(), log.Outcome)
	if err != nil {
		return fmt.Errorf("append call log: %w", err)
	}
	return nil
}

// Recent lists deduplicated history for the user, most recent first.
func (r *PostgresRepository) Recent(ctx context.Context, userID string, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	// Over-fetch before deduplication so collapsed pairs do not shrink the
	// page below the requested limit.
	rows, err := r.db.Query(ctx, `SELECT id, caller_id, receiver_id, start_time, end_time, outcome
        FROM call_logs WHERE caller_id = $1 OR receiver_id = $1
        ORDER BY start_time DESC LIMIT $2`, userID, limit*10)
	if err != nil {
		return nil, fmt.Errorf("query call logs: %w", err)
	}
	defer rows.Close()

	var logs []CallLog
	for rows.Next() {
		var l CallLog
		var id uuid.UUID
		if err := rows.Scan(&id, &l.CallerID, &l.ReceiverID, &l.StartTime, &l.EndTime, &l.Outcome); err != nil {
			return nil, err
		}
		l.ID = id.String()
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return dedupePairs(logs, limit), nil
}
