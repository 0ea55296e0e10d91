package mysql

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
)

type AttemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) *AttemptRepository { return &AttemptRepository{db: db} }

const schema = `
CREATE TABLE IF NOT EXISTS analysis_attempts (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  session_id VARCHAR(64) NOT NULL,
  request_id VARCHAR(64) NOT NULL,
  kind VARCHAR(32) NOT NULL,
  attempt INT NOT NULL,
  outcome VARCHAR(16) NOT NULL,
  message TEXT NOT NULL,
  details_json JSON NOT NULL,
  duration_ms BIGINT NOT NULL,
  created_at DATETIME(6) NOT NULL,
  INDEX idx_attempts_request (session_id, request_id, created_at)
)`

// Migrate creates the audit table when missing.
func (r *AttemptRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

func (r *AttemptRepository) Save(ctx context.Context, a *attempts.Record) error {
	const q = `
INSERT INTO analysis_attempts
  (session_id, request_id, kind, attempt, outcome, message, details_json, duration_ms, created_at)
VALUES (?,?,?,?,?,?,?,?,?)
`
	msg := a.Message
	if strings.TrimSpace(msg) == "" {
		msg = "-"
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	res, err := r.db.ExecContext(ctx, q,
		dashIfEmpty(a.SessionID), dashIfEmpty(a.RequestID), dashIfEmpty(a.Kind),
		a.Attempt, dashIfEmpty(a.Outcome), msg, normalizeDetails(a.DetailsJSON), a.DurationMS, created,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		a.ID = id
	}
	return nil
}

func (r *AttemptRepository) ListByRequest(ctx context.Context, sessionID, requestID string, limit int) ([]*attempts.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, session_id, request_id, kind, attempt, outcome, message, details_json, duration_ms, created_at
FROM analysis_attempts
WHERE session_id = ? AND request_id = ?
ORDER BY created_at ASC, id ASC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, sessionID, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*attempts.Record
	for rows.Next() {
		var a attempts.Record
		if err := rows.Scan(&a.ID, &a.SessionID, &a.RequestID, &a.Kind, &a.Attempt, &a.Outcome,
			&a.Message, &a.DetailsJSON, &a.DurationMS, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
