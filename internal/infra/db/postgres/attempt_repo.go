package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
)

type AttemptRepository struct{ db *sqlx.DB }

func NewAttemptRepository(db *sqlx.DB) *AttemptRepository { return &AttemptRepository{db: db} }

const schema = `
CREATE TABLE IF NOT EXISTS analysis_attempts (
  id BIGSERIAL PRIMARY KEY,
  session_id TEXT NOT NULL,
  request_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  attempt INT NOT NULL,
  outcome TEXT NOT NULL,
  message TEXT NOT NULL,
  details_json JSONB NOT NULL,
  duration_ms BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_request ON analysis_attempts (session_id, request_id, created_at);`

func (r *AttemptRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save inserts the record and stores the generated id on it.
func (r *AttemptRepository) Save(ctx context.Context, a *attempts.Record) error {
	const q = `
INSERT INTO analysis_attempts
  (session_id, request_id, kind, attempt, outcome, message, details_json, duration_ms, created_at)
VALUES (:session_id, :request_id, :kind, :attempt, :outcome, :message, :details_json, :duration_ms, :created_at)
RETURNING id`
	row := *a
	row.SessionID = stringOrDash(row.SessionID)
	row.RequestID = stringOrDash(row.RequestID)
	row.Kind = stringOrDash(row.Kind)
	row.Outcome = stringOrDash(row.Outcome)
	row.Message = stringOrDash(row.Message)
	row.DetailsJSON = normalizeDetails(row.DetailsJSON)
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}

	stmt, err := r.db.PrepareNamedContext(ctx, q)
	if err != nil {
		return err
	}
	defer stmt.Close()
	return stmt.GetContext(ctx, &a.ID, row)
}

func (r *AttemptRepository) ListByRequest(ctx context.Context, sessionID, requestID string, limit int) ([]*attempts.Record, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
SELECT id, session_id, request_id, kind, attempt, outcome, message, details_json::text AS details_json, duration_ms, created_at
FROM analysis_attempts
WHERE session_id = $1 AND request_id = $2
ORDER BY created_at ASC, id ASC
LIMIT $3`
	var out []*attempts.Record
	if err := r.db.SelectContext(ctx, &out, q, sessionID, requestID, limit); err != nil {
		return nil, err
	}
	return out, nil
}

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func normalizeDetails(details string) string {
	if strings.TrimSpace(details) == "" {
		return "{}"
	}
	var js any
	if json.Unmarshal([]byte(details), &js) != nil {
		b, _ := json.Marshal(map[string]string{"raw": details})
		return string(b)
	}
	return details
}
