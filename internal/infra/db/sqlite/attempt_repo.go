package sqlite

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
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  request_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  attempt INTEGER NOT NULL,
  outcome TEXT NOT NULL,
  message TEXT NOT NULL,
  details_json TEXT NOT NULL,
  duration_ms INTEGER NOT NULL,
  created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_request ON analysis_attempts (session_id, request_id, created_at);`

func (r *AttemptRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// timeLayout is fixed width so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// row mirrors the table; created_at is stored as UTC text.
type row struct {
	ID          int64  `db:"id"`
	SessionID   string `db:"session_id"`
	RequestID   string `db:"request_id"`
	Kind        string `db:"kind"`
	Attempt     int    `db:"attempt"`
	Outcome     string `db:"outcome"`
	Message     string `db:"message"`
	DetailsJSON string `db:"details_json"`
	DurationMS  int64  `db:"duration_ms"`
	CreatedAt   string `db:"created_at"`
}

func (r *AttemptRepository) Save(ctx context.Context, a *attempts.Record) error {
	const q = `
INSERT INTO analysis_attempts
  (session_id, request_id, kind, attempt, outcome, message, details_json, duration_ms, created_at)
VALUES (?,?,?,?,?,?,?,?,?)`
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	details := a.DetailsJSON
	if strings.TrimSpace(details) == "" {
		details = "{}"
	} else if !json.Valid([]byte(details)) {
		b, _ := json.Marshal(map[string]string{"raw": details})
		details = string(b)
	}
	res, err := r.db.ExecContext(ctx, q,
		orDash(a.SessionID), orDash(a.RequestID), orDash(a.Kind), a.Attempt, orDash(a.Outcome),
		orDash(a.Message), details, a.DurationMS, created.UTC().Format(timeLayout),
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
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
LIMIT ?`
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, q, sessionID, requestID, limit); err != nil {
		return nil, err
	}
	out := make([]*attempts.Record, len(rows))
	for i, rw := range rows {
		created, err := time.Parse(timeLayout, rw.CreatedAt)
		if err != nil {
			return nil, err
		}
		out[i] = &attempts.Record{
			ID:          rw.ID,
			SessionID:   rw.SessionID,
			RequestID:   rw.RequestID,
			Kind:        rw.Kind,
			Attempt:     rw.Attempt,
			Outcome:     rw.Outcome,
			Message:     rw.Message,
			DetailsJSON: rw.DetailsJSON,
			DurationMS:  rw.DurationMS,
			CreatedAt:   created,
		}
	}
	return out, nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
