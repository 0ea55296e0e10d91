package attempts

import "time"

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Record is one generate-execute cycle as written to the audit log.
// It never carries dataset rows or chat text.
type Record struct {
	ID          int64     `json:"id" db:"id"`
	SessionID   string    `json:"session_id" db:"session_id"`
	RequestID   string    `json:"request_id" db:"request_id"`
	Kind        string    `json:"kind" db:"kind"` // analysis | charts | business_insight | dictionary
	Attempt     int       `json:"attempt" db:"attempt"`
	Outcome     string    `json:"outcome" db:"outcome"`
	Message     string    `json:"message,omitempty" db:"message"`
	DetailsJSON string    `json:"details_json,omitempty" db:"details_json"` // raw JSON string
	DurationMS  int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
