package attempts

import "context"

// Repository defines persistence for attempt records
type Repository interface {
	Save(ctx context.Context, r *Record) error
	ListByRequest(ctx context.Context, sessionID, requestID string, limit int) ([]*Record, error)
}
