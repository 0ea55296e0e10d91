package session

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrBusy     = errors.New("session already has a request in flight")
	// ErrStale is returned when committing work that started before a reset.
	ErrStale = errors.New("session was reset while the request was running")
)

// Lease marks the single active request of a session.
type Lease struct {
	SessionID string
	RequestID string
	Epoch     uint64
}

// Store port
type Store interface {
	Create(ctx context.Context) (*State, error)
	// View returns a snapshot of the session.
	View(ctx context.Context, id string) (*State, error)
	// Begin claims the session for one request. The returned context is
	// cancelled by Reset or End.
	Begin(ctx context.Context, id string) (context.Context, *Lease, error)
	// Commit applies fn under the session lock if the lease epoch is current.
	Commit(ctx context.Context, lease *Lease, fn func(*State) error) error
	End(lease *Lease)
	// Reset clears the session and cancels any in-flight request.
	Reset(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}
