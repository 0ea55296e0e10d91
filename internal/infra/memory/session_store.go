package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/bryanwahyu/datalyst/internal/application"
	"github.com/bryanwahyu/datalyst/internal/domain/session"
)

type inflight struct {
	lease  *session.Lease
	cancel context.CancelFunc
}

type entry struct {
	mu     sync.Mutex
	state  *session.State
	active *inflight
}

// SessionStore keeps sessions in process memory. Each session admits one
// request at a time.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	clock    application.Clock
}

func NewSessionStore(clock application.Clock) *SessionStore {
	if clock == nil {
		clock = application.SystemClock{}
	}
	return &SessionStore{sessions: make(map[string]*entry), clock: clock}
}

func (s *SessionStore) Create(_ context.Context) (*session.State, error) {
	st := session.New(uuid.NewString(), s.clock.Now())
	s.mu.Lock()
	s.sessions[st.ID] = &entry{state: st}
	s.mu.Unlock()
	return st.Snapshot(), nil
}

func (s *SessionStore) get(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, session.ErrNotFound
	}
	return e, nil
}

func (s *SessionStore) View(_ context.Context, id string) (*session.State, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Snapshot(), nil
}

func (s *SessionStore) Begin(ctx context.Context, id string) (context.Context, *session.Lease, error) {
	e, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil {
		return nil, nil, session.ErrBusy
	}
	lease := &session.Lease{SessionID: id, RequestID: uuid.NewString(), Epoch: e.state.Epoch()}
	rctx, cancel := context.WithCancel(ctx)
	e.active = &inflight{lease: lease, cancel: cancel}
	return rctx, lease, nil
}

func (s *SessionStore) Commit(_ context.Context, lease *session.Lease, fn func(*session.State) error) error {
	e, err := s.get(lease.SessionID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.lease != lease || e.state.Epoch() != lease.Epoch {
		return session.ErrStale
	}
	return fn(e.state)
}

func (s *SessionStore) End(lease *session.Lease) {
	if lease == nil {
		return
	}
	e, err := s.get(lease.SessionID)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active != nil && e.active.lease == lease {
		e.active.cancel()
		e.active = nil
	}
}

// Reset clears the session at once and frees it for the next request; the
// abandoned request can no longer commit.
func (s *SessionStore) Reset(_ context.Context, id string) error {
	e, err := s.get(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Reset()
	if e.active != nil {
		e.active.cancel()
		e.active = nil
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	if err := s.Reset(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	return nil
}
