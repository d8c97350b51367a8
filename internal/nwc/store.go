package nwc

import (
	"sync"
)

// SessionStore owns at most one Session per pairing identifier.
// Construct one at startup and pass it to whatever needs wallets.
type SessionStore struct {
	opts Options

	mu       sync.Mutex
	sessions map[string]*Session // raw pairing identifier -> session
}

// NewSessionStore creates an empty store; sessions inherit opts
func NewSessionStore(opts Options) *SessionStore {
	return &SessionStore{
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for pairing, creating it on first use.
// Creation only parses and derives keys; the relay is dialed lazily.
func (st *SessionStore) GetOrCreate(pairing string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[pairing]; ok {
		return s, nil
	}

	desc, err := ParseConnectionString(pairing)
	if err != nil {
		return nil, err
	}
	s, err := newSession(pairing, desc, st.opts)
	if err != nil {
		return nil, err
	}
	st.sessions[pairing] = s
	st.opts.Metrics.sessionsAdd(1)
	s.log.Debug("NWC: session created", "relay", desc.RelayURL(), "sessions", len(st.sessions))
	return s, nil
}

// Lookup returns an existing session without creating one
func (st *SessionStore) Lookup(pairing string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[pairing]
	return s, ok
}

// Close removes s from the store and closes it
func (st *SessionStore) Close(s *Session) {
	if s == nil {
		return
	}
	st.mu.Lock()
	if cur, ok := st.sessions[s.pairing]; ok && cur == s {
		delete(st.sessions, s.pairing)
		st.opts.Metrics.sessionsAdd(-1)
	}
	st.mu.Unlock()
	s.Close()
}

// CloseAll closes every session, used at shutdown
func (st *SessionStore) CloseAll() {
	st.mu.Lock()
	sessions := make([]*Session, 0, len(st.sessions))
	for _, s := range st.sessions {
		sessions = append(sessions, s)
	}
	st.sessions = make(map[string]*Session)
	st.opts.Metrics.sessionsAdd(-float64(len(sessions)))
	st.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// Len returns the number of open sessions
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
