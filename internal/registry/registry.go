// Package registry tracks live connections per quiz session. It is pure
// in-process bookkeeping: no network calls happen here, and closing a
// superseded connection is left to the caller.
package registry

import "sync"

// Conn is the registry's view of one live connection.
type Conn interface {
	// Send enqueues a payload for delivery to the client. It must not
	// block: a slow consumer is an error, not a stall.
	Send(payload []byte) error
	// Close tears down the connection. Safe to call more than once.
	Close()
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	// conns holds every registered connection, bound or not.
	conns map[Conn]string
	// byUser maps a bound participant to its single live connection.
	byUser map[string]Conn
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*session),
	}
}

// Register adds a connection to a session before it is bound to a
// participant.
func (r *Registry) Register(quizID string, c Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss, ok := r.sessions[quizID]
	if !ok {
		ss = &session{
			conns:  make(map[Conn]string),
			byUser: make(map[string]Conn),
		}
		r.sessions[quizID] = ss
	}

	ss.conns[c] = ""
}

// Bind associates a registered connection with a participant identity. If
// another connection is already bound to the same participant it is removed
// from the registry and returned so the caller can close it.
func (r *Registry) Bind(quizID string, c Conn, username string) (superseded Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss, ok := r.sessions[quizID]
	if !ok {
		return nil
	}
	if _, ok := ss.conns[c]; !ok {
		return nil
	}

	if prev, ok := ss.byUser[username]; ok && prev != c {
		delete(ss.conns, prev)
		superseded = prev
	}

	ss.conns[c] = username
	ss.byUser[username] = c
	return superseded
}

// Unregister removes a connection. Idempotent: it reports whether the
// connection was still present, so callers can run cleanup on both the
// error path and normal teardown without double-counting.
func (r *Registry) Unregister(quizID string, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	ss, ok := r.sessions[quizID]
	if !ok {
		return false
	}

	username, ok := ss.conns[c]
	if !ok {
		return false
	}

	delete(ss.conns, c)
	if username != "" && ss.byUser[username] == c {
		delete(ss.byUser, username)
	}

	if len(ss.conns) == 0 {
		delete(r.sessions, quizID)
	}

	return true
}

// Conns returns every connection currently registered for a session.
func (r *Registry) Conns(quizID string) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ss, ok := r.sessions[quizID]
	if !ok {
		return nil
	}

	conns := make([]Conn, 0, len(ss.conns))
	for c := range ss.conns {
		conns = append(conns, c)
	}
	return conns
}

// Connected returns the set of participants with a live bound connection.
func (r *Registry) Connected(quizID string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ss, ok := r.sessions[quizID]
	if !ok {
		return nil
	}

	users := make(map[string]bool, len(ss.byUser))
	for u := range ss.byUser {
		users[u] = true
	}
	return users
}
