// Package session tracks the identity state of one client connection.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/passvault/internal/common"
	"github.com/google/uuid"
)

type State int

const (
	Anonymous State = iota
	Authenticated
	Closed
)

func (s State) String() string {
	switch s {
	case Anonymous:
		return "anonymous"
	case Authenticated:
		return "authenticated"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Pending is a command held back by the safety check, waiting for the
// caller to confirm it.
type Pending struct {
	Command string
	Params  []string
}

// Session is owned by one connection goroutine; the mutex only guards reads
// from elsewhere (shutdown, metrics).
type Session struct {
	mu      sync.Mutex
	id      string
	remote  string
	started time.Time
	state   State
	user    string
	pending *Pending
}

func New(remote string) *Session {
	return &Session{
		id:      uuid.NewString(),
		remote:  remote,
		started: time.Now(),
		state:   Anonymous,
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Remote() string     { return s.remote }
func (s *Session) Started() time.Time { return s.started }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// User returns the authenticated username, if any.
func (s *Session) User() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user, s.state == Authenticated
}

// Login moves an anonymous session to Authenticated.
func (s *Session) Login(user string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Authenticated:
		return fmt.Errorf("%w as %s", common.ErrAlreadyLogged, s.user)
	case Closed:
		return fmt.Errorf("%w: session closed", common.ErrProtocol)
	}
	s.state = Authenticated
	s.user = user
	s.pending = nil
	return nil
}

// Logout returns to Anonymous and reports the user that was logged out.
// Logging out an anonymous session is a no-op.
func (s *Session) Logout() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	if s.state != Authenticated {
		return "", false
	}
	user := s.user
	s.state = Anonymous
	s.user = ""
	return user, true
}

// Close is terminal and valid from any state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Closed
	s.user = ""
	s.pending = nil
}

func (s *Session) SetPending(p Pending) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Params = append([]string(nil), p.Params...)
	s.pending = &p
}

// TakePending returns and clears the pending command.
func (s *Session) TakePending() (Pending, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Pending{}, false
	}
	p := *s.pending
	s.pending = nil
	return p, true
}

func (s *Session) ClearPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}
