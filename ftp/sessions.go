package ftp

import (
	"net"
	"sync"
)

// AuthState is where a session is in the login sequence. It only moves
// forward; a client that wants another identity opens a new connection.
type AuthState int

const (
	StateNew AuthState = iota
	StateWaitPass
	StateLoggedIn
)

func (s AuthState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateWaitPass:
		return "waiting-for-password"
	case StateLoggedIn:
		return "logged-in"
	}
	return "unknown"
}

// PassiveChannels is installed by PASV and read by whatever serves the data
// connection. Done is closed once a later PASV replaces the set or the
// session ends.
type PassiveChannels struct {
	Cmds  chan Command  // data commands for the pending transfer
	Abort chan struct{} // ABOR requests
	done  chan struct{}
	once  sync.Once
}

func newPassiveChannels() *PassiveChannels {
	return &PassiveChannels{
		Cmds:  make(chan Command, 1),
		Abort: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Done is closed when this set is no longer the session's current one.
func (p *PassiveChannels) Done() <-chan struct{} {
	return p.done
}

func (p *PassiveChannels) cancel() {
	p.once.Do(func() { close(p.done) })
}

// Session is the state of one control connection. The control loop owns it,
// but goroutines started by handlers and the passive acceptor touch it too,
// so every access goes through mu.
type Session struct {
	mu          sync.Mutex
	closed      bool
	state       AuthState
	username    string
	hasUsername bool
	user        User
	authPending bool // a PASS check is running
	cwd         string // relative to the storage root
	renameFrom  string // pending RNFR source, "" when none
	passive     *PassiveChannels
	storage     Storage
	remote      net.Addr
}

// NewSession returns a session in StateNew rooted at "/".
func NewSession(storage Storage, remote net.Addr) *Session {
	return &Session{
		state:   StateNew,
		cwd:     "/",
		storage: storage,
		remote:  remote,
	}
}

// lock takes the session mutex. It fails once the session is closed, in
// which case the mutex is not held.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	return nil
}

// installPassive replaces the passive channel set. Callers hold mu.
func (s *Session) installPassive(p *PassiveChannels) {
	if s.passive != nil {
		s.passive.cancel()
	}
	s.passive = p
}

// Close marks the session closed and releases the passive channel set.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.passive != nil {
		s.passive.cancel()
	}
}

// State returns the login state.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Username returns the name sent with USER, if any.
func (s *Session) Username() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username, s.hasUsername
}

// User returns the authenticated identity, nil before login.
func (s *Session) User() User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Cwd returns the current working directory.
func (s *Session) Cwd() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cwd
}

// RenameFrom returns the pending rename source, if any.
func (s *Session) RenameFrom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.renameFrom, s.renameFrom != ""
}

// Passive returns the current passive channel set, nil if PASV was never
// issued.
func (s *Session) Passive() *PassiveChannels {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.passive
}

// RemoteAddr returns the client address of the control connection.
func (s *Session) RemoteAddr() net.Addr {
	return s.remote
}

// SessionManager tracks the active sessions of a server.
type SessionManager struct {
	sessions map[string]*Session // Map of active sessions
	lock     sync.RWMutex        // Protects the sessions map
}

func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*Session),
	}
}

// Add adds a new session for the client.
func (manager *SessionManager) Add(id string, session *Session) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	manager.sessions[id] = session
}

// Get retrieves a session by its ID.
func (manager *SessionManager) Get(id string) (*Session, bool) {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	session, exists := manager.sessions[id]
	return session, exists
}

// Remove removes a session by its ID.
func (manager *SessionManager) Remove(id string) {
	manager.lock.Lock()
	defer manager.lock.Unlock()
	delete(manager.sessions, id)
}

// Len returns the number of active sessions.
func (manager *SessionManager) Len() int {
	manager.lock.RLock()
	defer manager.lock.RUnlock()
	return len(manager.sessions)
}
