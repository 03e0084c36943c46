package ftp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/omikuji/firetrap/tools"
)

// Server accepts control connections and runs one control loop per
// connection.
type Server struct {
	// Addr is the TCP address of the control listener, in the form
	// "host:port".
	Addr string

	// WelcomeMessage is sent with the 220 greeting.
	WelcomeMessage string

	// TLSConfig is only used to decide what FEAT advertises; the handshake
	// itself happens outside this package.
	TLSConfig *tls.Config

	// PassiveHost is the IPv4 address written into PASV replies. When it is
	// not set, the local address of the control connection is used.
	PassiveHost netip.Addr
	// PassiveBind is the address passive listeners bind on, 0.0.0.0 if unset.
	PassiveBind netip.Addr
	// PasvMinPort and PasvMaxPort bound the passive port pool. Both zero means
	// an OS-chosen port.
	PasvMinPort int
	PasvMaxPort int

	// DataHandler serves accepted passive connections, HoldDataConn if nil.
	DataHandler DataHandler
	// Rand picks passive pool members, math/rand/v2 if nil.
	Rand func(n int) int

	storage        Storage
	auth           Authenticator
	logger         *slog.Logger
	sessionManager *SessionManager

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer returns a server for storage. auth may be nil, in which case
// nobody can log in.
func NewServer(addr string, storage Storage, auth Authenticator) (*Server, error) {
	if storage == nil {
		return nil, errors.New("storage is required")
	}
	return &Server{
		Addr:           addr,
		WelcomeMessage: "Welcome to the firetrap FTP server",
		storage:        storage,
		auth:           auth,
		sessionManager: NewSessionManager(),
		conns:          make(map[net.Conn]struct{}),
	}, nil
}

// SetLogger sets the logger for the server.
func (s *Server) SetLogger(l *slog.Logger) {
	s.logger = l
}

// Logger returns the logger for the server.
func (s *Server) Logger() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// SetPublicServerIPv4 sets the host advertised in PASV replies.
func (s *Server) SetPublicServerIPv4(ip string) error {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return fmt.Errorf("error parsing public ip: %w", err)
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return fmt.Errorf("public ip %s is not an IPv4 address", ip)
	}
	s.PassiveHost = addr
	return nil
}

// ActiveSessions returns the number of connected clients.
func (s *Server) ActiveSessions() int {
	return s.sessionManager.Len()
}

// ListenerAddr returns the address the control listener is bound to, nil
// before ListenAndServe.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ListenAndServe listens on Addr and serves until Close.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	return s.Serve(listener)
}

// TryListenAndServe starts the server in the background. It returns the
// startup error if one shows up within d, nil otherwise.
func (s *Server) TryListenAndServe(d time.Duration) (err error) {
	errC := make(chan error, 1)

	go func() {
		if err := s.ListenAndServe(); err != nil {
			errC <- err
		}
	}()

	select {
	case err = <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}

// Serve accepts connections on listener until Close.
func (s *Server) Serve(listener net.Listener) error {
	pool, err := PassivePool(s.passiveBind(), s.PasvMinPort, s.PasvMaxPort)
	if err != nil {
		listener.Close()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()

	s.Logger().Info("ftp server listening", "addr", listener.Addr().String(), "passive-pool", len(pool))
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.Logger().Warn("temporary error accepting connection", "error", err)
				continue
			}
			return fmt.Errorf("error accepting connection: %w", err)
		}
		if !s.trackConn(conn) {
			conn.Close()
			return nil
		}
		go s.handleConnection(conn, pool)
	}
}

// Close stops the listener and hangs up every connected client.
func (s *Server) Close(cause error) error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	s.Logger().Info("closing ftp server", "cause", cause, "clients", len(conns))

	var result *multierror.Error
	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing listener: %w", err))
		}
	}
	for _, c := range conns {
		if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", c.RemoteAddr(), err))
		}
	}
	s.wg.Wait()
	return result.ErrorOrNil()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) trackConn(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) passiveBind() netip.Addr {
	if s.PassiveBind.IsValid() {
		return s.PassiveBind
	}
	return netip.IPv4Unspecified()
}

// passiveHost falls back to the address the client reached us on.
func (s *Server) passiveHost(conn net.Conn) netip.Addr {
	if s.PassiveHost.IsValid() {
		return s.PassiveHost
	}
	local, err := netip.ParseAddrPort(conn.LocalAddr().String())
	if err != nil {
		return netip.Addr{}
	}
	return local.Addr().Unmap()
}

// handleConnection is the control loop of one client. Commands are handled
// one at a time; outcomes of background work are written as they arrive,
// interleaved with new commands.
func (s *Server) handleConnection(conn net.Conn, pool []netip.AddrPort) {
	defer s.untrackConn(conn)
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "Recovered from panic:", r)
			fmt.Fprintln(os.Stderr, "stack:", string(debug.Stack()))
		}
	}()

	sessionID := conn.RemoteAddr().String()
	logger := s.Logger().With("session", sessionID)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := NewSession(s.storage, conn.RemoteAddr())
	s.sessionManager.Add(sessionID, session)
	defer s.sessionManager.Remove(sessionID)
	defer session.Close()

	tx := make(chan InternalMsg, 8)
	args := &Args{
		Ctx:             ctx,
		Session:         session,
		Tx:              tx,
		TLSConfigured:   s.TLSConfig != nil,
		StorageFeatures: s.storage.Features(),
		PassiveAddrs:    pool,
		PassiveHost:     s.passiveHost(conn),
		Rand:            s.Rand,
		Auth:            s.auth,
		DataHandler:     s.DataHandler,
		Logger:          logger,
	}

	rw := tools.NewBufLogReadWriter(conn, logger)
	logger.Info("client connected")
	if _, err := NewReply(StatusServiceReadyForNewUser, s.WelcomeMessage).WriteTo(rw); err != nil {
		logger.Error("error writing welcome message", "error", err)
		return
	}

	cmds := make(chan Command)
	longLines := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		for {
			cmd, err := ParseCommand(rw.Reader)
			if errors.Is(err, ErrLineTooLong) {
				select {
				case longLines <- struct{}{}:
					continue
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				readErr <- err
				return
			}
			select {
			case cmds <- cmd:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case cmd := <-cmds:
			reply, hangUp := s.dispatch(args, cmd)
			logger.Debug("command handled", "command", cmd.Verb, "status", StatusText(reply.Code))
			if _, err := reply.WriteTo(rw); err != nil {
				logger.Error("error writing reply", "command", cmd.Verb, "error", err)
				return
			}
			if hangUp {
				logger.Info("client disconnected", "command", cmd.Verb)
				return
			}
		case <-longLines:
			logger.Warn("command line too long")
			if _, err := NewReply(StatusSyntaxError, "Command line too long").WriteTo(rw); err != nil {
				logger.Error("error writing reply", "error", err)
				return
			}
		case msg := <-tx:
			if msg.Failed() {
				logger.Debug("background operation failed", "kind", msg.Kind, "path", msg.Path, "error", msg.Err)
			}
			if _, err := msg.Reply().WriteTo(rw); err != nil {
				logger.Error("error writing reply", "kind", msg.Kind, "error", err)
				return
			}
			if errors.Is(msg.Err, ErrSessionClosed) {
				return
			}
		case err := <-readErr:
			logger.Info("client disconnected", "reason", err)
			return
		}
	}
}

// dispatch runs the handler for cmd and turns handler errors into replies.
// hangUp is true when the connection must be closed after the reply.
func (s *Server) dispatch(args *Args, cmd Command) (reply Reply, hangUp bool) {
	handler, needsLogin, ok := cmd.Handler()
	if !ok {
		return NewReplyf(StatusCommandNotImplemented, "Command not implemented: %s", tools.IsPrintable(cmd.Verb)), false
	}
	if needsLogin && args.Session.State() != StateLoggedIn {
		return NewReply(StatusNotLoggedIn, "Please log in"), false
	}

	reply, err := handler.Execute(args)
	if err != nil {
		args.logger().Warn("command failed", "command", cmd.Verb, "error", err)
		switch {
		case errors.Is(err, ErrInvalidUsername):
			return NewReplyf(StatusSyntaxErrorInParameters, "Error: %s", ErrInvalidUsername), false
		case errors.Is(err, ErrSessionClosed):
			return NewReply(StatusServiceNotAvailable, "Session is closing"), true
		default:
			return NewReply(StatusLocalProcessingError, "Local error in processing"), false
		}
	}
	return reply, cmd.Verb == QUIT
}
