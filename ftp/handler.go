package ftp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"path"
	"runtime"
	"sort"
	"unicode/utf8"

	"github.com/omikuji/firetrap/tools"
)

// Handler executes one command against a session. It either answers right
// away or returns NoReply and starts exactly one goroutine that reports its
// outcome on Args.Tx.
type Handler interface {
	Execute(args *Args) (Reply, error)
}

// Args is everything a handler may touch.
type Args struct {
	Ctx             context.Context    // ends when the control connection closes
	Session         *Session           // shared with background goroutines
	Tx              chan<- InternalMsg // drained by the control loop
	TLSConfigured   bool
	StorageFeatures uint32
	PassiveAddrs    []netip.AddrPort // pool PASV picks from
	PassiveHost     netip.Addr       // IPv4 advertised in the 227 reply
	Rand            func(n int) int  // returns a value in [0, n)
	Auth            Authenticator
	DataHandler     DataHandler
	Logger          *slog.Logger
}

func (a *Args) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func (a *Args) context() context.Context {
	if a.Ctx == nil {
		return context.Background()
	}
	return a.Ctx
}

func (a *Args) intn(n int) int {
	if a.Rand == nil {
		return rand.IntN(n)
	}
	return a.Rand(n)
}

// send reports a background outcome to the control loop.
func (a *Args) send(msg InternalMsg) {
	if !send(a.context(), a.Tx, msg) {
		a.logger().Debug("dropping internal message, connection closed", "kind", msg.Kind, "error", msg.Err)
	}
}

// resolvePath joins arg onto the working directory. An absolute arg replaces
// it. The result is always clean and rooted.
func resolvePath(workingDir, arg string) string {
	if path.IsAbs(arg) {
		return path.Clean(arg)
	}
	return path.Join("/", workingDir, arg)
}

// UserCommand handles the USER command from the client.
// It is only accepted before login; switching identity needs a new connection.
type UserCommand struct {
	Username []byte
}

func (c UserCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	defer s.mu.Unlock()

	switch s.state {
	case StateNew, StateWaitPass:
		if !utf8.Valid(c.Username) {
			return Reply{}, fmt.Errorf("%w: %q", ErrInvalidUsername, tools.IsPrintable(c.Username))
		}
		s.username = string(c.Username)
		s.hasUsername = true
		s.state = StateWaitPass
		return NewReply(StatusNeedPassword, "Password Required"), nil
	default:
		return NewReply(StatusBadSequenceOfCommands, "Please create a new connection to switch user"), nil
	}
}

// PassCommand handles the PASS command from the client.
// The credentials are checked in the background, the 230 or 530 reply comes
// back through the internal channel. Only one check runs at a time.
type PassCommand struct {
	Password []byte
}

func (c PassCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	defer s.mu.Unlock()

	switch {
	case s.state == StateNew:
		return NewReply(StatusBadSequenceOfCommands, "Please send USER first"), nil
	case s.state == StateLoggedIn:
		return NewReply(StatusBadSequenceOfCommands, "Already logged in"), nil
	case s.authPending:
		return NewReply(StatusBadSequenceOfCommands, "Login already in progress"), nil
	}
	if args.Auth == nil {
		return NewReply(StatusNotLoggedIn, "Login is not configured on this server"), nil
	}

	s.authPending = true
	username, password := s.username, string(c.Password)
	go func() {
		user, authErr := args.Auth.Authenticate(args.context(), username, password, s.RemoteAddr())
		if err := s.lock(); err != nil {
			args.send(InternalMsg{Kind: MsgLoggedIn, Err: err})
			return
		}
		s.authPending = false
		if authErr != nil {
			s.mu.Unlock()
			args.logger().Info("login failed", "user", username, "remote", s.RemoteAddr(), "error", authErr)
			args.send(InternalMsg{Kind: MsgLoggedIn, Err: fmt.Errorf("%w: %w", ErrAuthFailed, authErr)})
			return
		}
		s.user = user
		s.state = StateLoggedIn
		s.mu.Unlock()
		args.logger().Info("user logged in", "user", username, "remote", s.RemoteAddr())
		args.send(InternalMsg{Kind: MsgLoggedIn})
	}()
	return NoReply(), nil
}

// AcctCommand handles the ACCT command from the client.
// Accounts are not a login gate on this server, so it is always rejected.
type AcctCommand struct{}

func (AcctCommand) Execute(*Args) (Reply, error) {
	return NewReply(StatusNotLoggedIn, "Rejected"), nil
}

// TypeCommand handles the TYPE command from the client.
// Storage always works in image mode whatever the client asks for.
type TypeCommand struct{}

func (TypeCommand) Execute(*Args) (Reply, error) {
	return NewReply(StatusCommandOK, "Always in binary mode"), nil
}

// FeaturesCommand handles the FEAT command from the client.
type FeaturesCommand struct{}

func (FeaturesCommand) Execute(args *Args) (Reply, error) {
	// each feature line is indented by a space
	feat := []string{
		" SIZE",
		" MDTM",
		" MLST modify*;perm*;size*;type*;unique*;UNIX.group*;UNIX.mode*;UNIX.owner*;",
		" UTF8",
	}
	if args.TLSConfigured {
		feat = append(feat,
			" AUTH TLS",
			" PBSZ",
			" PROT",
		)
	}
	if args.StorageFeatures&FeatureRestart != 0 {
		feat = append(feat, " REST STREAM")
	}

	sort.Strings(feat)
	lines := make([]string, 0, len(feat)+2)
	lines = append(lines, "Extensions supported:")
	lines = append(lines, feat...)
	lines = append(lines, "END")
	return NewMultilineReply(StatusSystemStatus, lines), nil
}

// SystemCommand returns the system type.
type SystemCommand struct{}

func (SystemCommand) Execute(*Args) (Reply, error) {
	switch os := runtime.GOOS; os {
	case "windows":
		return NewReply(StatusNameSystemType, "WINDOWS Type: L8"), nil
	case "linux", "darwin": // macOS is Unix-based
		return NewReply(StatusNameSystemType, "UNIX Type: L8"), nil
	default:
		return NewReplyf(StatusNameSystemType, "OS Type: %s", os), nil
	}
}

// OptsCommand handles the OPTS command from the client.
type OptsCommand struct {
	Option string
}

func (c OptsCommand) Execute(*Args) (Reply, error) {
	switch c.Option {
	case "UTF8 ON", "utf8 on":
		return NewReply(StatusCommandOK, "Always in UTF8 mode."), nil
	default:
		return NewReply(StatusSyntaxErrorInParameters, "Unknown option."), nil
	}
}

// NoopCommand is used to keep the connection alive.
type NoopCommand struct{}

func (NoopCommand) Execute(*Args) (Reply, error) {
	return NewReply(StatusCommandOK, "NOOP ok."), nil
}

// CloseCommand handles QUIT. The control loop hangs up after writing the
// reply.
type CloseCommand struct{}

func (CloseCommand) Execute(*Args) (Reply, error) {
	return NewReply(StatusServiceClosingControlConnection, "Goodbye."), nil
}

// PrintWorkingDirectoryCommand handles the PWD command from the client.
type PrintWorkingDirectoryCommand struct{}

func (PrintWorkingDirectoryCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	defer s.mu.Unlock()
	return NewReplyf(StatusPathnameCreated, "\"%s\" is the current directory", s.cwd), nil
}

// ChangeDirectoryCommand handles CWD (and CDUP, with Path "..").
// The backend validates the target in the background; the working directory
// only moves once it said yes.
type ChangeDirectoryCommand struct {
	Path string
}

func (c ChangeDirectoryCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	storage, user := s.storage, s.user
	requestedDir := resolvePath(s.cwd, c.Path)
	s.mu.Unlock()

	go func() {
		err := storage.ChangeDir(args.context(), user, requestedDir)
		if err != nil {
			args.logger().Warn("failed to change directory", "path", requestedDir, "error", err)
			args.send(InternalMsg{Kind: MsgCwdSuccess, Path: requestedDir, Err: err})
			return
		}
		if err := s.lock(); err != nil {
			args.send(InternalMsg{Kind: MsgCwdSuccess, Path: requestedDir, Err: err})
			return
		}
		s.cwd = requestedDir
		s.mu.Unlock()
		args.send(InternalMsg{Kind: MsgCwdSuccess, Path: requestedDir})
	}()
	return NoReply(), nil
}

// RenameFromCommand stages the source of a rename. The source is not checked
// here, RNTO finds out whether it exists.
type RenameFromCommand struct {
	Path string
}

func (c RenameFromCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	defer s.mu.Unlock()
	s.renameFrom = resolvePath(s.cwd, c.Path)
	return NewReply(StatusFileActionPending, "Tell me, what would you like the new name to be?"), nil
}

// RenameToCommand completes a rename started by RNFR.
type RenameToCommand struct {
	Path string
}

func (c RenameToCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	storage, user, from := s.storage, s.user, s.renameFrom
	to := resolvePath(s.cwd, c.Path)
	s.mu.Unlock()

	if from == "" {
		return NewReplyf(StatusBadSequenceOfCommands, "%s", ErrNoRenameSource), nil
	}

	go func() {
		err := storage.Rename(args.context(), user, from, to)
		if err != nil {
			args.logger().Warn("failed to rename", "from", from, "to", to, "error", err)
			args.send(InternalMsg{Kind: MsgRenamed, Path: to, Err: err})
			return
		}
		if err := s.lock(); err != nil {
			args.send(InternalMsg{Kind: MsgRenamed, Path: to, Err: err})
			return
		}
		// a newer RNFR may have replaced the source meanwhile
		if s.renameFrom == from {
			s.renameFrom = ""
		}
		s.mu.Unlock()
		args.send(InternalMsg{Kind: MsgRenamed, Path: to})
	}()
	return NoReply(), nil
}

// SizeCommand handles the SIZE command from the client.
type SizeCommand struct {
	Path string
}

func (c SizeCommand) Execute(args *Args) (Reply, error) {
	return statInBackground(args, MsgSize, c.Path)
}

// ModifyTimeCommand handles the MDTM command from the client.
type ModifyTimeCommand struct {
	Path string
}

func (c ModifyTimeCommand) Execute(args *Args) (Reply, error) {
	return statInBackground(args, MsgModTime, c.Path)
}

func statInBackground(args *Args, kind MsgKind, arg string) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	storage, user := s.storage, s.user
	fileName := resolvePath(s.cwd, arg)
	s.mu.Unlock()

	go func() {
		info, err := storage.Stat(args.context(), user, fileName)
		if err == nil && kind == MsgSize && info.IsDir() {
			err = NewStorageError(ErrKindPermanentFileNotAvailable, fmt.Errorf("%s is a directory", fileName))
		}
		if err != nil {
			args.send(InternalMsg{Kind: kind, Path: fileName, Err: err})
			return
		}
		args.send(InternalMsg{Kind: kind, Path: fileName, Info: info})
	}()
	return NoReply(), nil
}
