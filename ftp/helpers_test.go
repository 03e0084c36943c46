package ftp

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/netip"
	"path"
	"sync"
	"testing"
	"time"
)

type testUser string

func (u testUser) Name() string { return string(u) }

type memFileInfo struct {
	name    string
	size    int64
	modTime time.Time
	dir     bool
}

func (fi memFileInfo) Name() string       { return fi.name }
func (fi memFileInfo) Size() int64        { return fi.size }
func (fi memFileInfo) ModTime() time.Time { return fi.modTime }
func (fi memFileInfo) IsDir() bool        { return fi.dir }
func (fi memFileInfo) Sys() any           { return nil }
func (fi memFileInfo) Mode() fs.FileMode {
	if fi.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// memStorage keeps a flat map of absolute paths. Directories are entries
// with dir set.
type memStorage struct {
	mu       sync.Mutex
	entries  map[string]memFileInfo
	features uint32
	cwdCalls []string
}

func newMemStorage(paths ...string) *memStorage {
	m := &memStorage{entries: map[string]memFileInfo{
		"/": {name: "/", dir: true},
	}}
	for _, p := range paths {
		m.add(p)
	}
	return m
}

// add registers p; a trailing slash makes it a directory.
func (m *memStorage) add(p string) {
	dir := p[len(p)-1] == '/'
	p = path.Clean(p)
	m.entries[p] = memFileInfo{
		name:    path.Base(p),
		size:    int64(len(p)),
		modTime: time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC),
		dir:     dir,
	}
}

func (m *memStorage) Features() uint32 { return m.features }

func (m *memStorage) ChangeDir(_ context.Context, _ User, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cwdCalls = append(m.cwdCalls, p)
	if fi, ok := m.entries[p]; ok && fi.dir {
		return nil
	}
	return NewStorageError(ErrKindPermanentFileNotAvailable, errors.New("no such directory"))
}

func (m *memStorage) Stat(_ context.Context, _ User, p string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ok := m.entries[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fi, nil
}

func (m *memStorage) Rename(_ context.Context, _ User, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fi, ok := m.entries[from]
	if !ok {
		return NewStorageError(ErrKindPermanentFileNotAvailable, fs.ErrNotExist)
	}
	delete(m.entries, from)
	fi.name = path.Base(to)
	m.entries[to] = fi
	return nil
}

func (m *memStorage) has(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[p]
	return ok
}

type testAuth map[string]string

func (a testAuth) Authenticate(_ context.Context, username, password string, _ net.Addr) (User, error) {
	if pass, ok := a[username]; ok && pass == password {
		return testUser(username), nil
	}
	return nil, errors.New("invalid username or password")
}

// blockingAuth holds every check until release is closed.
type blockingAuth struct {
	testAuth
	started chan struct{}
	release chan struct{}
}

func newBlockingAuth() *blockingAuth {
	return &blockingAuth{
		testAuth: testAuth{"bob": "secret"},
		started:  make(chan struct{}, 4),
		release:  make(chan struct{}),
	}
}

func (a *blockingAuth) Authenticate(ctx context.Context, username, password string, remote net.Addr) (User, error) {
	a.started <- struct{}{}
	<-a.release
	return a.testAuth.Authenticate(ctx, username, password, remote)
}

// gatedStorage holds ChangeDir and Rename until gate is closed.
type gatedStorage struct {
	*memStorage
	gate chan struct{}
}

func (g gatedStorage) ChangeDir(ctx context.Context, u User, p string) error {
	<-g.gate
	return g.memStorage.ChangeDir(ctx, u, p)
}

func (g gatedStorage) Rename(ctx context.Context, u User, from, to string) error {
	<-g.gate
	return g.memStorage.Rename(ctx, u, from, to)
}

// quiet fails the test if anything arrives on rx within a short while.
func quiet(t *testing.T, rx <-chan InternalMsg) {
	t.Helper()
	select {
	case msg := <-rx:
		t.Errorf("unexpected internal message: %q", msg.Reply().String())
	case <-time.After(100 * time.Millisecond):
	}
}

var testRemote = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}

// newTestArgs returns handler arguments for a fresh session and the channel
// the handlers report on.
func newTestArgs(t *testing.T, storage Storage) (*Args, <-chan InternalMsg) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	tx := make(chan InternalMsg, 4)
	return &Args{
		Ctx:          ctx,
		Session:      NewSession(storage, testRemote),
		Tx:           tx,
		PassiveAddrs: []netip.AddrPort{netip.MustParseAddrPort("127.0.0.1:0")},
		PassiveHost:  netip.MustParseAddr("10.1.2.3"),
		Auth:         testAuth{"bob": "secret"},
	}, tx
}

// loggedIn moves the session of args straight to StateLoggedIn.
func loggedIn(args *Args, name string) *Args {
	s := args.Session
	s.mu.Lock()
	s.username, s.hasUsername = name, true
	s.user = testUser(name)
	s.state = StateLoggedIn
	s.mu.Unlock()
	return args
}

func receive(t *testing.T, rx <-chan InternalMsg) InternalMsg {
	t.Helper()
	select {
	case msg := <-rx:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for internal message")
	}
	return InternalMsg{}
}

func execute(t *testing.T, h Handler, args *Args) Reply {
	t.Helper()
	reply, err := h.Execute(args)
	if err != nil {
		t.Fatalf("%T: unexpected error: %v", h, err)
	}
	return reply
}
