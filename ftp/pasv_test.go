package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"testing"
	"time"
)

// parsePasvReply extracts the host and port from a 227 reply.
func parsePasvReply(t *testing.T, reply Reply) (netip.Addr, int) {
	t.Helper()
	if reply.Code != StatusEnteringPassiveMode {
		t.Fatalf("PASV: got %q", reply.String())
	}
	var h1, h2, h3, h4, p1, p2 int
	if _, err := fmt.Sscanf(reply.Lines[0], "Entering Passive Mode (%d,%d,%d,%d,%d,%d)", &h1, &h2, &h3, &h4, &p1, &p2); err != nil {
		t.Fatalf("cannot parse %q: %v", reply.Lines[0], err)
	}
	if p1 < 0 || p1 > 255 || p2 < 0 || p2 > 255 {
		t.Errorf("port bytes out of range: %d,%d", p1, p2)
	}
	host := netip.AddrFrom4([4]byte{byte(h1), byte(h2), byte(h3), byte(h4)})
	return host, p1*256 + p2
}

func Test_PassiveModeCommand(t *testing.T) {
	args, _ := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")
	accepted := make(chan *DataConn, 1)
	args.DataHandler = func(ctx context.Context, dc *DataConn) {
		accepted <- dc
		HoldDataConn(ctx, dc)
	}

	host, port := parsePasvReply(t, execute(t, PassiveModeCommand{}, args))
	if host != args.PassiveHost {
		t.Errorf("advertised host %s, want %s", host, args.PassiveHost)
	}
	channels := args.Session.Passive()
	if channels == nil {
		t.Fatal("no passive channels installed")
	}

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 5*time.Second)
	if err != nil {
		t.Fatalf("dialing advertised port %d: %v", port, err)
	}
	defer conn.Close()

	select {
	case dc := <-accepted:
		if dc.User == nil || dc.User.Name() != "bob" {
			t.Errorf("data connection user = %v", dc.User)
		}
		if dc.Channels != channels {
			t.Error("data connection got a stale channel set")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("data connection never reached the handler")
	}

	// the listener is one-shot
	if c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second); err == nil {
		c.Close()
		t.Error("second dial to the data port succeeded")
	}
}

func Test_PassiveModeReplacesChannels(t *testing.T) {
	args, _ := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")

	_, firstPort := parsePasvReply(t, execute(t, PassiveModeCommand{}, args))
	first := args.Session.Passive()
	parsePasvReply(t, execute(t, PassiveModeCommand{}, args))
	second := args.Session.Passive()

	if first == second {
		t.Fatal("channel set not replaced")
	}
	select {
	case <-first.Done():
	case <-time.After(time.Second):
		t.Error("old channel set not cancelled")
	}
	select {
	case <-second.Done():
		t.Error("new channel set cancelled")
	default:
	}

	// the superseded listener goes away with its channel set
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", firstPort), time.Second)
		if err != nil {
			return
		}
		c.Close()
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("old passive listener still accepting")
}

func Test_PassiveModeBindExhaustion(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	args, _ := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")
	args.PassiveAddrs = []netip.AddrPort{netip.MustParseAddrPort(busy.Addr().String())}
	calls := 0
	args.Rand = func(n int) int {
		calls++
		return 0
	}

	reply := execute(t, PassiveModeCommand{}, args)
	if reply.String() != "425 No data connection established\r\n" {
		t.Errorf("reply = %q", reply.String())
	}
	if calls != bindRetries {
		t.Errorf("tried %d candidates, want %d", calls, bindRetries)
	}
	if args.Session.Passive() != nil {
		t.Error("channels installed after a failed bind")
	}
}

func Test_PassiveModeRequiresIPv4Host(t *testing.T) {
	args, _ := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")
	args.PassiveHost = netip.MustParseAddr("::1")

	if got := execute(t, PassiveModeCommand{}, args).Code; got != StatusCantOpenDataConnection {
		t.Errorf("reply code = %d", got)
	}
}

func Test_PassiveListenerClosedWithSession(t *testing.T) {
	args, _ := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")

	_, port := parsePasvReply(t, execute(t, PassiveModeCommand{}, args))
	args.Session.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), time.Second)
		if err != nil {
			return
		}
		c.Close()
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("passive listener outlived the session")
}

func Test_AbortCommand(t *testing.T) {
	args, _ := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")

	if got := execute(t, AbortCommand{}, args).Code; got != StatusClosingDataConnection {
		t.Errorf("ABOR without PASV: %d", got)
	}

	parsePasvReply(t, execute(t, PassiveModeCommand{}, args))
	execute(t, AbortCommand{}, args)
	execute(t, AbortCommand{}, args) // never blocks
	select {
	case <-args.Session.Passive().Abort:
	default:
		t.Error("abort not delivered")
	}
}

func Test_PassivePool(t *testing.T) {
	bind := netip.MustParseAddr("0.0.0.0")
	tests := []struct {
		min, max int
		wantLen  int
		wantErr  bool
	}{
		{0, 0, 1, false},
		{50000, 50000, 1, false},
		{50000, 50099, 100, false},
		{50010, 50000, 0, true},
		{-1, 10, 0, true},
		{60000, 70000, 0, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d-%d", tt.min, tt.max), func(t *testing.T) {
			pool, err := PassivePool(bind, tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if len(pool) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(pool), tt.wantLen)
			}
			if tt.wantLen > 0 && int(pool[0].Port()) != tt.min {
				t.Errorf("first port %d, want %d", pool[0].Port(), tt.min)
			}
		})
	}
}

func Test_PassiveAcceptorSessionClosed(t *testing.T) {
	args, rx := newTestArgs(t, newMemStorage())
	loggedIn(args, "bob")
	handled := make(chan struct{}, 1)
	args.DataHandler = func(ctx context.Context, dc *DataConn) {
		handled <- struct{}{}
		dc.Conn.Close()
	}
	_, port := parsePasvReply(t, execute(t, PassiveModeCommand{}, args))

	// closed, but the channel set is still current so the listener stays up
	s := args.Session
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 5*time.Second)
	if err != nil {
		t.Fatalf("dialing advertised port %d: %v", port, err)
	}
	defer conn.Close()

	msg := receive(t, rx)
	if !errors.Is(msg.Err, ErrSessionClosed) {
		t.Errorf("err = %v, want ErrSessionClosed", msg.Err)
	}
	if code := msg.Reply().Code; code != StatusServiceNotAvailable {
		t.Errorf("reply code = %d, want %d", code, StatusServiceNotAvailable)
	}
	select {
	case <-handled:
		t.Error("data handler ran for a closed session")
	default:
	}
}
