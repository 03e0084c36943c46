package ftp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
)

// bindRetries is how many random pool members PASV tries before giving up.
const bindRetries = 10

// DataConn is what the passive acceptor hands over once a client connects to
// the data port.
type DataConn struct {
	User     User
	Conn     net.Conn
	Session  *Session
	Tx       chan<- InternalMsg
	Channels *PassiveChannels
}

// DataHandler serves an accepted data connection. It owns dc.Conn.
type DataHandler func(ctx context.Context, dc *DataConn)

// HoldDataConn is the default DataHandler. No transfer commands are served
// by this core, so it keeps the connection open until the transfer is
// aborted, superseded by another PASV, or the control connection ends.
func HoldDataConn(ctx context.Context, dc *DataConn) {
	defer dc.Conn.Close()
	select {
	case <-ctx.Done():
	case <-dc.Channels.Done():
	case <-dc.Channels.Abort:
	}
}

// PassivePool expands a bind address and a port range into the pool PASV
// picks from. A zero range yields a single entry on port 0, letting the OS
// choose.
func PassivePool(bind netip.Addr, minPort, maxPort int) ([]netip.AddrPort, error) {
	if minPort == 0 && maxPort == 0 {
		return []netip.AddrPort{netip.AddrPortFrom(bind, 0)}, nil
	}
	if minPort <= 0 || maxPort > 65535 || minPort > maxPort {
		return nil, fmt.Errorf("invalid passive port range %d-%d", minPort, maxPort)
	}
	pool := make([]netip.AddrPort, 0, maxPort-minPort+1)
	for port := minPort; port <= maxPort; port++ {
		pool = append(pool, netip.AddrPortFrom(bind, uint16(port)))
	}
	return pool, nil
}

// bindPassive tries up to bindRetries random members of pool.
func bindPassive(pool []netip.AddrPort, intn func(int) int) (net.Listener, error) {
	if len(pool) == 0 {
		return nil, errors.New("passive address pool is empty")
	}
	var lastErr error
	for i := 0; i < bindRetries; i++ {
		candidate := pool[intn(len(pool))]
		listener, err := net.Listen("tcp", candidate.String())
		if err != nil {
			lastErr = err
			continue
		}
		return listener, nil
	}
	return nil, fmt.Errorf("no passive port after %d attempts: %w", bindRetries, lastErr)
}

// PassiveModeCommand handles the PASV command from the client.
// It opens a one-shot data listener, installs a fresh channel set in the
// session and answers with the advertised host and the bound port.
type PassiveModeCommand struct{}

func (PassiveModeCommand) Execute(args *Args) (Reply, error) {
	logger := args.logger()
	if !args.PassiveHost.Is4() {
		logger.Error("passive host is not an IPv4 address", "host", args.PassiveHost)
		return NewReply(StatusCantOpenDataConnection, "No data connection established"), nil
	}

	listener, err := bindPassive(args.PassiveAddrs, args.intn)
	if err != nil {
		logger.Warn("failed to open passive listener", "error", err)
		return NewReply(StatusCantOpenDataConnection, "No data connection established"), nil
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return Reply{}, fmt.Errorf("unexpected passive listener address %s", listener.Addr())
	}
	port := tcpAddr.Port

	channels := newPassiveChannels()
	s := args.Session
	if err := s.lock(); err != nil {
		listener.Close()
		return Reply{}, err
	}
	s.installPassive(channels)
	s.mu.Unlock()

	go acceptDataConn(args, listener, channels)

	octets := args.PassiveHost.As4()
	p1 := port >> 8
	p2 := port - (p1 * 256)
	logger.Debug("entering passive mode", "listen", tcpAddr.String(), "port", port)
	return NewReplyf(StatusEnteringPassiveMode, "Entering Passive Mode (%d,%d,%d,%d,%d,%d)",
		octets[0], octets[1], octets[2], octets[3], p1, p2), nil
}

// acceptDataConn waits for exactly one data connection and hands it to the
// data handler. The listener never outlives the channel set it belongs to.
func acceptDataConn(args *Args, listener net.Listener, channels *PassiveChannels) {
	ctx := args.context()
	logger := args.logger()

	accepted := make(chan struct{})
	defer close(accepted)
	go func() {
		select {
		case <-accepted:
		case <-channels.Done():
			listener.Close()
		case <-ctx.Done():
			listener.Close()
		}
	}()

	conn, err := listener.Accept()
	listener.Close()
	if err != nil {
		logger.Warn("failed to accept data socket", "error", err)
		return
	}

	s := args.Session
	if err := s.lock(); err != nil {
		conn.Close()
		logger.Error("session lock failed in passive acceptor", "error", err)
		args.send(InternalMsg{Err: fmt.Errorf("passive data connection: %w", err)})
		return
	}
	user := s.user
	s.mu.Unlock()

	handler := args.DataHandler
	if handler == nil {
		handler = HoldDataConn
	}
	logger.Debug("data connection accepted", "remote", conn.RemoteAddr())
	handler(ctx, &DataConn{
		User:     user,
		Conn:     conn,
		Session:  s,
		Tx:       args.Tx,
		Channels: channels,
	})
}

// AbortCommand handles the ABOR command from the client.
type AbortCommand struct{}

func (AbortCommand) Execute(args *Args) (Reply, error) {
	s := args.Session
	if err := s.lock(); err != nil {
		return Reply{}, err
	}
	channels := s.passive
	s.mu.Unlock()

	if channels != nil {
		select {
		case channels.Abort <- struct{}{}:
		default:
		}
	}
	return NewReply(StatusClosingDataConnection, "ABOR command successful."), nil
}
