package ws

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"

	"github.com/rs/zerolog"
)

// Server is the running accept loop and connection registry for one
// listen port. Construct one with Serve.
type Server struct {
	cfg      Config
	listener net.Listener
	registry *registry
	activity *activityLog

	closeOnce sync.Once
	closed    chan struct{}
}

// reuseAddrControl sets SO_REUSEADDR on the listening socket, mirroring
// the original engine's bind behavior so a restarted server can rebind a
// recently-released port without waiting out TIME_WAIT.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// Serve creates the listening socket, initializes the registry and, if
// cfg.Background is false, blocks in the accept loop until ctx is
// canceled. If cfg.Background is true, the accept loop runs in its own
// goroutine and Serve returns as soon as the listener is bound.
func Serve(ctx context.Context, cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("websocket: nil config")
	}
	c := *cfg
	if c.MaxClients <= 0 {
		c.MaxClients = DefaultMaxClients
	}
	if c.MaxFrameLength == 0 {
		c.MaxFrameLength = DefaultMaxFrameLength
	}

	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket: listen %s: %w", addr, err)
	}

	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		c.Port = tcpAddr.Port
	}

	s := &Server{
		cfg:      c,
		listener: ln,
		registry: newRegistry(c.MaxClients),
		activity: newActivityLog(c.ActivityLog),
		closed:   make(chan struct{}),
	}

	go func() {
		<-ctx.Done()
		s.Shutdown(context.Background())
	}()

	if c.Background {
		go s.acceptLoop()
		return s, nil
	}

	s.acceptLoop()
	return s, nil
}

// acceptLoop is the Accept Loop of §4.9: accept, assign a slot, spawn a
// worker, repeat until the listener is closed.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				s.logger().Warn().Err(err).Msg("accept failed")
				return
			}
		}

		remoteAddr, remotePortStr, splitErr := net.SplitHostPort(conn.RemoteAddr().String())
		remotePort := 0
		if splitErr == nil {
			remotePort, _ = strconv.Atoi(remotePortStr)
		}

		go s.handleConnection(conn, remoteAddr, remotePort)
	}
}

// Shutdown stops accepting new connections and closes the listener. It
// does not forcibly close existing connections; those wind down through
// their own worker/reaper lifecycle.
func (s *Server) Shutdown(_ context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		err = s.listener.Close()
	})
	return err
}

// Close requests the close handshake for h. It only sends the CLOSE
// frame and marks the slot CLOSING; OnClose fires later, asynchronously,
// once the peer echoes or the timeout reaper forces teardown.
func (s *Server) Close(h Handle) {
	slot, ok := s.registry.lookup(h)
	if !ok {
		return
	}
	if slot.getState() != StateOpen {
		return
	}
	slot.setState(StateClosing)
	_, _ = s.sendTo(slot, OpClose, encodeClosePayload(StatusNormalClosure, ""))
	s.spawnReaper(slot)
}

// State reports a connection's current lifecycle state. ok is false if h
// names no live connection.
func (s *Server) State(h Handle) (State, bool) {
	slot, ok := s.registry.lookup(h)
	if !ok {
		return StateClosed, false
	}
	return slot.getState(), true
}

// Address reports a connection's remote IP address. ok is false if h
// names no live connection.
func (s *Server) Address(h Handle) (string, bool) {
	slot, ok := s.registry.lookup(h)
	if !ok {
		return "", false
	}
	return slot.remoteAddr, true
}

// Port reports a connection's remote TCP port. ok is false if h names no
// live connection.
func (s *Server) Port(h Handle) (int, bool) {
	slot, ok := s.registry.lookup(h)
	if !ok {
		return 0, false
	}
	return slot.remotePort, true
}

// SetConnectionContext attaches an arbitrary application value to h,
// retrievable later with ConnectionContext. gows never interprets it.
func (s *Server) SetConnectionContext(h Handle, v any) {
	slot, ok := s.registry.lookup(h)
	if !ok {
		return
	}
	slot.connContext = v
}

// ConnectionContext retrieves the value last attached with
// SetConnectionContext, or nil if none was set or h names no live
// connection.
func (s *Server) ConnectionContext(h Handle) any {
	slot, ok := s.registry.lookup(h)
	if !ok {
		return nil
	}
	return slot.connContext
}

// ServerContext returns the value given in Config.ServerContext.
func (s *Server) ServerContext() any {
	return s.cfg.ServerContext
}

// ListenAddr returns the address the server is actually bound to, which
// matters when Config.Port is 0 (bind to any free port).
func (s *Server) ListenAddr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) logger() *zerolog.Logger {
	return &s.cfg.Logger
}
