// Package remctl is a client for the remctl authenticated remote
// command-execution protocol. A Session opens a mutually authenticated,
// confidentiality-protected connection to a remctl server, sends a command,
// and streams back its stdout, stderr, and exit status.
package remctl

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/ccin2p3/remctl/internal/security"
	"github.com/ccin2p3/remctl/internal/token"
	"github.com/ccin2p3/remctl/internal/wire"
)

// State is a Session's position in its connect/send/drain lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateNegotiating
	StateReady
	StateSending
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateNegotiating:
		return "Negotiating"
	case StateReady:
		return "Ready"
	case StateSending:
		return "Sending"
	case StateDraining:
		return "Draining"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is a client connection to a remctl server. Every method, Close
// included, holds the session's lock for its whole duration, so calls are
// serialized: a Close issued while another method is blocked on network
// I/O waits for that method to return and does not interrupt it.
type Session struct {
	provider security.Provider

	// Dial opens the TCP connection used by Open and by v1 auto-reopen. It
	// defaults to net.Dial and exists so tests can substitute a loopback
	// dialer.
	Dial func(network, address string) (net.Conn, error)

	mu sync.Mutex

	state    State
	host     string
	port     string
	principal string
	opened   bool // open() has succeeded at least once; params below are valid

	conn     net.Conn
	channel  *security.Channel
	protocol int // 0 (unset), 1, or 2

	pendingArgv [][]byte // v2 buffered argv across Command calls with finished=false

	awaitingReply bool         // a command was sent and has not yet reached a terminal event
	replyQueue    []wire.Event // decoded events not yet dispensed to the caller

	lastErr error
}

// NewSession constructs a disconnected Session that will authenticate using
// provider, an abstraction over the underlying security mechanism.
func NewSession(provider security.Provider) *Session {
	return &Session{
		provider: provider,
		Dial:     net.Dial,
		state:    StateDisconnected,
	}
}

// State reports the session's current position in the lifecycle.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Error returns the last-error string, or "No error" if the last operation
// succeeded.
func (s *Session) Error() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return "No error"
	}
	return s.lastErr.Error()
}

// setErr records err as the last-error and, for every Kind except
// UsageError, tears the connection down and moves the session to Closed.
// It returns err unchanged so call sites can `return s.setErr(...)`.
func (s *Session) setErr(err error) error {
	s.lastErr = err
	var asErr *Error
	if errors.As(err, &asErr) && asErr.Kind == KindUsageError {
		return err
	}
	s.closeLocked()
	return err
}

// clearErr clears the last-error slot; called on entry to every operation
// that can fail.
func (s *Session) clearErr() {
	s.lastErr = nil
}

// Open connects to host:port and authenticates as principal, negotiating
// protocol v2 and falling back to v1 if the server does not advertise it.
// Open is an idempotent replacement: a live connection is closed first. On
// success the session is Ready.
func (s *Session) Open(host string, port string, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearErr()
	s.closeLocked()

	s.host, s.port, s.principal = host, port, principal
	s.pendingArgv = nil
	s.awaitingReply = false
	s.replyQueue = nil

	if err := s.connectLocked(); err != nil {
		return s.setErr(err)
	}
	s.opened = true
	return nil
}

// connectLocked dials, performs the handshake, and on success leaves the
// session Ready with conn/channel/protocol populated. On any failure it
// leaves conn/channel untouched (nil) so the caller's setErr/closeLocked
// sees a clean Disconnected/Closed session. Must be called with mu held.
func (s *Session) connectLocked() error {
	s.state = StateNegotiating

	conn, err := s.Dial("tcp", net.JoinHostPort(s.host, s.port))
	if err != nil {
		return wrapErr("open: dial", err)
	}

	established, err := security.Establish(conn, s.provider, s.principal, true)
	if err != nil {
		conn.Close()
		return wrapErr("open: handshake", err)
	}

	s.conn = conn
	s.channel = established.Channel
	if established.ProtocolV2 {
		s.protocol = wire.Version2
	} else {
		s.protocol = wire.Version1
	}
	s.state = StateReady
	return nil
}

// reopenIfNeededLocked implements v1's auto-reopen behavior: if the
// connection is gone but open parameters are remembered and the negotiated
// protocol is v1, it transparently reconnects. v2 never auto-reopens, since
// a v2 server keeps the connection open across commands. Must be called
// with mu held.
func (s *Session) reopenIfNeededLocked() error {
	if s.conn != nil {
		return nil
	}
	if !s.opened {
		return &Error{Kind: KindUsageError, Op: "command", Err: errNotConnected}
	}
	if s.protocol != wire.Version1 {
		return &Error{Kind: KindUsageError, Op: "command", Err: errNotConnected}
	}
	return s.connectLocked()
}

var errNotConnected = errors.New("remctl: not connected")

// closeLocked tears down the connection and security context without
// touching lastErr. Must be called with mu held; safe when already closed.
func (s *Session) closeLocked() {
	if s.channel != nil {
		s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.pendingArgv = nil
	s.awaitingReply = false
	s.replyQueue = nil
	s.state = StateClosed
}

// Close releases the security context, closes the socket, and frees the
// current output event. It is idempotent and safe on a never-opened
// session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.lastErr = nil
	return nil
}
