package remctl

import (
	"github.com/ccin2p3/remctl/internal/token"
	"github.com/ccin2p3/remctl/internal/wire"
)

// maxV2Fragment bounds the plaintext carried by one v2 COMMAND token,
// leaving headroom under token.MaxApplicationToken for the security
// mechanism's wrap overhead.
const maxV2Fragment = 16 * 1024

// Command sends a command built from string arguments. finished indicates
// whether this call completes the command; only protocol v2 accepts
// finished=false, which appends argv to a pending command buffer without
// sending anything. The caller must then drain Output until a terminal
// event.
func (s *Session) Command(argv []string, finished bool) error {
	iovec := make([][]byte, len(argv))
	for i, a := range argv {
		iovec[i] = []byte(a)
	}
	return s.Commandv(iovec, finished)
}

// Commandv sends a command built from raw argument bytes, binary-safe and
// NUL-agnostic. See Command for the finished semantics.
func (s *Session) Commandv(iovec [][]byte, finished bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearErr()

	if s.awaitingReply {
		return s.setErr(usageError("command", "previous command has not finished draining"))
	}
	if len(iovec) == 0 && len(s.pendingArgv) == 0 {
		return s.setErr(usageError("command", "argv must not be empty"))
	}
	if !finished && s.opened && s.protocol == wire.Version1 {
		return s.setErr(usageError("command", "finished=false is only valid for protocol v2"))
	}

	if err := s.reopenIfNeededLocked(); err != nil {
		return s.setErr(err)
	}
	if !finished && s.protocol != wire.Version2 {
		return s.setErr(usageError("command", "finished=false is only valid for protocol v2"))
	}

	s.pendingArgv = append(s.pendingArgv, iovec...)
	if !finished {
		return nil
	}

	argv := s.pendingArgv
	s.pendingArgv = nil

	s.state = StateSending
	if err := s.sendCommandLocked(argv); err != nil {
		return s.setErr(err)
	}
	s.awaitingReply = true
	s.replyQueue = nil
	s.state = StateDraining
	return nil
}

// sendCommandLocked encodes and sends argv as a complete command message,
// dispatching on the negotiated protocol version. Must be called with mu
// held and s.conn/s.channel live.
func (s *Session) sendCommandLocked(argv [][]byte) error {
	switch s.protocol {
	case wire.Version1:
		body, err := wire.EncodeV1Command(argv)
		if err != nil {
			return wrapErr("command: encode", err)
		}
		if err := s.channel.Seal(s.conn, token.FlagData, body); err != nil {
			return wrapErr("command: send", err)
		}
		return nil

	case wire.Version2:
		fragments, err := wire.EncodeV2Command(argv, false, maxV2Fragment)
		if err != nil {
			return wrapErr("command: encode", err)
		}
		for _, frag := range fragments {
			if err := s.channel.Seal(s.conn, token.FlagData|token.FlagProtocol, frag); err != nil {
				return wrapErr("command: send", err)
			}
		}
		return nil

	default:
		return &Error{Kind: KindUsageError, Op: "command", Err: errNotConnected}
	}
}

// Output returns the next event in the current command's reply. Its
// buffers are valid only until the next call to Output or Close. After a
// terminal event (Status, Error, or a transport failure), Output returns
// Done until a new command is sent.
func (s *Session) Output() (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearErr()

	if len(s.replyQueue) > 0 {
		ev := s.replyQueue[0]
		s.replyQueue = s.replyQueue[1:]
		s.dispenseLocked(ev)
		return ev, nil
	}
	if !s.awaitingReply {
		return Done, nil
	}

	ev, err := s.fetchLocked()
	if err != nil {
		return Event{}, s.setErr(err)
	}
	return ev, nil
}

// fetchLocked receives and decodes the next reply unit from the wire,
// queuing every event it produces and dispensing the first. v1 decodes
// its entire (single-token) reply into a queue of up to three events; v2
// decodes exactly one event per token. Must be called with mu held.
func (s *Session) fetchLocked() (Event, error) {
	var events []wire.Event
	switch s.protocol {
	case wire.Version1:
		_, plaintext, err := s.channel.Unseal(s.conn, token.MaxApplicationToken)
		if err != nil {
			return Event{}, wrapErr("output: recv", err)
		}
		decoded, err := wire.DecodeV1Reply(plaintext)
		if err != nil {
			return Event{}, wrapErr("output: decode", err)
		}
		events = decoded

	case wire.Version2:
		_, plaintext, err := s.channel.Unseal(s.conn, token.MaxApplicationToken)
		if err != nil {
			return Event{}, wrapErr("output: recv", err)
		}
		ev, err := wire.DecodeV2Reply(plaintext)
		if err != nil {
			return Event{}, wrapErr("output: decode", err)
		}
		events = []wire.Event{ev}

	default:
		return Event{}, &Error{Kind: KindUsageError, Op: "output", Err: errNotConnected}
	}

	s.replyQueue = events
	ev := s.replyQueue[0]
	s.replyQueue = s.replyQueue[1:]
	s.dispenseLocked(ev)
	return ev, nil
}

// dispenseLocked applies the state transition a just-dispensed event
// causes. Status and Error are terminal: the session returns to Ready,
// and for v1 — whose server closes the connection after one reply — the
// connection is released immediately so the next command auto-reopens it.
// Must be called with mu held.
func (s *Session) dispenseLocked(ev wire.Event) {
	if ev.Kind != wire.EventStatus && ev.Kind != wire.EventError {
		return
	}
	s.awaitingReply = false
	s.replyQueue = nil
	if s.protocol == wire.Version1 {
		if s.channel != nil {
			s.channel.Close()
			s.channel = nil
		}
		if s.conn != nil {
			s.conn.Close()
			s.conn = nil
		}
	}
	s.state = StateReady
}
