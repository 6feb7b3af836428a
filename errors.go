package remctl

import (
	"errors"
	"fmt"

	"github.com/ccin2p3/remctl/internal/security"
	"github.com/ccin2p3/remctl/internal/token"
	"github.com/ccin2p3/remctl/internal/wire"
)

// Kind classifies a failure by which layer of the client raised it.
type Kind int

const (
	// KindNetwork covers connect, DNS, and raw read/write failures.
	KindNetwork Kind = iota
	// KindTokenFraming covers short reads, EOF mid-frame, and oversize
	// declared lengths at the token transport layer.
	KindTokenFraming
	// KindSecurity covers context establishment failure, wrap/unwrap
	// failure, missing confidentiality, and insufficient granted flags.
	KindSecurity
	// KindProtocol covers unknown message types, malformed messages,
	// length fields that overrun their payload, and version mismatches.
	KindProtocol
	// KindUsageError covers calls the caller made out of turn: sending
	// without an open session, sending while still draining, or sending a
	// second command before the first has been drained.
	KindUsageError
	// KindResourceExhaustion covers allocation failure.
	KindResourceExhaustion
	// KindServerError names the category of a v2 ERROR reply; it is not a
	// library failure and no operation returns it. Such a reply reaches the
	// caller as an Event of kind EventError, which carries no Kind.
	KindServerError
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "Network"
	case KindTokenFraming:
		return "TokenFraming"
	case KindSecurity:
		return "Security"
	case KindProtocol:
		return "Protocol"
	case KindUsageError:
		return "UsageError"
	case KindResourceExhaustion:
		return "ResourceExhaustion"
	case KindServerError:
		return "ServerError"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the error type every failing Session operation wraps its cause
// in. Use errors.As to recover the Kind and the wrapped cause; Session's
// own Error() method additionally renders the last one as a plain string.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remctl: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("remctl: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// usageError builds a KindUsageError failure. Usage errors leave session
// state unchanged, so callers must not close the connection when
// constructing one.
func usageError(op, msg string) *Error {
	return &Error{Kind: KindUsageError, Op: op, Err: errors.New(msg)}
}

// classify maps an error from internal/token, internal/security, or
// internal/wire onto a Kind. Token-framing sentinels and protocol-decode
// sentinels are checked first since they're the most specific; a
// security.MechanismError or the confidentiality/flags sentinels map to
// Security; anything else (raw net I/O) defaults to Network.
func classify(err error) Kind {
	switch {
	case errors.Is(err, token.ErrOversize),
		errors.Is(err, token.ErrShortRead),
		errors.Is(err, token.ErrShortWrite),
		errors.Is(err, token.ErrNoProgress):
		return KindTokenFraming
	}

	var versionErr *wire.ErrVersionMismatch
	if errors.As(err, &versionErr) {
		return KindProtocol
	}
	if errors.Is(err, wire.ErrMalformed) {
		return KindProtocol
	}

	if errors.Is(err, security.ErrMissingConfidentiality) || errors.Is(err, security.ErrInsufficientFlags) {
		return KindSecurity
	}
	var mechErr *security.MechanismError
	if errors.As(err, &mechErr) {
		return KindSecurity
	}

	return KindNetwork
}

func wrapErr(op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}
