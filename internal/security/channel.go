package security

import (
	"errors"
	"fmt"
	"io"

	"github.com/ccin2p3/remctl/internal/token"
)

// ErrMissingConfidentiality is returned when Unwrap (or, on the wire, the
// peer's Wrap) did not apply confidentiality to a post-handshake message.
var ErrMissingConfidentiality = errors.New("security: message was not confidentiality-protected")

// ErrInsufficientFlags is returned when a v2 handshake completes without
// the mechanism granting every flag RequiredFlags names.
var ErrInsufficientFlags = errors.New("security: mechanism did not grant required flags")

// MechanismError wraps any failure reported directly by the Provider or
// Context (ImportName, NewInitiatorContext, Init, Wrap, Unwrap, Delete),
// as opposed to a failure in the underlying token transport. Callers can
// use errors.As to tell the two apart when classifying failures.
type MechanismError struct {
	Op  string
	Err error
}

func (e *MechanismError) Error() string { return fmt.Sprintf("security: %s: %v", e.Op, e.Err) }
func (e *MechanismError) Unwrap() error { return e.Err }

// Channel is an established security context bound to a byte stream. It
// seals every message sent and requires confidentiality on every message
// received.
type Channel struct {
	ctx  Context
	name Name
}

// Established reports the flags the mechanism granted once the handshake
// completed.
type Established struct {
	Channel  *Channel
	ProtocolV2 bool
	Flags    ContextFlag
}

// Establish drives the handshake over rw against provider, importing
// principal as the target name. wantV2 advertises (and
// attempts to negotiate) protocol v2; the server may downgrade the session
// to v1 by omitting the PROTOCOL flag on any handshake reply.
//
// On any failure, Establish deletes any partially built context and
// releases the imported name before returning; the caller is responsible
// for closing rw.
func Establish(rw io.ReadWriter, provider Provider, principal string, wantV2 bool) (*Established, error) {
	name, err := provider.ImportName(principal)
	if err != nil {
		return nil, &MechanismError{Op: "import name", Err: err}
	}

	ctx, err := provider.NewInitiatorContext(name, RequiredFlags)
	if err != nil {
		name.Release()
		return nil, &MechanismError{Op: "new initiator context", Err: err}
	}

	believeV2 := wantV2
	fail := func(err error) (*Established, error) {
		ctx.Delete()
		name.Release()
		return nil, err
	}

	// Step 1: initial empty token inviting the peer to begin.
	initFlags := token.FlagNoop | token.FlagContextNext
	if wantV2 {
		initFlags |= token.FlagProtocol
	}
	if err := token.Send(rw, initFlags, nil); err != nil {
		return fail(fmt.Errorf("security: send initial token: %w", err))
	}

	var input []byte
	var flagsGranted ContextFlag
	for {
		output, continueNeeded, granted, err := ctx.Init(input)
		if err != nil {
			return fail(&MechanismError{Op: "init_sec_context", Err: err})
		}
		flagsGranted = granted

		if len(output) > 0 {
			sendFlags := token.FlagContext
			if believeV2 {
				sendFlags |= token.FlagProtocol
			}
			if err := token.Send(rw, sendFlags, output); err != nil {
				return fail(fmt.Errorf("security: send context token: %w", err))
			}
		}

		if !continueNeeded {
			break
		}

		recvFlags, payload, err := token.Recv(rw, token.MaxHandshakeToken)
		if err != nil {
			return fail(fmt.Errorf("security: recv context token: %w", err))
		}
		if recvFlags&token.FlagProtocol == 0 {
			believeV2 = false
		}
		input = payload
	}

	if believeV2 && !flagsGranted.Has(RequiredFlags) {
		return fail(fmt.Errorf("security: granted flags %v missing from required %v: %w",
			flagsGranted, ContextFlag(RequiredFlags), ErrInsufficientFlags))
	}

	return &Established{
		Channel:    &Channel{ctx: ctx, name: name},
		ProtocolV2: believeV2,
		Flags:      flagsGranted,
	}, nil
}

// Seal wraps plaintext with confidentiality requested and sends it as a
// token with the given flags. It fails if the mechanism did not actually
// apply confidentiality.
func (c *Channel) Seal(w io.Writer, flags byte, plaintext []byte) error {
	ciphertext, confApplied, err := c.ctx.Wrap(plaintext, true)
	if err != nil {
		return &MechanismError{Op: "wrap", Err: err}
	}
	if !confApplied {
		return fmt.Errorf("security: wrap: %w", ErrMissingConfidentiality)
	}
	if err := token.Send(w, flags, ciphertext); err != nil {
		return fmt.Errorf("security: send sealed token: %w", err)
	}
	return nil
}

// Unseal receives one token (bounded by maxLen) and unwraps it, failing if
// the sender did not apply confidentiality.
func (c *Channel) Unseal(r io.Reader, maxLen uint32) (flags byte, plaintext []byte, err error) {
	flags, ciphertext, err := token.Recv(r, maxLen)
	if err != nil {
		return 0, nil, fmt.Errorf("security: recv sealed token: %w", err)
	}
	plaintext, confApplied, err := c.ctx.Unwrap(ciphertext)
	if err != nil {
		return 0, nil, &MechanismError{Op: "unwrap", Err: err}
	}
	if !confApplied {
		return 0, nil, fmt.Errorf("security: unwrap: %w", ErrMissingConfidentiality)
	}
	return flags, plaintext, nil
}

// Close deletes the underlying context and releases the imported name.
func (c *Channel) Close() error {
	_, ctxErr := c.ctx.Delete()
	nameErr := c.name.Release()
	if ctxErr != nil {
		return &MechanismError{Op: "delete context", Err: ctxErr}
	}
	if nameErr != nil {
		return &MechanismError{Op: "release name", Err: nameErr}
	}
	return nil
}
