package security

import (
	gssapi "github.com/golang-auth/go-gssapi/v3"
)

// GSSAPIContext adapts an github.com/golang-auth/go-gssapi/v3 SecContext
// to this package's Context interface. Every method delegates directly to
// the verified SecContext surface: Continue and ContinueNeeded drive the
// handshake loop, Inquire reports the granted flags, and Wrap/Unwrap/
// Delete have exactly the shape this package's Context already mirrors.
type GSSAPIContext struct {
	sc gssapi.SecContext
}

// NewGSSAPIContext wraps an already-constructed SecContext. Constructing
// one — the credential- and mechanism-specific analogue of
// GSS_Init_sec_context's very first call — is not part of the SecContext
// surface itself; GSSAPIProvider.NewInitiatorContext delegates that step
// to an injected constructor (see DESIGN.md).
func NewGSSAPIContext(sc gssapi.SecContext) Context {
	return &GSSAPIContext{sc: sc}
}

func (g *GSSAPIContext) Init(inputToken []byte) (outputToken []byte, continueNeeded bool, flagsGranted ContextFlag, err error) {
	outputToken, err = g.sc.Continue(inputToken)
	if err != nil {
		return nil, false, 0, err
	}
	continueNeeded = g.sc.ContinueNeeded()

	info, err := g.sc.Inquire()
	if err != nil {
		return outputToken, continueNeeded, 0, err
	}
	return outputToken, continueNeeded, translateFlags(info.Flags), nil
}

// gssDefaultQoP is GSS's documented zero-value sentinel for "default
// quality of protection" (RFC 2743 §1.2.4), used on every Wrap/Unwrap call.
const gssDefaultQoP = gssapi.QoP(0)

func (g *GSSAPIContext) Wrap(plaintext []byte, confReq bool) (ciphertext []byte, confApplied bool, err error) {
	return g.sc.Wrap(plaintext, confReq, gssDefaultQoP)
}

func (g *GSSAPIContext) Unwrap(ciphertext []byte) (plaintext []byte, confApplied bool, err error) {
	plaintext, confApplied, _, err = g.sc.Unwrap(ciphertext)
	return plaintext, confApplied, err
}

func (g *GSSAPIContext) Delete() ([]byte, error) {
	return g.sc.Delete()
}

// translateFlags maps go-gssapi/v3's ContextFlag bits onto this package's
// own, so the rest of remctl never imports gssapi directly.
func translateFlags(f gssapi.ContextFlag) ContextFlag {
	var out ContextFlag
	if f&gssapi.ContextFlagMutual != 0 {
		out |= FlagMutual
	}
	if f&gssapi.ContextFlagReplay != 0 {
		out |= FlagReplay
	}
	if f&gssapi.ContextFlagConf != 0 {
		out |= FlagConf
	}
	if f&gssapi.ContextFlagInteg != 0 {
		out |= FlagInteg
	}
	return out
}

// principalName is the Name GSSAPIProvider.ImportName returns. The actual
// go-gssapi/v3 name import is deferred to NewContext (see GSSAPIProvider),
// since this package never saw the package-level ImportName entry point
// retrieved on its own.
type principalName string

func (n principalName) Release() error { return nil }

// GSSAPIProvider is a Provider backed by github.com/golang-auth/go-gssapi/v3,
// keyed by a service principal string.
//
// NewContext performs the credential- and mechanism-specific work of
// importing principal and constructing a fresh initiator SecContext
// requesting flagsRequested — the part of GSS_Init_sec_context's first
// call that precedes the Continue/ContinueNeeded loop this package's
// GSSAPIContext already drives. That factory surface was not part of the
// retrieved SecContext binding, so it is the integrator's responsibility,
// typically a short call into go-gssapi/v3's own credential and provider
// types.
type GSSAPIProvider struct {
	NewContext func(principal string, flagsRequested ContextFlag) (gssapi.SecContext, error)
}

func (p *GSSAPIProvider) ImportName(principal string) (Name, error) {
	return principalName(principal), nil
}

func (p *GSSAPIProvider) NewInitiatorContext(name Name, flagsRequested ContextFlag) (Context, error) {
	sc, err := p.NewContext(string(name.(principalName)), flagsRequested)
	if err != nil {
		return nil, err
	}
	return NewGSSAPIContext(sc), nil
}
