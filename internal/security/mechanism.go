// Package security drives remctl's security-context handshake and
// per-message sealing against an abstract GSS-style mechanism.
//
// The mechanism itself is never implemented here: Provider and Context are
// a narrow seam in front of github.com/golang-auth/go-gssapi/v3's
// SecContext, the concrete Kerberos-based binding remctl authenticates
// with, so that the rest of this module never imports gssapi directly.
package security

// ContextFlag mirrors the protection flags a GSS context can report,
// shaped after github.com/golang-auth/go-gssapi/v3's ContextFlag bits
// (ContextFlagMutual, ContextFlagReplay, ContextFlagConf, ContextFlagInteg).
type ContextFlag uint32

const (
	FlagMutual ContextFlag = 1 << iota // mutual authentication
	FlagReplay                         // replay detection
	FlagConf                           // confidentiality (sealing)
	FlagInteg                          // integrity (per-message MIC)
)

// RequiredFlags are the flags remctl always requests from the mechanism
// and, for protocol v2, always requires granted.
const RequiredFlags = FlagMutual | FlagReplay | FlagConf | FlagInteg

// Has reports whether all bits of want are present in f.
func (f ContextFlag) Has(want ContextFlag) bool { return f&want == want }

func (f ContextFlag) String() string {
	names := []struct {
		bit  ContextFlag
		name string
	}{
		{FlagMutual, "mutual"},
		{FlagReplay, "replay"},
		{FlagConf, "conf"},
		{FlagInteg, "integ"},
	}
	s := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// Name is an imported mechanism name, produced by Provider.ImportName and
// consumed by Provider.NewInitiatorContext. The caller must Release it once
// it is no longer needed.
type Name interface {
	Release() error
}

// Context is one security context's initiator-side handshake and
// per-message protection surface, modeled on
// github.com/golang-auth/go-gssapi/v3's SecContext: Wrap/Unwrap/Delete
// have this exact shape there, and Init is a thin wrapper around its
// Continue/ContinueNeeded/Inquire methods (see GSSAPIContext in
// gssapi.go). Only constructing the initial SecContext from a principal
// and requested flags falls outside the retrieved binding — see
// DESIGN.md.
type Context interface {
	// Init drives one round of context establishment (GSS_Init_sec_context,
	// RFC 2743 §2.1). inputToken is the token last received from the peer,
	// or nil on the first call. It returns the token to send next (possibly
	// empty), whether another round is needed, and the flags granted so
	// far.
	Init(inputToken []byte) (outputToken []byte, continueNeeded bool, flagsGranted ContextFlag, err error)

	// Wrap seals plaintext, requesting confidentiality if confReq is true
	// (GSS_Wrap, RFC 2743 §2.3.3). confApplied reports whether
	// confidentiality was actually used.
	Wrap(plaintext []byte, confReq bool) (ciphertext []byte, confApplied bool, err error)

	// Unwrap reverses Wrap (GSS_Unwrap, RFC 2743 §2.3.4). confApplied
	// reports whether the sender actually applied confidentiality.
	Unwrap(ciphertext []byte) (plaintext []byte, confApplied bool, err error)

	// Delete releases the context (GSS_Delete_sec_context, RFC 2743
	// §2.2.3), returning an optional token to forward to the peer.
	Delete() (token []byte, err error)
}

// Provider constructs mechanism names and initiator contexts. The
// canonical binding is Kerberos via github.com/golang-auth/go-gssapi/v3.
type Provider interface {
	// ImportName converts a service principal string into a mechanism
	// name (GSS_Import_name, RFC 2743 §2.4.1).
	ImportName(principal string) (Name, error)

	// NewInitiatorContext creates a fresh, not-yet-established Context
	// requesting flagsRequested, targeting name.
	NewInitiatorContext(name Name, flagsRequested ContextFlag) (Context, error)
}
