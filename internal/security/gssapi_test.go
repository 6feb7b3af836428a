package security

import (
	"bytes"
	"errors"
	"testing"

	gssapi "github.com/golang-auth/go-gssapi/v3"
)

// fakeSecContext implements gssapi.SecContext for testing GSSAPIContext
// without a real Kerberos deployment. It models a two-round handshake.
type fakeSecContext struct {
	round    int
	granted  gssapi.ContextFlag
	wrapErr  error
	deleted  bool
}

func (f *fakeSecContext) Delete() ([]byte, error) {
	f.deleted = true
	return nil, nil
}

func (f *fakeSecContext) ProcessToken([]byte) error { return nil }

func (f *fakeSecContext) ExpiresAt() (*gssapi.GssLifetime, error) { return nil, nil }

func (f *fakeSecContext) Inquire() (*gssapi.SecContextInfo, error) {
	return &gssapi.SecContextInfo{Flags: f.granted, FullyEstablished: !f.ContinueNeeded()}, nil
}

func (f *fakeSecContext) WrapSizeLimit(bool, uint, gssapi.QoP) (uint, error) { return 0, nil }

func (f *fakeSecContext) Export() ([]byte, error) { return nil, nil }

func (f *fakeSecContext) GetMIC([]byte, gssapi.QoP) ([]byte, error) { return nil, nil }

func (f *fakeSecContext) VerifyMIC([]byte, []byte) (gssapi.QoP, error) { return 0, nil }

func (f *fakeSecContext) Wrap(msgIn []byte, confReq bool, qop gssapi.QoP) ([]byte, bool, error) {
	if f.wrapErr != nil {
		return nil, false, f.wrapErr
	}
	out := append([]byte{0xAA}, msgIn...)
	return out, confReq, nil
}

func (f *fakeSecContext) Unwrap(msgIn []byte) ([]byte, bool, gssapi.QoP, error) {
	if len(msgIn) == 0 || msgIn[0] != 0xAA {
		return nil, false, 0, errors.New("bad marker")
	}
	return msgIn[1:], true, 0, nil
}

func (f *fakeSecContext) ContinueNeeded() bool { return f.round < 2 }

func (f *fakeSecContext) Continue(tokIn []byte) ([]byte, error) {
	f.round++
	return []byte{byte(f.round)}, nil
}

func TestGSSAPIContextInitDrivesHandshakeAndReportsFlags(t *testing.T) {
	sc := &fakeSecContext{granted: gssapi.ContextFlagMutual | gssapi.ContextFlagReplay | gssapi.ContextFlagConf | gssapi.ContextFlagInteg}
	ctx := NewGSSAPIContext(sc)

	out, cont, flags, err := ctx.Init(nil)
	if err != nil {
		t.Fatalf("Init round 1: %v", err)
	}
	if !cont {
		t.Fatalf("round 1: continueNeeded = false, want true")
	}
	if len(out) != 1 || out[0] != 1 {
		t.Fatalf("round 1 token = %v", out)
	}

	out, cont, flags, err = ctx.Init(out)
	if err != nil {
		t.Fatalf("Init round 2: %v", err)
	}
	if cont {
		t.Fatalf("round 2: continueNeeded = true, want false")
	}
	if !flags.Has(RequiredFlags) {
		t.Fatalf("flags = %v, want all of %v", flags, ContextFlag(RequiredFlags))
	}
}

func TestGSSAPIContextWrapUnwrapRoundTrip(t *testing.T) {
	sc := &fakeSecContext{}
	ctx := NewGSSAPIContext(sc)

	ciphertext, confApplied, err := ctx.Wrap([]byte("hello"), true)
	if err != nil || !confApplied {
		t.Fatalf("Wrap: confApplied=%v err=%v", confApplied, err)
	}
	plaintext, confApplied, err := ctx.Unwrap(ciphertext)
	if err != nil || !confApplied || !bytes.Equal(plaintext, []byte("hello")) {
		t.Fatalf("Unwrap: got %q confApplied=%v err=%v", plaintext, confApplied, err)
	}
}

func TestGSSAPIContextDelete(t *testing.T) {
	sc := &fakeSecContext{}
	ctx := NewGSSAPIContext(sc)
	if _, err := ctx.Delete(); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !sc.deleted {
		t.Fatalf("Delete did not reach the underlying SecContext")
	}
}

func TestGSSAPIProviderWiresNameAndContext(t *testing.T) {
	var gotPrincipal string
	var gotFlags ContextFlag
	p := &GSSAPIProvider{
		NewContext: func(principal string, flagsRequested ContextFlag) (gssapi.SecContext, error) {
			gotPrincipal = principal
			gotFlags = flagsRequested
			return &fakeSecContext{}, nil
		},
	}

	name, err := p.ImportName("host/test.example.org@EXAMPLE.ORG")
	if err != nil {
		t.Fatalf("ImportName: %v", err)
	}
	if _, err := p.NewInitiatorContext(name, RequiredFlags); err != nil {
		t.Fatalf("NewInitiatorContext: %v", err)
	}
	if gotPrincipal != "host/test.example.org@EXAMPLE.ORG" {
		t.Fatalf("principal = %q", gotPrincipal)
	}
	if gotFlags != RequiredFlags {
		t.Fatalf("flagsRequested = %v, want %v", gotFlags, ContextFlag(RequiredFlags))
	}
	if err := name.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
