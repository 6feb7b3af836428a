package token

import (
	"bytes"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
)

// eintrReader returns syscall.EINTR once per Read call for the first n
// calls, then delegates to r.
type eintrReader struct {
	r     io.Reader
	left  int
}

func (e *eintrReader) Read(p []byte) (int, error) {
	if e.left > 0 {
		e.left--
		return 0, syscall.EINTR
	}
	return e.r.Read(p)
}

// eintrWriter behaves like eintrReader but for Write, and also exercises a
// genuine short write before succeeding.
type eintrWriter struct {
	w        io.Writer
	left     int
	shortOne bool
}

func (e *eintrWriter) Write(p []byte) (int, error) {
	if e.left > 0 {
		e.left--
		return 0, syscall.EINTR
	}
	if e.shortOne && len(p) > 1 {
		e.shortOne = false
		n, err := e.w.Write(p[:1])
		return n, err
	}
	return e.w.Write(p)
}

func TestSendRecvRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		flags   byte
		payload []byte
	}{
		{"empty", FlagData, nil},
		{"small", FlagData | FlagProtocol, []byte("hello")},
		{"exactly-cap", FlagContext, bytes.Repeat([]byte{0x42}, MaxHandshakeToken)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := Send(&buf, c.flags, c.payload); err != nil {
				t.Fatalf("Send: %v", err)
			}
			flags, payload, err := Recv(&buf, MaxHandshakeToken)
			if err != nil {
				t.Fatalf("Recv: %v", err)
			}
			if flags != c.flags {
				t.Errorf("flags = %#x, want %#x", flags, c.flags)
			}
			if !bytes.Equal(payload, c.payload) && len(payload)+len(c.payload) != 0 {
				t.Errorf("payload = %v, want %v", payload, c.payload)
			}
		})
	}
}

func TestRecvOversize(t *testing.T) {
	var buf bytes.Buffer
	if err := Send(&buf, FlagData, bytes.Repeat([]byte{1}, MaxHandshakeToken+1)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	_, _, err := Recv(&buf, MaxHandshakeToken)
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("Recv error = %v, want ErrOversize", err)
	}
}

func TestRecvShortOnEOF(t *testing.T) {
	var buf bytes.Buffer
	if err := Send(&buf, FlagData, []byte("hello world")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	truncated := buf.Bytes()[:buf.Len()-3]
	_, _, err := Recv(bytes.NewReader(truncated), MaxHandshakeToken)
	if !errors.Is(err, ErrShortRead) {
		t.Fatalf("Recv error = %v, want ErrShortRead", err)
	}
}

func TestEINTRTransparentlyRetried(t *testing.T) {
	var wire bytes.Buffer
	w := &eintrWriter{w: &wire, left: 2, shortOne: true}
	if err := Send(w, FlagData, []byte("retried payload")); err != nil {
		t.Fatalf("Send with EINTR: %v", err)
	}

	r := &eintrReader{r: &wire, left: 2}
	flags, payload, err := Recv(r, MaxHandshakeToken)
	if err != nil {
		t.Fatalf("Recv with EINTR: %v", err)
	}
	if flags != FlagData || string(payload) != "retried payload" {
		t.Fatalf("got (%#x, %q)", flags, payload)
	}
}

func TestZeroLengthArgumentFrame(t *testing.T) {
	var buf bytes.Buffer
	if err := Send(&buf, FlagData, []byte{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	flags, payload, err := Recv(&buf, MaxHandshakeToken)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if flags != FlagData || len(payload) != 0 {
		t.Fatalf("got (%#x, %v), want zero-length payload", flags, payload)
	}
}

func TestNetworkLoopback(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	done := make(chan error, 1)
	go func() {
		done <- func() error {
			c, err := l.Accept()
			if err != nil {
				return err
			}
			defer c.Close()
			flags, payload, err := Recv(c, MaxApplicationToken)
			if err != nil {
				return err
			}
			return Send(c, flags, payload)
		}()
	}()

	c, err := net.Dial("tcp", l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	if err := Send(c, FlagData, []byte("ping")); err != nil {
		t.Fatal(err)
	}
	flags, payload, err := Recv(c, MaxApplicationToken)
	if err != nil {
		t.Fatal(err)
	}
	if flags != FlagData || string(payload) != "ping" {
		t.Fatalf("got (%#x, %q)", flags, payload)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
