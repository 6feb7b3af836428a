package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EncodeV1Command builds a single v1 command message: 4-byte argument
// count, then each argument as a 4-byte length followed by its bytes. It
// is sent as one token with flags DATA; v1 never fragments a command
// across tokens.
func EncodeV1Command(argv [][]byte) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("wire: command must have at least one argument")
	}
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(argv)))
	for _, arg := range argv {
		writeUint32(&buf, uint32(len(arg)))
		buf.Write(arg)
	}
	return buf.Bytes(), nil
}

// encodeV2Body lays out the argument-count-then-arguments body shared by
// every fragment of a v2 COMMAND message.
func encodeV2Body(argv [][]byte) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("wire: command must have at least one argument")
	}
	var buf bytes.Buffer
	writeUint32(&buf, uint32(len(argv)))
	for _, arg := range argv {
		writeUint32(&buf, uint32(len(arg)))
		buf.Write(arg)
	}
	return buf.Bytes(), nil
}

// v2CommandHeaderLen is the fixed header each COMMAND fragment carries:
// version, type, keep-alive flag, continued code.
const v2CommandHeaderLen = 4

// EncodeV2Command builds the sequence of COMMAND token payloads needed to
// carry one complete, already-fully-buffered argv, honoring the per-token
// maxTokenPayload cap. Each returned slice is one complete token payload
// (to be sent with flags DATA, plus PROTOCOL while v2 is still believed
// negotiated).
//
// Commands are never streamed across calls: a caller building a command
// across several Command/Commandv calls accumulates argv itself and calls
// this function once, with the complete argument vector, when the command
// is finished. The continued code on each fragment reflects only this
// call's own wire-level split: ContinuedSingle for the one and only
// fragment, ContinuedFirst/ContinuedMiddle/ContinuedLast when argv's
// encoded body does not fit in one token and must be split across
// several.
func EncodeV2Command(argv [][]byte, keepAlive bool, maxTokenPayload int) ([][]byte, error) {
	body, err := encodeV2Body(argv)
	if err != nil {
		return nil, err
	}
	maxBody := maxTokenPayload - v2CommandHeaderLen
	if maxBody <= 0 {
		return nil, fmt.Errorf("wire: maxTokenPayload %d too small for command header", maxTokenPayload)
	}

	var chunks [][]byte
	for offset := 0; offset == 0 || offset < len(body); {
		end := offset + maxBody
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, body[offset:end])
		offset = end
	}

	fragments := make([][]byte, len(chunks))
	for i, chunk := range chunks {
		var continued int
		switch {
		case len(chunks) == 1:
			continued = ContinuedSingle
		case i == 0:
			continued = ContinuedFirst
		case i == len(chunks)-1:
			continued = ContinuedLast
		default:
			continued = ContinuedMiddle
		}

		frag := make([]byte, 0, v2CommandHeaderLen+len(chunk))
		frag = append(frag, Version2, TypeCommand, boolByte(keepAlive), byte(continued))
		frag = append(frag, chunk...)
		fragments[i] = frag
	}
	return fragments, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
