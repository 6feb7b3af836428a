package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrVersionMismatch is returned when the server replies with a VERSION
// message rejecting the client's advertised protocol version.
// HighestSupported carries the byte the server reported.
type ErrVersionMismatch struct {
	HighestSupported byte
}

func (e *ErrVersionMismatch) Error() string {
	return fmt.Sprintf("wire: server rejected protocol version, highest supported is %d", e.HighestSupported)
}

// ErrMalformed is returned for any v2 message that is truncated, carries
// an unknown type, or whose embedded length would overrun the payload.
var ErrMalformed = errors.New("wire: malformed reply message")

// DecodeV2Reply decodes one unsealed v2 reply token payload into a single
// Event. OUTPUT, STATUS, and ERROR each produce exactly one event; VERSION
// produces no event and is reported via *ErrVersionMismatch instead, since
// it is fatal to the connection, not part of the event stream.
func DecodeV2Reply(payload []byte) (Event, error) {
	if len(payload) < 2 {
		return Event{}, fmt.Errorf("wire: reply shorter than version+type header: %w", ErrMalformed)
	}
	version, msgType := payload[0], payload[1]
	if version != Version2 {
		return Event{}, fmt.Errorf("wire: reply has unexpected version %d: %w", version, ErrMalformed)
	}
	body := payload[2:]

	switch msgType {
	case TypeOutput:
		if len(body) < 1+4 {
			return Event{}, fmt.Errorf("wire: OUTPUT message too short: %w", ErrMalformed)
		}
		stream := int(body[0])
		length := binary.BigEndian.Uint32(body[1:5])
		data := body[5:]
		if uint64(length) > uint64(len(data)) {
			return Event{}, fmt.Errorf("wire: OUTPUT length %d overruns payload: %w", length, ErrMalformed)
		}
		return Event{Kind: EventOutput, Stream: stream, Data: data[:length]}, nil

	case TypeStatus:
		if len(body) < 1 {
			return Event{}, fmt.Errorf("wire: STATUS message too short: %w", ErrMalformed)
		}
		return Event{Kind: EventStatus, Status: int(body[0])}, nil

	case TypeError:
		if len(body) < 4+4 {
			return Event{}, fmt.Errorf("wire: ERROR message too short: %w", ErrMalformed)
		}
		code := binary.BigEndian.Uint32(body[0:4])
		length := binary.BigEndian.Uint32(body[4:8])
		data := body[8:]
		if uint64(length) > uint64(len(data)) {
			return Event{}, fmt.Errorf("wire: ERROR length %d overruns payload: %w", length, ErrMalformed)
		}
		return Event{Kind: EventError, Code: int(code), Data: data[:length]}, nil

	case TypeVersion:
		if len(body) < 1 {
			return Event{}, fmt.Errorf("wire: VERSION message too short: %w", ErrMalformed)
		}
		return Event{}, &ErrVersionMismatch{HighestSupported: body[0]}

	default:
		return Event{}, fmt.Errorf("wire: unknown message type %d: %w", msgType, ErrMalformed)
	}
}

// DecodeV1Reply decodes the single v1 reply token payload into the
// ordered event sequence the session must dispense one at a time:
// Output{1,stdout} and Output{2,stderr} if non-empty, then Status. A
// zero-length stdout/stderr chunk produces no Output event.
func DecodeV1Reply(payload []byte) ([]Event, error) {
	if len(payload) < 4 {
		return nil, fmt.Errorf("wire: v1 reply shorter than status field: %w", ErrMalformed)
	}
	status := int32(binary.BigEndian.Uint32(payload[0:4]))
	rest := payload[4:]

	stdout, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: v1 reply stdout: %w", err)
	}
	stderr, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return nil, fmt.Errorf("wire: v1 reply stderr: %w", err)
	}
	_ = rest

	var events []Event
	if len(stdout) > 0 {
		events = append(events, Event{Kind: EventOutput, Stream: 1, Data: stdout})
	}
	if len(stderr) > 0 {
		events = append(events, Event{Kind: EventOutput, Stream: 2, Data: stderr})
	}
	events = append(events, Event{Kind: EventStatus, Status: int(status)})
	return events, nil
}

func readLengthPrefixed(b []byte) (field, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("truncated length: %w", ErrMalformed)
	}
	length := binary.BigEndian.Uint32(b[0:4])
	b = b[4:]
	if uint64(length) > uint64(len(b)) {
		return nil, nil, fmt.Errorf("length %d overruns payload: %w", length, ErrMalformed)
	}
	return b[:length], b[length:], nil
}
