package remctl

import "github.com/ccin2p3/remctl/internal/wire"

// EventKind discriminates the variants Event can hold.
type EventKind = wire.EventKind

// The event kinds a Session's Output can return.
const (
	EventOutput = wire.EventOutput
	EventError  = wire.EventError
	EventStatus = wire.EventStatus
	EventDone   = wire.EventDone
)

// Event is one element of a command's reply stream: a chunk of stdout or
// stderr, a server-reported protocol error, the command's exit status, or
// the Done sentinel once the reply has terminated.
//
// The buffers backing an Event remain valid only until the next call to
// Output or Close on the Session that produced it; copy Data before that
// if it needs to outlive the call.
type Event = wire.Event

// Done is returned by Output after a reply has fully terminated, until a
// new command is sent.
var Done = wire.Done
