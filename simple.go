package remctl

import "github.com/ccin2p3/remctl/internal/security"

// Result is the aggregated outcome of a one-shot Execute call: the
// command's full stdout and stderr, its exit status, and, if the server
// rejected the command at the protocol level, the server's error text.
// Error is empty for a command that ran to completion, even one that
// exited non-zero — Status carries that outcome instead.
type Result struct {
	Stdout []byte
	Stderr []byte
	Status int
	Error  string
}

// Execute opens a session, sends argv as a single finished command, drains
// its entire reply into a Result, and closes the session. It is a thin
// client of Session that buffers everything rather than streaming,
// appropriate for callers that don't need incremental output.
func Execute(provider security.Provider, host, port, principal string, argv []string) (Result, error) {
	s := NewSession(provider)
	defer s.Close()

	if err := s.Open(host, port, principal); err != nil {
		return Result{}, err
	}
	if err := s.Command(argv, true); err != nil {
		return Result{}, err
	}

	var res Result
	for {
		ev, err := s.Output()
		if err != nil {
			return Result{}, err
		}
		switch ev.Kind {
		case EventOutput:
			switch ev.Stream {
			case 1:
				res.Stdout = append(res.Stdout, ev.Data...)
			case 2:
				res.Stderr = append(res.Stderr, ev.Data...)
			}
		case EventStatus:
			res.Status = ev.Status
			return res, nil
		case EventError:
			res.Error = string(ev.Data)
			return res, nil
		case EventDone:
			return res, nil
		}
	}
}
