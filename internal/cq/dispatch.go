// Package cq implements the reactor's completion dispatch (spec.md §4.4):
// drain whatever the ring's completion queue currently holds and route
// each entry to its opcode's handler by decoding the user-data tag
// internal/sq encoded it with.
//
// Generalized from the teacher's queue/runner.go completion loop, which
// switched on a ublk command kind pulled out of userData to call one of
// a handful of fixed handlers (handleFetchComplete, handleCommitComplete,
// ...). This Dispatcher takes its handlers as fields instead of hardcoding
// them, since the reactor (not yet built at this layer) owns the channel
// registry and listener state the handlers need to close over.
package cq

import (
	"github.com/kestrelnet/reactor/internal/frame"
	"github.com/kestrelnet/reactor/internal/sq"
	"github.com/kestrelnet/reactor/internal/uring"
)

// Handlers are the per-opcode completion callbacks (spec.md §4.4). Each
// receives the decoded channel (or listener) ID and the completion's
// result/flags; unknown opcodes are logged and dropped by the Dispatcher
// itself, so there is no "unknown" handler to supply.
type Handlers struct {
	OnRead    func(id frame.ChannelID, res int32, flags uint32)
	OnWritev  func(id frame.ChannelID, res int32, flags uint32)
	OnAccept  func(id frame.ChannelID, res int32, flags uint32)
	OnEventfd func(res int32, flags uint32)
}

// Logger is the subset of internal/interfaces.Logger the dispatcher logs
// dropped completions through. A nil Logger means "don't log".
type Logger interface {
	Printf(format string, args ...interface{})
}

// Dispatcher drains a uring.Ring's completion queue and routes each entry
// to the matching Handlers field.
type Dispatcher struct {
	ring     uring.Ring
	handlers Handlers
	logger   Logger
	batch    []uring.Completion
}

// New constructs a Dispatcher. batchSize bounds how many completions are
// drained from the ring in one Drain call.
func New(ring uring.Ring, handlers Handlers, logger Logger, batchSize int) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 256
	}
	return &Dispatcher{
		ring:     ring,
		handlers: handlers,
		logger:   logger,
		batch:    make([]uring.Completion, batchSize),
	}
}

// Drain pulls all currently-available completions (up to the dispatcher's
// batch size per PeekCompletions call) and dispatches each, returning the
// total number processed. It never blocks — spec.md §4.1 only calls this
// when completions are already known to be pending, or just after a
// non-blocking/blocking submit.
func (d *Dispatcher) Drain() int {
	total := 0
	for {
		n := d.ring.PeekCompletions(d.batch)
		for i := 0; i < n; i++ {
			d.dispatch(d.batch[i])
		}
		total += n
		if n < len(d.batch) {
			return total
		}
	}
}

func (d *Dispatcher) dispatch(c uring.Completion) {
	op, id := sq.Decode(c.UserData)
	switch op {
	case sq.OpRead:
		if d.handlers.OnRead != nil {
			d.handlers.OnRead(id, c.Res, c.Flags)
		}
	case sq.OpWritev:
		if d.handlers.OnWritev != nil {
			d.handlers.OnWritev(id, c.Res, c.Flags)
		}
	case sq.OpAccept:
		if d.handlers.OnAccept != nil {
			d.handlers.OnAccept(id, c.Res, c.Flags)
		}
	case sq.OpEventfd:
		if d.handlers.OnEventfd != nil {
			d.handlers.OnEventfd(c.Res, c.Flags)
		}
	default:
		if d.logger != nil {
			d.logger.Printf("cq: dropping completion with unknown opcode %d (user_data=%#x)", op, c.UserData)
		}
	}
}
