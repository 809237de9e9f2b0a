package reactor

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/channel"
	"github.com/kestrelnet/reactor/internal/frame"
	"github.com/kestrelnet/reactor/internal/listener"
)

// onReadComplete handles a READ completion for channel id (spec.md §4.3
// step 2): negative res closes the channel with a classified error,
// res == 0 is an orderly peer close, and res > 0 advances the receive
// buffer and runs the inbound frame parser before re-arming the READ.
//
// Grounded on the teacher's runner.go handleCompletion, which also
// branches on a completion's result code to decide the next state
// transition — generalized here from ublk's fetch/commit tag states to
// the reactor's read/parse/re-arm cycle.
func (r *Reactor) onReadComplete(id frame.ChannelID, res int32, flags uint32) {
	ch, ok := r.channelByID(id)
	if !ok {
		return
	}

	if res < 0 {
		r.observer.ObserveRead(0, 0, false)
		r.closeChannel(id, NewErrnoError("read", uint32(id), syscall.Errno(-res)))
		return
	}
	if res == 0 {
		r.observer.ObserveRead(0, 0, true)
		r.closeChannel(id, nil)
		return
	}

	n := int(res)
	ch.OnRead(n)
	r.observer.ObserveRead(uint64(n), 0, true)

	r.processInbound(id)
}

// processInbound runs the inbound frame parser against id's receive
// buffer and, on success, re-arms its READ. Separated from
// onReadComplete so it can be retried on its own: allocator exhaustion
// (frame.ErrExhausted) is a resource-exhaustion condition per spec.md
// §7 ("allocator empty, ring full — the reactor backs off one tick and
// retries"), not a protocol error, so it must not tear the channel down
// the way a real ParseError does. The parser leaves any undecoded
// header in recvBuf untouched on error (see internal/channel/parser.go's
// compactRecv), so simply retrying the parse once the scheduler gives
// the allocator another tick to free a slot picks up exactly where it
// left off — mirroring the ErrRingFull backoff already used by
// armRead/armAccept/handleWrite.
func (r *Reactor) processInbound(id channel.ID) {
	ch, ok := r.channelByID(id)
	if !ok {
		return
	}

	var responses []*frame.Frame
	err := ch.ParseInbound(r.alloc, func(f *frame.Frame) {
		r.observer.ObserveFramesParsed(1)
		if r.config.Handler != nil {
			r.config.Handler.Handle(f)
		} else {
			r.alloc.Release(f)
		}
	}, &responses)
	if err != nil {
		if errors.Is(err, frame.ErrExhausted) {
			r.sched.Post(func() error { r.processInbound(id); return nil })
			return
		}
		r.closeChannel(id, WrapError("parse", err))
		return
	}

	if len(responses) > 0 {
		if r.config.ResponseSink != nil {
			r.config.ResponseSink.HandleResponses(responses)
		} else {
			for _, f := range responses {
				r.alloc.Release(f)
			}
		}
	}

	r.armRead(ch)
}

// onWritevComplete handles a WRITEV completion for channel id (spec.md
// §4.3 step 3/§4.6): it clears the in-flight guard before anything
// else, since EndFlush already cleared Dirty() when the WRITEV was
// armed, and a producer may have re-marked the channel dirty while this
// write was outstanding.
func (r *Reactor) onWritevComplete(id frame.ChannelID, res int32, flags uint32) {
	delete(r.inFlightWrite, id)

	ch, ok := r.channelByID(id)
	if !ok {
		return
	}

	if res < 0 {
		r.observer.ObserveWrite(0, 0, false)
		r.closeChannel(id, NewErrnoError("writev", uint32(id), syscall.Errno(-res)))
		return
	}

	n := int(res)
	iovecCount := ch.Vec.Len()
	hasMore := ch.OnWriteComplete(n, r.alloc.Release)

	r.observer.ObserveWrite(uint64(n), 0, true)
	r.observer.ObserveWritev(iovecCount, uint64(n))

	if hasMore {
		ch.MarkDirty()
		r.dirtySet[id] = struct{}{}
	}
}

// onAcceptComplete handles an ACCEPT completion for listener id
// (spec.md §4.3 step 1): a negative res is logged and the listener is
// re-armed; a successful accept registers a new channel and arms its
// first READ before re-arming the listener's own ACCEPT.
func (r *Reactor) onAcceptComplete(id frame.ChannelID, res int32, flags uint32) {
	l, ok := r.listeners[listener.ID(id)]
	if !ok {
		return
	}

	if res < 0 {
		r.observer.ObserveAccept(false)
		if r.logger != nil {
			r.logger.Printf("reactor: listener %d: accept error: %v", id, syscall.Errno(-res))
		}
		r.armAccept(l)
		return
	}

	connFd := int(res)
	peer, err := l.ParsePeerAddress()
	if err != nil {
		unix.Close(connFd)
		r.observer.ObserveAccept(false)
		r.armAccept(l)
		return
	}
	if err := l.ApplyChannelOptions(connFd); err != nil {
		unix.Close(connFd)
		r.observer.ObserveAccept(false)
		r.armAccept(l)
		return
	}

	chID := r.registerChannel(connFd)
	if ch, ok := r.channelByID(chID); ok {
		ch.RemoteAddr = peer
	}
	r.observer.ObserveAccept(true)

	r.armAccept(l)
}

// onEventfdComplete handles the standing wakeup-eventfd READ completion
// (spec.md §4.2). The completion's result already carries the drained
// counter value; all that's left is to re-arm the next read.
func (r *Reactor) onEventfdComplete(res int32, flags uint32) {
	if err := r.pump.EventfdRead(r.wake.Fd(), r.wakeupBuf[:]); err != nil && r.logger != nil {
		r.logger.Printf("reactor: re-arm wakeup eventfd: %v", err)
	}
}
