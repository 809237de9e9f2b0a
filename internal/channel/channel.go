// Package channel implements the per-connection transport object
// (spec.md §3): socket fd, addresses, receive buffer, the restartable
// inbound frame parser, and the outbound queue pair that bridges
// cross-thread producers into the owning reactor's single-threaded
// write path.
package channel

import (
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/frame"
	"github.com/kestrelnet/reactor/internal/iovec"
)

// ID identifies a channel in a reactor's registry. It is a monotonic
// counter assigned when the reactor registers the channel (on accept or
// on connect), never the raw fd — an fd can be
// reused by the kernel the instant a channel closes, which would let a
// stale in-flight completion's user-data resolve to the wrong channel
// (spec.md §9's cyclic-object-graph note resolves ChannelID the same
// way, and this is the same ABA hazard; see SPEC_FULL.md §9.1).
type ID = frame.ChannelID

// State is the lifecycle state of a channel.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

// Channel holds everything spec.md §3 assigns to a single connection.
// Only the owning reactor goroutine may touch recvBuf, inboundFrame, Vec
// contents, or cursors; the sole exception is Enqueue, which any
// goroutine may call to push onto the unflushed MPSC queue.
//
// spec.md describes "flushed" as a separate SPSC staging queue between
// unflushed and the IoVector, bounded to exactly the IoVector's free
// capacity on every move. Since that queue would hold precisely the
// frames already staged in Vec, nothing is gained by keeping the two
// structures in sync — Vec (internal/iovec.IoVector) IS the flushed
// staging area here; BeginFlush pulls straight from unflushed into it.
type Channel struct {
	ID ID
	Fd int

	LocalAddr  unix.Sockaddr
	RemoteAddr unix.Sockaddr

	connection frame.ConnectionID

	recvBuf []byte
	recvLen int

	maxFrameSize uint32

	inboundFrame *frame.Frame

	unflushed *unflushedQueue

	// dirty gates membership in the reactor's dirty-channel set. It is
	// true iff the channel is currently in that set (spec.md §3 calls
	// this invariant "flushed.get() == true iff ... dirty set", but
	// names the field itself "flushed" — kept here as "dirty" to avoid
	// confusion with the flushed/IoVector staging concept above).
	dirty atomic.Bool

	Vec iovec.IoVector

	state State

	BytesRead    uint64
	BytesWritten uint64
	FramesRead   uint64
	ReadEvents   uint64
}

// New constructs a channel for an accepted or connected socket fd.
func New(id ID, fd int, recvBufSize int, maxFrameSize uint32) *Channel {
	return &Channel{
		ID:           id,
		Fd:           fd,
		recvBuf:      make([]byte, recvBufSize),
		maxFrameSize: maxFrameSize,
		unflushed:    newUnflushedQueue(),
		state:        StateOpen,
	}
}

// SetConnection binds the logical connection id the request service
// assigned, stamped onto every frame the parser produces from here on.
func (c *Channel) SetConnection(id frame.ConnectionID) { c.connection = id }

// Lifecycle reports the channel's lifecycle state.
func (c *Channel) Lifecycle() State { return c.state }

// Close marks the channel closed. The caller is responsible for closing
// Fd and removing the channel from the reactor's registry.
func (c *Channel) Close() { c.state = StateClosed }

// RecvBuf returns the writable tail of the receive buffer, i.e. where
// the next READ's bytes land.
func (c *Channel) RecvBuf() []byte { return c.recvBuf[c.recvLen:] }

// OnRead records n freshly-read bytes as now occupying the receive
// buffer (spec.md §4.3's READ completion handler, step "advance the
// receive buffer's write cursor").
func (c *Channel) OnRead(n int) {
	c.recvLen += n
	c.BytesRead += uint64(n)
	c.ReadEvents++
}

// ParseInbound runs the restartable frame parser (parser.go) over
// whatever bytes OnRead has accumulated, dispatching non-response
// frames to dispatch and appending responses to the caller's
// accumulator for a single batched handoff to the request service.
func (c *Channel) ParseInbound(alloc FrameAllocator, dispatch func(*frame.Frame), responses *[]*frame.Frame) error {
	return c.parseInbound(alloc, dispatch, responses)
}

// Enqueue pushes f onto the channel's public outbound queue and reports
// whether the caller must also mark the channel dirty in the reactor's
// dirty set and send a wakeup — i.e. whether this call transitioned
// dirty from false to true (spec.md §4.6's producer snippet:
// `queue.push(frame); if channel.flushed.cas(false -> true) then
// reactor.enqueueDirty(channel); reactor.wakeup();`).
func (c *Channel) Enqueue(f *frame.Frame) (becameDirty bool) {
	c.unflushed.Push(f)
	return c.dirty.CompareAndSwap(false, true)
}

// Dirty reports whether the channel is currently in the reactor's dirty
// set.
func (c *Channel) Dirty() bool { return c.dirty.Load() }

// MarkDirty forces the channel back into the dirty set. The reactor
// calls this from a WRITEV completion handler when OnWriteComplete
// reports more output is pending — unlike Enqueue's producer-side CAS,
// this doesn't need a transition check: the reactor is the only caller
// and always wants the channel flushed again (spec.md §8, "Backpressure
// on IoVector full": "on WRITEV completion the channel re-dirties").
func (c *Channel) MarkDirty() { c.dirty.Store(true) }

// BeginFlush moves frames from the unflushed queue into the IoVector up
// to its free capacity, returning the number moved. Precondition:
// Dirty() == true (spec.md §4.6).
func (c *Channel) BeginFlush() int {
	return c.Vec.Fill(c.unflushed)
}

// EndFlush clears the dirty flag after a WRITEV has been submitted for
// the IoVector's current contents. A producer racing Enqueue against
// this may immediately flip dirty back to true for newly-pushed frames,
// per spec.md §4.6 — that's the intended "may re-mark itself dirty"
// behavior, not a bug to guard against.
func (c *Channel) EndFlush() { c.dirty.Store(false) }

// OnWriteComplete applies a WRITEV completion of written bytes to the
// IoVector, releasing fully-consumed frames via release, and reports
// whether the channel has more pending output and should be re-dirtied
// for another tick (spec.md §4.6, "Partial writes").
func (c *Channel) OnWriteComplete(written int, release func(*frame.Frame)) (hasMore bool) {
	c.Vec.Compact(written, release)
	c.BytesWritten += uint64(written)
	if c.Vec.Pending() > 0 {
		return true
	}
	return !c.unflushed.Empty()
}

// MaxFrameSize returns the configured maximum inbound frame size.
func (c *Channel) MaxFrameSize() uint32 { return c.maxFrameSize }

// Quiescent reports whether the channel has no outstanding outbound
// work at all — neither staged in the IoVector nor waiting in the
// unflushed queue (spec.md §8, "Backpressure on IoVector full": "the
// channel becomes clean when unflushed is empty and flushed is empty").
func (c *Channel) Quiescent() bool {
	return c.Vec.Len() == 0 && c.unflushed.Empty()
}
