// Package frame implements the length-prefixed message buffer at the
// heart of the reactor's wire protocol: a contiguous byte buffer with a
// write cursor (producer side), a read cursor (consumer side), and a
// declared total size read out of the first 8 bytes of the buffer.
package frame

import (
	"fmt"
	"sync/atomic"

	"github.com/kestrelnet/reactor/internal/constants"
)

// ChannelID identifies the transport a frame is bound to. It indexes
// into a reactor's channel registry; it is never a pointer back to the
// channel itself (see DESIGN.md's note on the cyclic-graph redesign).
type ChannelID uint32

// ConnectionID identifies the logical peer a frame belongs to, as
// assigned by the external request service. The reactor never
// interprets this value; it only carries it.
type ConnectionID uint64

// Frame is a single length-prefixed, flag-tagged message. Its backing
// array is allocated from an Allocator's arena (see allocator.go) rather
// than the Go heap, so its address is stable for the lifetime of the
// frame and safe to hand to io_uring without a pinning dance.
type Frame struct {
	buf      []byte // arena-backed storage, len == capacity
	position int    // read/write cursor, 0 <= position <= size
	size     int    // declared total size (header + payload), from the wire
	flags    uint32

	connection ConnectionID
	channel    ChannelID
	hasConn    bool
	hasChannel bool

	// Next is the intrusive link used by a channel's lock-free MPSC
	// outbound queue (internal/channel). Atomic because producer
	// goroutines link nodes onto it without a lock.
	Next atomic.Pointer[Frame]

	classSize int // capacity-class size this frame's slot belongs to
	slotIdx   int // slot index within that class's arena
}

// Capacity returns the size of the frame's backing buffer.
func (f *Frame) Capacity() int { return len(f.buf) }

// Position returns the current read/write cursor.
func (f *Frame) Position() int { return f.position }

// Size returns the frame's declared total size (header included).
func (f *Frame) Size() int { return f.size }

// Flags returns the frame's flag word. Flags are read-only after the
// first 8 bytes have been written (spec.md §3); callers must not try to
// mutate them past that point.
func (f *Frame) Flags() uint32 { return f.flags }

// IsResponse reports whether FLAG_OP_RESPONSE is set.
func (f *Frame) IsResponse() bool { return f.flags&constants.FlagOpResponse != 0 }

// Complete reports whether the frame has received exactly Size() bytes.
func (f *Frame) Complete() bool { return f.position == f.size }

// Remaining returns the number of bytes still to be written (producer
// side) or read (consumer side) before the frame is complete/drained.
func (f *Frame) Remaining() int { return f.size - f.position }

// Bytes returns the frame's writable backing slice up to Size(). Callers
// on the consumer side use this after Rewind to read the whole frame,
// including its header.
func (f *Frame) Bytes() []byte { return f.buf[:f.size] }

// Payload returns the frame's body, excluding the 8-byte header.
func (f *Frame) Payload() []byte { return f.buf[constants.FrameHeaderSize:f.size] }

// Connection returns the frame's bound connection, if any.
func (f *Frame) Connection() (ConnectionID, bool) { return f.connection, f.hasConn }

// SetConnection binds the frame to a logical connection.
func (f *Frame) SetConnection(id ConnectionID) {
	f.connection = id
	f.hasConn = true
}

// Channel returns the frame's bound transport channel, if any.
func (f *Frame) Channel() (ChannelID, bool) { return f.channel, f.hasChannel }

// SetChannel binds the frame to a transport channel.
func (f *Frame) SetChannel(id ChannelID) {
	f.channel = id
	f.hasChannel = true
}

// InitHeader sets the frame's declared size and flags and writes the
// wire header into the first 8 bytes of its buffer, advancing the
// cursor past it. Used by the inbound parser once it has read a
// frame's header off the wire (spec.md §4.5 step 1) and by producers
// constructing an outbound frame.
func (f *Frame) InitHeader(size, flags uint32) {
	f.size = int(size)
	f.flags = flags
	EncodeHeader(f.buf, size, flags)
	f.position = constants.FrameHeaderSize
}

// WriteAt copies p into the frame's buffer starting at the producer
// cursor and advances it. It is an error to write past size.
func (f *Frame) WriteAt(p []byte) (int, error) {
	if f.position+len(p) > f.size {
		return 0, fmt.Errorf("frame: write would exceed declared size %d (position %d, len %d)", f.size, f.position, len(p))
	}
	n := copy(f.buf[f.position:f.size], p)
	f.position += n
	return n, nil
}

// Rewind resets the read cursor to the start of the frame (after the
// producer has finished writing and before a consumer reads it back).
func (f *Frame) Rewind() { f.position = 0 }

// Advance moves the read/write cursor forward by n bytes, used by the
// IoVector's partial-write compaction (internal/iovec).
func (f *Frame) Advance(n int) { f.position += n }
