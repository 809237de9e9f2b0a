// Package iovec implements the bounded gather-write staging area
// (spec.md §3): up to IOV_MAX frames queued for one scatter-gather
// WRITEV, with partial-write compaction on short writes.
//
// There is no teacher analog for this component — ublk's I/O path moves
// one buffer per tag, never a batch — so this is built directly from
// spec.md's invariants, using the batch-then-flush discipline the
// teacher's queue runner uses for io_uring command submission
// (internal/queue/runner.go's processRequests) as the shape to follow:
// prepare N, submit once.
package iovec

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/constants"
	"github.com/kestrelnet/reactor/internal/frame"
)

// Queue is the minimal interface IoVector needs from a channel's
// outbound queue: pop the next frame to stage, or nil if empty.
type Queue interface {
	Pop() *frame.Frame
}

// IoVector is a fixed-capacity array of staged frames plus the running
// byte total still to be written.
type IoVector struct {
	frames  [constants.IovMax]*frame.Frame
	size    int
	pending int
}

// Len returns the number of frames currently staged.
func (v *IoVector) Len() int { return v.size }

// Pending returns the total unwritten bytes across staged frames.
func (v *IoVector) Pending() int { return v.pending }

// Full reports whether the vector has no more room for frames.
func (v *IoVector) Full() bool { return v.size >= constants.IovMax }

// Fill moves frames off q into the vector until it is full or q is
// drained (spec.md §3/§4.6).
func (v *IoVector) Fill(q Queue) int {
	moved := 0
	for v.size < constants.IovMax {
		f := q.Pop()
		if f == nil {
			break
		}
		v.frames[v.size] = f
		v.size++
		v.pending += f.Remaining()
		moved++
	}
	return moved
}

// Iovecs builds the (address, offset, length) triples io_uring's WRITEV
// opcode needs, one per staged frame's unwritten remainder.
func (v *IoVector) Iovecs() []unix.Iovec {
	out := make([]unix.Iovec, v.size)
	for i := 0; i < v.size; i++ {
		f := v.frames[i]
		remaining := f.Bytes()[f.Position():]
		iov := unix.Iovec{}
		iov.SetLen(len(remaining))
		if len(remaining) > 0 {
			iov.Base = &remaining[0]
		}
		out[i] = iov
	}
	return out
}

// Compact removes fully-consumed frames after a WRITEV completion of
// written bytes, advancing the first partially-consumed frame's cursor
// by the remainder (spec.md §3, "IoVector compaction"). Fully-consumed
// frames are released to release. When written == Pending, the vector
// is reset.
func (v *IoVector) Compact(written int, release func(*frame.Frame)) {
	remaining := written
	i := 0
	for ; i < v.size; i++ {
		f := v.frames[i]
		r := f.Remaining()
		if remaining < r {
			break
		}
		remaining -= r
		f.Advance(r)
		v.pending -= r
		release(f)
		v.frames[i] = nil
	}
	if remaining > 0 && i < v.size {
		v.frames[i].Advance(remaining)
		v.pending -= remaining
	}

	if i == 0 {
		return
	}
	copy(v.frames[0:], v.frames[i:v.size])
	for j := v.size - i; j < v.size; j++ {
		v.frames[j] = nil
	}
	v.size -= i

	if v.size == 0 {
		v.pending = 0
	}
}
