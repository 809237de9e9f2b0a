package channel

import (
	"fmt"

	"github.com/kestrelnet/reactor/internal/constants"
	"github.com/kestrelnet/reactor/internal/frame"
)

// FrameAllocator is the subset of *frame.Allocator the parser needs to
// size inbound frames off the wire.
type FrameAllocator interface {
	Allocate(size int) (*frame.Frame, error)
}

// ParseError reports a protocol violation in the inbound stream — the
// channel must be closed on receipt (spec.md §4.5, "edge cases").
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "channel: protocol error: " + e.Reason }

// parseInbound drains as many complete frames as are available out of
// c.recvBuf, starting from (or continuing) c.inboundFrame. Responses
// (FLAG_OP_RESPONSE set) are appended to responses; everything else is
// handed to dispatch. It compacts the consumed prefix out of recvBuf
// itself, leaving only unconsumed trailing bytes, and returns any
// protocol or allocation error.
//
// This is new code — ublk has no network byte stream to reassemble —
// grounded directly on spec.md §4.5's five-step loop; the restart-from-
// inboundFrame structure mirrors the teacher's tag-state-machine habit
// of resuming a multi-step operation from saved state across event-loop
// iterations (internal/queue/runner.go's TagState).
func (c *Channel) parseInbound(alloc FrameAllocator, dispatch func(*frame.Frame), responses *[]*frame.Frame) error {
	buf := c.recvBuf[:c.recvLen]
	cursor := 0

	for {
		if c.inboundFrame == nil {
			if cursor+constants.FrameHeaderSize > len(buf) {
				break // header split across reads; wait for more
			}
			size, flags, err := frame.DecodeHeader(buf[cursor:])
			if err != nil {
				return err
			}
			if size < constants.MinFrameSize {
				return &ParseError{Reason: fmt.Sprintf("declared size %d below minimum %d", size, constants.MinFrameSize)}
			}
			if size > c.maxFrameSize {
				return &ParseError{Reason: fmt.Sprintf("declared size %d exceeds maximum %d", size, c.maxFrameSize)}
			}
			f, err := alloc.Allocate(int(size))
			if err != nil {
				// Drop the frames already dispatched in this pass so a
				// retry resumes at this still-unconsumed header.
				compactRecv(c, cursor)
				return err
			}
			f.InitHeader(size, flags)
			f.SetChannel(c.ID)
			if c.connection != 0 {
				f.SetConnection(c.connection)
			}
			c.inboundFrame = f
			cursor += constants.FrameHeaderSize
		}

		f := c.inboundFrame
		need := f.Remaining()
		avail := len(buf) - cursor
		if avail <= 0 && need > 0 {
			break
		}
		n := need
		if avail < n {
			n = avail
		}
		if n > 0 {
			if _, err := f.WriteAt(buf[cursor : cursor+n]); err != nil {
				return err
			}
			cursor += n
		}

		if !f.Complete() {
			break // payload split across reads; wait for more
		}

		f.Rewind()
		c.inboundFrame = nil
		c.FramesRead++

		if f.IsResponse() {
			*responses = append(*responses, f)
		} else {
			dispatch(f)
		}
	}

	return compactRecv(c, cursor)
}

// compactRecv discards the consumed prefix of c.recvBuf, sliding any
// unconsumed trailing bytes (a partially-read header) to the front.
func compactRecv(c *Channel, consumed int) error {
	if consumed == 0 {
		return nil
	}
	remaining := c.recvLen - consumed
	if remaining > 0 {
		copy(c.recvBuf[:remaining], c.recvBuf[consumed:c.recvLen])
	}
	c.recvLen = remaining
	return nil
}
