// Package service supplies the example request-service implementations
// against internal/service's Handler/ResponseSink interfaces. EchoHandler
// plays the same demonstrative role the teacher's backend/mem.go Memory
// backend plays for ublk: the simplest thing that makes the wire
// protocol and event loop visibly work end to end.
package service

import (
	"github.com/kestrelnet/reactor/internal/constants"
	"github.com/kestrelnet/reactor/internal/frame"
)

// FrameAllocator is the subset of *frame.Allocator / *frame.Parallel
// EchoHandler needs to build its response frame.
type FrameAllocator interface {
	Allocate(size int) (*frame.Frame, error)
}

// ChannelWriter delivers a frame back to a specific channel's outbound
// queue. The reactor (owner of the channel registry) implements this;
// EchoHandler only knows a channel ID, never a *channel.Channel.
type ChannelWriter interface {
	Write(id frame.ChannelID, f *frame.Frame)
}

// EchoHandler reflects every inbound request frame back to its sender
// with FLAG_OP_RESPONSE set and the payload unchanged.
type EchoHandler struct {
	alloc  FrameAllocator
	writer ChannelWriter
}

// NewEchoHandler constructs an EchoHandler. alloc is typically the
// reactor's per-reactor ("request-side") allocator, since responses here
// never cross a reactor boundary.
func NewEchoHandler(alloc FrameAllocator, writer ChannelWriter) *EchoHandler {
	return &EchoHandler{alloc: alloc, writer: writer}
}

// Handle implements internal/service.Handler.
func (h *EchoHandler) Handle(f *frame.Frame) {
	id, ok := f.Channel()
	if !ok {
		return
	}

	resp, err := h.alloc.Allocate(f.Size())
	if err != nil {
		// Allocator exhaustion is a backoff condition (spec.md §7), not a
		// protocol error; dropping the echo here just means the peer
		// times out and retries rather than the channel being closed.
		return
	}
	resp.InitHeader(uint32(f.Size()), f.Flags()|constants.FlagOpResponse)
	resp.SetChannel(id)
	if connID, ok := f.Connection(); ok {
		resp.SetConnection(connID)
	}
	if _, err := resp.WriteAt(f.Payload()); err != nil {
		return
	}

	h.writer.Write(id, resp)
}
