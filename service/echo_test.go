package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/reactor/internal/constants"
	"github.com/kestrelnet/reactor/internal/frame"
)

type recordingWriter struct {
	id frame.ChannelID
	f  *frame.Frame
}

func (w *recordingWriter) Write(id frame.ChannelID, f *frame.Frame) {
	w.id, w.f = id, f
}

func newInboundFrame(t *testing.T, alloc *frame.Allocator, channelID frame.ChannelID, connID frame.ConnectionID, payload []byte, flags uint32) *frame.Frame {
	t.Helper()
	size := uint32(constants.FrameHeaderSize + len(payload))
	f, err := alloc.Allocate(int(size))
	require.NoError(t, err)
	f.InitHeader(size, flags)
	_, err = f.WriteAt(payload)
	require.NoError(t, err)
	f.SetChannel(channelID)
	f.SetConnection(connID)
	f.Rewind()
	return f
}

func TestEchoHandlerReflectsPayloadWithResponseFlag(t *testing.T) {
	alloc := frame.NewAllocator(4)
	writer := &recordingWriter{}
	h := NewEchoHandler(alloc, writer)

	payload := []byte("ping")
	in := newInboundFrame(t, alloc, 7, 42, payload, 0)

	h.Handle(in)

	require.NotNil(t, writer.f)
	require.Equal(t, frame.ChannelID(7), writer.id)
	gotID, ok := writer.f.Channel()
	require.True(t, ok)
	require.Equal(t, frame.ChannelID(7), gotID)
	gotConn, ok := writer.f.Connection()
	require.True(t, ok)
	require.Equal(t, frame.ConnectionID(42), gotConn)
	require.True(t, writer.f.IsResponse())
	require.Equal(t, payload, writer.f.Payload())
}

func TestEchoHandlerDropsFrameWithNoChannel(t *testing.T) {
	alloc := frame.NewAllocator(4)
	writer := &recordingWriter{}
	h := NewEchoHandler(alloc, writer)

	f, err := alloc.Allocate(constants.FrameHeaderSize)
	require.NoError(t, err)
	f.InitHeader(constants.FrameHeaderSize, 0)
	// no SetChannel call

	h.Handle(f)
	require.Nil(t, writer.f)
}

func TestEchoHandlerDropsOnAllocatorExhaustion(t *testing.T) {
	alloc := frame.NewAllocator(0) // zero slots per class: every Allocate fails
	writer := &recordingWriter{}
	h := NewEchoHandler(alloc, writer)

	// Build the inbound frame from a second allocator so the test isn't
	// exercising the exhausted one for the inbound frame itself.
	inboundAlloc := frame.NewAllocator(4)
	in := newInboundFrame(t, inboundAlloc, 1, 1, []byte("x"), 0)

	h.Handle(in)
	require.Nil(t, writer.f)
}
