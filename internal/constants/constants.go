package constants

import "time"

// Default configuration constants
const (
	// DefaultRingSize is the default number of io_uring submission-queue entries.
	DefaultRingSize = 4096

	// DefaultListenBacklog is the default listen(2) backlog.
	DefaultListenBacklog = 10

	// DefaultReceiveBufferSize is the default per-channel receive buffer size.
	DefaultReceiveBufferSize = 256 * 1024

	// DefaultSendBufferSize is the default SO_SNDBUF applied to channel sockets.
	DefaultSendBufferSize = 256 * 1024

	// DefaultMaxFrameSize is the default maximum frame size (16 MiB), per spec.md §6.
	DefaultMaxFrameSize = 16 << 20

	// MinFrameSize is the smallest legal frame: an 8-byte header, zero-length payload.
	MinFrameSize = 8

	// IovMax is the bound on frames staged in one IoVector (spec.md §3).
	IovMax = 1024
)

// Timing constants for reactor lifecycle.
const (
	// WakeupPollTimeout is a 1ms idle interval. The reactor loop does not
	// read it: spin mode polls the completion queue again without idling.
	WakeupPollTimeout = time.Millisecond
)

// FrameHeaderSize is the fixed length, in bytes, of the size|flags prefix
// every frame carries on the wire (spec.md §6).
const FrameHeaderSize = 8

// FlagOpResponse marks a frame as a response (spec.md §6).
const FlagOpResponse uint32 = 0x01
