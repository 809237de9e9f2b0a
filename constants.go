package reactor

import "github.com/kestrelnet/reactor/internal/constants"

// Re-exported defaults for the public API (spec.md §6).
const (
	DefaultRingSize          = constants.DefaultRingSize
	DefaultListenBacklog     = constants.DefaultListenBacklog
	DefaultReceiveBufferSize = constants.DefaultReceiveBufferSize
	DefaultSendBufferSize    = constants.DefaultSendBufferSize
	DefaultMaxFrameSize      = constants.DefaultMaxFrameSize
	MinFrameSize             = constants.MinFrameSize
	IovMax                   = constants.IovMax
	FrameHeaderSize          = constants.FrameHeaderSize
)

// FlagOpResponse marks a frame as a response (spec.md §6).
const FlagOpResponse = constants.FlagOpResponse
