// Package sq implements the reactor's submission pump (spec.md §4.3): it
// prepares the four kinds of SQEs the reactor drives and encodes enough
// information into each one's io_uring user-data tag that the completion
// pump (internal/cq) can dispatch without a side table.
//
// Generalized from the teacher's udOpFetch/udOpCommit encoding in
// internal/queue/runner.go, which packed a ublk command kind into the
// high bits of userData and a queue/tag pair into the low bits. Here the
// high 3 bits select one of four opcodes and the low 32 bits carry a
// channel.ID — ChannelID indexes the reactor's channel registry directly,
// so no fd-to-channel lookup table is needed on the completion path.
package sq

import "github.com/kestrelnet/reactor/internal/frame"

// Op identifies which operation a user-data tag encodes.
type Op uint8

const (
	OpRead Op = iota
	OpWritev
	OpAccept
	OpEventfd
)

const opShift = 61 // top 3 bits of a uint64

// Encode packs an opcode and a channel ID into an io_uring user-data tag.
// The eventfd's read has no associated channel, so channelID is ignored
// (and conventionally zero) for OpEventfd.
func Encode(op Op, channelID frame.ChannelID) uint64 {
	return uint64(op)<<opShift | uint64(channelID)
}

// Decode reverses Encode.
func Decode(userData uint64) (Op, frame.ChannelID) {
	op := Op(userData >> opShift)
	id := frame.ChannelID(userData & (1<<opShift - 1))
	return op, id
}
