// Package uring provides the reactor's abstraction over io_uring: a
// small Ring interface the rest of the module programs against, plus
// two backing implementations — a hand-rolled minimal ring (this
// package's default build) and a github.com/pawelgaczynski/giouring-
// backed ring (build tag `giouring`).
//
// Generalized from the teacher's interface.go, which exposed ublk's
// URING_CMD-only Ring (SubmitCtrlCmd/SubmitIOCmd) — this Ring instead
// exposes the four opcodes the reactor actually drives (spec.md §4.3):
// READ, WRITEV, ACCEPT, and EVENTFD_READ (modeled as a READ against the
// eventfd, since io_uring has no dedicated EVENTFD_READ opcode).
package uring

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrRingFull is returned by a Prepare* call when the submission queue
// has no free slots; the reactor must Submit to make room.
var ErrRingFull = errors.New("uring: submission queue full")

// Opcode identifies which of the four operations a Completion answers.
// Values are the real IORING_OP_* constants, so the minimal ring writes
// them into each SQE's opcode field without a translation table.
// Completions carry no opcode; they are routed by their user-data tag.
type Opcode uint8

const (
	OpRead    Opcode = 22 // IORING_OP_READ
	OpWritev  Opcode = 2  // IORING_OP_WRITEV
	OpAccept  Opcode = 13 // IORING_OP_ACCEPT
	OpPollAdd Opcode = 6  // IORING_OP_POLL_ADD (reserved; not issued by the reactor today)
)

// Completion is one drained completion queue entry.
type Completion struct {
	UserData uint64
	Res      int32
	Flags    uint32
}

// Ring is the submission/completion interface the reactor's sq and cq
// pumps drive. A Ring is owned by exactly one reactor thread; none of
// its methods are safe for concurrent use.
type Ring interface {
	Close() error

	// PrepareRead stages a READ SQE into buf, returning ErrRingFull if
	// the queue has no room.
	PrepareRead(fd int, buf []byte, userData uint64) error

	// PrepareWritev stages a WRITEV SQE over iovecs.
	PrepareWritev(fd int, iovecs []unix.Iovec, userData uint64) error

	// PrepareAccept stages an ACCEPT SQE on a listening fd. addr/addrLen
	// receive the peer address on completion (spec.md §4.3 step 1).
	PrepareAccept(fd int, addr *unix.RawSockaddrAny, addrLen *uint32, userData uint64) error

	// PrepareEventfdRead stages a READ SQE against an eventfd, draining
	// its 8-byte counter into buf.
	PrepareEventfdRead(fd int, buf []byte, userData uint64) error

	// Submit flushes all prepared SQEs with a single io_uring_enter,
	// non-blocking, and returns the number submitted.
	Submit() (uint32, error)

	// SubmitAndWait flushes prepared SQEs and blocks until at least
	// minComplete completions are available.
	SubmitAndWait(minComplete uint32) (uint32, error)

	// PeekCompletions drains up to len(dst) available completions
	// without blocking, returning the number written into dst.
	PeekCompletions(dst []Completion) int
}

// Config configures a new Ring.
type Config struct {
	Entries uint32
}

// NewRing is implemented per build tag: ring_minimal.go (default build)
// returns the hand-rolled minimal ring, ring_giouring.go (build tag
// `giouring`) returns the giouring-backed ring.
