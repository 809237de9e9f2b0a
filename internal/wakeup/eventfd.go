// Package wakeup implements the reactor's cross-thread wakeup discipline
// (spec.md §4.2): an eventfd paired with a `wakeupNeeded` atomic, so
// producer threads push work onto the public run-queue without ever
// causing a syscall storm, while the reactor thread is guaranteed to
// see every wakeup it's parked waiting for.
//
// The teacher has no analog for this — ublk's interrupt source is the
// kernel driver itself, there's no cross-goroutine producer to signal —
// so this is built directly from spec.md §4.2's algorithm.
package wakeup

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Wakeup owns one eventfd and the `wakeupNeeded` gate that keeps a
// parked reactor from being woken more than once per blocking window.
type Wakeup struct {
	fd     int
	needed atomic.Bool
}

// New creates a non-blocking eventfd-backed Wakeup.
func New() (*Wakeup, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("wakeup: eventfd: %w", err)
	}
	return &Wakeup{fd: fd}, nil
}

// Fd returns the eventfd, for arming an EVENTFD_READ SQE against it.
func (w *Wakeup) Fd() int { return w.fd }

// Close releases the eventfd.
func (w *Wakeup) Close() error { return unix.Close(w.fd) }

// ArmNeeded sets wakeupNeeded := true. The reactor calls this before
// testing its public run-queue for emptiness, immediately prior to
// parking in a blocking submit-and-wait — the ordering (set needed,
// then check queue) paired with producers' (push, then check needed)
// forms the release/acquire handshake spec.md §4.2 requires for
// missed-wakeup freedom.
func (w *Wakeup) ArmNeeded() { w.needed.Store(true) }

// ClearNeeded sets wakeupNeeded := false, called once the reactor
// returns from its blocking wait (whether due to a real completion or
// the eventfd signal).
func (w *Wakeup) ClearNeeded() { w.needed.Store(false) }

// Needed reports whether the reactor is currently parked waiting for a
// wakeup.
func (w *Wakeup) Needed() bool { return w.needed.Load() }

// Signal is called by producer threads after pushing work onto the
// public run-queue. It is a no-op unless wakeupNeeded is currently true,
// and the CAS ensures at most one eventfd_write per blocking window
// (spec.md §4.2): `if wakeupNeeded.load() && wakeupNeeded.cas(true ->
// false) then eventfd_write(1)`.
func (w *Wakeup) Signal() error {
	if !w.needed.Load() {
		return nil
	}
	if !w.needed.CompareAndSwap(true, false) {
		return nil
	}
	return w.write()
}

func (w *Wakeup) write() error {
	// The eventfd counter is a native-endian uint64 (a raw memcpy of
	// uint64_t on the kernel side), which is little-endian on every
	// architecture Linux io_uring runs on.
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(w.fd, buf[:])
	if err != nil && err != unix.EAGAIN {
		return fmt.Errorf("wakeup: eventfd_write: %w", err)
	}
	return nil
}

// Drain consumes the eventfd's accumulated counter after an
// EVENTFD_READ completion, so the next read (which the reactor always
// keeps in flight) doesn't immediately re-fire. The kernel already
// delivers the counter value as the read's result; Drain exists for
// callers (tests, or a poll-based fallback) that read the fd directly
// instead of through io_uring.
func (w *Wakeup) Drain() (uint64, error) {
	var buf [8]byte
	n, err := unix.Read(w.fd, buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return 0, nil
		}
		return 0, fmt.Errorf("wakeup: eventfd_read: %w", err)
	}
	if n != 8 {
		return 0, fmt.Errorf("wakeup: short eventfd read: %d bytes", n)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}
