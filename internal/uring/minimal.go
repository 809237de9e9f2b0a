//go:build !giouring

package uring

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/logging"
)

// System call numbers for io_uring, generalized from the teacher's
// minimal.go (itself hand-rolled because Go's stdlib has no io_uring
// bindings).
const (
	sysIOUringSetup = 425
	sysIOUringEnter = 426

	ioringEnterGetevents = 1 << 0

	ioringOffSQRing = 0x00000000
	ioringOffCQRing = 0x08000000
	ioringOffSQEs   = 0x10000000
)

// sqe64 mirrors the kernel's 64-byte struct io_uring_sqe for the plain
// (non-SQE128) submission queue entry format the reactor's four opcodes
// need. Field order and sizes must match the kernel ABI exactly — see
// the teacher's sqe128 in the original minimal.go for the precedent
// this is trimmed from (that one carried an 80-byte URING_CMD payload
// this reactor has no use for).
type sqe64 struct {
	opcode      uint8
	flags       uint8
	ioprio      uint16
	fd          int32
	off         uint64
	addr        uint64
	len         uint32
	opcodeFlags uint32
	userData    uint64
	bufIndex    uint16
	personality uint16
	spliceFdIn  int32
	addr3       uint64
	_           uint64
}

// cqe16 mirrors the kernel's 16-byte struct io_uring_cqe.
type cqe16 struct {
	userData uint64
	res      int32
	flags    uint32
}

type ioUringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCpu  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        struct {
		head        uint32
		tail        uint32
		ringMask    uint32
		ringEntries uint32
		flags       uint32
		dropped     uint32
		array       uint32
		resv1       uint32
		userAddr    uint64
	}
	cqOff struct {
		head        uint32
		tail        uint32
		ringMask    uint32
		ringEntries uint32
		overflow    uint32
		cqes        uint32
		flags       uint32
		resv1       uint32
		userAddr    uint64
	}
}

// pointerFromMmap converts a mmap'd region's base address into an
// unsafe.Pointer through indirection, satisfying go vet's unsafeptr
// check — lifted verbatim from the teacher's minimal.go.
//
//go:noinline
func pointerFromMmap(addr uintptr) unsafe.Pointer {
	return *(*unsafe.Pointer)(unsafe.Pointer(&addr))
}

// minimalRing is a hand-rolled io_uring backed by raw mmap'd SQ/CQ
// rings and a separate SQE array region, generalized from the
// teacher's URING_CMD-only minimalRing to the reactor's four opcodes.
// It is the Ring that NewRing returns in builds without the `giouring`
// tag; with that tag, giouring_ring.go provides the Ring instead.
type minimalRing struct {
	fd      int
	params  ioUringParams
	sqMem   []byte
	cqMem   []byte
	sqeMem  []byte
	sqMask  uint32
	cqMask  uint32
	pending uint32 // SQEs prepared since the last Submit/SubmitAndWait
}

func newMinimalRing(entries uint32) (Ring, error) {
	logger := logging.Default()
	logger.Debug("creating minimal io_uring", "entries", entries)

	params := ioUringParams{sqEntries: entries}

	ringFdR, _, errno := syscall.Syscall(sysIOUringSetup, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("uring: io_uring_setup: %v", errno)
	}
	ringFd := int(ringFdR)

	sqSize := int(params.sqOff.array + params.sqEntries*4)
	cqSize := int(params.cqOff.cqes + params.cqEntries*uint32(unsafe.Sizeof(cqe16{})))
	sqeSize := int(params.sqEntries) * int(unsafe.Sizeof(sqe64{}))

	sqMem, err := unix.Mmap(ringFd, ioringOffSQRing, sqSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		syscall.Close(ringFd)
		return nil, fmt.Errorf("uring: mmap SQ ring: %w", err)
	}
	cqMem, err := unix.Mmap(ringFd, ioringOffCQRing, cqSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(sqMem)
		syscall.Close(ringFd)
		return nil, fmt.Errorf("uring: mmap CQ ring: %w", err)
	}
	sqeMem, err := unix.Mmap(ringFd, ioringOffSQEs, sqeSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Munmap(sqMem)
		unix.Munmap(cqMem)
		syscall.Close(ringFd)
		return nil, fmt.Errorf("uring: mmap SQE array: %w", err)
	}

	logger.Info("created io_uring", "entries", entries, "ring_fd", ringFd)
	return &minimalRing{
		fd:     ringFd,
		params: params,
		sqMem:  sqMem,
		cqMem:  cqMem,
		sqeMem: sqeMem,
		sqMask: params.sqOff.ringMask,
		cqMask: params.cqOff.ringMask,
	}, nil
}

func (r *minimalRing) sqBase() unsafe.Pointer { return pointerFromMmap(uintptr(unsafe.Pointer(&r.sqMem[0]))) }
func (r *minimalRing) cqBase() unsafe.Pointer { return pointerFromMmap(uintptr(unsafe.Pointer(&r.cqMem[0]))) }
func (r *minimalRing) sqeBase() unsafe.Pointer {
	return pointerFromMmap(uintptr(unsafe.Pointer(&r.sqeMem[0])))
}

func (r *minimalRing) sqTailPtr() *uint32 { return (*uint32)(unsafe.Add(r.sqBase(), r.params.sqOff.tail)) }
func (r *minimalRing) sqHeadPtr() *uint32 { return (*uint32)(unsafe.Add(r.sqBase(), r.params.sqOff.head)) }
func (r *minimalRing) sqArrayPtr() *uint32 {
	return (*uint32)(unsafe.Add(r.sqBase(), r.params.sqOff.array))
}
func (r *minimalRing) cqHeadPtr() *uint32 { return (*uint32)(unsafe.Add(r.cqBase(), r.params.cqOff.head)) }
func (r *minimalRing) cqTailPtr() *uint32 { return (*uint32)(unsafe.Add(r.cqBase(), r.params.cqOff.tail)) }

// nextSQE returns the next free SQE slot, or ErrRingFull if every entry
// is either in flight or already staged by an unflushed Prepare* call.
func (r *minimalRing) nextSQE() (*sqe64, error) {
	head := *r.sqHeadPtr()
	tail := *r.sqTailPtr()
	if tail+r.pending-head >= r.params.sqEntries {
		return nil, ErrRingFull
	}
	idx := (tail + r.pending) & r.sqMask
	slot := (*sqe64)(unsafe.Add(r.sqeBase(), uintptr(idx)*unsafe.Sizeof(sqe64{})))
	arraySlot := (*uint32)(unsafe.Add(unsafe.Pointer(r.sqArrayPtr()), uintptr(idx)*4))
	*arraySlot = idx
	return slot, nil
}

func (r *minimalRing) PrepareRead(fd int, buf []byte, userData uint64) error {
	sqe, err := r.nextSQE()
	if err != nil {
		return err
	}
	*sqe = sqe64{opcode: uint8(OpRead), fd: int32(fd), userData: userData, len: uint32(len(buf))}
	if len(buf) > 0 {
		sqe.addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}
	r.pending++
	return nil
}

func (r *minimalRing) PrepareEventfdRead(fd int, buf []byte, userData uint64) error {
	return r.PrepareRead(fd, buf, userData)
}

func (r *minimalRing) PrepareWritev(fd int, iovecs []unix.Iovec, userData uint64) error {
	sqe, err := r.nextSQE()
	if err != nil {
		return err
	}
	*sqe = sqe64{opcode: uint8(OpWritev), fd: int32(fd), userData: userData, len: uint32(len(iovecs))}
	if len(iovecs) > 0 {
		sqe.addr = uint64(uintptr(unsafe.Pointer(&iovecs[0])))
	}
	r.pending++
	return nil
}

func (r *minimalRing) PrepareAccept(fd int, addr *unix.RawSockaddrAny, addrLen *uint32, userData uint64) error {
	sqe, err := r.nextSQE()
	if err != nil {
		return err
	}
	*sqe = sqe64{opcode: uint8(OpAccept), fd: int32(fd), userData: userData}
	if addr != nil {
		sqe.addr = uint64(uintptr(unsafe.Pointer(addr)))
	}
	if addrLen != nil {
		sqe.off = uint64(uintptr(unsafe.Pointer(addrLen)))
	}
	r.pending++
	return nil
}

func (r *minimalRing) flush() uint32 {
	n := r.pending
	if n == 0 {
		return 0
	}
	tail := r.sqTailPtr()
	Sfence()
	*tail = *tail + n
	r.pending = 0
	return n
}

func (r *minimalRing) Submit() (uint32, error) {
	n := r.flush()
	if n == 0 {
		return 0, nil
	}
	submitted, _, errno := r.enter(n, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("uring: io_uring_enter: %v", errno)
	}
	return submitted, nil
}

func (r *minimalRing) SubmitAndWait(minComplete uint32) (uint32, error) {
	n := r.flush()
	submitted, _, errno := r.enter(n, minComplete, ioringEnterGetevents)
	if errno != 0 {
		return 0, fmt.Errorf("uring: io_uring_enter: %v", errno)
	}
	return submitted, nil
}

func (r *minimalRing) enter(toSubmit, minComplete, flags uint32) (submitted, completed uint32, errno syscall.Errno) {
	r1, r2, err := syscall.Syscall6(sysIOUringEnter, uintptr(r.fd), uintptr(toSubmit), uintptr(minComplete), uintptr(flags), 0, 0)
	return uint32(r1), uint32(r2), err
}

func (r *minimalRing) PeekCompletions(dst []Completion) int {
	Mfence()
	head := r.cqHeadPtr()
	tail := *r.cqTailPtr()
	n := 0
	cqesBase := unsafe.Add(r.cqBase(), r.params.cqOff.cqes)
	for n < len(dst) && *head != tail {
		idx := *head & r.cqMask
		cqe := (*cqe16)(unsafe.Add(cqesBase, uintptr(idx)*unsafe.Sizeof(cqe16{})))
		dst[n] = Completion{UserData: cqe.userData, Res: cqe.res, Flags: cqe.flags}
		*head = *head + 1
		n++
	}
	return n
}

func (r *minimalRing) Close() error {
	unix.Munmap(r.sqeMem)
	unix.Munmap(r.cqMem)
	unix.Munmap(r.sqMem)
	return syscall.Close(r.fd)
}
