package frame

import (
	"fmt"
	"math/bits"
	"sync"

	"golang.org/x/sys/unix"
)

// minClassSize is the smallest capacity class an Allocator carves out of
// its arenas. Frames below this size still consume a full minClassSize
// slot; this mirrors cloudwego-gopkg's cache/mempool size-classing
// scheme (power-of-two buckets located by bits.Len), reproduced here
// directly rather than imported — see DESIGN.md.
const minClassSize = 4 << 10 // 4KiB

// ErrExhausted is returned when a capacity class has no free slots.
// Per spec.md §7 this is a "resource exhaustion" condition: callers are
// expected to back off one scheduler tick and retry, not treat it as a
// protocol error.
type AllocError string

func (e AllocError) Error() string { return string(e) }

const ErrExhausted AllocError = "frame: allocator exhausted for requested size"

// classFor returns the capacity-class size for a requested byte count,
// rounding up to the next power of two no smaller than minClassSize.
func classFor(size int) int {
	if size <= minClassSize {
		return minClassSize
	}
	return 1 << bits.Len(uint(size-1))
}

// class is one capacity bucket: a single mmap'd arena sliced into
// fixed-size slots, plus a free list of slot indices.
type class struct {
	slotSize int
	arena    []byte
	free     []int // indices of unused slots
}

func newClass(slotSize, slots int) (*class, error) {
	arenaSize := slotSize * slots
	arena, err := unix.Mmap(-1, 0, arenaSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("frame: mmap arena of %d bytes: %w", arenaSize, err)
	}
	free := make([]int, slots)
	for i := range free {
		free[i] = slots - 1 - i // pop from the tail; order is irrelevant
	}
	return &class{slotSize: slotSize, arena: arena, free: free}, nil
}

func (c *class) take() ([]byte, int, bool) {
	n := len(c.free)
	if n == 0 {
		return nil, 0, false
	}
	idx := c.free[n-1]
	c.free = c.free[:n-1]
	off := idx * c.slotSize
	return c.arena[off : off+c.slotSize : off+c.slotSize], idx, true
}

func (c *class) give(idx int) {
	c.free = append(c.free, idx)
}

func (c *class) close() error {
	if c.arena == nil {
		return nil
	}
	err := unix.Munmap(c.arena)
	c.arena = nil
	return err
}

// Allocator is a free-list keyed by capacity class (spec.md §3). It
// returns frames with a zeroed cursor; Release returns them to the
// list. An Allocator bound to a single reactor (the "request-side"
// allocator) requires no locking, matching spec.md §5's exclusive-
// ownership rule. Parallel wraps one behind a mutex for the cross-
// reactor "response-side" allocator.
type Allocator struct {
	slotsPerClass int
	classes       map[int]*class
	live          int // outstanding (allocated, not yet released) frames
	allocations   uint64
	releases      uint64
}

// NewAllocator creates an allocator with slotsPerClass pre-reserved
// slots in every capacity class it lazily creates on first use.
func NewAllocator(slotsPerClass int) *Allocator {
	return &Allocator{
		slotsPerClass: slotsPerClass,
		classes:       make(map[int]*class),
	}
}

// Allocate returns a zeroed-cursor frame with capacity >= size.
func (a *Allocator) Allocate(size int) (*Frame, error) {
	classSize := classFor(size)
	c, ok := a.classes[classSize]
	if !ok {
		var err error
		c, err = newClass(classSize, a.slotsPerClass)
		if err != nil {
			return nil, err
		}
		a.classes[classSize] = c
	}
	buf, idx, ok := c.take()
	if !ok {
		return nil, ErrExhausted
	}
	buf = buf[:size]
	for i := range buf {
		buf[i] = 0
	}
	a.allocations++
	a.live++
	return &Frame{buf: buf, classSize: classSize, slotIdx: idx}, nil
}

// Release returns f's backing slot to its capacity class's free list.
// f must not be used again after Release.
func (a *Allocator) Release(f *Frame) {
	if f == nil || f.buf == nil {
		return
	}
	c, ok := a.classes[f.classSize]
	if !ok {
		return
	}
	c.give(f.slotIdx)
	a.releases++
	a.live--
	*f = Frame{}
}

// Stats reports the allocator's running balance: allocations ==
// releases + in-flight (spec.md §8, "Allocator balance").
func (a *Allocator) Stats() (allocations, releases uint64, inFlight int) {
	return a.allocations, a.releases, a.live
}

// Close unmaps every arena. Callers must ensure no frames from this
// allocator are still in flight.
func (a *Allocator) Close() error {
	var first error
	for _, c := range a.classes {
		if err := c.close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Parallel is a thread-safe allocator variant for frames that cross
// reactor boundaries (the response-side pool, per spec.md §3/§5).
type Parallel struct {
	mu  sync.Mutex
	inner *Allocator
}

// NewParallel creates a thread-safe allocator.
func NewParallel(slotsPerClass int) *Parallel {
	return &Parallel{inner: NewAllocator(slotsPerClass)}
}

func (p *Parallel) Allocate(size int) (*Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.Allocate(size)
}

func (p *Parallel) Release(f *Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inner.Release(f)
}

func (p *Parallel) Stats() (allocations, releases uint64, inFlight int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.Stats()
}

func (p *Parallel) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inner.Close()
}
