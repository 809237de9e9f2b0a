// Package reactor implements a thread-per-core networking substrate on
// top of Linux io_uring: one reactor owns one io_uring instance, one OS
// thread, and a registry of channels, driving the event loop spec.md
// §4.1 describes. The public surface (spec.md §6) is small: start a
// reactor, register a listener or dial a peer, write frames to a
// channel, and shut the whole thing down.
//
// Grounded on the teacher's backend.go (CreateAndServe / Device /
// Options / StopAndDelete): the Config/Options split, the default-to-
// MetricsObserver pattern, and the cancel-then-teardown shutdown
// sequence all follow that file's shape, generalized from a single
// block device to a registry of network channels.
package reactor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/channel"
	"github.com/kestrelnet/reactor/internal/constants"
	"github.com/kestrelnet/reactor/internal/cq"
	"github.com/kestrelnet/reactor/internal/frame"
	"github.com/kestrelnet/reactor/internal/interfaces"
	"github.com/kestrelnet/reactor/internal/listener"
	"github.com/kestrelnet/reactor/internal/scheduler"
	"github.com/kestrelnet/reactor/internal/service"
	"github.com/kestrelnet/reactor/internal/sq"
	"github.com/kestrelnet/reactor/internal/uring"
	"github.com/kestrelnet/reactor/internal/wakeup"
)

// Logger is re-exported so callers don't need to import internal/interfaces.
type Logger = interfaces.Logger

// Config configures a Reactor (spec.md §6).
type Config struct {
	// Context governs the reactor's lifetime; cancelling it has the
	// same effect as calling Shutdown.
	Context context.Context

	Logger   Logger
	Observer Observer

	RingSize uint32 // io_uring submission/completion queue depth

	ReceiveBufferSize int
	SendBufferSize    int
	TCPNoDelay        bool
	TCPQuickAck       bool
	ListenBacklog     int

	MaxFrameSize  uint32
	SlotsPerClass int // per-capacity-class pre-reserved slots for the request-side allocator

	SchedulerBudget     int
	CompletionBatchSize int

	// CPUAffinity pins the reactor's owning OS thread to a CPU. -1 (the
	// default) leaves affinity untouched.
	CPUAffinity int

	// Spin keeps the event loop submitting non-blocking rather than
	// parking on an empty completion queue (spec.md §4.1's "spin" mode).
	Spin bool

	// Handler receives dispatched inbound request frames. ResponseSink
	// receives batched response-frame chains. Both are the reactor's
	// out-of-scope "request service" collaborator (spec.md §6.1); either
	// may be left nil, in which case frames it would have received are
	// simply released back to the allocator.
	Handler      service.Handler
	ResponseSink service.ResponseSink
}

// DefaultConfig returns sensible defaults (spec.md §6's default table).
func DefaultConfig() Config {
	return Config{
		RingSize:            constants.DefaultRingSize,
		ReceiveBufferSize:   constants.DefaultReceiveBufferSize,
		SendBufferSize:      constants.DefaultSendBufferSize,
		ListenBacklog:       constants.DefaultListenBacklog,
		MaxFrameSize:        constants.DefaultMaxFrameSize,
		SlotsPerClass:       64,
		SchedulerBudget:     scheduler.DefaultBudget,
		CompletionBatchSize: 256,
		CPUAffinity:         -1,
	}
}

// DefaultSocketOptions builds the listener.SocketOptions RegisterAccept
// and Connect expect from this Config's socket-option fields, so callers
// don't have to restate them at every registration site.
func (c Config) DefaultSocketOptions() listener.SocketOptions {
	return listener.SocketOptions{
		ReceiveBufferSize: c.ReceiveBufferSize,
		SendBufferSize:    c.SendBufferSize,
		TCPNoDelay:        c.TCPNoDelay,
		TCPQuickAck:       c.TCPQuickAck,
		ListenBacklog:     c.ListenBacklog,
	}
}

// taskQueue is the public, cross-thread-safe run-queue spec.md §3
// describes separately from scheduler.Scheduler's single-threaded FIFO:
// any goroutine may Post a task; only the reactor thread drains it.
type taskQueue struct {
	mu    sync.Mutex
	tasks []scheduler.Task
}

func (q *taskQueue) push(t scheduler.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
}

func (q *taskQueue) drain() []scheduler.Task {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	return tasks
}

func (q *taskQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks) == 0
}

// dirtyInbox is the cross-thread-safe companion to taskQueue for channel
// IDs a producer has just marked dirty (spec.md §4.6's `enqueueDirty`).
// The reactor thread is the only reader; Enqueue/MarkDirty callers from
// any goroutine are writers.
type dirtyInbox struct {
	mu  sync.Mutex
	ids []channel.ID
}

func (b *dirtyInbox) push(id channel.ID) {
	b.mu.Lock()
	b.ids = append(b.ids, id)
	b.mu.Unlock()
}

func (b *dirtyInbox) drain() []channel.ID {
	b.mu.Lock()
	ids := b.ids
	b.ids = nil
	b.mu.Unlock()
	return ids
}

// Reactor owns one io_uring instance, one request-side frame allocator,
// and the channel/listener registries for a single thread-per-core
// worker (spec.md §1).
//
// Every field below except channels, tasks, dirtyInbox, running, and
// wake is touched only by the reactor's own OS thread once ioLoop is
// underway;
// cross-thread callers (WriteAndFlush, Post, Shutdown) only ever reach
// into the thread-safe fields.
type Reactor struct {
	config Config
	logger Logger

	ring       uring.Ring
	pump       *sq.Pump
	dispatcher *cq.Dispatcher
	sched      *scheduler.Scheduler
	wake       *wakeup.Wakeup

	alloc    *frame.Allocator
	metrics  *Metrics
	observer Observer

	channels  sync.Map // channel.ID -> *channel.Channel
	listeners map[listener.ID]*listener.Listener

	// dirtySet and inFlightWrite are owned exclusively by the reactor
	// thread. inFlightWrite exists because EndFlush clears a channel's
	// dirty flag the instant a WRITEV is armed, not when it completes —
	// a second WRITEV for the same fd must never be submitted while one
	// is already outstanding, so the reactor tracks that separately from
	// Channel.Dirty().
	dirtySet      map[channel.ID]struct{}
	inFlightWrite map[channel.ID]struct{}

	tasks      taskQueue
	dirtyInbox dirtyInbox

	nextChannelID  uint32
	nextListenerID uint32

	running       atomic.Bool
	stopRequested bool // guarded by shutdownMu; only touched during the startup/shutdown handshake
	done          chan struct{}
	wakeupBuf     [8]byte
	cancel        context.CancelFunc
	shutdownMu    sync.Mutex
}

// StartReactor creates a Reactor and runs its event loop on a dedicated,
// affinity-pinned OS thread, returning once the loop is ready to accept
// registrations (spec.md §6's startReactor).
func StartReactor(config Config) (*Reactor, error) {
	r, err := newReactor(config)
	if err != nil {
		return nil, err
	}

	startErr := make(chan error, 1)
	go r.ioLoop(startErr)
	if err := <-startErr; err != nil {
		return nil, err
	}
	return r, nil
}

func newReactor(config Config) (*Reactor, error) {
	if config.RingSize == 0 {
		config.RingSize = constants.DefaultRingSize
	}
	if config.ReceiveBufferSize == 0 {
		config.ReceiveBufferSize = constants.DefaultReceiveBufferSize
	}
	if config.MaxFrameSize == 0 {
		config.MaxFrameSize = constants.DefaultMaxFrameSize
	}
	if config.SlotsPerClass <= 0 {
		config.SlotsPerClass = 64
	}
	if config.CompletionBatchSize <= 0 {
		config.CompletionBatchSize = 256
	}

	ring, err := uring.NewRing(uring.Config{Entries: config.RingSize})
	if err != nil {
		return nil, fmt.Errorf("reactor: create ring: %w", err)
	}

	w, err := wakeup.New()
	if err != nil {
		ring.Close()
		return nil, fmt.Errorf("reactor: create wakeup: %w", err)
	}

	metrics := NewMetrics()
	var observer Observer = NoOpObserver{}
	if config.Observer != nil {
		observer = config.Observer
	} else {
		observer = NewMetricsObserver(metrics)
	}

	ctx := config.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)

	r := &Reactor{
		config:        config,
		logger:        config.Logger,
		ring:          ring,
		pump:          sq.New(ring),
		sched:         scheduler.New(config.SchedulerBudget),
		wake:          w,
		alloc:         frame.NewAllocator(config.SlotsPerClass),
		metrics:       metrics,
		observer:      observer,
		listeners:     make(map[listener.ID]*listener.Listener),
		dirtySet:      make(map[channel.ID]struct{}),
		inFlightWrite: make(map[channel.ID]struct{}),
		done:          make(chan struct{}),
		cancel:        cancel,
	}

	r.dispatcher = cq.New(ring, cq.Handlers{
		OnRead:    r.onReadComplete,
		OnWritev:  r.onWritevComplete,
		OnAccept:  r.onAcceptComplete,
		OnEventfd: r.onEventfdComplete,
	}, r.logger, config.CompletionBatchSize)

	go func() {
		<-ctx.Done()
		r.Shutdown()
	}()

	return r, nil
}

// ioLoop pins the calling goroutine to its own OS thread (spec.md §1's
// thread-per-core model), optionally sets CPU affinity, arms the
// standing wakeup-eventfd read, and runs the event loop until Shutdown.
// Grounded on the teacher's queue/runner.go ioLoop, which does the same
// LockOSThread + SchedSetaffinity dance for its own per-queue thread.
func (r *Reactor) ioLoop(started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if r.config.CPUAffinity >= 0 {
		var mask unix.CPUSet
		mask.Set(r.config.CPUAffinity)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if r.logger != nil {
				r.logger.Printf("reactor: failed to set CPU affinity to CPU %d: %v", r.config.CPUAffinity, err)
			}
		}
	}

	if err := r.pump.EventfdRead(r.wake.Fd(), r.wakeupBuf[:]); err != nil {
		started <- fmt.Errorf("reactor: arm wakeup eventfd: %w", err)
		return
	}

	r.shutdownMu.Lock()
	if !r.stopRequested {
		r.running.Store(true)
	}
	r.shutdownMu.Unlock()
	started <- nil

	r.loop()

	r.teardown()
	close(r.done)
}

// loop is the event loop body, implementing spec.md §4.1 exactly: drain
// public tasks, tick the scheduler, flush dirty channels, then consult
// the completion queue before deciding whether to submit non-blocking
// or park.
func (r *Reactor) loop() {
	for r.running.Load() {
		for _, t := range r.tasks.drain() {
			if err := t(); err != nil && r.logger != nil {
				r.logger.Printf("reactor: task error: %v", err)
			}
		}

		moreWork, err := r.sched.Tick()
		if err != nil && r.logger != nil {
			r.logger.Printf("reactor: scheduler tick error: %v", err)
		}

		r.flushDirty()

		if r.dispatcher.Drain() > 0 {
			continue
		}

		if r.config.Spin || moreWork {
			if _, err := r.pump.Submit(); err != nil && r.logger != nil {
				r.logger.Printf("reactor: submit: %v", err)
			}
			continue
		}

		r.wake.ArmNeeded()
		var minComplete uint32 = 1
		if !r.tasks.empty() {
			minComplete = 0
		}
		if _, err := r.pump.SubmitAndWait(minComplete); err != nil && !errors.Is(err, syscall.EINTR) && r.logger != nil {
			r.logger.Printf("reactor: submit-and-wait: %v", err)
		}
		r.wake.ClearNeeded()
	}
}

// flushDirty drains the cross-thread dirty inbox into the reactor-owned
// dirtySet, then issues one WRITEV per dirty channel that doesn't
// already have one in flight (spec.md §4.1 step "flush all dirty
// channels").
func (r *Reactor) flushDirty() {
	for _, id := range r.dirtyInbox.drain() {
		r.dirtySet[id] = struct{}{}
	}

	for id := range r.dirtySet {
		if _, busy := r.inFlightWrite[id]; busy {
			continue
		}
		delete(r.dirtySet, id)
		r.handleWrite(id)
	}
}

// handleWrite stages and submits one WRITEV for a channel's currently
// dirty output, if any. Grounded on spec.md §4.6's flush sequence:
// BeginFlush moves frames into the IoVector, the WRITEV is armed over
// its iovecs, and EndFlush clears dirty right after arming — not after
// completion, which is why inFlightWrite exists.
func (r *Reactor) handleWrite(id channel.ID) {
	ch, ok := r.channelByID(id)
	if !ok {
		return
	}
	if !ch.Dirty() {
		return
	}

	ch.BeginFlush()
	if ch.Vec.Len() == 0 {
		ch.EndFlush()
		return
	}

	if err := r.pump.Writev(ch.Fd, ch.Vec.Iovecs(), id); err != nil {
		if errors.Is(err, uring.ErrRingFull) {
			r.dirtySet[id] = struct{}{}
			return
		}
		r.closeChannel(id, WrapError("writev", err))
		return
	}

	r.inFlightWrite[id] = struct{}{}
	ch.EndFlush()
}

func (r *Reactor) channelByID(id channel.ID) (*channel.Channel, bool) {
	v, ok := r.channels.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*channel.Channel), true
}

// Post appends a task to the reactor's public, cross-thread run-queue
// and wakes the reactor if it is parked (spec.md §4.7).
func (r *Reactor) Post(t scheduler.Task) {
	r.tasks.push(t)
	r.signal()
}

func (r *Reactor) signal() {
	if err := r.wake.Signal(); err != nil && r.logger != nil {
		r.logger.Printf("reactor: wakeup signal: %v", err)
	}
}

// do posts fn to the reactor thread and blocks the calling goroutine
// until it has run, returning its error. Used by the registration API
// (RegisterAccept, Connect) so the channel/listener registries are only
// ever mutated from the single owning thread.
func (r *Reactor) do(fn func() error) error {
	resultCh := make(chan error, 1)
	r.Post(func() error {
		resultCh <- fn()
		return nil
	})
	return <-resultCh
}

// SetHandler installs the request handler used for every inbound frame
// across every channel this reactor owns. It exists because a handler
// that needs the reactor as its ChannelWriter (spec.md §5's echo
// handler is the canonical example) can't be built until after
// StartReactor returns; posting the assignment through do keeps
// r.config.Handler's read in onReadComplete race-free without making
// Config.Handler itself atomic.
func (r *Reactor) SetHandler(h service.Handler) error {
	return r.do(func() error {
		r.config.Handler = h
		return nil
	})
}

// SetResponseSink installs the response sink used for every batch of
// response frames a ParseInbound call produces. See SetHandler.
func (r *Reactor) SetResponseSink(s service.ResponseSink) error {
	return r.do(func() error {
		r.config.ResponseSink = s
		return nil
	})
}

// RegisterAccept binds and listens on address, keeping exactly one
// ACCEPT SQE outstanding (spec.md §6's registerAccept).
func (r *Reactor) RegisterAccept(network, address string, opts listener.SocketOptions) (listener.ID, error) {
	var id listener.ID
	err := r.do(func() error {
		var err error
		id, err = r.registerAccept(network, address, opts)
		return err
	})
	return id, err
}

func (r *Reactor) registerAccept(network, address string, opts listener.SocketOptions) (listener.ID, error) {
	sa, err := resolveSockaddr(network, address)
	if err != nil {
		return 0, err
	}

	id := listener.ID(r.nextListenerID)
	r.nextListenerID++

	l, err := listener.Listen(id, sa, opts)
	if err != nil {
		return 0, WrapError("registerAccept", err)
	}

	if err := r.armAccept(l); err != nil {
		l.Close()
		return 0, err
	}

	r.listeners[id] = l
	return id, nil
}

func (r *Reactor) armAccept(l *listener.Listener) error {
	addr, addrLen := l.AcceptMemory()
	if err := r.pump.Accept(l.Fd, addr, addrLen, l.ID); err != nil {
		if errors.Is(err, uring.ErrRingFull) {
			r.sched.Post(func() error { return r.armAccept(l) })
			return nil
		}
		return WrapError("accept", err)
	}
	return nil
}

// Connect dials address from outside the reactor thread (so the
// blocking connect(2) never stalls the event loop) and hands the
// resulting fd to the reactor to register as a channel (spec.md §6's
// connect, returning a channel future).
func (r *Reactor) Connect(network, address string, opts listener.SocketOptions) (channel.ID, error) {
	fd, err := dialRawFd(network, address)
	if err != nil {
		return 0, err
	}

	if err := listener.ApplySocketOptions(fd, opts); err != nil {
		unix.Close(fd)
		return 0, WrapError("connect", err)
	}

	var id channel.ID
	err = r.do(func() error {
		id = r.registerChannel(fd)
		return nil
	})
	if err != nil {
		unix.Close(fd)
		return 0, err
	}
	return id, nil
}

func (r *Reactor) registerChannel(fd int) channel.ID {
	id := channel.ID(r.nextChannelID)
	r.nextChannelID++

	ch := channel.New(id, fd, r.config.ReceiveBufferSize, r.config.MaxFrameSize)
	r.channels.Store(id, ch)
	r.metrics.RecordChannelOpened()

	r.armRead(ch)
	return id
}

func (r *Reactor) armRead(ch *channel.Channel) {
	if err := r.pump.Read(ch.Fd, ch.RecvBuf(), ch.ID); err != nil {
		if errors.Is(err, uring.ErrRingFull) {
			id := ch.ID
			r.sched.Post(func() error {
				if c, ok := r.channelByID(id); ok {
					r.armRead(c)
				}
				return nil
			})
			return
		}
		r.closeChannel(ch.ID, WrapError("read", err))
	}
}

// Allocate implements service.FrameAllocator, letting a request-service
// implementation (e.g. service.EchoHandler) build response frames off
// the same per-reactor allocator the reactor itself uses for inbound
// frames, without exposing the unexported alloc field directly.
func (r *Reactor) Allocate(size int) (*frame.Frame, error) {
	return r.alloc.Allocate(size)
}

// Write implements service.ChannelWriter, letting
// a request-service implementation write back to a channel it only
// knows by ID.
func (r *Reactor) Write(id channel.ID, f *frame.Frame) {
	if err := r.WriteAndFlush(id, f); err != nil && r.logger != nil {
		r.logger.Printf("reactor: write to channel %d: %v", id, err)
	}
}

// WriteAndFlush enqueues f on channel id's outbound queue and marks it
// dirty if this is the transition that requires it (spec.md §6's
// writeAndFlush / §4.6's producer snippet). It never blocks: the
// reactor thread picks the channel up on its next loop iteration.
func (r *Reactor) WriteAndFlush(id channel.ID, f *frame.Frame) error {
	ch, ok := r.channelByID(id)
	if !ok {
		return NewChannelError("writeAndFlush", uint32(id), ErrCodeProtocolViolation, "unknown channel")
	}
	if ch.Enqueue(f) {
		r.dirtyInbox.push(id)
		r.signal()
	}
	return nil
}

// Shutdown stops the event loop, closes every channel and listener, and
// tears down the ring (spec.md §6's shutdown). It blocks until teardown
// completes. Safe to call more than once.
func (r *Reactor) Shutdown() error {
	r.shutdownMu.Lock()
	r.stopRequested = true
	r.shutdownMu.Unlock()

	if r.running.Swap(false) {
		r.signal()
	}

	r.cancel()
	<-r.done
	return nil
}

// Metrics returns the reactor's running metrics snapshot.
func (r *Reactor) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

func (r *Reactor) teardown() {
	r.channels.Range(func(key, value interface{}) bool {
		ch := value.(*channel.Channel)
		r.drainOutbound(ch)
		ch.Close()
		unix.Close(ch.Fd)
		r.metrics.RecordChannelClosed()
		r.channels.Delete(key)
		return true
	})

	for id, l := range r.listeners {
		l.Close()
		delete(r.listeners, id)
	}

	r.wake.Close()
	r.ring.Close()
	r.alloc.Close()
	r.metrics.Stop()
}

// drainOutbound releases every frame still staged in a channel's
// IoVector or unflushed queue at shutdown, so the allocator balance
// spec.md §8 describes holds even on a forced close.
func (r *Reactor) drainOutbound(ch *channel.Channel) {
	for {
		moved := ch.BeginFlush()
		pending := ch.Vec.Pending()
		if pending > 0 {
			ch.Vec.Compact(pending, r.alloc.Release)
		}
		if moved == 0 {
			break
		}
	}
}

func (r *Reactor) closeChannel(id channel.ID, cause error) {
	ch, ok := r.channelByID(id)
	if !ok {
		return
	}
	r.drainOutbound(ch)
	ch.Close()
	unix.Close(ch.Fd)
	r.channels.Delete(id)
	delete(r.inFlightWrite, id)
	delete(r.dirtySet, id)
	r.metrics.RecordChannelClosed()
	if cause != nil && r.logger != nil {
		r.logger.Printf("reactor: channel %d closed: %v", id, cause)
	}
}

func resolveSockaddr(network, address string) (unix.Sockaddr, error) {
	tcpAddr, err := net.ResolveTCPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("reactor: resolve %s: %w", address, err)
	}
	if ip4 := tcpAddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], tcpAddr.IP.To16())
	return sa, nil
}

// dialRawFd dials address with the stdlib's resolver and dual-stack
// logic, then duplicates the underlying fd so the net.Conn can be
// closed without tearing down the socket the reactor is about to take
// ownership of.
func dialRawFd(network, address string) (int, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return 0, fmt.Errorf("reactor: dial %s: %w", address, err)
	}
	defer conn.Close()

	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("reactor: connection to %s exposes no raw fd", address)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0, fmt.Errorf("reactor: raw conn for %s: %w", address, err)
	}

	var fd int
	var dupErr error
	if err := raw.Control(func(fdPtr uintptr) {
		fd, dupErr = unix.Dup(int(fdPtr))
	}); err != nil {
		return 0, fmt.Errorf("reactor: dup fd for %s: %w", address, err)
	}
	if dupErr != nil {
		return 0, fmt.Errorf("reactor: dup fd for %s: %w", address, dupErr)
	}
	return fd, nil
}
