// Package listener implements the reactor's listening-socket side of
// spec.md §4.3.1/§4.9: bind+listen, keep exactly one ACCEPT SQE
// outstanding, and on completion turn the raw accept-memory block into a
// parsed peer address ready for a new channel.Channel.
//
// There's no teacher analog — ublk has no network listener — so this is
// built from spec.md §4.3/§4.9 and §6's socket-option table directly,
// following the rest of the package's style: plain golang.org/x/sys/unix
// syscalls, no net.Listener in the hot path (io_uring owns the accept).
package listener

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/frame"
)

// SocketOptions mirrors the socket-option subset of spec.md §6's
// reactor configuration table.
type SocketOptions struct {
	ReceiveBufferSize int
	SendBufferSize    int
	TCPNoDelay        bool
	TCPQuickAck       bool
	ListenBacklog     int
}

// Listener owns one bound, listening socket and the accept-memory block
// the single outstanding ACCEPT SQE writes the peer's address into.
type Listener struct {
	ID ID
	Fd int

	opts SocketOptions

	addr    unix.RawSockaddrAny
	addrLen uint32
}

// ID identifies a listener the same way a channel.ID identifies a
// channel — an ACCEPT completion's user-data tag carries one of these so
// the reactor knows which listener to re-arm.
type ID = frame.ChannelID

// Listen creates, binds, and starts listening on sa, applying opts.
func Listen(id ID, sa unix.Sockaddr, opts SocketOptions) (*Listener, error) {
	domain := unix.AF_INET
	if _, ok := sa.(*unix.SockaddrInet6); ok {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("listener: socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listener: SO_REUSEADDR: %w", err)
	}
	if err := applySocketOptions(fd, opts); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listener: bind: %w", err)
	}

	backlog := opts.ListenBacklog
	if backlog <= 0 {
		backlog = 10
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listener: listen: %w", err)
	}

	return &Listener{ID: id, Fd: fd, opts: opts}, nil
}

// AcceptMemory returns the pointers an ACCEPT SQE must target: the
// sockaddr_storage block the kernel writes the peer's address into, and
// the length field it updates with that address's actual size.
func (l *Listener) AcceptMemory() (*unix.RawSockaddrAny, *uint32) {
	l.addrLen = uint32(unix.SizeofSockaddrAny)
	return &l.addr, &l.addrLen
}

// ParsePeerAddress converts the kernel-filled accept-memory block from
// the most recent completion into a unix.Sockaddr, and resets the block
// so the next ACCEPT (re-armed by the caller) starts clean.
func (l *Listener) ParsePeerAddress() (unix.Sockaddr, error) {
	sa, err := anyToSockaddr(&l.addr)
	l.addr = unix.RawSockaddrAny{}
	l.addrLen = 0
	return sa, err
}

// ApplyChannelOptions applies this listener's socket options to a newly
// accepted connection fd (spec.md §6: options are "applied at accept or
// connect").
func (l *Listener) ApplyChannelOptions(fd int) error {
	return applySocketOptions(fd, l.opts)
}

// Close closes the listening socket.
func (l *Listener) Close() error { return unix.Close(l.Fd) }

// ApplySocketOptions applies opts to fd directly, for the connect side of
// spec.md §6 ("options are applied at accept or connect") where there is
// no Listener to hang ApplyChannelOptions off of.
func ApplySocketOptions(fd int, opts SocketOptions) error {
	return applySocketOptions(fd, opts)
}

func applySocketOptions(fd int, opts SocketOptions) error {
	if opts.ReceiveBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.ReceiveBufferSize); err != nil {
			return fmt.Errorf("listener: SO_RCVBUF: %w", err)
		}
	}
	if opts.SendBufferSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, opts.SendBufferSize); err != nil {
			return fmt.Errorf("listener: SO_SNDBUF: %w", err)
		}
	}
	if opts.TCPNoDelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("listener: TCP_NODELAY: %w", err)
		}
	}
	if opts.TCPQuickAck {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_QUICKACK, 1); err != nil {
			return fmt.Errorf("listener: TCP_QUICKACK: %w", err)
		}
	}
	return nil
}

// anyToSockaddr converts a filled unix.RawSockaddrAny into the concrete
// unix.Sockaddr the rest of the module works with. Only AF_INET and
// AF_INET6 are recognized; any other family is a protocol-level surprise
// worth surfacing rather than silently dropping.
func anyToSockaddr(raw *unix.RawSockaddrAny) (unix.Sockaddr, error) {
	switch raw.Addr.Family {
	case unix.AF_INET:
		rsa := (*unix.RawSockaddrInet4)(unsafe.Pointer(raw))
		portBytes := (*[2]byte)(unsafe.Pointer(&rsa.Port))
		sa := &unix.SockaddrInet4{
			Port: int(portBytes[0])<<8 + int(portBytes[1]),
			Addr: rsa.Addr,
		}
		return sa, nil
	case unix.AF_INET6:
		rsa := (*unix.RawSockaddrInet6)(unsafe.Pointer(raw))
		portBytes := (*[2]byte)(unsafe.Pointer(&rsa.Port))
		sa := &unix.SockaddrInet6{
			Port:   int(portBytes[0])<<8 + int(portBytes[1]),
			ZoneId: rsa.Scope_id,
			Addr:   rsa.Addr,
		}
		return sa, nil
	default:
		return nil, fmt.Errorf("listener: unsupported address family %d", raw.Addr.Family)
	}
}
