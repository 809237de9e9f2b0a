package sq

import (
	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/frame"
	"github.com/kestrelnet/reactor/internal/uring"
)

// Pump is a thin wrapper over a uring.Ring that prepares SQEs with
// correctly-encoded user-data tags, so the rest of the reactor never
// constructs a tag by hand.
type Pump struct {
	ring uring.Ring
}

// New wraps ring in a Pump.
func New(ring uring.Ring) *Pump {
	return &Pump{ring: ring}
}

// Read arms one READ on a channel's fd into buf (spec.md §4.3.2).
func (p *Pump) Read(fd int, buf []byte, channelID frame.ChannelID) error {
	return p.ring.PrepareRead(fd, buf, Encode(OpRead, channelID))
}

// Writev arms one WRITEV on a channel's fd over iovecs (spec.md §4.3.3).
func (p *Pump) Writev(fd int, iovecs []unix.Iovec, channelID frame.ChannelID) error {
	return p.ring.PrepareWritev(fd, iovecs, Encode(OpWritev, channelID))
}

// Accept arms one ACCEPT on a listening fd (spec.md §4.3.1). addr/addrLen
// receive the peer's sockaddr_storage and its length on completion.
func (p *Pump) Accept(fd int, addr *unix.RawSockaddrAny, addrLen *uint32, listenerID frame.ChannelID) error {
	return p.ring.PrepareAccept(fd, addr, addrLen, Encode(OpAccept, listenerID))
}

// EventfdRead arms the single standing wakeup-eventfd READ (spec.md
// §4.3.4). Exactly one must be in flight at all times.
func (p *Pump) EventfdRead(fd int, buf []byte) error {
	return p.ring.PrepareEventfdRead(fd, buf, Encode(OpEventfd, 0))
}

// Submit flushes prepared SQEs without blocking.
func (p *Pump) Submit() (uint32, error) {
	return p.ring.Submit()
}

// SubmitAndWait flushes prepared SQEs and blocks for at least minComplete
// completions.
func (p *Pump) SubmitAndWait(minComplete uint32) (uint32, error) {
	return p.ring.SubmitAndWait(minComplete)
}
