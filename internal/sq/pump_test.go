package sq

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/frame"
	"github.com/kestrelnet/reactor/internal/uring"
)

// fakeRing records the most recent Prepare* call's arguments instead of
// talking to a real kernel ring, so the pump's tag-encoding can be
// verified without a Linux io_uring.
type fakeRing struct {
	lastFd       int
	lastUserData uint64
	lastIovecs   []unix.Iovec
	submitted    int
	waited       uint32
}

func (f *fakeRing) Close() error { return nil }

func (f *fakeRing) PrepareRead(fd int, buf []byte, userData uint64) error {
	f.lastFd, f.lastUserData = fd, userData
	return nil
}

func (f *fakeRing) PrepareWritev(fd int, iovecs []unix.Iovec, userData uint64) error {
	f.lastFd, f.lastUserData, f.lastIovecs = fd, userData, iovecs
	return nil
}

func (f *fakeRing) PrepareAccept(fd int, addr *unix.RawSockaddrAny, addrLen *uint32, userData uint64) error {
	f.lastFd, f.lastUserData = fd, userData
	return nil
}

func (f *fakeRing) PrepareEventfdRead(fd int, buf []byte, userData uint64) error {
	f.lastFd, f.lastUserData = fd, userData
	return nil
}

func (f *fakeRing) Submit() (uint32, error) {
	f.submitted++
	return 1, nil
}

func (f *fakeRing) SubmitAndWait(minComplete uint32) (uint32, error) {
	f.waited = minComplete
	return 1, nil
}

func (f *fakeRing) PeekCompletions(dst []uring.Completion) int { return 0 }

func TestPumpReadEncodesOpAndChannel(t *testing.T) {
	ring := &fakeRing{}
	p := New(ring)

	require.NoError(t, p.Read(7, make([]byte, 16), frame.ChannelID(99)))
	require.Equal(t, 7, ring.lastFd)
	op, id := Decode(ring.lastUserData)
	require.Equal(t, OpRead, op)
	require.Equal(t, frame.ChannelID(99), id)
}

func TestPumpWritevEncodesOpAndChannel(t *testing.T) {
	ring := &fakeRing{}
	p := New(ring)

	iovecs := []unix.Iovec{{}}
	require.NoError(t, p.Writev(3, iovecs, frame.ChannelID(5)))
	require.Same(t, &iovecs[0], &ring.lastIovecs[0])
	op, id := Decode(ring.lastUserData)
	require.Equal(t, OpWritev, op)
	require.Equal(t, frame.ChannelID(5), id)
}

func TestPumpAcceptEncodesListenerID(t *testing.T) {
	ring := &fakeRing{}
	p := New(ring)

	var addr unix.RawSockaddrAny
	var addrLen uint32
	require.NoError(t, p.Accept(4, &addr, &addrLen, frame.ChannelID(1)))
	op, id := Decode(ring.lastUserData)
	require.Equal(t, OpAccept, op)
	require.Equal(t, frame.ChannelID(1), id)
}

func TestPumpEventfdReadEncodesZeroChannel(t *testing.T) {
	ring := &fakeRing{}
	p := New(ring)

	require.NoError(t, p.EventfdRead(9, make([]byte, 8)))
	op, id := Decode(ring.lastUserData)
	require.Equal(t, OpEventfd, op)
	require.Equal(t, frame.ChannelID(0), id)
}

func TestPumpSubmitAndSubmitAndWaitDelegate(t *testing.T) {
	ring := &fakeRing{}
	p := New(ring)

	n, err := p.Submit()
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
	require.Equal(t, 1, ring.submitted)

	n, err = p.SubmitAndWait(3)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)
	require.Equal(t, uint32(3), ring.waited)
}
