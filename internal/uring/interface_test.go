//go:build !giouring

package uring

import (
	"net"
	"runtime"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/kestrelnet/reactor/internal/wakeup"
)

// iovecFor builds a single unix.Iovec spanning buf, for tests that only
// need one gather-write segment.
func iovecFor(buf []byte) []unix.Iovec {
	iov := unix.Iovec{}
	iov.SetLen(len(buf))
	if len(buf) > 0 {
		iov.Base = &buf[0]
	}
	return []unix.Iovec{iov}
}

// skipIfUnsupported skips a test when io_uring isn't available, matching
// the kernel-probe style the pack's io_uring wrapper tests use.
func skipIfUnsupported(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("io_uring is only supported on Linux")
	}
	ring, err := NewRing(Config{Entries: 8})
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	ring.Close()
}

func getFd(t *testing.T, conn net.Conn) int {
	t.Helper()
	sc, err := conn.(syscall.Conn).SyscallConn()
	require.NoError(t, err)
	var fd int
	require.NoError(t, sc.Control(func(f uintptr) { fd = int(f) }))
	return fd
}

func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, _ := ln.Accept()
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server := <-accepted
	require.NotNil(t, server)
	return client, server
}

func TestNewRingAndClose(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewRing(Config{Entries: 32})
	require.NoError(t, err)
	require.NoError(t, ring.Close())
}

func TestPrepareReadAndWritevRoundTrip(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewRing(Config{Entries: 16})
	require.NoError(t, err)
	defer ring.Close()

	client, server := socketPair(t)
	defer client.Close()
	defer server.Close()

	serverFd := getFd(t, server)
	clientFd := getFd(t, client)

	payload := []byte("hello reactor")
	require.NoError(t, ring.PrepareWritev(clientFd, iovecFor(payload), 0xAAAA))

	buf := make([]byte, len(payload))
	require.NoError(t, ring.PrepareRead(serverFd, buf, 0xBBBB))

	_, err = ring.SubmitAndWait(2)
	require.NoError(t, err)

	completions := make([]Completion, 4)
	var n int
	for n < 2 {
		got := ring.PeekCompletions(completions[n:])
		n += got
		if got == 0 {
			_, err = ring.SubmitAndWait(1)
			require.NoError(t, err)
		}
	}

	byUser := map[uint64]Completion{}
	for _, c := range completions[:n] {
		byUser[c.UserData] = c
	}
	require.Contains(t, byUser, uint64(0xAAAA))
	require.Contains(t, byUser, uint64(0xBBBB))
	require.EqualValues(t, len(payload), byUser[0xBBBB].Res)
	require.Equal(t, payload, buf)
}

func TestPrepareEventfdReadCompletesOnSignal(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewRing(Config{Entries: 8})
	require.NoError(t, err)
	defer ring.Close()

	w, err := wakeup.New()
	require.NoError(t, err)
	defer w.Close()

	buf := make([]byte, 8)
	require.NoError(t, ring.PrepareEventfdRead(w.Fd(), buf, 0xC0FFEE))
	_, err = ring.Submit()
	require.NoError(t, err)

	w.ArmNeeded()
	require.NoError(t, w.Signal())

	completions := make([]Completion, 1)
	var n int
	for n == 0 {
		n = ring.PeekCompletions(completions)
		if n == 0 {
			_, err = ring.SubmitAndWait(1)
			require.NoError(t, err)
		}
	}
	require.Equal(t, uint64(0xC0FFEE), completions[0].UserData)
}

func TestRingFullOnExhaustedEntries(t *testing.T) {
	skipIfUnsupported(t)

	ring, err := NewRing(Config{Entries: 1})
	require.NoError(t, err)
	defer ring.Close()

	client, server := socketPair(t)
	defer client.Close()
	defer server.Close()
	fd := getFd(t, server)

	buf := make([]byte, 8)
	require.NoError(t, ring.PrepareRead(fd, buf, 1))
	err = ring.PrepareRead(fd, buf, 2)
	require.ErrorIs(t, err, ErrRingFull)

	_, err = ring.Submit()
	require.NoError(t, err)
}
