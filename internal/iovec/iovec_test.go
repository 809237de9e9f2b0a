package iovec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/reactor/internal/constants"
	"github.com/kestrelnet/reactor/internal/frame"
)

type sliceQueue struct {
	frames []*frame.Frame
}

func (q *sliceQueue) Pop() *frame.Frame {
	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	q.frames = q.frames[1:]
	return f
}

func newOutbound(t *testing.T, a *frame.Allocator, payload string) *frame.Frame {
	t.Helper()
	f, err := frame.NewOutbound(a, 0, []byte(payload))
	require.NoError(t, err)
	return f
}

func TestIoVectorFillStopsAtQueueEmpty(t *testing.T) {
	a := frame.NewAllocator(4)
	defer a.Close()

	q := &sliceQueue{frames: []*frame.Frame{
		newOutbound(t, a, "one"),
		newOutbound(t, a, "two"),
	}}

	var v IoVector
	moved := v.Fill(q)
	require.Equal(t, 2, moved)
	require.Equal(t, 2, v.Len())
	require.Equal(t, (8+3)+(8+3), v.Pending())
}

func TestIoVectorFillRespectsIovMax(t *testing.T) {
	a := frame.NewAllocator(constants.IovMax + 8)
	defer a.Close()

	frames := make([]*frame.Frame, constants.IovMax+5)
	for i := range frames {
		frames[i] = newOutbound(t, a, "x")
	}
	q := &sliceQueue{frames: frames}

	var v IoVector
	moved := v.Fill(q)
	require.Equal(t, constants.IovMax, moved)
	require.True(t, v.Full())
	require.Equal(t, 5, len(q.frames))
}

func TestIoVectorCompactFullConsumption(t *testing.T) {
	a := frame.NewAllocator(4)
	defer a.Close()

	f1 := newOutbound(t, a, "aaa")
	f2 := newOutbound(t, a, "bbbb")
	q := &sliceQueue{frames: []*frame.Frame{f1, f2}}

	var v IoVector
	v.Fill(q)
	total := v.Pending()

	var released []*frame.Frame
	v.Compact(total, func(f *frame.Frame) { released = append(released, f) })

	require.Equal(t, 0, v.Len())
	require.Equal(t, 0, v.Pending())
	require.Len(t, released, 2)
}

func TestIoVectorCompactPartialWrite(t *testing.T) {
	a := frame.NewAllocator(4)
	defer a.Close()

	f1 := newOutbound(t, a, "aaa") // 11 bytes total (8 header + 3 payload)
	f2 := newOutbound(t, a, "bbbb") // 12 bytes total
	q := &sliceQueue{frames: []*frame.Frame{f1, f2}}

	var v IoVector
	v.Fill(q)
	require.Equal(t, 23, v.Pending())

	// Write only the first frame plus 2 bytes into the second.
	written := 11 + 2
	var released []*frame.Frame
	v.Compact(written, func(f *frame.Frame) { released = append(released, f) })

	require.Len(t, released, 1)
	require.Same(t, f1, released[0])
	require.Equal(t, 1, v.Len())
	require.Equal(t, 23-written, v.Pending())
	require.Equal(t, 2, f2.Position())
}

func TestIoVectorCompactThenRefill(t *testing.T) {
	a := frame.NewAllocator(4)
	defer a.Close()

	f1 := newOutbound(t, a, "aaa")
	f2 := newOutbound(t, a, "bbbb")
	q := &sliceQueue{frames: []*frame.Frame{f1, f2}}

	var v IoVector
	v.Fill(q)

	v.Compact(11, func(f *frame.Frame) { a.Release(f) })
	require.Equal(t, 1, v.Len())

	f3 := newOutbound(t, a, "c")
	q2 := &sliceQueue{frames: []*frame.Frame{f3}}
	moved := v.Fill(q2)
	require.Equal(t, 1, moved)
	require.Equal(t, 2, v.Len())
}

func TestIoVectorBackpressureWhenFull(t *testing.T) {
	a := frame.NewAllocator(constants.IovMax + 2)
	defer a.Close()

	frames := make([]*frame.Frame, constants.IovMax)
	for i := range frames {
		frames[i] = newOutbound(t, a, "x")
	}
	q := &sliceQueue{frames: frames}

	var v IoVector
	v.Fill(q)
	require.True(t, v.Full())

	extra := newOutbound(t, a, "overflow")
	q2 := &sliceQueue{frames: []*frame.Frame{extra}}
	moved := v.Fill(q2)
	require.Equal(t, 0, moved)
	require.Equal(t, 1, len(q2.frames))
}
