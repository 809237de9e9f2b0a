package channel

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/reactor/internal/frame"
)

func newTestFrame(t *testing.T, a *frame.Allocator, tag byte) *frame.Frame {
	t.Helper()
	f, err := frame.NewOutbound(a, 0, []byte{tag})
	require.NoError(t, err)
	return f
}

func TestUnflushedQueueFIFOSingleProducer(t *testing.T) {
	a := frame.NewAllocator(8)
	defer a.Close()

	q := newUnflushedQueue()
	require.True(t, q.Empty())

	for i := byte(0); i < 5; i++ {
		q.Push(newTestFrame(t, a, i))
	}
	require.False(t, q.Empty())

	for i := byte(0); i < 5; i++ {
		f := q.Pop()
		require.NotNil(t, f)
		require.Equal(t, i, f.Payload()[0])
	}
	require.Nil(t, q.Pop())
	require.True(t, q.Empty())
}

func TestUnflushedQueueConcurrentProducers(t *testing.T) {
	a := frame.NewParallel(300)
	defer a.Close()

	q := newUnflushedQueue()
	const producers = 8
	const perProducer = 30

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				f, err := frame.NewOutbound(a, 0, []byte{byte(p)})
				require.NoError(t, err)
				q.Push(f)
			}
		}(p)
	}
	wg.Wait()

	got := make([]int, 0, producers*perProducer)
	for {
		f := q.Pop()
		if f == nil {
			if q.Empty() {
				break
			}
			continue
		}
		got = append(got, int(f.Payload()[0]))
	}

	require.Len(t, got, producers*perProducer)
	counts := make(map[int]int)
	for _, v := range got {
		counts[v]++
	}
	keys := make([]int, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	require.Len(t, keys, producers)
	for _, k := range keys {
		require.Equal(t, perProducer, counts[k])
	}
}
