package wakeup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignalIsNoopUnlessNeeded(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	require.False(t, w.Needed())
	require.NoError(t, w.Signal())

	n, err := w.Drain()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestArmSignalDrainRoundTrip(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	w.ArmNeeded()
	require.True(t, w.Needed())

	require.NoError(t, w.Signal())
	require.False(t, w.Needed(), "Signal's CAS must clear wakeupNeeded")

	n, err := w.Drain()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestSignalAtMostOncePerArmedWindow(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	w.ArmNeeded()
	require.NoError(t, w.Signal())
	require.NoError(t, w.Signal()) // already cleared; must not double-write

	n, err := w.Drain()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)
}

func TestClearNeededWithoutSignal(t *testing.T) {
	w, err := New()
	require.NoError(t, err)
	defer w.Close()

	w.ArmNeeded()
	w.ClearNeeded()
	require.False(t, w.Needed())

	n, err := w.Drain()
	require.NoError(t, err)
	require.Zero(t, n, "clearing without a Signal must not have written the eventfd")
}
