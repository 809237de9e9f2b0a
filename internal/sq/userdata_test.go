package sq

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/reactor/internal/frame"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		op Op
		id frame.ChannelID
	}{
		{OpRead, 0},
		{OpWritev, 1},
		{OpAccept, 42},
		{OpEventfd, 0},
		{OpRead, 0xFFFFFFFF},
	}
	for _, c := range cases {
		tag := Encode(c.op, c.id)
		gotOp, gotID := Decode(tag)
		require.Equal(t, c.op, gotOp)
		require.Equal(t, c.id, gotID)
	}
}

func TestOpcodesDoNotCollide(t *testing.T) {
	seen := map[Op]bool{}
	for _, op := range []Op{OpRead, OpWritev, OpAccept, OpEventfd} {
		require.False(t, seen[op], "duplicate opcode value %d", op)
		seen[op] = true
		tag := Encode(op, 7)
		gotOp, gotID := Decode(tag)
		require.Equal(t, op, gotOp)
		require.Equal(t, frame.ChannelID(7), gotID)
	}
}
