package frame

import "github.com/kestrelnet/reactor/internal/constants"

// NewOutbound allocates a frame from alloc sized to carry payload, writes
// its header and body, and rewinds it so it is ready to be staged into
// an IoVector for writing. alloc may be an *Allocator or a *Parallel.
func NewOutbound(alloc interface {
	Allocate(size int) (*Frame, error)
}, flags uint32, payload []byte) (*Frame, error) {
	total := constants.FrameHeaderSize + len(payload)
	f, err := alloc.Allocate(total)
	if err != nil {
		return nil, err
	}
	f.InitHeader(uint32(total), flags)
	if _, err := f.WriteAt(payload); err != nil {
		return nil, err
	}
	f.Rewind()
	return f, nil
}
