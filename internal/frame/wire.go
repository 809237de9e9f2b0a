package frame

import (
	"encoding/binary"

	"github.com/kestrelnet/reactor/internal/constants"
)

// ErrHeaderTooShort is returned by DecodeHeader when fewer than
// constants.FrameHeaderSize bytes are available.
type WireError string

func (e WireError) Error() string { return string(e) }

const (
	ErrHeaderTooShort WireError = "frame: header requires 8 bytes"
)

// EncodeHeader writes the size|flags big-endian header (spec.md §6) into
// the first 8 bytes of buf. buf must be at least constants.FrameHeaderSize
// long.
func EncodeHeader(buf []byte, size uint32, flags uint32) {
	binary.BigEndian.PutUint32(buf[0:4], size)
	binary.BigEndian.PutUint32(buf[4:8], flags)
}

// DecodeHeader reads the size|flags header out of buf.
func DecodeHeader(buf []byte) (size uint32, flags uint32, err error) {
	if len(buf) < constants.FrameHeaderSize {
		return 0, 0, ErrHeaderTooShort
	}
	size = binary.BigEndian.Uint32(buf[0:4])
	flags = binary.BigEndian.Uint32(buf[4:8])
	return size, flags, nil
}
