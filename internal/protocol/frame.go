package protocol

import (
	"encoding/binary"
	"fmt"
)

// FrameBuffer reassembles frames from a byte stream that arrives in
// arbitrary chunks, as produced by non-blocking socket reads.
type FrameBuffer struct {
	buf []byte
}

// Feed appends freshly received bytes.
func (f *FrameBuffer) Feed(data []byte) {
	f.buf = append(f.buf, data...)
}

// Next returns the next complete frame, or ok=false when more bytes are
// needed. An error means the stream is corrupt and cannot be resynchronized.
func (f *FrameBuffer) Next() (frame []byte, ok bool, err error) {
	if len(f.buf) < LengthPrefixSize {
		return nil, false, nil
	}

	length := int(binary.BigEndian.Uint16(f.buf[:LengthPrefixSize]))
	if length <= LengthPrefixSize {
		return nil, false, fmt.Errorf("invalid frame length %d", length)
	}
	if len(f.buf) < length {
		return nil, false, nil
	}

	frame = make([]byte, length)
	copy(frame, f.buf[:length])
	f.buf = f.buf[length:]
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return frame, true, nil
}

// Buffered returns the number of bytes waiting for a complete frame.
func (f *FrameBuffer) Buffered() int {
	return len(f.buf)
}

// Reset drops any partially received frame.
func (f *FrameBuffer) Reset() {
	f.buf = nil
}
