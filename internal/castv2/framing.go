package castv2

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// maxFrameSize is the largest frame length a peer may declare. Anything
// bigger is treated as a protocol violation and the connection is destroyed.
const maxFrameSize = 1 << 20

// ErrFrameTooLarge is returned when a declared frame length exceeds
// maxFrameSize. The connection must be closed; the stream cannot recover.
var ErrFrameTooLarge = errors.New("castv2: frame exceeds 1 MiB limit")

// EncodeFrame serializes m and prepends the 4-byte big-endian length.
// The result is a single contiguous buffer of exactly 4+len(message) bytes.
func EncodeFrame(m *Message) ([]byte, error) {
	size := m.size()
	if size > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	buf := make([]byte, 4, 4+size)
	binary.BigEndian.PutUint32(buf[:4], uint32(size))
	return m.appendTo(buf), nil
}

// Decoder turns an arbitrarily chunked byte stream back into messages.
// It keeps a rolling receive buffer with a read offset; only the unread
// tail survives between Feed calls. The framing layer is independent of
// the content layer: a frame whose protobuf body fails to decode is
// skipped without desynchronizing the stream.
type Decoder struct {
	buf []byte
	off int
}

// Feed appends chunk to the receive buffer and returns every complete,
// well-formed message now available, in stream order. It returns
// ErrFrameTooLarge when a declared length exceeds the limit; the caller
// must destroy the connection.
func (d *Decoder) Feed(chunk []byte) ([]*Message, error) {
	d.buf = append(d.buf, chunk...)

	var msgs []*Message
	for len(d.buf)-d.off >= 4 {
		length := int(binary.BigEndian.Uint32(d.buf[d.off : d.off+4]))
		if length > maxFrameSize {
			return msgs, fmt.Errorf("%w (declared %d)", ErrFrameTooLarge, length)
		}
		if len(d.buf)-d.off-4 < length {
			break
		}
		frame := d.buf[d.off+4 : d.off+4+length]
		d.off += 4 + length

		m, err := unmarshalMessage(frame)
		if err != nil {
			// Valid frame, bad protobuf: drop it and keep parsing.
			continue
		}
		msgs = append(msgs, m)
	}

	// Compact so only the unread tail is retained.
	if d.off > 0 {
		remaining := len(d.buf) - d.off
		if remaining == 0 {
			d.buf = d.buf[:0]
		} else {
			copy(d.buf, d.buf[d.off:])
			d.buf = d.buf[:remaining]
		}
		d.off = 0
	}

	return msgs, nil
}
