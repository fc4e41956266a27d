// Package frame implements the wire framing for rpcmux: a stream of
// messages, each a 4-byte big-endian length prefix followed by that many
// payload bytes. It solves TCP's sticky-packet problem the same way the
// teacher's 14-byte protocol header did, minus the magic/version/codec-type
// fields this wire format does not need.
//
// Frame format:
//
//	0         4                 4+N
//	┌─────────┬──────────────────┐
//	│ len u32 │   payload (N)    │
//	└─────────┴──────────────────┘
package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderSize is the length of the length-prefix header, in bytes.
	HeaderSize = 4

	// MaxMessageSize bounds a single frame's payload. A header announcing a
	// larger length fails the session immediately, before any payload bytes
	// are read.
	MaxMessageSize = 10 * 1024 * 1024

	// MaxBufferSize bounds the reader's internal accumulation buffer. This
	// is larger than MaxMessageSize because the buffer may transiently hold
	// the tail of one frame plus the head of the next.
	MaxBufferSize = 16 * 1024 * 1024
)

// ErrInvalidLength is returned when a frame header announces a length
// greater than MaxMessageSize, or the reader's buffer would have to grow
// past MaxBufferSize to satisfy it.
var ErrInvalidLength = errors.New("frame: invalid length")

// ErrIncompleteMessage is returned when the stream ends with a partial
// frame buffered (header read but body short, or header itself short).
var ErrIncompleteMessage = errors.New("frame: incomplete message at eof")

// Reader decodes a stream of frames. It owns an append-only byte buffer and
// is not safe for concurrent use by multiple goroutines — a session has
// exactly one reader, read sequentially.
type Reader struct {
	r   io.Reader
	buf []byte
}

// NewReader wraps r as a frame-decoding stream.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next frame's payload, or io.EOF at a clean end of
// stream (empty internal buffer). A non-empty buffer at end of stream is
// reported as ErrIncompleteMessage, not io.EOF, since it means the peer
// stopped mid-frame.
func (fr *Reader) Next() ([]byte, error) {
	chunk := make([]byte, 32*1024)
	for {
		if payload, ok, err := fr.tryExtract(); err != nil {
			return nil, err
		} else if ok {
			return payload, nil
		}

		n, err := fr.r.Read(chunk)
		if n > 0 {
			fr.buf = append(fr.buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				if len(fr.buf) == 0 {
					return nil, io.EOF
				}
				return nil, ErrIncompleteMessage
			}
			return nil, err
		}
	}
}

// tryExtract attempts to slice one complete frame out of the buffer without
// blocking on the stream. ok is false when more bytes are needed.
func (fr *Reader) tryExtract() (payload []byte, ok bool, err error) {
	if len(fr.buf) > MaxBufferSize {
		return nil, false, ErrInvalidLength
	}
	if len(fr.buf) < HeaderSize {
		return nil, false, nil
	}

	n := binary.BigEndian.Uint32(fr.buf[:HeaderSize])
	if n > MaxMessageSize {
		return nil, false, ErrInvalidLength
	}

	total := HeaderSize + int(n)
	if len(fr.buf) < total {
		return nil, false, nil
	}

	payload = make([]byte, n)
	copy(payload, fr.buf[HeaderSize:total])

	remaining := len(fr.buf) - total
	copy(fr.buf, fr.buf[total:])
	fr.buf = fr.buf[:remaining]

	return payload, true, nil
}

// Writer frames and writes payloads to an underlying io.Writer. One frame
// is emitted per Write call, as a single underlying write.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w as a frame-encoding stream.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write frames payload ([4-byte length][payload]) and writes it in one call.
func (fw *Writer) Write(payload []byte) error {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf[:HeaderSize], uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	_, err := fw.w.Write(buf)
	return err
}
