// Package slip implements the byte-stuffed frame codec used to carry DFU
// request/response messages over the serial link. Framing is SLIP-like
// (END=0xC0, ESC=0xDB) with one device-specific quirk: every inbound frame
// is preceded by a 0x60 sentinel that the decoder strips but never re-adds
// on write.
package slip

import (
	"bufio"
	"fmt"
	"io"
)

const (
	end      byte = 0xC0
	esc      byte = 0xDB
	escEnd   byte = 0xDC
	escEsc   byte = 0xDD
	startTag byte = 0x60
)

// FramingError reports malformed SLIP framing, such as an unexpected
// leading byte.
type FramingError struct {
	Got byte
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("slip: expected frame start 0x%02x, got 0x%02x", startTag, e.Got)
}

// Encode byte-stuffs buf and appends the terminating END byte, writing the
// result to w and then flushing w if it has a Flush() error method. It
// returns the number of bytes written.
// Encode never adds the leading 0x60 sentinel; only decoded frames carry it.
func Encode(w io.Writer, buf []byte) (int, error) {
	frame := make([]byte, 0, len(buf)+2)
	for _, b := range buf {
		switch b {
		case end:
			frame = append(frame, esc, escEnd)
		case esc:
			frame = append(frame, esc, escEsc)
		default:
			frame = append(frame, b)
		}
	}
	frame = append(frame, end)

	n, err := w.Write(frame)
	if err != nil {
		return n, fmt.Errorf("slip: write frame: %w", err)
	}
	if f, ok := w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return n, fmt.Errorf("slip: flush: %w", err)
		}
	}
	return n, nil
}

// Decode reads one complete frame from r and returns its unescaped payload.
// It blocks until a full frame arrives. The first byte of every frame must
// be 0x60, or Decode returns a *FramingError. Decode is stateless between
// calls: nothing survives failure but the error itself, so r should not be
// reused after a FramingError without resynchronizing upstream.
func Decode(r io.Reader) ([]byte, error) {
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}

	b, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("slip: read start byte: %w", err)
	}
	if b != startTag {
		return nil, &FramingError{Got: b}
	}

	data := []byte{}
	for {
		b, err := br.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("slip: read frame byte: %w", err)
		}
		switch b {
		case esc:
			next, err := br.ReadByte()
			if err != nil {
				return nil, fmt.Errorf("slip: read escape byte: %w", err)
			}
			switch next {
			case escEnd:
				data = append(data, end)
			case escEsc:
				data = append(data, esc)
			default:
				// Malformed escape sequence: source behavior drops it silently.
			}
		case end:
			return data, nil
		default:
			data = append(data, b)
		}
	}
}
