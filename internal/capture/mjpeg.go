package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// DefaultMaxFrameSize caps a single JPEG part.
const DefaultMaxFrameSize = 8 << 20

// maxHeaderSize bounds the bytes kept between two frames while looking for
// the part headers.
const maxHeaderSize = 4 << 10

const (
	markerPrefix = 0xFF
	markerSOI    = 0xD8
	markerEOI    = 0xD9
)

// FrameReader splits a multipart MJPEG byte stream into JPEG images.
//
// Motion precedes every part with a Content-Length header; when one is found
// the reader takes exactly that many bytes starting at the SOI marker.
// Otherwise it scans forward to the EOI marker.
type FrameReader struct {
	r        *bufio.Reader
	maxFrame int
	header   []byte
}

// NewFrameReader wraps r. maxFrame <= 0 selects DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxFrame int) *FrameReader {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameSize
	}
	return &FrameReader{
		r:        bufio.NewReaderSize(r, 32<<10),
		maxFrame: maxFrame,
		header:   make([]byte, 0, 256),
	}
}

// ReadFrame returns the next complete JPEG image. It returns io.EOF when the
// stream ends cleanly between frames.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if err := fr.seekSOI(); err != nil {
		return nil, err
	}

	if n, ok := contentLength(fr.header); ok && n >= 2 {
		if n > fr.maxFrame {
			return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit of %d", ErrDecode, n, fr.maxFrame)
		}
		frame := make([]byte, n)
		frame[0], frame[1] = markerPrefix, markerSOI
		if _, err := io.ReadFull(fr.r, frame[2:]); err != nil {
			return nil, fmt.Errorf("%w: truncated frame: %w", ErrDecode, unexpected(err))
		}
		return frame, nil
	}

	return fr.scanEOI()
}

// seekSOI discards bytes up to and including the next SOI marker, keeping
// the tail of what it skipped in fr.header.
func (fr *FrameReader) seekSOI() error {
	fr.header = fr.header[:0]
	var prev byte
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			return err
		}
		if prev == markerPrefix && b == markerSOI {
			fr.header = fr.header[:len(fr.header)-1]
			return nil
		}
		if len(fr.header) >= maxHeaderSize {
			fr.header = append(fr.header[:0], fr.header[maxHeaderSize/2:]...)
		}
		fr.header = append(fr.header, b)
		prev = b
	}
}

func (fr *FrameReader) scanEOI() ([]byte, error) {
	frame := []byte{markerPrefix, markerSOI}
	var prev byte
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: truncated frame: %w", ErrDecode, unexpected(err))
		}
		frame = append(frame, b)
		if prev == markerPrefix && b == markerEOI {
			return frame, nil
		}
		if len(frame) > fr.maxFrame {
			return nil, fmt.Errorf("%w: no end of image within %d bytes", ErrDecode, fr.maxFrame)
		}
		prev = b
	}
}

// contentLength finds the last Content-Length header in a part preamble.
func contentLength(header []byte) (int, bool) {
	h := strings.ToLower(string(header))
	i := strings.LastIndex(h, "content-length:")
	if i < 0 {
		return 0, false
	}
	v := h[i+len("content-length:"):]
	if j := strings.IndexAny(v, "\r\n"); j >= 0 {
		v = v[:j]
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}
