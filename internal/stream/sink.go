package stream

import (
	"bytes"
	"io"
	"sync"
	"sync/atomic"
)

// DefaultSinkBuffer bounds how many unread bytes a single consumer may hold.
const DefaultSinkBuffer = 4 << 20

// Sink is a buffered point-to-point byte channel between a broadcaster and
// one consumer. The broadcaster writes and eventually calls CloseWrite; the
// consumer reads until io.EOF and calls Close when it is done.
//
// Writes never block: a write that would grow the buffer past its limit is
// rejected with ErrSinkOverflow so one slow consumer cannot stall the others.
// An overflowed sink is failed for good. Later writes are rejected too and,
// once the bytes buffered before the gap are drained, Read returns
// ErrSinkOverflow instead of handing out a stream with a hole in it.
type Sink struct {
	id    string
	limit int

	mu          sync.Mutex
	cond        *sync.Cond
	buf         bytes.Buffer
	writeClosed bool
	readClosed  bool
	overflowed  bool

	written atomic.Uint64
	dropped atomic.Uint64
}

func newSink(id string, limit int) *Sink {
	s := &Sink{id: id, limit: limit}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// ID returns the consumer ID the sink is registered under.
func (s *Sink) ID() string {
	return s.id
}

// Write appends p to the sink buffer.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readClosed || s.writeClosed {
		return 0, ErrSinkClosed
	}
	if s.overflowed {
		s.dropped.Add(uint64(len(p)))
		return 0, ErrSinkOverflow
	}
	if s.limit > 0 && s.buf.Len()+len(p) > s.limit {
		s.overflowed = true
		s.dropped.Add(uint64(len(p)))
		s.cond.Broadcast()
		return 0, ErrSinkOverflow
	}

	n, _ := s.buf.Write(p)
	s.written.Add(uint64(n))
	s.cond.Broadcast()
	return n, nil
}

// Read blocks until data is buffered or the producer end is closed.
// Once the buffer is drained it returns ErrSinkOverflow if a write was ever
// dropped, and io.EOF if the producer end is closed.
func (s *Sink) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.buf.Len() == 0 && !s.writeClosed && !s.readClosed && !s.overflowed {
		s.cond.Wait()
	}
	if s.readClosed {
		return 0, ErrSinkClosed
	}
	if s.buf.Len() == 0 {
		if s.overflowed {
			return 0, ErrSinkOverflow
		}
		return 0, io.EOF
	}
	return s.buf.Read(p)
}

// CloseWrite closes the producer end. Buffered bytes stay readable.
func (s *Sink) CloseWrite() error {
	s.mu.Lock()
	s.writeClosed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Close closes the consumer end and discards anything still buffered.
// Blocked readers return ErrSinkClosed and later writes fail.
func (s *Sink) Close() error {
	s.mu.Lock()
	s.readClosed = true
	s.buf.Reset()
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Overflowed reports whether a write was ever dropped.
func (s *Sink) Overflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflowed
}

// Buffered returns the number of unread bytes.
func (s *Sink) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// SinkStats is a point-in-time view of one sink.
type SinkStats struct {
	ID       string `json:"id"`
	Written  uint64 `json:"bytes_written"`
	Dropped  uint64 `json:"bytes_dropped"`
	Buffered int    `json:"bytes_buffered"`
}

// Stats returns the sink counters.
func (s *Sink) Stats() SinkStats {
	return SinkStats{
		ID:       s.id,
		Written:  s.written.Load(),
		Dropped:  s.dropped.Load(),
		Buffered: s.Buffered(),
	}
}
