package rtc

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// ErrPipeOverflow is reported when inbound data arrives faster than the
// receive loop consumes it and the inbound pipe is full.
var ErrPipeOverflow = errors.New("inbound pipe overflow")

// Pipe is a bounded in-memory byte stream with a single reader and a single
// writer. It bridges the data channel's message callbacks and the blocking
// io.Reader / io.Writer the frame loops expect.
type Pipe struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	limit  int
	closed bool
	err    error

	readable chan struct{} // raised when bytes are added
	writable chan struct{} // raised when bytes are consumed
	done     chan struct{}
}

// NewPipe creates a pipe holding at most limit bytes.
func NewPipe(limit int) *Pipe {
	return &Pipe{
		limit:    limit,
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func raise(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Read blocks until at least one byte is buffered or the pipe is closed.
// Buffered bytes are still returned after Close; then Read returns the close
// error.
func (p *Pipe) Read(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			raise(p.writable)
			return n, nil
		}
		if p.closed {
			err := p.err
			p.mu.Unlock()
			return 0, err
		}
		p.mu.Unlock()

		select {
		case <-p.readable:
		case <-p.done:
		}
	}
}

// Write blocks while the pipe is full and returns once all of b is buffered
// or the pipe closes.
func (p *Pipe) Write(b []byte) (int, error) {
	written := 0
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return written, io.ErrClosedPipe
		}
		if space := p.limit - p.buf.Len(); space > 0 {
			n := min(space, len(b)-written)
			p.buf.Write(b[written : written+n])
			written += n
		}
		p.mu.Unlock()

		if written > 0 {
			raise(p.readable)
		}
		if written == len(b) {
			return written, nil
		}

		select {
		case <-p.writable:
		case <-p.done:
		}
	}
}

// Offer appends b without blocking. It fails with ErrPipeOverflow if b does
// not fit, leaving the pipe unchanged.
func (p *Pipe) Offer(b []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return io.ErrClosedPipe
	}
	if p.buf.Len()+len(b) > p.limit {
		p.mu.Unlock()
		return ErrPipeOverflow
	}
	p.buf.Write(b)
	p.mu.Unlock()

	raise(p.readable)
	return nil
}

// Drain removes and returns up to maxBytes buffered bytes without blocking. It
// returns nil when the pipe is empty.
func (p *Pipe) Drain(maxBytes int) []byte {
	p.mu.Lock()
	n := min(p.buf.Len(), maxBytes)
	if n == 0 {
		p.mu.Unlock()
		return nil
	}
	out := make([]byte, n)
	p.buf.Read(out)
	p.mu.Unlock()

	raise(p.writable)
	return out
}

// Readable is raised whenever bytes are added. Pair it with Drain.
func (p *Pipe) Readable() <-chan struct{} { return p.readable }

// Len returns the number of buffered bytes.
func (p *Pipe) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.Len()
}

// CloseWithError closes the pipe. Readers get err (io.EOF if nil) once the
// buffer is empty; writers get io.ErrClosedPipe. Only the first call counts.
func (p *Pipe) CloseWithError(err error) {
	if err == nil {
		err = io.EOF
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.err = err
	close(p.done)
}

// Close closes the pipe with io.EOF.
func (p *Pipe) Close() error {
	p.CloseWithError(nil)
	return nil
}
