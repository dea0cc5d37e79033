package stream

import (
	"io"
	"sync"
)

// Pipe returns two connected in-memory stream halves. Unlike net.Pipe the
// halves are buffered, so a writer never blocks waiting for the reader; that
// matches a serial FIFO and keeps single-goroutine tests deadlock free.
func Pipe() (*PipeConn, *PipeConn) {
	a2b := newPipeBuf()
	b2a := newPipeBuf()
	a := &PipeConn{rd: b2a, wr: a2b}
	b := &PipeConn{rd: a2b, wr: b2a}
	return a, b
}

type PipeConn struct {
	rd *pipeBuf
	wr *pipeBuf
}

func (c *PipeConn) Read(p []byte) (int, error)  { return c.rd.read(p) }
func (c *PipeConn) Write(p []byte) (int, error) { return c.wr.write(p) }

// Close tears down both directions; the peer observes EOF once it drains
// what was already written.
func (c *PipeConn) Close() error {
	c.rd.close()
	c.wr.close()
	return nil
}

type pipeBuf struct {
	mu     sync.Mutex
	cond   *sync.Cond
	data   []byte
	closed bool
}

func newPipeBuf() *pipeBuf {
	b := &pipeBuf{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pipeBuf) read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = b.data[n:]
	return n, nil
}

func (b *pipeBuf) write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, io.ErrClosedPipe
	}
	b.data = append(b.data, p...)
	b.cond.Broadcast()
	return len(p), nil
}

func (b *pipeBuf) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}
