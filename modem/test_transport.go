package modem

import (
	"bytes"
	"io"
	"sync"
)

// TestTransport is an in-memory Transport whose Read blocks until bytes are
// injected or the line breaks, the way a serial port without a read timeout
// behaves under PortStream's reader goroutine.
type TestTransport struct {
	chunks chan []byte
	// pending holds the tail of a chunk larger than the caller's buffer; it
	// is only touched by the reading goroutine
	pending []byte

	mu      sync.Mutex
	written bytes.Buffer
	readErr error
	broken  bool
}

func NewTestTransport() *TestTransport {
	return &TestTransport{chunks: make(chan []byte, 16)}
}

func (t *TestTransport) Read(p []byte) (int, error) {
	if len(t.pending) == 0 {
		chunk, ok := <-t.chunks
		if !ok {
			t.mu.Lock()
			defer t.mu.Unlock()
			return 0, t.readErr
		}
		t.pending = chunk
	}
	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

func (t *TestTransport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken {
		return 0, io.ErrClosedPipe
	}
	return t.written.Write(p)
}

// Close ends pending and future reads with io.EOF.
func (t *TestTransport) Close() error {
	t.Break(io.EOF)
	return nil
}

// Break ends pending and future reads with err, simulating a device that
// vanished from the bus. Only the first call has an effect.
func (t *TestTransport) Break(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.broken {
		return
	}
	t.broken = true
	t.readErr = err
	close(t.chunks)
}

// Inject queues module output for the reader.
func (t *TestTransport) Inject(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.broken {
		t.chunks <- []byte(data)
	}
}

// Written returns everything written to the transport so far.
func (t *TestTransport) Written() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written.String()
}
