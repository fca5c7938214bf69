package modem

//go:generate go tool mockgen -source=stream.go -destination=mock_stream.go -package=modem

import (
	"io"
	"sync"
)

// Stream is the non-blocking duplex byte channel the engine drives.
//
// Next is only called after Available reported pending bytes and must
// never block. A Stream that failed permanently reports Available() > 0 so
// the failure surfaces through the following call to Next.
type Stream interface {
	Available() int
	Next() (byte, error)
	Write(p []byte) (int, error)
	Flush() error
}

// PortStream adapts a blocking Transport to the Stream contract. A single
// background goroutine reads from the Transport into an internal buffer.
type PortStream struct {
	transport Transport

	mu  sync.Mutex
	buf []byte
	err error

	done chan struct{}
}

// NewPortStream starts reading from t. Close the returned stream to release
// the transport.
func NewPortStream(t Transport) *PortStream {
	s := &PortStream{
		transport: t,
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *PortStream) readLoop() {
	defer close(s.done)
	p := make([]byte, 256)
	for {
		n, err := s.transport.Read(p)
		s.mu.Lock()
		s.buf = append(s.buf, p[:n]...)
		if err != nil {
			s.err = err
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}

// Available returns the number of buffered bytes.
func (s *PortStream) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 && s.err != nil {
		return 1
	}
	return len(s.buf)
}

// Next pops one buffered byte. Once the reader stopped and the buffer is
// empty it returns the read error.
func (s *PortStream) Next() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		if s.err != nil {
			return 0, s.err
		}
		return 0, io.ErrNoProgress
	}
	b := s.buf[0]
	s.buf = s.buf[1:]
	return b, nil
}

func (s *PortStream) Write(p []byte) (int, error) {
	return s.transport.Write(p)
}

// Flush waits for written bytes to leave the port when the transport supports
// it (go.bug.st/serial ports do).
func (s *PortStream) Flush() error {
	if d, ok := s.transport.(interface{ Drain() error }); ok {
		return d.Drain()
	}
	return nil
}

// Close closes the transport. The reader goroutine exits when the pending
// Read returns.
func (s *PortStream) Close() error {
	return s.transport.Close()
}

// Done is closed once the reader goroutine exited.
func (s *PortStream) Done() <-chan struct{} {
	return s.done
}
