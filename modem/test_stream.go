package modem

import "bytes"

// TestStream is an in-memory Stream for tests. Bytes fed to it are
// immediately available to the engine; writes are recorded.
//
// Tests that need data to arrive while a wait is in progress feed it from
// the Yield hook.
type TestStream struct {
	pending []byte
	written bytes.Buffer
	flushes int
	err     error
}

func NewTestStream() *TestStream {
	return &TestStream{}
}

// Feed appends data to the inbound side.
func (s *TestStream) Feed(data string) {
	s.pending = append(s.pending, data...)
}

// Fail makes Next return err once the pending bytes are consumed.
func (s *TestStream) Fail(err error) {
	s.err = err
}

func (s *TestStream) Available() int {
	if len(s.pending) == 0 && s.err != nil {
		return 1
	}
	return len(s.pending)
}

func (s *TestStream) Next() (byte, error) {
	if len(s.pending) == 0 {
		return 0, s.err
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, nil
}

func (s *TestStream) Write(p []byte) (int, error) {
	return s.written.Write(p)
}

func (s *TestStream) Flush() error {
	s.flushes++
	return nil
}

// Remaining returns the number of fed bytes not yet consumed.
func (s *TestStream) Remaining() int {
	return len(s.pending)
}

// Written returns everything written so far.
func (s *TestStream) Written() string {
	return s.written.String()
}

// ResetWritten forgets recorded writes.
func (s *TestStream) ResetWritten() {
	s.written.Reset()
}

// Flushes returns the number of Flush calls.
func (s *TestStream) Flushes() int {
	return s.flushes
}
