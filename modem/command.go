package modem

import (
	"context"
	"fmt"
	"time"

	"i4.energy/across/espmux/at"
)

// SendCommand writes "AT" + cmd + CRLF and flushes the stream. It does not
// wait for an answer.
func (m *Modem) SendCommand(cmd string) error {
	if m.closed {
		return ErrAlreadyClosed
	}

	wire := "AT" + cmd + at.CRLF
	if _, err := m.stream.Write([]byte(wire)); err != nil {
		return fmt.Errorf("%w: write command %q: %w", ErrTransport, cmd, err)
	}
	if err := m.stream.Flush(); err != nil {
		return fmt.Errorf("%w: flush command %q: %w", ErrTransport, cmd, err)
	}

	m.logger.Debug("command", "cmd", "AT"+cmd)
	return nil
}

// Exec sends cmd and waits up to timeout for one of candidates, with the
// same semantics as WaitResponse.
func (m *Modem) Exec(ctx context.Context, timeout time.Duration, cmd string, candidates ...string) (Match, string, error) {
	if err := m.SendCommand(cmd); err != nil {
		return NoMatch, "", err
	}
	return m.WaitResponse(ctx, timeout, candidates...)
}

// ExpectOK sends cmd and reports whether the module answered with the OK
// terminator within the default command timeout.
func (m *Modem) ExpectOK(ctx context.Context, cmd string) (bool, error) {
	match, _, err := m.Exec(ctx, m.config.atTimeout, cmd)
	return match == 1, err
}

// writeRaw writes payload bytes that are not a command line.
func (m *Modem) writeRaw(p []byte) error {
	if m.closed {
		return ErrAlreadyClosed
	}
	if _, err := m.stream.Write(p); err != nil {
		return fmt.Errorf("%w: write payload: %w", ErrTransport, err)
	}
	if err := m.stream.Flush(); err != nil {
		return fmt.Errorf("%w: flush payload: %w", ErrTransport, err)
	}
	return nil
}
