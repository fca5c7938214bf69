package modem

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

const (
	// SendPromptTimeout bounds the wait for the raw data prompt.
	SendPromptTimeout = time.Second
	// SendAcceptTimeout bounds the wait for the module to accept a payload.
	SendAcceptTimeout = 10 * time.Second
	// StatusTimeout bounds the wait for the status header.
	StatusTimeout = 3 * time.Second
)

// Open tears down any previous session on id, then asks the module to open
// a new one. It reports true only when the module answered with the success
// terminator. An already-connected answer yields ErrAlreadyConnected; a
// failure answer or a timeout yields false with no error.
func (m *Modem) Open(ctx context.Context, id int, opts OpenOptions) (bool, error) {
	c, ok := m.table.Get(id)
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}

	if err := m.CloseConnection(ctx, id, DefaultCloseWait); err != nil {
		return false, err
	}
	c.inbox.reset()
	c.state = StateConnecting

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOpenTimeout
	}

	cmds := m.backend.OpenCommands(id, opts, m.config.keepAlive, m.config.sslBufferSize)
	if len(cmds) == 0 {
		c.setConnected(false)
		return false, fmt.Errorf("open %d: %w", id, ErrCommandFailed)
	}

	for _, cmd := range cmds[:len(cmds)-1] {
		if _, _, err := m.Exec(ctx, m.config.atTimeout, cmd); err != nil {
			c.setConnected(false)
			return false, err
		}
	}

	match, _, err := m.Exec(ctx, timeout, cmds[len(cmds)-1], m.vocab.OK, m.vocab.Error, m.vocab.AlreadyConnected)
	if err != nil {
		c.setConnected(false)
		return false, err
	}

	c.setConnected(match == 1)
	switch match {
	case 1:
		m.logger.Info("connection open", "id", id, "host", opts.Host, "port", opts.Port, "secure", opts.Secure)
		return true, nil
	case 3:
		m.logger.Warn("connection already open", "id", id, "host", opts.Host, "port", opts.Port)
		return false, ErrAlreadyConnected
	default:
		m.logger.Info("connection refused", "id", id, "host", opts.Host, "port", opts.Port, "timeout", match == NoMatch)
		return false, nil
	}
}

// CloseConnection asks the module to close id. The connection is marked
// closed before the acknowledgment is awaited, and its inbox is cleared
// whatever the outcome. Closing an idle connection is safe.
func (m *Modem) CloseConnection(ctx context.Context, id int, maxWait time.Duration) error {
	c, ok := m.table.Get(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if maxWait <= 0 {
		maxWait = DefaultCloseWait
	}

	c.state = StateClosing
	err := m.SendCommand(m.backend.CloseCommand(id))
	c.connected = false
	if err == nil {
		_, _, err = m.WaitResponse(ctx, maxWait)
	}
	c.inbox.reset()
	c.state = StateIdle
	return err
}

// Send announces len(p) bytes on id, waits for the data prompt, writes p and
// waits for the module to accept it. It returns len(p) on success and 0
// otherwise; partial acceptance does not exist. Nothing is written when the
// prompt does not appear.
func (m *Modem) Send(ctx context.Context, id int, p []byte) (int, error) {
	if _, ok := m.table.Get(id); !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	if len(p) == 0 {
		return 0, nil
	}

	match, _, err := m.Exec(ctx, SendPromptTimeout, m.backend.SendCommand(id, len(p)), m.vocab.SendPrompt, m.vocab.Error)
	if err != nil {
		return 0, err
	}
	if match != 1 {
		m.logger.Debug("send not ready", "id", id, "len", len(p))
		return 0, nil
	}

	if err := m.writeRaw(p); err != nil {
		return 0, err
	}

	match, _, err = m.WaitResponse(ctx, SendAcceptTimeout, m.vocab.SendOK, m.vocab.SendFail)
	if err != nil {
		return 0, err
	}
	if match != 1 {
		m.logger.Debug("send not accepted", "id", id, "len", len(p))
		return 0, nil
	}

	m.metrics.IncrCounter([]string{"tx", "bytes"}, float32(len(p)))
	return len(p), nil
}

// Receive pops up to len(p) buffered bytes of id.
func (m *Modem) Receive(id int, p []byte) (int, error) {
	c, ok := m.table.Get(id)
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return c.Read(p), nil
}

// Available returns the number of buffered bytes of id, zero for an invalid id.
func (m *Modem) Available(id int) int {
	c, ok := m.table.Get(id)
	if !ok {
		return 0
	}
	return c.Available()
}

// Maintain listens for a short window with no command outstanding so that
// pending inbound data and close notices reach the connection table.
func (m *Modem) Maintain(ctx context.Context) error {
	_, _, err := m.WaitResponse(ctx, m.config.maintainWindow)
	return err
}

// PollStatus queries the aggregate link state. A module that does not
// report within StatusTimeout yields RegUnknown.
func (m *Modem) PollStatus(ctx context.Context) (RegStatus, error) {
	status, found, err := m.readStatus(ctx)
	if err != nil || !found {
		return RegUnknown, err
	}
	if _, _, err := m.WaitResponse(ctx, m.config.atTimeout); err != nil {
		return RegUnknown, err
	}
	return status, nil
}

// PollAllStatuses queries the module for every live connection and
// overwrites each slot's cached connected flag with the report. Slots the
// module does not list are marked closed. It returns nil, leaving the cache
// untouched, when the module did not report in time.
func (m *Modem) PollAllStatuses(ctx context.Context) ([]bool, error) {
	status, found, err := m.readStatus(ctx)
	if err != nil || !found {
		return nil, err
	}

	verified := make([]bool, m.table.Len())
	if status != RegOKTCP {
		if _, _, err := m.WaitResponse(ctx, m.config.atTimeout); err != nil {
			return nil, err
		}
	} else {
		// One line per slot, then the OK.
		for range m.table.Len() + 1 {
			match, _, err := m.WaitResponse(ctx, m.config.atTimeout, m.vocab.ConnStatusPrefix, m.vocab.OK, m.vocab.Error)
			if err != nil {
				return nil, err
			}
			if match != 1 {
				break
			}
			idText, _, err := m.ReadUntil(ctx, ',', m.config.atTimeout)
			if err != nil {
				return nil, err
			}
			if _, err := m.SkipUntil(ctx, '\n', m.config.atTimeout); err != nil {
				return nil, err
			}
			if id, ok := ParseInt(idText); ok && id >= 0 && id < len(verified) {
				verified[id] = true
			} else {
				m.anomaly("status for unknown connection", "id", idText)
			}
		}
	}

	for id, v := range verified {
		c, _ := m.table.Get(id)
		if c.connected != v {
			m.logger.Debug("connection state reconciled", "id", id, "connected", v)
		}
		c.setConnected(v)
	}
	return verified, nil
}

// Connected refreshes every slot from the module and reports id.
func (m *Modem) Connected(ctx context.Context, id int) (bool, error) {
	if _, ok := m.table.Get(id); !ok {
		return false, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	verified, err := m.PollAllStatuses(ctx)
	if err != nil || verified == nil {
		return false, err
	}
	return verified[id], nil
}

// readStatus sends the status command and reads the header and aggregate
// code. found is false when the header never arrived.
func (m *Modem) readStatus(ctx context.Context) (RegStatus, bool, error) {
	match, _, err := m.Exec(ctx, StatusTimeout, m.backend.StatusCommand(), m.vocab.StatusHeader)
	if err != nil || match != 1 {
		return RegUnknown, false, err
	}

	candidates := append([]string{m.vocab.Error}, m.vocab.StatusCodes...)
	match, _, err = m.WaitResponse(ctx, m.config.atTimeout, candidates...)
	if err != nil {
		return RegUnknown, false, err
	}
	if match < 2 {
		return RegUnknown, true, nil
	}
	code, err := strconv.Atoi(m.vocab.StatusCodes[match-2])
	if err != nil {
		return RegUnknown, true, nil
	}
	return RegStatus(code), true, nil
}
