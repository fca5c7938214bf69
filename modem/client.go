package modem

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Client is a stream-like handle on one connection slot. It implements
// io.ReadWriteCloser on top of the Modem and shares its single-caller rule.
type Client struct {
	m      *Modem
	id     int
	secure bool
}

var _ io.ReadWriteCloser = (*Client)(nil)

// Client returns a handle on slot id. Secure handles open SSL connections.
func (m *Modem) Client(id int, secure bool) (*Client, error) {
	if _, ok := m.table.Get(id); !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	return &Client{m: m, id: id, secure: secure}, nil
}

func (c *Client) ID() int { return c.id }

// Connect opens the slot to host:port, replacing any previous session.
func (c *Client) Connect(ctx context.Context, host string, port int, timeout time.Duration) (bool, error) {
	return c.m.Open(ctx, c.id, OpenOptions{
		Host:    host,
		Port:    port,
		Secure:  c.secure,
		Timeout: timeout,
	})
}

// Write sends p as one payload. It returns ErrSendFailed when the module did
// not accept it.
func (c *Client) Write(p []byte) (int, error) {
	n, err := c.m.Send(context.Background(), c.id, p)
	if err != nil {
		return 0, err
	}
	if n == 0 && len(p) > 0 {
		return 0, ErrSendFailed
	}
	return n, nil
}

// Read returns buffered bytes. When the inbox is empty the stream is
// serviced once first. It returns io.EOF once the connection is closed and
// drained, and may return 0, nil while the connection is open but idle.
func (c *Client) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if c.Available() == 0 {
		conn, _ := c.m.table.Get(c.id)
		if !conn.connected {
			return 0, io.EOF
		}
		return 0, nil
	}
	return c.m.Receive(c.id, p)
}

// Available returns the number of buffered bytes, servicing the stream once
// when none are buffered.
func (c *Client) Available() int {
	if c.m.Available(c.id) == 0 && !c.m.closed {
		if err := c.m.Maintain(context.Background()); err != nil {
			c.m.logger.Debug("maintain failed", "id", c.id, "error", err)
		}
	}
	return c.m.Available(c.id)
}

// Connected reports true while bytes remain buffered or the module last
// reported the connection as open.
func (c *Client) Connected() bool {
	if c.Available() > 0 {
		return true
	}
	conn, _ := c.m.table.Get(c.id)
	return conn.connected
}

// Close closes the connection, waiting up to DefaultCloseWait for the
// acknowledgment.
func (c *Client) Close() error {
	return c.m.CloseConnection(context.Background(), c.id, DefaultCloseWait)
}
