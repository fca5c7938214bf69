package modem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/armon/go-metrics"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
)

// Modem drives a communication module over one Stream and multiplexes a
// fixed number of virtual connections over it.
//
// A Modem is not safe for concurrent use. Exactly one command may be in
// flight at a time; callers that share a Modem across goroutines must
// serialize access themselves.
type Modem struct {
	// stream is the byte channel to the module
	stream Stream
	// owned is closed on Close when the stream was dialed by New
	owned io.Closer
	// backend formats vendor commands; vocab caches its vocabulary
	backend Backend
	vocab   Vocabulary
	// table holds every connection slot
	table *Table
	// config contains the settings the Modem was built with
	config Config

	clock   clock.Clock
	yield   func()
	logger  *slog.Logger
	metrics *metrics.Metrics

	// acc is the matcher's accumulation buffer, reused across waits
	acc   []byte
	stats Stats
	// closed indicates if the modem has been shut down
	closed bool
}

// Stats counts the diagnostics recorded by the matcher.
type Stats struct {
	// BytesReceived is the number of inbound payload bytes kept in inboxes.
	BytesReceived int
	// BytesDropped is the number of announced payload bytes drained from the
	// stream but discarded for lack of inbox capacity or a valid id.
	BytesDropped int
	// ClosedNotices counts connection-closed sentinels.
	ClosedNotices int
	// Unhandled counts waits that ended with leftover text.
	Unhandled int
	// Timeouts counts waits that ended without a match.
	Timeouts int
	// Anomalies counts frames that referenced an unknown connection id or
	// could not be parsed.
	Anomalies int
}

// New creates a Modem from config. When the config carries a Dialer the
// Transport is dialed and owned by the Modem. Unless init is skipped, the
// module is checked for liveness and configured by the Backend's init
// commands before New returns.
func New(ctx context.Context, config Config) (*Modem, error) {
	config.setDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	m := &Modem{
		stream:  config.stream,
		backend: config.backend,
		vocab:   config.backend.Vocabulary(),
		table:   NewTable(config.muxCount, config.inboxSize),
		config:  config,
		clock:   config.clock,
		yield:   config.yield,
		logger:  config.logger.With("component", "modem"),
		metrics: config.metrics,
		acc:     make([]byte, 0, 64),
	}

	if m.stream == nil {
		transport, err := config.dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		if transport == nil {
			return nil, ErrNilTransport
		}
		ps := NewPortStream(transport)
		m.stream = ps
		m.owned = ps
	}

	if config.skipInit {
		return m, nil
	}

	initCtx := ctx
	if config.initTimeout > 0 {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, config.initTimeout)
		defer cancel()
	}

	if err := m.Init(initCtx); err != nil {
		if m.owned != nil {
			m.owned.Close()
		}
		return nil, fmt.Errorf("initialize modem: %w", err)
	}

	return m, nil
}

// Init checks that the module answers and issues the Backend's init
// commands. Each must be answered with the OK terminator.
func (m *Modem) Init(ctx context.Context) error {
	ok, err := m.TestAT(ctx, m.config.initTimeout)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotResponding
	}

	for _, cmd := range m.backend.InitCommands() {
		match, _, err := m.Exec(ctx, m.config.atTimeout, cmd)
		if err != nil {
			return fmt.Errorf("init command %q: %w", cmd, err)
		}
		if match != 1 {
			return fmt.Errorf("init command %q: %w", cmd, ErrCommandFailed)
		}
	}

	m.logger.Info("modem ready", "backend", m.backend.Name(), "connections", m.table.Len())
	return nil
}

// TestAT sends the bare attention command until the module answers OK or
// timeout elapses.
func (m *Modem) TestAT(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := m.clock.Now().Add(timeout)
	for {
		match, _, err := m.Exec(ctx, testATWait, "")
		if err != nil {
			return false, err
		}
		if match == 1 {
			return true, nil
		}
		if !m.clock.Now().Before(deadline) {
			return false, nil
		}
	}
}

const testATWait = 200 * time.Millisecond

// Backend returns the vendor binding the Modem was built with.
func (m *Modem) Backend() Backend {
	return m.backend
}

// Connection returns the slot for id.
func (m *Modem) Connection(id int) (*Connection, bool) {
	return m.table.Get(id)
}

// MuxCount returns the number of connection slots.
func (m *Modem) MuxCount() int {
	return m.table.Len()
}

// Stats returns a snapshot of the matcher diagnostics.
func (m *Modem) Stats() Stats {
	return m.stats
}

// Close releases every open connection and, when the stream was dialed by
// New, closes the transport. After Close the Modem cannot be reused.
func (m *Modem) Close() error {
	if m.closed {
		return ErrAlreadyClosed
	}

	var err error
	for id := range m.table.Len() {
		c, _ := m.table.Get(id)
		if c.connected {
			err = multierr.Append(err, m.CloseConnection(context.Background(), id, m.config.atTimeout))
		}
	}

	m.closed = true

	if m.owned != nil {
		err = multierr.Append(err, m.owned.Close())
	}
	return err
}
