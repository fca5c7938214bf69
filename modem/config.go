package modem

import (
	"errors"
	"log/slog"
	"time"

	"github.com/armon/go-metrics"
	"github.com/benbjohnson/clock"
)

const (
	DefaultMuxCount       = 5
	DefaultInboxSize      = 512
	DefaultKeepAlive      = 120 * time.Second
	DefaultSSLBufferSize  = 4096
	DefaultATTimeout      = time.Second
	DefaultInitTimeout    = 10 * time.Second
	DefaultMaintainWindow = 15 * time.Millisecond
	DefaultOpenTimeout    = 75 * time.Second
	DefaultCloseWait      = 5 * time.Second
	DefaultPollInterval   = time.Millisecond
)

// Config holds the construction parameters of a Modem. Build one with
// NewConfigBuilder.
type Config struct {
	// stream is borrowed and never closed by the Modem
	stream Stream
	// dialer is used when no stream was given; the dialed transport is owned
	dialer  Dialer
	backend Backend

	muxCount  int
	inboxSize int

	clock clock.Clock
	// yield runs on every idle iteration of a wait loop
	yield   func()
	logger  *slog.Logger
	metrics *metrics.Metrics

	keepAlive      time.Duration
	sslBufferSize  int
	atTimeout      time.Duration
	initTimeout    time.Duration
	maintainWindow time.Duration
	skipInit       bool
}

func (c *Config) validate() error {
	if c.stream == nil && c.dialer == nil {
		return ErrNoStream
	}
	if c.backend == nil {
		return ErrNoBackend
	}
	if c.muxCount <= 0 {
		return errors.New("mux count must be positive")
	}
	if c.inboxSize <= 0 {
		return errors.New("inbox size must be positive")
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.muxCount == 0 {
		c.muxCount = DefaultMuxCount
	}
	if c.inboxSize == 0 {
		c.inboxSize = DefaultInboxSize
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.yield == nil {
		c.yield = func() { time.Sleep(DefaultPollInterval) }
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Default()
	}
	if c.keepAlive == 0 {
		c.keepAlive = DefaultKeepAlive
	}
	if c.sslBufferSize == 0 {
		c.sslBufferSize = DefaultSSLBufferSize
	}
	if c.atTimeout == 0 {
		c.atTimeout = DefaultATTimeout
	}
	if c.initTimeout == 0 {
		c.initTimeout = DefaultInitTimeout
	}
	if c.maintainWindow == 0 {
		c.maintainWindow = DefaultMaintainWindow
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithStream makes the Modem drive s directly. The stream is borrowed.
func (b *ConfigBuilder) WithStream(s Stream) *ConfigBuilder {
	b.config.stream = s
	return b
}

// WithDialer makes New dial a Transport and wrap it in a PortStream that
// the Modem owns and closes.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

func (b *ConfigBuilder) WithBackend(backend Backend) *ConfigBuilder {
	b.config.backend = backend
	return b
}

func (b *ConfigBuilder) WithMuxCount(n int) *ConfigBuilder {
	b.config.muxCount = n
	return b
}

// WithInboxSize sets the per-connection receive capacity in bytes.
func (b *ConfigBuilder) WithInboxSize(n int) *ConfigBuilder {
	b.config.inboxSize = n
	return b
}

// WithClock replaces the time source used for deadlines.
func (b *ConfigBuilder) WithClock(c clock.Clock) *ConfigBuilder {
	b.config.clock = c
	return b
}

// WithYield sets the cooperative hook invoked while waiting for bytes.
func (b *ConfigBuilder) WithYield(yield func()) *ConfigBuilder {
	b.config.yield = yield
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

func (b *ConfigBuilder) WithMetrics(m *metrics.Metrics) *ConfigBuilder {
	b.config.metrics = m
	return b
}

// WithKeepAlive sets the TCP keep-alive passed with every open command.
func (b *ConfigBuilder) WithKeepAlive(d time.Duration) *ConfigBuilder {
	b.config.keepAlive = d
	return b
}

func (b *ConfigBuilder) WithSSLBufferSize(n int) *ConfigBuilder {
	b.config.sslBufferSize = n
	return b
}

// WithATTimeout sets the wait applied to commands without a specific deadline.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.initTimeout = d
	return b
}

// WithMaintainWindow sets how long Maintain listens for unsolicited frames.
func (b *ConfigBuilder) WithMaintainWindow(d time.Duration) *ConfigBuilder {
	b.config.maintainWindow = d
	return b
}

// WithSkipInit makes New return without running the init sequence.
func (b *ConfigBuilder) WithSkipInit(skip bool) *ConfigBuilder {
	b.config.skipInit = skip
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	config.setDefaults()
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}
