package modem_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/armon/go-metrics"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"i4.energy/across/espmux/esp8266"
	"i4.energy/across/espmux/modem"
)

// harness drives a Modem over a TestStream with a mock clock that advances
// ten milliseconds on every idle iteration.
type harness struct {
	stream *modem.TestStream
	clock  *clock.Mock
	sink   *metrics.InmemSink
	m      *modem.Modem

	// chunks are fed one per yield, modelling bytes that arrive while a
	// wait is in progress
	chunks []string
}

func newHarness(t *testing.T, configure ...func(*modem.ConfigBuilder)) *harness {
	t.Helper()

	h := &harness{
		stream: modem.NewTestStream(),
		clock:  clock.NewMock(),
		sink:   metrics.NewInmemSink(time.Minute, time.Minute),
	}

	cfg := metrics.DefaultConfig("test")
	cfg.EnableRuntimeMetrics = false
	cfg.EnableHostname = false
	met, err := metrics.New(cfg, h.sink)
	require.NoError(t, err)

	b := modem.NewConfigBuilder().
		WithStream(h.stream).
		WithBackend(esp8266.Backend{}).
		WithClock(h.clock).
		WithYield(h.yield).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))).
		WithMetrics(met).
		WithSkipInit(true)
	for _, fn := range configure {
		fn(b)
	}

	config, err := b.Build()
	require.NoError(t, err)

	h.m, err = modem.New(context.Background(), config)
	require.NoError(t, err)
	return h
}

func (h *harness) yield() {
	h.clock.Add(10 * time.Millisecond)
	if len(h.chunks) > 0 {
		h.stream.Feed(h.chunks[0])
		h.chunks = h.chunks[1:]
	}
}

// later queues chunks to arrive one per idle iteration.
func (h *harness) later(chunks ...string) {
	h.chunks = append(h.chunks, chunks...)
}

// counter returns the running sum of a counter recorded under the "test"
// service name.
func (h *harness) counter(name string) float64 {
	var sum float64
	for _, intv := range h.sink.Data() {
		intv.RLock()
		if c, ok := intv.Counters["test."+name]; ok {
			sum += c.Sum
		}
		intv.RUnlock()
	}
	return sum
}

// open brings slot id up with a plain connection.
func (h *harness) open(t *testing.T, id int) {
	t.Helper()
	h.stream.Feed("ERROR\r\nOK\r\n")
	ok, err := h.m.Open(context.Background(), id, modem.OpenOptions{
		Host:    "example.com",
		Port:    80,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	require.True(t, ok)
	h.stream.ResetWritten()
}

func (h *harness) connected(t *testing.T, id int) bool {
	t.Helper()
	c, ok := h.m.Connection(id)
	require.True(t, ok)
	return c.Connected()
}
