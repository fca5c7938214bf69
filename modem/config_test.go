package modem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"i4.energy/across/espmux/esp8266"
	"i4.energy/across/espmux/modem"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoStream when neither stream nor dialer provided", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().WithBackend(esp8266.Backend{}).Build()

		if err != modem.ErrNoStream {
			t.Errorf("expected ErrNoStream, got: %v", err)
		}
	})

	t.Run("ErrNoBackend when no backend provided", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().WithStream(modem.NewTestStream()).Build()

		if err != modem.ErrNoBackend {
			t.Errorf("expected ErrNoBackend, got: %v", err)
		}
	})

	t.Run("rejects non-positive sizes", func(t *testing.T) {
		_, err := modem.NewConfigBuilder().
			WithStream(modem.NewTestStream()).
			WithBackend(esp8266.Backend{}).
			WithMuxCount(-1).
			Build()
		assert.Error(t, err)

		_, err = modem.NewConfigBuilder().
			WithStream(modem.NewTestStream()).
			WithBackend(esp8266.Backend{}).
			WithInboxSize(-1).
			Build()
		assert.Error(t, err)
	})

	t.Run("defaults", func(t *testing.T) {
		h := newHarness(t)

		assert.Equal(t, modem.DefaultMuxCount, h.m.MuxCount())
		c, _ := h.m.Connection(0)
		assert.Equal(t, modem.DefaultInboxSize, c.Free())
		assert.Equal(t, "ESP8266", h.m.Backend().Name())
	})

	t.Run("mux count", func(t *testing.T) {
		h := newHarness(t, func(b *modem.ConfigBuilder) { b.WithMuxCount(2) })

		assert.Equal(t, 2, h.m.MuxCount())
		_, ok := h.m.Connection(2)
		assert.False(t, ok)
	})
}
