package esp8266_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i4.energy/across/espmux/internal/espsim"
	"i4.energy/across/espmux/modem"
)

func TestRoundTrip_DeviceIsAuthoritative(t *testing.T) {
	sim := espsim.New(espsim.DefaultAP, true)
	sim.Refuse("down.example.com")
	d := newDevice(t, sim)
	m := d.Modem()
	ctx := context.Background()

	open := func(id int, host string) bool {
		ok, err := m.Open(ctx, id, modem.OpenOptions{Host: host, Port: 80, Timeout: time.Second})
		require.NoError(t, err)
		return ok
	}
	check := func() {
		t.Helper()
		verified, err := m.PollAllStatuses(ctx)
		require.NoError(t, err)
		require.Len(t, verified, espsim.Links)
		for id, v := range verified {
			assert.Equal(t, sim.Open(id), v, "connection %d", id)
			c, _ := m.Connection(id)
			assert.Equal(t, sim.Open(id), c.Connected(), "cached state of connection %d", id)
		}
	}

	require.True(t, open(0, "example.com"))
	require.True(t, open(1, "example.com"))
	require.True(t, open(4, "example.com"))
	require.False(t, open(2, "down.example.com"))
	check()

	// lost notice: the cache still says connected until the poll
	sim.DropSilently(1)
	c, _ := m.Connection(1)
	require.True(t, c.Connected())
	check()

	sim.Drop(4)
	require.NoError(t, m.CloseConnection(ctx, 0, time.Second))
	check()

	require.True(t, open(3, "example.com"))
	check()
}

func TestRoundTrip_Transfer(t *testing.T) {
	sim := espsim.New(espsim.DefaultAP, true)
	d := newDevice(t, sim)
	ctx := context.Background()

	c, err := d.Modem().Client(2, false)
	require.NoError(t, err)
	ok, err := c.Connect(ctx, "example.com", 80, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = c.Write([]byte("GET / HTTP/1.0\r\n\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "GET / HTTP/1.0\r\n\r\n", sim.Sent(2))

	sim.Deliver(2, "HTTP/1.0 200 OK\r\n\r\nhi")
	sim.Drop(2)

	buf := make([]byte, 64)
	var got []byte
	for {
		n, err := c.Read(buf)
		got = append(got, buf[:n]...)
		if err != nil {
			break
		}
	}
	assert.Equal(t, "HTTP/1.0 200 OK\r\n\r\nhi", string(got))
}
