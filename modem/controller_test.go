package modem_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"i4.energy/across/espmux/esp8266"
	"i4.energy/across/espmux/modem"
)

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		answer  string
		want    bool
		wantErr error
	}{
		{"accepted", "OK\r\n", true, nil},
		{"refused", "ERROR\r\n", false, nil},
		{"already connected", "ALREADY CONNECT\r\n\r\nERROR\r\n", false, modem.ErrAlreadyConnected},
		{"no answer", "", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.stream.Feed("ERROR\r\n" + tt.answer)

			ok, err := h.m.Open(context.Background(), 1, modem.OpenOptions{
				Host:    "example.com",
				Port:    80,
				Timeout: 500 * time.Millisecond,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.want, h.connected(t, 1))
			assert.Equal(t,
				"AT+CIPCLOSE=1\r\n"+`AT+CIPSTART=1,"TCP","example.com",80,120`+"\r\n",
				h.stream.Written())
		})
	}
}

func TestOpen_Secure(t *testing.T) {
	h := newHarness(t, func(b *modem.ConfigBuilder) {
		b.WithKeepAlive(30 * time.Second).WithSSLBufferSize(2048)
	})
	h.stream.Feed("ERROR\r\nOK\r\nOK\r\n")

	ok, err := h.m.Open(context.Background(), 0, modem.OpenOptions{
		Host:    "example.com",
		Port:    443,
		Secure:  true,
		Timeout: time.Second,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	c, _ := h.m.Connection(0)
	assert.Equal(t, modem.StateConnected, c.State())
	assert.Equal(t,
		"AT+CIPCLOSE=0\r\nAT+CIPSSLSIZE=2048\r\n"+`AT+CIPSTART=0,"SSL","example.com",443,30`+"\r\n",
		h.stream.Written())
}

func TestOpen_ClearsPreviousSession(t *testing.T) {
	h := newHarness(t)
	h.open(t, 2)
	h.stream.Feed("+IPD,2,3:old\r\nOK\r\n")
	require.NoError(t, h.m.Maintain(context.Background()))
	require.Equal(t, 3, h.m.Available(2))

	h.open(t, 2)
	assert.Zero(t, h.m.Available(2))
	assert.True(t, h.connected(t, 2))
}

func TestOpen_InvalidID(t *testing.T) {
	h := newHarness(t)

	for _, id := range []int{-1, 5} {
		ok, err := h.m.Open(context.Background(), id, modem.OpenOptions{Host: "example.com", Port: 80})
		assert.ErrorIs(t, err, modem.ErrInvalidID)
		assert.False(t, ok)
	}
	assert.Empty(t, h.stream.Written())
}

func TestCloseConnection_Idempotent(t *testing.T) {
	h := newHarness(t)
	h.open(t, 0)
	h.stream.Feed("+IPD,0,5:HELLO")
	h.later("0,CLOSED\r\n\r\nOK\r\n")

	for range 2 {
		err := h.m.CloseConnection(context.Background(), 0, 100*time.Millisecond)
		require.NoError(t, err)
		assert.False(t, h.connected(t, 0))
		assert.Zero(t, h.m.Available(0))
	}
	assert.Equal(t, "AT+CIPCLOSE=0\r\nAT+CIPCLOSE=0\r\n", h.stream.Written())
}

func TestSend(t *testing.T) {
	h := newHarness(t)
	h.open(t, 0)
	flushes := h.stream.Flushes()
	h.stream.Feed("\r\nOK\r\n> ")
	h.later("\r\nRecv 5 bytes\r\n", "\r\nSEND OK\r\n")

	n, err := h.m.Send(context.Background(), 0, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "AT+CIPSEND=0,5\r\nhello", h.stream.Written())
	// command line and payload are flushed separately
	assert.Equal(t, flushes+2, h.stream.Flushes())
	assert.Equal(t, float64(5), h.counter("tx.bytes"))
}

func TestSend_NotAccepted(t *testing.T) {
	h := newHarness(t)
	h.stream.Feed("> ")
	h.later("\r\nSEND FAIL\r\n")

	n, err := h.m.Send(context.Background(), 1, []byte("hello"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSend_Refused(t *testing.T) {
	h := newHarness(t)
	h.stream.Feed("link is not valid\r\n\r\nERROR\r\n")

	n, err := h.m.Send(context.Background(), 0, []byte("hello"))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "AT+CIPSEND=0,5\r\n", h.stream.Written())
}

func TestSend_NoPrompt(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	stream := modem.NewMockStream(ctrl)
	stream.EXPECT().Available().Return(0).AnyTimes()
	stream.EXPECT().Write([]byte("AT+CIPSEND=0,20\r\n")).Return(17, nil)
	stream.EXPECT().Flush().Return(nil)

	h := newHarness(t, func(b *modem.ConfigBuilder) { b.WithStream(stream) })

	n, err := h.m.Send(context.Background(), 0, make([]byte, 20))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSend_Empty(t *testing.T) {
	h := newHarness(t)

	n, err := h.m.Send(context.Background(), 0, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, h.stream.Written())
}

func TestMaintain(t *testing.T) {
	h := newHarness(t)
	h.open(t, 4)
	h.stream.Feed("\r\n+IPD,4,4:ping")

	require.NoError(t, h.m.Maintain(context.Background()))
	assert.Empty(t, h.stream.Written())

	buf := make([]byte, 2)
	n, err := h.m.Receive(4, buf)
	require.NoError(t, err)
	assert.Equal(t, "pi", string(buf[:n]))
	assert.Equal(t, 2, h.m.Available(4))

	_, err = h.m.Receive(9, buf)
	assert.ErrorIs(t, err, modem.ErrInvalidID)
	assert.Zero(t, h.m.Available(9))
}

func TestPollStatus(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   modem.RegStatus
	}{
		{"got ip", "STATUS:2\r\n\r\nOK\r\n", modem.RegOKIP},
		{"tcp", "STATUS:3\r\n+CIPSTATUS:0,\"TCP\",\"10.0.0.1\",80,4000,0\r\n\r\nOK\r\n", modem.RegOKTCP},
		{"no tcp", "STATUS:4\r\n\r\nOK\r\n", modem.RegOKNoTCP},
		{"not joined", "STATUS:5\r\n\r\nOK\r\n", modem.RegDenied},
		{"silent", "", modem.RegUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.stream.Feed(tt.answer)

			status, err := h.m.PollStatus(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
			assert.Equal(t, "AT+CIPSTATUS\r\n", h.stream.Written())
		})
	}
}

func TestPollAllStatuses(t *testing.T) {
	h := newHarness(t)
	for _, id := range []int{0, 1, 2} {
		h.open(t, id)
	}

	h.stream.Feed("STATUS:3\r\n" +
		"+CIPSTATUS:0,\"TCP\",\"10.0.0.1\",80,4000,0\r\n" +
		"+CIPSTATUS:3,\"SSL\",\"10.0.0.2\",443,4001,0\r\n" +
		"\r\nOK\r\n")

	verified, err := h.m.PollAllStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, false, false, true, false}, verified)
	for id, want := range verified {
		assert.Equal(t, want, h.connected(t, id), "connection %d", id)
	}
	assert.Equal(t, 0, h.stream.Remaining())
}

func TestPollAllStatuses_NoTCP(t *testing.T) {
	h := newHarness(t)
	h.open(t, 1)
	h.stream.Feed("STATUS:4\r\n\r\nOK\r\n")

	verified, err := h.m.PollAllStatuses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, make([]bool, 5), verified)
	assert.False(t, h.connected(t, 1))
}

func TestPollAllStatuses_Silent(t *testing.T) {
	h := newHarness(t)
	h.open(t, 1)

	verified, err := h.m.PollAllStatuses(context.Background())
	require.NoError(t, err)
	assert.Nil(t, verified)
	assert.True(t, h.connected(t, 1))
}

func TestConnected(t *testing.T) {
	h := newHarness(t)
	h.stream.Feed("STATUS:3\r\n+CIPSTATUS:2,\"TCP\",\"10.0.0.1\",80,4000,0\r\n\r\nOK\r\n")

	ok, err := h.m.Connected(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.m.Connected(context.Background(), 5)
	assert.ErrorIs(t, err, modem.ErrInvalidID)
}

func TestNew_Init(t *testing.T) {
	h := newHarness(t)
	h.stream.Feed("OK\r\nOK\r\nOK\r\nOK\r\n")

	require.NoError(t, h.m.Init(context.Background()))
	assert.Equal(t, "AT\r\nATE0\r\nAT+CIPMUX=1\r\nAT+CWMODE_CUR=1\r\n", h.stream.Written())
}

func TestNew_InitFails(t *testing.T) {
	h := newHarness(t)
	h.stream.Feed("OK\r\nOK\r\nERROR\r\n")

	err := h.m.Init(context.Background())
	assert.ErrorIs(t, err, modem.ErrCommandFailed)
}

func TestNew_NotResponding(t *testing.T) {
	stream := modem.NewTestStream()
	clk := clock.NewMock()

	config, err := modem.NewConfigBuilder().
		WithStream(stream).
		WithBackend(esp8266.Backend{}).
		WithClock(clk).
		WithYield(func() { clk.Add(10 * time.Millisecond) }).
		WithInitTimeout(time.Second).
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	assert.ErrorIs(t, err, modem.ErrNotResponding)
	assert.Nil(t, m)
	assert.Contains(t, stream.Written(), "AT\r\nAT\r\n")
}

func TestNew_Dialer(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := modem.NewTestTransport()
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithBackend(esp8266.Backend{}).
		WithSkipInit(true).
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)

	require.NoError(t, m.SendCommand("+GMR"))
	assert.Equal(t, "AT+GMR\r\n", transport.Written())

	require.NoError(t, m.Close())
	_, err = transport.Write([]byte("x"))
	assert.Error(t, err)
}

func TestNew_DialedTransportBreaks(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := modem.NewTestTransport()
	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(transport, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithBackend(esp8266.Backend{}).
		WithSkipInit(true).
		Build()
	require.NoError(t, err)

	m, err := modem.New(context.Background(), config)
	require.NoError(t, err)

	transport.Inject("+IPD,0,3:abc")
	transport.Break(io.ErrUnexpectedEOF)

	_, _, err = m.WaitResponse(context.Background(), time.Second)
	require.ErrorIs(t, err, modem.ErrTransport)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 3, m.Available(0))
	assert.NoError(t, m.Close())
}

func TestNew_DialerReturnsNil(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dialer := modem.NewMockDialer(ctrl)
	dialer.EXPECT().Dial(gomock.Any()).Return(nil, nil)

	config, err := modem.NewConfigBuilder().
		WithDialer(dialer).
		WithBackend(esp8266.Backend{}).
		Build()
	require.NoError(t, err)

	_, err = modem.New(context.Background(), config)
	assert.ErrorIs(t, err, modem.ErrNilTransport)
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	h.open(t, 0)
	h.open(t, 3)
	h.stream.Feed("0,CLOSED\r\n\r\nOK\r\n3,CLOSED\r\n\r\nOK\r\n")

	require.NoError(t, h.m.Close())
	assert.Equal(t, "AT+CIPCLOSE=0\r\nAT+CIPCLOSE=3\r\n", h.stream.Written())
	assert.False(t, h.connected(t, 0))
	assert.False(t, h.connected(t, 3))

	assert.ErrorIs(t, h.m.Close(), modem.ErrAlreadyClosed)
	assert.ErrorIs(t, h.m.SendCommand(""), modem.ErrAlreadyClosed)
}
