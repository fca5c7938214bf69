package espsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Sim) string {
	var out []byte
	for s.Available() > 0 {
		b, _ := s.Next()
		out = append(out, b)
	}
	return string(out)
}

func TestSim_Commands(t *testing.T) {
	s := New(DefaultAP, true)

	s.Write([]byte("AT\r\nATE0\r\n"))
	assert.Equal(t, "\r\nOK\r\n\r\nOK\r\n", drain(s))
	assert.Equal(t, []string{"", "E0"}, s.Commands())

	s.Write([]byte("AT+BOGUS\r\n"))
	assert.Equal(t, "\r\nERROR\r\n", drain(s))
}

func TestSim_Link(t *testing.T) {
	s := New(DefaultAP, true)

	s.Write([]byte(`AT+CIPSTART=1,"TCP","example.com",80,120` + "\r\n"))
	assert.Equal(t, "1,CONNECT\r\n\r\nOK\r\n", drain(s))
	require.True(t, s.Open(1))

	s.Write([]byte(`AT+CIPSTART=1,"TCP","example.com",80,120` + "\r\n"))
	assert.Equal(t, "ALREADY CONNECT\r\n\r\nERROR\r\n", drain(s))

	s.Write([]byte("AT+CIPSEND=1,4\r\n"))
	assert.Equal(t, "\r\nOK\r\n> ", drain(s))
	s.Write([]byte("pi"))
	assert.Empty(t, drain(s))
	s.Write([]byte("ng"))
	assert.Equal(t, "\r\nRecv 4 bytes\r\n\r\nSEND OK\r\n", drain(s))
	assert.Equal(t, "ping", s.Sent(1))

	s.Write([]byte("AT+CIPSTATUS\r\n"))
	assert.Equal(t, "STATUS:3\r\n+CIPSTATUS:1,\"TCP\",\"example.com\",80,4000,0\r\n\r\nOK\r\n", drain(s))

	s.Write([]byte("AT+CIPCLOSE=1\r\n"))
	assert.Equal(t, "1,CLOSED\r\n\r\nOK\r\n", drain(s))
	assert.False(t, s.Open(1))

	s.Write([]byte("AT+CIPSTATUS\r\n"))
	assert.Equal(t, "STATUS:4\r\n\r\nOK\r\n", drain(s))
}

func TestSim_NotJoined(t *testing.T) {
	s := New(DefaultAP, false)

	s.Write([]byte("AT+CIPSTATUS\r\n"))
	assert.Equal(t, "STATUS:5\r\n\r\nOK\r\n", drain(s))

	s.Write([]byte(`AT+CWJAP_CUR="lab","wrong"` + "\r\n"))
	assert.Equal(t, "+CWJAP:1\r\n\r\nFAIL\r\n", drain(s))

	s.Write([]byte(`AT+CWJAP_CUR="lab","secret"` + "\r\n"))
	assert.Equal(t, "WIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n", drain(s))

	s.Write([]byte("AT+CIPSTATUS\r\n"))
	assert.Equal(t, "STATUS:2\r\n\r\nOK\r\n", drain(s))
}

func TestSim_RemoteEvents(t *testing.T) {
	s := New(DefaultAP, true)
	s.Write([]byte(`AT+CIPSTART=0,"TCP","example.com",80,120` + "\r\n"))
	drain(s)

	s.Deliver(0, "hey")
	assert.Equal(t, "\r\n+IPD,0,3:hey", drain(s))

	s.Drop(0)
	assert.Equal(t, "0,CLOSED\r\n", drain(s))
	s.Drop(0)
	assert.Empty(t, drain(s))
}
