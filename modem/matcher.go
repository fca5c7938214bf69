package modem

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"i4.energy/across/espmux/at"
)

// MaxCandidates bounds the number of terminators one wait can test.
const MaxCandidates = 5

// Match is the outcome of one wait: the 1-based rank of the terminator that
// ended it, or NoMatch when the deadline passed first.
type Match int

const NoMatch Match = 0

// WaitResponse consumes bytes from the stream until the accumulated text
// ends with one of candidates or timeout elapses. With no candidates the
// vocabulary's OK, Error and CMEError terminators are used, in that order.
// When several candidates end at the same byte the first listed wins.
//
// Inbound data and connection-closed frames are recognized before any
// candidate, absorbed into the connection table and removed from the
// accumulated text. They never count as a match and do not extend the
// deadline.
//
// On a match the accumulated text, terminator included, is returned. A
// timeout is not an error; only a failing stream or a done context is.
func (m *Modem) WaitResponse(ctx context.Context, timeout time.Duration, candidates ...string) (Match, string, error) {
	if len(candidates) > MaxCandidates {
		return NoMatch, "", ErrTooManyCandidates
	}
	if len(candidates) == 0 {
		candidates = m.vocab.defaults()
	}

	start := m.clock.Now()
	deadline := start.Add(timeout)

	data := m.acc[:0]
	defer func() { m.acc = data[:0] }()

	for {
		if err := ctx.Err(); err != nil {
			return NoMatch, "", err
		}

		for m.stream.Available() > 0 {
			b, err := m.stream.Next()
			if err != nil {
				return NoMatch, "", fmt.Errorf("%w: %w", ErrTransport, err)
			}
			if b == 0 {
				continue
			}
			data = append(data, b)

			if hasSuffix(data, m.vocab.DataSentinel) {
				if err := m.receiveData(ctx, deadline); err != nil {
					return NoMatch, "", err
				}
				data = data[:0]
				continue
			}
			if hasSuffix(data, m.vocab.ClosedSentinel) {
				m.receiveClosed(data[:len(data)-len(m.vocab.ClosedSentinel)])
				data = data[:0]
				continue
			}

			for i, c := range candidates {
				if hasSuffix(data, c) {
					m.metrics.AddSample([]string{"cmd", "wait"}, float32(m.clock.Since(start).Milliseconds()))
					return Match(i + 1), string(data), nil
				}
			}
		}

		if !m.clock.Now().Before(deadline) {
			break
		}
		m.yield()
	}

	m.unhandled(data)
	m.stats.Timeouts++
	m.metrics.IncrCounter([]string{"cmd", "timeout"}, 1)
	return NoMatch, "", nil
}

// ReadUntil reads raw bytes up to delim, which is consumed but not returned.
// It reports false when timeout elapsed first, along with what was read.
func (m *Modem) ReadUntil(ctx context.Context, delim byte, timeout time.Duration) (string, bool, error) {
	return m.readUntil(ctx, delim, m.clock.Now().Add(timeout))
}

// SkipUntil discards bytes up to and including delim.
func (m *Modem) SkipUntil(ctx context.Context, delim byte, timeout time.Duration) (bool, error) {
	_, found, err := m.ReadUntil(ctx, delim, timeout)
	return found, err
}

func (m *Modem) readUntil(ctx context.Context, delim byte, deadline time.Time) (string, bool, error) {
	var sb strings.Builder
	for {
		b, ok, err := m.nextByte(ctx, deadline)
		if err != nil || !ok {
			return sb.String(), false, err
		}
		if b == delim {
			return sb.String(), true, nil
		}
		sb.WriteByte(b)
	}
}

// nextByte waits for one raw byte until deadline.
func (m *Modem) nextByte(ctx context.Context, deadline time.Time) (byte, bool, error) {
	for {
		if m.stream.Available() > 0 {
			b, err := m.stream.Next()
			if err != nil {
				return 0, false, fmt.Errorf("%w: %w", ErrTransport, err)
			}
			return b, true, nil
		}
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		if !m.clock.Now().Before(deadline) {
			return 0, false, nil
		}
		m.yield()
	}
}

// receiveData handles "<id>,<len>:<payload>" following the data sentinel.
// The full announced length is drained to keep the stream framed; bytes that
// do not fit the inbox are dropped.
func (m *Modem) receiveData(ctx context.Context, deadline time.Time) error {
	idText, ok, err := m.readUntil(ctx, ',', deadline)
	if err != nil {
		return err
	}
	if !ok {
		m.anomaly("truncated data frame", "id", idText)
		return nil
	}
	lenText, ok, err := m.readUntil(ctx, ':', deadline)
	if err != nil {
		return err
	}
	n, nOK := ParseInt(lenText)
	if !ok || !nOK || n < 0 {
		m.anomaly("malformed data frame length", "id", idText, "len", lenText)
		return nil
	}

	var conn *Connection
	if id, idOK := ParseInt(idText); idOK {
		conn, _ = m.table.Get(id)
	}

	switch {
	case conn == nil:
		m.anomaly("data for unknown connection", "id", idText, "len", n)
	case n > conn.Free():
		m.logger.Debug("buffer overflow", "id", conn.id, "len", n, "free", conn.Free())
	default:
		m.logger.Debug("got data", "id", conn.id, "len", n)
	}

	read, accepted := 0, 0
	for read < n {
		b, ok, err := m.nextByte(ctx, deadline)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		read++
		if conn != nil && conn.inbox.put(b) {
			accepted++
		}
	}

	if read < n {
		m.logger.Debug("fewer bytes received than announced", "id", idText, "want", n, "got", read)
	}

	dropped := read - accepted
	m.stats.BytesReceived += accepted
	m.stats.BytesDropped += dropped
	m.metrics.IncrCounter([]string{"rx", "bytes"}, float32(accepted))
	if dropped > 0 {
		m.metrics.IncrCounter([]string{"rx", "dropped"}, float32(dropped))
	}
	return nil
}

// receiveClosed handles "<id>," preceding the closed sentinel on the
// current line.
func (m *Modem) receiveClosed(prefix []byte) {
	m.stats.ClosedNotices++
	m.metrics.IncrCounter([]string{"conn", "closed_notice"}, 1)

	line := prefix[bytes.LastIndexByte(prefix, '\n')+1:]
	comma := bytes.IndexByte(line, ',')
	if comma < 0 {
		m.logger.Debug("closed notice without id", "line", strings.TrimSpace(string(line)))
		return
	}

	idText := string(line[:comma])
	id, ok := ParseInt(idText)
	if !ok || !m.table.MarkClosed(id) {
		m.anomaly("closed notice for unknown connection", "id", idText)
		return
	}
	m.logger.Debug("closed", "id", id)
}

func (m *Modem) unhandled(data []byte) {
	lines := at.Lines(data)
	if len(lines) == 0 {
		return
	}
	m.stats.Unhandled++
	m.metrics.IncrCounter([]string{"rx", "unhandled"}, 1)
	m.logger.Debug("unhandled", "lines", lines, "kind", at.Classify(lines[len(lines)-1]))
}

func (m *Modem) anomaly(msg string, args ...any) {
	m.stats.Anomalies++
	m.metrics.IncrCounter([]string{"rx", "anomaly"}, 1)
	m.logger.Warn(msg, args...)
}

// ParseInt parses the leading decimal integer of s after surrounding
// whitespace is removed. Trailing non-digits are ignored.
func ParseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	sign := 0
	if s != "" && (s[0] == '-' || s[0] == '+') {
		sign = 1
	}
	end := sign
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == sign {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

func hasSuffix(data []byte, s string) bool {
	return s != "" && len(data) >= len(s) && string(data[len(data)-len(s):]) == s
}
