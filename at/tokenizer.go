package at

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// maxFrameHeader bounds "+IPD,<id>,<len>:" so a stray prefix without a colon
// falls back to line splitting.
const maxFrameHeader = 24

// Splitter tokenizes module output for a bufio.Scanner.
//
// Tokens are CRLF-terminated lines without the terminator, the raw data
// prompt ">" (a following space is consumed with it) and whole inbound data
// frames "+IPD,<id>,<len>:<payload>", so payloads that contain CRLF stay in
// one token. NUL bytes before a token are dropped. At EOF the remainder is
// returned as the last token even when it is a truncated frame.
//
// Command echo is not recognized; the module is expected to run with ATE0.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	skip := 0
	for skip < len(data) && data[skip] == 0 {
		skip++
	}
	rest := data[skip:]
	if len(rest) == 0 {
		return skip, nil, nil
	}

	if bytes.HasPrefix(rest, []byte(Prompt)) {
		n := len(Prompt)
		if len(rest) > n && rest[n] == ' ' {
			n++
		}
		return skip + n, rest[:len(Prompt)], nil
	}

	if bytes.HasPrefix(rest, []byte(UrcData)) {
		if n, ok := frameLength(rest); ok {
			if len(rest) >= n {
				return skip + n, rest[:n], nil
			}
			if atEOF {
				return len(data), rest, nil
			}
			return skip, nil, nil
		}
	}

	if i := bytes.Index(rest, []byte(CRLF)); i >= 0 {
		return skip + i + len(CRLF), rest[:i], nil
	}

	if atEOF {
		return len(data), rest, nil
	}
	return skip, nil, nil
}

var _ bufio.SplitFunc = Splitter

// frameLength returns the total size of the data frame at the start of data,
// header included. ok is false when the header is incomplete or malformed.
func frameLength(data []byte) (int, bool) {
	header := data
	if len(header) > maxFrameHeader {
		header = header[:maxFrameHeader]
	}
	colon := bytes.IndexByte(header, ':')
	if colon < 0 {
		return 0, false
	}
	fields := strings.Split(string(header[len(UrcData):colon]), ",")
	if len(fields) != 2 {
		return 0, false
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return 0, false
	}
	return colon + 1 + n, true
}

// Lines scans captured module output into its non-blank tokens.
func Lines(data []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Split(Splitter)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Classify identifies the nature of a single token of module output.
func Classify(line string) ResponseType {
	switch line {
	case Prompt:
		return TypePrompt
	case OK, ERROR, Fail, SendOK, SendFail:
		return TypeFinal
	}

	switch {
	case strings.HasPrefix(line, CmeError), strings.HasPrefix(line, AlreadyConnected):
		return TypeFinal
	case strings.HasPrefix(line, UrcData),
		strings.HasSuffix(line, ","+UrcClosed),
		strings.HasSuffix(line, ","+UrcConnect),
		strings.HasPrefix(line, "WIFI "):
		return TypeURC
	}
	return TypeData
}
