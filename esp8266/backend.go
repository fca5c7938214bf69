// Package esp8266 binds the generic modem engine to the ESP8266 AT firmware
// and adds the Wi-Fi and identity commands of that module.
package esp8266

import (
	"fmt"
	"time"

	"i4.energy/across/espmux/at"
	"i4.energy/across/espmux/modem"
)

// MuxCount is the number of simultaneous links the firmware supports.
const MuxCount = 5

// Backend is the ESP8266 command vocabulary.
type Backend struct{}

var _ modem.Backend = Backend{}

func (Backend) Name() string { return "ESP8266" }

func (Backend) Vocabulary() modem.Vocabulary {
	return modem.Vocabulary{
		OK:               at.OK + at.CRLF,
		Error:            at.ERROR + at.CRLF,
		CMEError:         at.CRLF + at.CmeError,
		AlreadyConnected: at.AlreadyConnected,
		SendPrompt:       at.Prompt,
		SendOK:           at.CRLF + at.SendOK + at.CRLF,
		SendFail:         at.CRLF + at.SendFail + at.CRLF,
		StatusHeader:     at.StatusHeader,
		StatusCodes:      []string{"2", "3", "4", "5"},
		ConnStatusPrefix: at.ConnStatus,
		DataSentinel:     at.UrcData,
		ClosedSentinel:   at.UrcClosed,
	}
}

// InitCommands turn echo off, enable multiple connections and select
// station mode.
func (Backend) InitCommands() []string {
	return []string{"E0", "+CIPMUX=1", "+CWMODE_CUR=1"}
}

func (Backend) OpenCommands(id int, opts modem.OpenOptions, keepAlive time.Duration, sslBufferSize int) []string {
	var cmds []string
	proto := "TCP"
	if opts.Secure {
		cmds = append(cmds, fmt.Sprintf("+CIPSSLSIZE=%d", sslBufferSize))
		proto = "SSL"
	}
	return append(cmds, fmt.Sprintf(`+CIPSTART=%d,"%s","%s",%d,%d`,
		id, proto, opts.Host, opts.Port, int(keepAlive/time.Second)))
}

func (Backend) CloseCommand(id int) string {
	return fmt.Sprintf("+CIPCLOSE=%d", id)
}

func (Backend) SendCommand(id, n int) string {
	return fmt.Sprintf("+CIPSEND=%d,%d", id, n)
}

func (Backend) StatusCommand() string {
	return "+CIPSTATUS"
}
