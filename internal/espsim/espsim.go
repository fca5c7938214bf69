// Package espsim simulates the AT firmware of an ESP8266 in multiplexed
// station mode. A Sim satisfies modem.Stream, so an engine can be driven
// against it without hardware.
package espsim

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"i4.energy/across/espmux/at"
)

// Links is the number of link ids the firmware accepts.
const Links = 5

// AP describes the access point the simulated station can join.
type AP struct {
	SSID     string
	Password string
	BSSID    string
	Channel  int
	RSSI     int
	IP       string
}

// DefaultAP is joinable with the credentials "lab"/"secret".
var DefaultAP = AP{
	SSID:     "lab",
	Password: "secret",
	BSSID:    "a4:2b:b0:11:22:33",
	Channel:  6,
	RSSI:     -58,
	IP:       "192.168.4.20",
}

type link struct {
	proto string
	host  string
	port  int
	local int
	sent  bytes.Buffer
}

// Sim is a simulated module. The zero value is not usable; call New.
type Sim struct {
	mu sync.Mutex

	ap      AP
	joined  bool
	refused map[string]bool

	links    [Links]*link
	hadLink  bool
	nextPort int

	in  []byte
	out []byte

	// sendID and sendLen are set while a raw payload is expected
	sendID  int
	sendLen int

	commands []string
}

// New returns a module joined to ap when joined is true.
func New(ap AP, joined bool) *Sim {
	return &Sim{
		ap:       ap,
		joined:   joined,
		refused:  make(map[string]bool),
		nextPort: 4000,
		sendID:   -1,
	}
}

// Refuse makes every connection attempt to host fail.
func (s *Sim) Refuse(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refused[host] = true
}

// Available implements modem.Stream.
func (s *Sim) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.out)
}

// Next implements modem.Stream.
func (s *Sim) Next() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.out) == 0 {
		return 0, nil
	}
	b := s.out[0]
	s.out = s.out[1:]
	return b, nil
}

// Write implements modem.Stream. Complete command lines are answered
// immediately.
func (s *Sim) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.in = append(s.in, p...)
	s.process()
	return len(p), nil
}

func (s *Sim) Flush() error { return nil }

// Commands returns every command line received, without the AT prefix.
func (s *Sim) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Sent returns the payload bytes the host sent on id.
func (s *Sim) Sent(id int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l := s.link(id); l != nil {
		return l.sent.String()
	}
	return ""
}

// Open reports whether the module holds link id.
func (s *Sim) Open(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link(id) != nil
}

// Deliver emits an inbound data frame for id.
func (s *Sim) Deliver(id int, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(fmt.Sprintf("\r\n+IPD,%d,%d:%s", id, len(payload), payload))
}

// Drop tears link id down from the remote side and reports it.
func (s *Sim) Drop(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link(id) != nil {
		s.links[id] = nil
		s.emit(fmt.Sprintf("%d,CLOSED\r\n", id))
	}
}

// DropSilently tears link id down without a notice, as happens when the
// notice is lost on the wire.
func (s *Sim) DropSilently(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.link(id) != nil {
		s.links[id] = nil
	}
}

// Emit queues raw module output.
func (s *Sim) Emit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emit(text)
}

func (s *Sim) emit(text string) {
	s.out = append(s.out, text...)
}

func (s *Sim) link(id int) *link {
	if id < 0 || id >= Links {
		return nil
	}
	return s.links[id]
}

func (s *Sim) process() {
	for len(s.in) > 0 {
		if s.sendID >= 0 {
			if len(s.in) < s.sendLen {
				return
			}
			if l := s.link(s.sendID); l != nil {
				l.sent.Write(s.in[:s.sendLen])
				s.emit(fmt.Sprintf("\r\nRecv %d bytes\r\n\r\nSEND OK\r\n", s.sendLen))
			} else {
				s.emit("\r\nSEND FAIL\r\n")
			}
			s.in = s.in[s.sendLen:]
			s.sendID, s.sendLen = -1, 0
			continue
		}

		advance, token, _ := at.Splitter(s.in, false)
		if advance == 0 {
			return
		}
		s.in = s.in[advance:]

		line := strings.TrimSpace(string(token))
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "AT") {
			s.emit("\r\nERROR\r\n")
			continue
		}
		cmd := strings.TrimPrefix(line, "AT")
		s.commands = append(s.commands, cmd)
		s.execute(cmd)
	}
}

func (s *Sim) execute(cmd string) {
	name, args, _ := strings.Cut(cmd, "=")
	switch name {
	case "", "E0", "+CIPMUX", "+CWMODE_CUR", "+CIPSSLSIZE", "+RESTORE", "+GSLP":
		s.emit("\r\nOK\r\n")
	case "+RST":
		s.links = [Links]*link{}
		s.emit("\r\nOK\r\n ets Jan  8 2013,rst cause:2\r\n\r\nready\r\n")
	case "+GMR":
		s.emit("AT version:1.7.4.0(May 11 2020 19:13:04)\r\nSDK version:3.0.4(9532ceb)\r\ncompile time:May 27 2020 10:12:17\r\n\r\nOK\r\n")
	case "+UART_CUR":
		s.emit("\r\nOK\r\n")
	case "+CIPSTART":
		s.start(args)
	case "+CIPCLOSE":
		s.close(args)
	case "+CIPSEND":
		s.send(args)
	case "+CIPSTATUS":
		s.status()
	case "+CWJAP_CUR":
		s.join(args)
	case "+CWJAP_CUR?":
		if !s.joined {
			s.emit("No AP\r\n\r\nOK\r\n")
			return
		}
		s.emit(fmt.Sprintf("+CWJAP_CUR:\"%s\",\"%s\",%d,%d\r\n\r\nOK\r\n",
			s.ap.SSID, s.ap.BSSID, s.ap.Channel, s.ap.RSSI))
	case "+CWQAP":
		s.emit("\r\nOK\r\n")
		if s.joined {
			s.joined = false
			s.dropAll()
			s.emit("WIFI DISCONNECT\r\n")
		}
	case "+CIPSTA_CUR?":
		ip := "0.0.0.0"
		if s.joined {
			ip = s.ap.IP
		}
		s.emit(fmt.Sprintf("+CIPSTA_CUR:ip:\"%s\"\r\n+CIPSTA_CUR:gateway:\"0.0.0.0\"\r\n+CIPSTA_CUR:netmask:\"0.0.0.0\"\r\n\r\nOK\r\n", ip))
	default:
		s.emit("\r\nERROR\r\n")
	}
}

func (s *Sim) start(args string) {
	fields := strings.Split(args, ",")
	if len(fields) < 4 {
		s.emit("\r\nERROR\r\n")
		return
	}
	id, err := strconv.Atoi(fields[0])
	port, perr := strconv.Atoi(fields[3])
	if err != nil || perr != nil || id < 0 || id >= Links {
		s.emit("\r\nERROR\r\n")
		return
	}
	if s.links[id] != nil {
		s.emit("ALREADY CONNECT\r\n\r\nERROR\r\n")
		return
	}

	host := strings.Trim(fields[2], `"`)
	if !s.joined || s.refused[host] {
		s.emit("\r\nERROR\r\nCLOSED\r\n")
		return
	}

	s.links[id] = &link{
		proto: strings.Trim(fields[1], `"`),
		host:  host,
		port:  port,
		local: s.nextPort,
	}
	s.nextPort++
	s.hadLink = true
	s.emit(fmt.Sprintf("%d,CONNECT\r\n\r\nOK\r\n", id))
}

func (s *Sim) close(args string) {
	id, err := strconv.Atoi(args)
	if err != nil || s.link(id) == nil {
		s.emit("UNLINK\r\n\r\nERROR\r\n")
		return
	}
	s.links[id] = nil
	s.emit(fmt.Sprintf("%d,CLOSED\r\n\r\nOK\r\n", id))
}

func (s *Sim) send(args string) {
	idText, lenText, _ := strings.Cut(args, ",")
	id, err := strconv.Atoi(idText)
	n, nerr := strconv.Atoi(lenText)
	if err != nil || nerr != nil || n <= 0 || n > 2048 || s.link(id) == nil {
		s.emit("link is not valid\r\n\r\nERROR\r\n")
		return
	}
	s.sendID, s.sendLen = id, n
	s.emit("\r\nOK\r\n> ")
}

func (s *Sim) status() {
	code := 2
	switch {
	case !s.joined:
		code = 5
	case s.openLinks() > 0:
		code = 3
	case s.hadLink:
		code = 4
	}

	var b strings.Builder
	fmt.Fprintf(&b, "STATUS:%d\r\n", code)
	for id, l := range s.links {
		if l != nil {
			fmt.Fprintf(&b, "+CIPSTATUS:%d,\"%s\",\"%s\",%d,%d,0\r\n", id, l.proto, l.host, l.port, l.local)
		}
	}
	b.WriteString("\r\nOK\r\n")
	s.emit(b.String())
}

func (s *Sim) join(args string) {
	ssid, pwd, _ := strings.Cut(args, ",")
	if strings.Trim(ssid, `"`) != s.ap.SSID || strings.Trim(pwd, `"`) != s.ap.Password {
		s.emit("+CWJAP:1\r\n\r\nFAIL\r\n")
		return
	}
	s.joined = true
	s.emit("WIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n")
}

func (s *Sim) dropAll() {
	for id, l := range s.links {
		if l != nil {
			s.links[id] = nil
			s.emit(fmt.Sprintf("%d,CLOSED\r\n", id))
		}
	}
}

func (s *Sim) openLinks() int {
	n := 0
	for _, l := range s.links {
		if l != nil {
			n++
		}
	}
	return n
}
