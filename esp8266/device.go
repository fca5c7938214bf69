package esp8266

import (
	"context"
	"fmt"
	"strings"
	"time"

	"i4.energy/across/espmux/at"
	"i4.energy/across/espmux/modem"
)

const (
	restartTimeout = 10 * time.Second
	joinTimeout    = 30 * time.Second
	leaveTimeout   = 10 * time.Second

	unassignedIP = "0.0.0.0"
)

// Device exposes the ESP8266 commands that are not part of the connection
// engine: identity, power and Wi-Fi station control.
type Device struct {
	m *modem.Modem
}

func NewDevice(m *modem.Modem) *Device {
	return &Device{m: m}
}

// Modem returns the engine the device runs on.
func (d *Device) Modem() *modem.Modem {
	return d.m
}

// TestAT reports whether the module answers the attention command within
// timeout.
func (d *Device) TestAT(ctx context.Context, timeout time.Duration) (bool, error) {
	return d.m.TestAT(ctx, timeout)
}

// Restart resets the module, waits for its ready banner and re-runs init.
func (d *Device) Restart(ctx context.Context) error {
	ok, err := d.TestAT(ctx, time.Second)
	if err != nil {
		return err
	}
	if !ok {
		return modem.ErrNotResponding
	}

	match, _, err := d.m.Exec(ctx, restartTimeout, "+RST")
	if err != nil {
		return err
	}
	if match != 1 {
		return fmt.Errorf("restart: %w", modem.ErrCommandFailed)
	}

	match, _, err = d.m.WaitResponse(ctx, restartTimeout, at.CRLF+at.Ready+at.CRLF)
	if err != nil {
		return err
	}
	if match != 1 {
		return fmt.Errorf("restart: no ready banner: %w", modem.ErrNotResponding)
	}

	return d.m.Init(ctx)
}

// FactoryDefault restores the firmware's factory settings.
func (d *Device) FactoryDefault(ctx context.Context) (bool, error) {
	return d.m.ExpectOK(ctx, "+RESTORE")
}

// PowerOff puts the module into deep sleep until it is reset externally.
func (d *Device) PowerOff(ctx context.Context) (bool, error) {
	return d.m.ExpectOK(ctx, "+GSLP=0")
}

// SetBaud changes the UART speed for the current session. The module answers
// at the new speed, so no answer is awaited.
func (d *Device) SetBaud(baud int) error {
	return d.m.SendCommand(fmt.Sprintf("+UART_CUR=%d,8,1,0,0", baud))
}

// Info returns the firmware version report on a single line.
func (d *Device) Info(ctx context.Context) (string, error) {
	match, resp, err := d.m.Exec(ctx, time.Second, "+GMR")
	if err != nil || match != 1 {
		return "", err
	}
	resp = strings.Replace(resp, at.CRLF+at.OK+at.CRLF, "", 1)
	resp = strings.TrimSuffix(resp, at.OK+at.CRLF)
	resp = strings.ReplaceAll(resp, at.CRLF, " ")
	return strings.TrimSpace(resp), nil
}

// SignalQuality returns the RSSI of the joined access point, or 0 when the
// station is not joined.
func (d *Device) SignalQuality(ctx context.Context) (int, error) {
	match, _, err := d.m.Exec(ctx, time.Second, "+CWJAP_CUR?", at.NoAP, "+CWJAP_CUR:")
	if err != nil {
		return 0, err
	}
	if match != 2 {
		_, _, err := d.m.WaitResponse(ctx, time.Second)
		return 0, err
	}

	// ssid, bssid, channel
	for range 3 {
		if _, err := d.m.SkipUntil(ctx, ',', time.Second); err != nil {
			return 0, err
		}
	}
	line, _, err := d.m.ReadUntil(ctx, '\n', time.Second)
	if err != nil {
		return 0, err
	}
	rssi, _ := modem.ParseInt(line)

	if _, _, err := d.m.WaitResponse(ctx, time.Second); err != nil {
		return 0, err
	}
	return rssi, nil
}

// JoinNetwork joins the access point ssid.
func (d *Device) JoinNetwork(ctx context.Context, ssid, password string) (bool, error) {
	cmd := fmt.Sprintf(`+CWJAP_CUR="%s","%s"`, ssid, password)
	match, _, err := d.m.Exec(ctx, joinTimeout, cmd, at.OK+at.CRLF, at.CRLF+at.Fail+at.CRLF)
	if err != nil {
		return false, err
	}
	return match == 1, nil
}

// LeaveNetwork disconnects from the access point.
func (d *Device) LeaveNetwork(ctx context.Context) (bool, error) {
	match, _, err := d.m.Exec(ctx, leaveTimeout, "+CWQAP")
	if err != nil {
		return false, err
	}
	if _, _, err := d.m.WaitResponse(ctx, time.Second, at.UrcWifiDisconnect); err != nil {
		return false, err
	}
	return match == 1, nil
}

// LocalIP returns the station address as reported, "0.0.0.0" when none is
// assigned, or "" when the module did not answer.
func (d *Device) LocalIP(ctx context.Context) (string, error) {
	match, _, err := d.m.Exec(ctx, time.Second, "+CIPSTA_CUR?", at.ERROR+at.CRLF, `+CIPSTA_CUR:ip:"`)
	if err != nil || match != 2 {
		return "", err
	}
	ip, _, err := d.m.ReadUntil(ctx, '"', time.Second)
	if err != nil {
		return "", err
	}
	if _, _, err := d.m.WaitResponse(ctx, time.Second); err != nil {
		return "", err
	}
	return ip, nil
}

// NetworkConnected reports whether the station has an address.
func (d *Device) NetworkConnected(ctx context.Context) (bool, error) {
	status, err := d.m.PollStatus(ctx)
	if err != nil {
		return false, err
	}
	switch status {
	case modem.RegOKIP, modem.RegOKTCP:
		return true, nil
	case modem.RegOKNoTCP:
		ip, err := d.LocalIP(ctx)
		return ip != "" && ip != unassignedIP, err
	default:
		return false, nil
	}
}
