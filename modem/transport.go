package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to the
// communication module.
//
// A Transport is assumed to be already connected and ready for use. It
// provides the low-level blocking I/O primitives. Typical implementations
// include serial ports, TCP connections to emulators, or in-memory fakes used
// for testing. Use NewPortStream to adapt a Transport to the non-blocking
// Stream the engine consumes.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to the module.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port, TCP-based emulator, or test double) and is intended to be used during
// modem construction only. Once a Transport is obtained, the Dialer is no
// longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// DefaultBaudRate is the factory UART speed of ESP8266 AT firmware.
const DefaultBaudRate = 115200

// SerialDialer opens the module over a local serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB0" or "COM3".
	PortName string
	// BaudRate is used when Mode is nil. Zero means DefaultBaudRate.
	BaudRate int
	// Mode overrides the full line configuration when set.
	Mode *serial.Mode
	// ReadTimeout bounds each blocking Read on the port. Zero leaves reads
	// blocking until data arrives or the port is closed.
	ReadTimeout time.Duration
}

// Dial opens the configured serial port.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", d.PortName, err)
	}

	if d.ReadTimeout > 0 {
		if err := port.SetReadTimeout(d.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %q: %w", d.PortName, err)
		}
	}

	return port, nil
}
