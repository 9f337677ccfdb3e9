package modem

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock.go -package=modem

// Transport represents an established, bidirectional byte stream to a GSM modem.
//
// A Transport is assumed to be already connected and ready for use. It provides
// the low-level I/O primitives required to send AT commands and receive responses.
// Typical implementations include serial ports, TCP connections to emulators,
// or in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a GSM modem.
//
// Dialer abstracts how the modem connection is created (for example, via a
// serial port, TCP-based emulator, or test double). The session keeps its
// Dialer for the whole lifetime so it can redial after the line goes dead.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport.
	// It returns an error if the transport cannot be established.
	Dial() (Transport, error)
}

// SerialDialer opens a GSM modem over a serial port.
type SerialDialer struct {
	// PortName is the device path, e.g. "/dev/ttyUSB2".
	PortName string
	// BaudRate is the line rate, e.g. 115200.
	BaudRate int
}

// Dial opens the serial port in 8N1 mode at the configured rate.
func (d SerialDialer) Dial() (Transport, error) {
	mode := &serial.Mode{
		BaudRate: d.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}
