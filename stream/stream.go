// Package stream owns the raw byte-stream boundary under the PULSE stack.
//
// Ownership boundary:
// - the Conn contract the receive loop is written against
// - serial port opener
// - in-memory duplex pipe for tests and loopback tooling
package stream

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Conn is the physical-link byte stream. A zero-length read means "no data
// right now", not end of stream; any returned error is a fatal stream
// closure.
type Conn interface {
	io.ReadWriteCloser
}

// readPoll bounds how long an idle serial read blocks, so the read returns
// (0, nil) periodically and the receive loop can observe shutdown.
const readPoll = 100 * time.Millisecond

// OpenSerial opens a serial device configured for PULSE traffic.
func OpenSerial(device string, baud int) (Conn, error) {
	port, err := serial.Open(device, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := port.SetReadTimeout(readPoll); err != nil {
		port.Close()
		return nil, err
	}
	return port, nil
}
