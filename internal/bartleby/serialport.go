package bartleby

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/term"
)

// BaudRate is the fixed link speed: 31250 baud, the standard MIDI 1.0
// rate, carried 8-N-1.
const BaudRate = 31250

// maxPendingWrite is the fixed byte budget AvailableToWrite reports.
// SerialUART keeps no write buffer of its own: WriteBytes hands each frame
// (a 1-3 byte MIDI message or one ASCII line) straight to the port.
const maxPendingWrite = 4096

// SerialUART implements UART over a real serial device via pkg/term.
// Reads happen on a dedicated goroutine (the device driver's side of the
// non-blocking contract) and are handed to the caller through a small
// mutex-guarded buffer rather than a blocking channel read, so
// ReadAvailableBytes never blocks the scheduler tick that calls it.
type SerialUART struct {
	port *term.Term

	mu      sync.Mutex
	rxBuf   []byte
	closed  bool
	readErr error

	logger *log.Logger
}

// OpenSerialUART opens device in raw mode at BaudRate and starts the
// background reader.
func OpenSerialUART(device string, logger *log.Logger) (*SerialUART, error) {
	port, err := term.Open(device, term.Speed(BaudRate), term.RawMode)
	if err != nil {
		return nil, err
	}

	var u = &SerialUART{port: port, logger: logger}
	go u.readLoop()
	return u, nil
}

func (u *SerialUART) readLoop() {
	var chunk = make([]byte, 256)
	for {
		var n, err = u.port.Read(chunk)
		if n > 0 {
			u.mu.Lock()
			u.rxBuf = append(u.rxBuf, chunk[:n]...)
			u.mu.Unlock()
		}
		if err != nil {
			u.mu.Lock()
			u.closed = true
			u.readErr = err
			u.mu.Unlock()
			if u.logger != nil {
				u.logger.Error("serial read loop stopped", "err", err)
			}
			return
		}
	}
}

// AvailableToWrite reports a conservative fixed budget: pkg/term exposes
// no portable way to query the kernel TTY output queue depth, so every
// write is attempted up to maxPendingWrite and TransportMux's own retry
// behaviour absorbs genuine backpressure.
func (u *SerialUART) AvailableToWrite() int {
	return maxPendingWrite
}

// WriteBytes writes p to the serial port.
func (u *SerialUART) WriteBytes(p []byte) error {
	var _, err = u.port.Write(p)
	return err
}

// ReadAvailableBytes drains whatever the background reader has
// accumulated since the last call.
func (u *SerialUART) ReadAvailableBytes() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()

	if len(u.rxBuf) == 0 {
		return nil
	}
	var out = u.rxBuf
	u.rxBuf = nil
	return out
}

// Close closes the underlying serial port.
func (u *SerialUART) Close() error {
	return u.port.Close()
}
