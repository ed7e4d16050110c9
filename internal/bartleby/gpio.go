package bartleby

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/warthog618/go-gpiocdev"
)

// GPIOEncoder drives EncoderSource from a quadrature rotary encoder wired
// to two GPIO character-device lines. It decodes A/B edges into signed
// detents using the standard 2-bit Gray-code state table: go-gpiocdev
// delivers edge events on its own goroutine, which this type buffers into
// a plain slice behind a mutex until MainLoop drains it once per tick —
// the encoder peripheral's ISR-fed delta queue, in userspace form.
type GPIOEncoder struct {
	mu      sync.Mutex
	pending []int

	lineA, lineB *gpiocdev.Line
	state        uint8
	logger       *log.Logger
}

// quadratureTable maps the previous 2-bit (A,B) state and the new 2-bit
// state, packed as prev<<2|next, to the detent delta it represents: +1,
// -1, or 0 for a bounce/no-op transition.
var quadratureTable = map[uint8]int{
	0b0001: 1, 0b0111: 1, 0b1110: 1, 0b1000: 1,
	0b0010: -1, 0b1011: -1, 0b1101: -1, 0b0100: -1,
}

// NewGPIOEncoder opens both quadrature lines on chip with edge detection
// and starts decoding immediately. Close releases the lines.
func NewGPIOEncoder(chip string, pinA, pinB int, logger *log.Logger) (*GPIOEncoder, error) {
	var e = &GPIOEncoder{logger: logger}

	lineA, err := gpiocdev.RequestLine(chip, pinA,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(e.handleEdge))
	if err != nil {
		return nil, err
	}

	lineB, err := gpiocdev.RequestLine(chip, pinB,
		gpiocdev.AsInput,
		gpiocdev.WithBothEdges,
		gpiocdev.WithEventHandler(e.handleEdge))
	if err != nil {
		lineA.Close()
		return nil, err
	}

	e.lineA, e.lineB = lineA, lineB
	return e, nil
}

func (e *GPIOEncoder) handleEdge(evt gpiocdev.LineEvent) {
	a, errA := e.lineA.Value()
	b, errB := e.lineB.Value()
	if errA != nil || errB != nil {
		return
	}

	var next = uint8(a)<<1 | uint8(b)
	var delta = quadratureTable[e.state<<2|next]
	e.state = next

	if delta == 0 {
		return
	}

	e.mu.Lock()
	e.pending = append(e.pending, delta)
	e.mu.Unlock()
}

// DrainDeltas implements EncoderSource.
func (e *GPIOEncoder) DrainDeltas() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out = e.pending
	e.pending = nil
	return out
}

// Close releases both GPIO lines.
func (e *GPIOEncoder) Close() error {
	var errA = e.lineA.Close()
	var errB = e.lineB.Close()
	if errA != nil {
		return errA
	}
	return errB
}

// PresencePin drives the GP22 presence signal: held low while the
// controller is powered and ready, released on entry to a reset state.
type PresencePin struct {
	line *gpiocdev.Line
}

// NewPresencePin requests the presence line as an output, asserted (driven
// low) immediately.
func NewPresencePin(chip string, pin int) (*PresencePin, error) {
	line, err := gpiocdev.RequestLine(chip, pin, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, err
	}
	return &PresencePin{line: line}, nil
}

// Assert drives the presence line low (controller powered and ready).
func (p *PresencePin) Assert() error { return p.line.SetValue(0) }

// Release drives the presence line high, signalling entry to a reset state.
func (p *PresencePin) Release() error { return p.line.SetValue(1) }

// Close releases the GPIO line.
func (p *PresencePin) Close() error { return p.line.Close() }
