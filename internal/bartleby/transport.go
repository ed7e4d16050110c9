package bartleby

import (
	"github.com/charmbracelet/log"
)

// UART is the out-of-scope serial transport collaborator: a non-blocking
// driver for the physical 8-N-1 link carrying both outbound MIDI/ASCII
// bytes and inbound ASCII bytes.
type UART interface {
	// AvailableToWrite reports how many bytes can be written right now
	// without blocking, so TransportMux never has to split a frame.
	AvailableToWrite() int
	// WriteBytes writes p, which the caller has already confirmed fits
	// per AvailableToWrite.
	WriteBytes(p []byte) error
	// ReadAvailableBytes drains whatever inbound bytes have arrived since
	// the last call, or nil if none.
	ReadAvailableBytes() []byte
}

// FrameSink is the destination engines enqueue outbound MIDI bytes and
// ASCII replies into. TransportMux is the only implementation in this
// package; it exists as an interface so MpeAllocator/KeyEngine/PotEngine
// don't depend on transport's queueing or coalescing internals.
type FrameSink interface {
	EnqueueMIDI(frame []byte)
	EnqueueASCII(line string)
}

type frameKind int

const (
	frameMIDI frameKind = iota
	frameASCII
)

type frame struct {
	kind  frameKind
	bytes []byte
}

// coalesceKey identifies a continuous-controller stream for backpressure
// coalescing: (channel, CC number) for Control Change, or (channel, 0xFF)
// as a sentinel for Channel Pressure, since pressure has no CC number of
// its own but is just as safe to coalesce as a CC.
type coalesceKey struct {
	channel uint8
	cc      uint8
}

const pressureCoalesceCC = 0xFF

// TransportMux interleaves outbound MIDI messages and line-terminated
// ASCII frames onto one UART without ever corrupting either, and
// classifies inbound bytes by their top bit into a discarded MIDI stream
// and an ASCII line queue. MIDI frames are never split across writes and
// always take priority over pending ASCII frames.
type TransportMux struct {
	uart   UART
	logger *log.Logger

	midiQueue  []frame
	asciiQueue []frame

	// inbound classifier state
	midiBytesRemaining int
	asciiBuf           []byte
	lines              []string

	maxASCIILine int
}

// NewTransportMux wraps a UART collaborator. maxASCIILine bounds the
// inbound line buffer so a client that never sends '\n' can't grow it
// without limit.
func NewTransportMux(uart UART, logger *log.Logger, maxASCIILine int) *TransportMux {
	return &TransportMux{
		uart:         uart,
		logger:       logger,
		maxASCIILine: maxASCIILine,
	}
}

// EnqueueMIDI appends a complete MIDI message frame, coalescing it with
// any already-queued message for the same (channel, CC-or-pressure)
// stream. Note-On, Note-Off, and the CCs of an RPN sequence are never
// coalesced — coalesceKeyFor returns ok=false for them — so they're
// never dropped under backpressure.
func (t *TransportMux) EnqueueMIDI(bytes []byte) {
	if key, ok := coalesceKeyFor(bytes); ok {
		var kept = t.midiQueue[:0]
		for _, f := range t.midiQueue {
			if k, ok := coalesceKeyFor(f.bytes); ok && k == key {
				continue // drop the older frame for this stream
			}
			kept = append(kept, f)
		}
		t.midiQueue = kept
	}

	t.midiQueue = append(t.midiQueue, frame{kind: frameMIDI, bytes: bytes})
}

// EnqueueASCII appends a '\n'-terminated ASCII frame to the outbound
// queue, adding the terminator if the caller omitted it.
func (t *TransportMux) EnqueueASCII(line string) {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line += "\n"
	}
	t.asciiQueue = append(t.asciiQueue, frame{kind: frameASCII, bytes: []byte(line)})
}

func coalesceKeyFor(b []byte) (coalesceKey, bool) {
	if len(b) == 0 {
		return coalesceKey{}, false
	}
	switch b[0] & 0xF0 {
	case 0xB0: // Control Change
		if isRPNPlumbingCC(b[1]) {
			return coalesceKey{}, false
		}
		return coalesceKey{channel: (b[0] & 0x0F) + 1, cc: b[1]}, true
	case 0xD0: // Channel Pressure
		return coalesceKey{channel: (b[0] & 0x0F) + 1, cc: pressureCoalesceCC}, true
	default:
		return coalesceKey{}, false
	}
}

// isRPNPlumbingCC reports whether ccNumber belongs to an RPN select/value
// sequence (CC 101, 100, 6, 38). Those frames are sequencing, not a
// continuous-controller stream: each six-message sequence uses CC 101 and
// CC 100 twice (parameter select, then null select), so coalescing by
// (channel, cc) would drop the opening select pair and leave the CC 6
// value landing with no RPN selected. They are never coalesced.
func isRPNPlumbingCC(ccNumber uint8) bool {
	switch ccNumber {
	case 6, 38, 100, 101:
		return true
	}
	return false
}

// Pump attempts to write queued frames to the UART, up to maxFrames
// attempts, stopping as soon as one frame doesn't fit so the head of the
// queue is always the next thing retried. MIDI frames are drained before
// any ASCII frame is attempted.
func (t *TransportMux) Pump(maxFrames int) {
	for i := 0; i < maxFrames; i++ {
		var q *[]frame
		switch {
		case len(t.midiQueue) > 0:
			q = &t.midiQueue
		case len(t.asciiQueue) > 0:
			q = &t.asciiQueue
		default:
			return
		}

		var head = (*q)[0]
		if t.uart.AvailableToWrite() < len(head.bytes) {
			return // retry next tick; queue head is untouched
		}

		if err := t.uart.WriteBytes(head.bytes); err != nil {
			if t.logger != nil {
				t.logger.Error("uart write failed", "err", err)
			}
			return
		}

		*q = (*q)[1:]
	}
}

// PollInbound drains whatever bytes the UART has buffered and classifies
// them: bytes with the high bit set start a MIDI status byte whose message
// is discarded on this path (this device does not consume inbound MIDI);
// while a MIDI message's data bytes are still expected, ASCII accumulation
// pauses so framing doesn't get corrupted by interleaved traffic.
func (t *TransportMux) PollInbound() {
	for _, b := range t.uart.ReadAvailableBytes() {
		switch {
		case b&0x80 != 0:
			t.midiBytesRemaining = midiDataBytesFor(b)
		case t.midiBytesRemaining > 0:
			t.midiBytesRemaining--
		case b == '\n':
			t.lines = append(t.lines, string(t.asciiBuf))
			t.asciiBuf = t.asciiBuf[:0]
		default:
			if len(t.asciiBuf) < t.maxASCIILine {
				t.asciiBuf = append(t.asciiBuf, b)
			}
			// Over-long lines without a terminator are silently
			// truncated rather than grown without bound; the line is
			// still enqueued, just short, whenever '\n' eventually
			// arrives.
		}
	}
}

// DrainLines returns and clears the queue of complete inbound ASCII lines.
func (t *TransportMux) DrainLines() []string {
	var lines = t.lines
	t.lines = nil
	return lines
}

// midiDataBytesFor returns how many data bytes follow a status byte, for
// the message types this channel voice protocol can plausibly see.
// System Common/Realtime bytes (0xF0-0xFF) are treated as carrying no data
// bytes of their own on this link — the controller never originates or
// expects SysEx — which is a simplification documented here rather than a
// literal reading of the full MIDI 1.0 system-message table.
func midiDataBytesFor(status byte) int {
	switch status & 0xF0 {
	case 0x80, 0x90, 0xA0, 0xB0, 0xE0:
		return 2
	case 0xC0, 0xD0:
		return 1
	default:
		return 0
	}
}
