package bartleby

import "sync/atomic"

// EncoderEngine converts rotary encoder detents into a clamped octave
// offset. It sends no MIDI of its own — an octave change only affects the
// note number KeyEngine latches on the next Note-On — and is
// safe to update from the encoder's own ISR-fed delta channel concurrently
// with KeyEngine reading OctaveOffset, since both sides only ever touch a
// single atomic int32.
type EncoderEngine struct {
	min, max int8
	offset   atomic.Int32
}

// NewEncoderEngine builds an EncoderEngine starting at octave offset 0.
func NewEncoderEngine(min, max int8) *EncoderEngine {
	return &EncoderEngine{min: min, max: max}
}

// ApplyDelta shifts the octave offset by delta detents, clamped to
// [min, max]. Detents beyond the clamp are discarded, not accumulated for
// later — matching the data model's accumulated_delta being the pending,
// not-yet-applied count, which is always fully applied (or clamped) by the
// time this returns.
func (e *EncoderEngine) ApplyDelta(delta int) {
	for {
		var current = e.offset.Load()
		var sum = int(current) + delta
		if sum > 127 {
			sum = 127
		} else if sum < -128 {
			sum = -128
		}
		var next = clampI8(int8(sum), e.min, e.max)
		if e.offset.CompareAndSwap(current, int32(next)) {
			return
		}
	}
}

// OctaveOffset returns the currently effective octave offset.
func (e *EncoderEngine) OctaveOffset() int8 {
	return int8(e.offset.Load())
}
