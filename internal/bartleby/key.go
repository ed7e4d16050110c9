package bartleby

import (
	"math"
	"time"

	"github.com/charmbracelet/log"
)

// Phase is a key's position in the dual-phase detection state machine.
type Phase int

const (
	Idle Phase = iota
	Rising
	Held
	Releasing
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Rising:
		return "rising"
	case Held:
		return "held"
	case Releasing:
		return "releasing"
	default:
		return "unknown"
	}
}

const noChannel = 0 // valid channels are 2..16; 0 means "assigned_channel == None"

// Key is one of the 25 independent key state machines. It is statically
// allocated and lives for the program's lifetime; KeyEngine is its sole
// owner and the only thing permitted to mutate it.
type Key struct {
	phase Phase

	sampleA, sampleB uint16

	velocity   uint8
	pressure   uint8 // last value emitted via ChannelPressure
	noteNumber uint8

	assignedChannel uint8 // noChannel when phase != Held
	tRisingStart    time.Time
}

// Phase reports the key's current state, for tests and diagnostics.
func (k Key) Phase() Phase { return k.phase }

// OctaveSource supplies the currently effective octave offset; KeyEngine
// reads it exactly once per note-on so a mid-hold octave change never
// retunes an already-sounding note.
type OctaveSource interface {
	OctaveOffset() int8
}

// KeyEngine drives all 25 key state machines from one scan's worth of
// sample pairs, in index order, emitting note-offs before note-ons within
// the same scan so MpeAllocator's free-list accounting stays correct.
type KeyEngine struct {
	tuning    Tuning
	allocator *MpeAllocator
	sink      FrameSink
	octave    OctaveSource
	logger    *log.Logger

	keys [NumKeys]Key
}

// NewKeyEngine builds a KeyEngine with every key Idle.
func NewKeyEngine(tuning Tuning, allocator *MpeAllocator, sink FrameSink, octave OctaveSource, logger *log.Logger) *KeyEngine {
	return &KeyEngine{
		tuning:    tuning,
		allocator: allocator,
		sink:      sink,
		octave:    octave,
		logger:    logger,
	}
}

// Key returns a copy of one key's current state, for tests and invariant
// checks.
func (e *KeyEngine) Key(index int) Key { return e.keys[index] }

// Scan drives every key's state machine from a fresh pair of samples,
// enforcing at most one transition per key per scan, in three passes over
// the whole keybed: releases settle first, then note-ons, then pressure
// updates. Running releases before any note-on means a steal triggered by
// this scan's own note-ons can never be reordered ahead of an unrelated
// key's release; running pressure updates last means a held key's
// ChannelPressure can never precede another key's note-off or note-on in
// the same scan. A key whose phase changed in the first pass is not offered
// a note-on until the next scan.
func (e *KeyEngine) Scan(now time.Time, samples [NumKeys][2]uint16) {
	var before [NumKeys]Phase
	for i := 0; i < NumKeys; i++ {
		e.keys[i].sampleA = samples[i][0]
		e.keys[i].sampleB = samples[i][1]
		before[i] = e.keys[i].phase
		e.settleReleases(i, now)
	}

	for i := 0; i < NumKeys; i++ {
		if e.keys[i].phase == before[i] {
			e.tryNoteOn(i, now)
		}
	}

	for i := 0; i < NumKeys; i++ {
		e.updatePressure(i)
	}
}

// settleReleases applies every transition that produces neither a Note-On
// nor a pressure update: Idle -> Rising, the Rising -> Idle abort,
// Held -> Releasing (with its Note-Off), and Releasing -> Idle.
func (e *KeyEngine) settleReleases(i int, now time.Time) {
	var k = &e.keys[i]

	switch k.phase {
	case Idle:
		if k.sampleA >= e.tuning.ThresholdOn {
			k.phase = Rising
			k.tRisingStart = now
		}

	case Rising:
		if k.sampleA < e.tuning.ThresholdOff && k.sampleB < e.tuning.ThresholdOn {
			k.phase = Idle
		}
		// The Rising -> Held transition (sample_b crossing ThresholdOn)
		// is handled in tryNoteOn, after every key's releases have run.

	case Held:
		if k.sampleB < e.tuning.ThresholdOff {
			e.release(i)
		}

	case Releasing:
		if k.sampleA < e.tuning.ThresholdOff {
			k.phase = Idle
		}
	}
}

// updatePressure emits a Held key's ChannelPressure once the mapped value
// has moved past the dead-band. A key that reached Held in this same
// scan's note-on pass already latched its pressure there, so it emits
// nothing here until a later scan moves it.
func (e *KeyEngine) updatePressure(i int) {
	var k = &e.keys[i]

	if k.phase != Held {
		return
	}

	var mapped = mapPressure(k.sampleB)
	if absDiff(mapped, k.pressure) >= e.tuning.PressureDeadband {
		k.pressure = mapped
		e.sink.EnqueueMIDI(ChannelPressure(k.assignedChannel, mapped))
	}
}

// forceRelease emits a Note-Off and frees the channel for a key that is
// currently Held, without requiring sample_b to have actually dropped —
// used by the ASCII "reset" command, which clears every held note
// regardless of whether the physical key has been released.
func (e *KeyEngine) forceRelease(i int) {
	if e.keys[i].phase != Held {
		return
	}
	e.release(i)
}

func (e *KeyEngine) release(i int) {
	var k = &e.keys[i]

	e.sink.EnqueueMIDI(NoteOff(k.assignedChannel, k.noteNumber))
	e.allocator.Release(k.assignedChannel)

	if e.logger != nil {
		e.logger.Debug("note off", "key", i, "channel", k.assignedChannel, "note", k.noteNumber)
	}

	k.assignedChannel = noChannel
	k.phase = Releasing
}

// tryNoteOn handles the one transition (Rising -> Held) that can produce a
// Note-On, computing velocity from the interval between the two threshold
// crossings and requesting a channel from the allocator.
func (e *KeyEngine) tryNoteOn(i int, now time.Time) {
	var k = &e.keys[i]

	if k.phase != Rising || k.sampleB < e.tuning.ThresholdOn {
		return
	}

	var dt = now.Sub(k.tRisingStart)
	var velocity = velocityFromInterval(dt, e.tuning)

	var note = e.noteForKey(i)

	var channel, stolen = e.allocator.Allocate(i, note, func(keyIndex int) uint8 {
		return e.keys[keyIndex].noteNumber
	})
	if stolen != nil {
		var victim = &e.keys[stolen.KeyIndex]
		victim.phase = Releasing
		victim.assignedChannel = noChannel
	}

	k.phase = Held
	k.velocity = velocity
	k.pressure = mapPressure(k.sampleB)
	k.noteNumber = note
	k.assignedChannel = channel

	e.sink.EnqueueMIDI(NoteOn(channel, note, velocity))

	if e.logger != nil {
		e.logger.Debug("note on", "key", i, "channel", channel, "note", note, "velocity", velocity, "dt", dt)
	}
}

func (e *KeyEngine) noteForKey(i int) uint8 {
	var note = int(e.tuning.BaseNote) + i + 12*int(e.octave.OctaveOffset())
	if note < 0 {
		note = 0
	}
	if note > 127 {
		note = 127
	}
	return uint8(note)
}

// velocityFromInterval implements v = clamp(round(K / dt_ms), floor, 127).
// dt is capped to VelocityCeiling before the division, so a press slower
// than the ceiling reads exactly like one at the ceiling rather than
// continuing to decay toward 1; VelocityFloor is then applied as a lower
// bound across the whole curve, not just beyond the ceiling, so velocity
// never rises as dt grows — the curve descends from its near-dt peak, goes
// flat at VelocityFloor once the raw formula would dip below it, and stays
// flat from the ceiling on. Flooring only the post-ceiling branch (an
// earlier version of this function) let a press just short of the ceiling
// compute a lower raw velocity than the floor applied just past it, which
// violated velocity monotonicity between two presses of different speeds.
func velocityFromInterval(dt time.Duration, tuning Tuning) uint8 {
	var dtMs = float64(dt) / float64(time.Millisecond)
	if dtMs < 1 {
		dtMs = 1
	}
	if ceilingMs := float64(tuning.VelocityCeiling) / float64(time.Millisecond); dtMs > ceilingMs {
		dtMs = ceilingMs
	}

	var v = math.Round(tuning.VelocityK / dtMs)
	if v < float64(tuning.VelocityFloor) {
		v = float64(tuning.VelocityFloor)
	}
	if v > 127 {
		v = 127
	}
	return uint8(v)
}

// mapPressure scales a 12-bit ADC reading to a 7-bit MIDI value, clamping
// first in case a collaborator ever reports outside the nominal 0-4095
// range.
func mapPressure(raw uint16) uint8 {
	raw = clampU16(raw, 0, 4095)
	var v = (uint32(raw) * 127) / 4095
	if v > 127 {
		v = 127
	}
	return uint8(v)
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}
