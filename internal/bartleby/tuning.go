package bartleby

import "time"

// Tuning holds every hardware-dependent or calibration constant the core
// treats as configuration rather than as a compile-time literal, per the
// open questions in the controller's design notes: the ADC range and
// threshold pair are board-dependent, and the velocity-from-interval
// coefficient is determined by measurement on the assembled keybed.
//
// The zero Tuning is not valid; use DefaultTuning and override fields as
// calibration dictates.
type Tuning struct {
	// ThresholdOn and ThresholdOff are the dual-phase key detection
	// thresholds, in raw ADC counts. ThresholdOff must be < ThresholdOn.
	ThresholdOn  uint16
	ThresholdOff uint16

	// VelocityK is the numerator in v = K / dt_ms.
	VelocityK float64
	// VelocityCeiling bounds the dt the curve is evaluated at: a press
	// slower than this reads exactly like one at the ceiling rather than
	// continuing to decay. VelocityFloor is a lower bound applied to the
	// whole curve (not just dt beyond the ceiling), so the curve descends
	// from its near-dt peak and then goes flat once it would otherwise dip
	// below the floor — never rising again as dt grows further, which
	// would violate velocity monotonicity between two presses.
	VelocityCeiling time.Duration
	VelocityFloor   uint8

	// PressureDeadband is the minimum change (7-bit units) in mapped key
	// pressure required before a new ChannelPressure message is emitted.
	PressureDeadband uint8

	// PotAlpha is the low-pass filter coefficient applied to every pot's
	// raw reading before quantisation.
	PotAlpha float64
	// PotDeadband is the minimum change (7-bit units), confirmed across
	// two consecutive agreeing samples, required before a CC is emitted.
	PotDeadband uint8
	// PotScanInterval is how often pots are sampled and driven.
	PotScanInterval time.Duration

	// BaseNote is the MIDI note number of key index 0 at a zero octave
	// offset; keys are chromatic ascending from there.
	BaseNote uint8
	// OctaveMin and OctaveMax bound the encoder's octave_offset.
	OctaveMin int8
	OctaveMax int8

	// MemberBendRangeSemitones and MasterBendRangeSemitones are the RPN 0
	// values announced on member channels and the manager channel.
	MemberBendRangeSemitones uint8
	MasterBendRangeSemitones uint8

	// CommTimeout is how long the scheduler waits for inbound ASCII
	// activity before re-emitting the boot announcement frame.
	CommTimeout time.Duration

	// PotCCNumbers is the initial pot-index -> MIDI CC number map
	// (remappable at runtime via the "cc" ASCII command).
	PotCCNumbers [NumPots]uint8
}

// NumKeys and NumPots are fixed by the keybed's physical layout; the
// controller does not support dynamic reconfiguration of either.
const (
	NumKeys = 25
	NumPots = 14
)

// DefaultTuning returns calibration constants representative of the
// reference 25-key / 14-pot keybed: a 12-bit ADC (0-4095), thresholds at
// roughly 10%/5% of full scale, and a velocity curve tuned so a firm ~24ms
// press lands near velocity 125; anything slower than ~47ms (where the
// curve would dip below VelocityFloor) reads as a flat 64 all the way out
// to the 150ms ceiling, so a deliberate slow press still sounds instead of
// trailing off toward silence.
func DefaultTuning() Tuning {
	var t = Tuning{
		ThresholdOn:              410,
		ThresholdOff:             205,
		VelocityK:                3000,
		VelocityCeiling:          150 * time.Millisecond,
		VelocityFloor:            64,
		PressureDeadband:         2,
		PotAlpha:                 0.3,
		PotDeadband:              2,
		PotScanInterval:          20 * time.Millisecond,
		BaseNote:                 60,
		OctaveMin:                -3,
		OctaveMax:                3,
		MemberBendRangeSemitones: 48,
		MasterBendRangeSemitones: 2,
		CommTimeout:              2 * time.Second,
	}

	for i := range t.PotCCNumbers {
		t.PotCCNumbers[i] = uint8(20 + i) // CC 20-33, undefined/general purpose range
	}

	return t
}

func clampU16(v, lo, hi uint16) uint16 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI8(v, lo, hi int8) int8 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF64(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
