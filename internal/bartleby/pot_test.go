package bartleby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// TestPotCCRemapAndSweep: after remapping pot 0 to CC 74, a
// smooth sweep across its range emits monotone CC 74 messages each
// differing from the previous by at least the configured dead-band. The
// sweep advances one ADC count per scan, the way a hand turning a real pot
// would be sampled every 20ms, so the low-pass filter's lag naturally
// produces the two-consecutive-agreeing-samples run PotEngine requires
// before it emits.
func TestPotCCRemapAndSweep(t *testing.T) {
	var tuning = DefaultTuning()
	var sink = &fakeSink{}
	var engine = NewPotEngine(tuning, sink, nil)

	engine.Remap(0, 74)

	var samples [NumPots]uint16
	// Two scans at zero settle every pot: pots 1-13 each send their own CC
	// once here, so only pot 0's sweep is left in the sink below.
	engine.Scan(samples)
	engine.Scan(samples)
	sink.midi = nil

	for raw := 0; raw <= potADCMax; raw++ {
		samples[0] = uint16(raw)
		engine.Scan(samples)
	}
	// Hold at the top so the filter settles. The last CC sent stays 126:
	// 127 is within the dead-band of it.
	for i := 0; i < 50; i++ {
		engine.Scan(samples)
	}

	require.NotEmpty(t, sink.midi)

	var last *byte
	for _, frame := range sink.midi {
		require.Len(t, frame, 3)
		assert.Equal(t, byte(0xB0), frame[0], "channel 1 (manager channel)")
		assert.Equal(t, byte(74), frame[1])

		var v = frame[2]
		if last != nil {
			assert.GreaterOrEqual(t, v, *last, "sweep is monotone increasing")
			assert.GreaterOrEqual(t, absDiff(v, *last), tuning.PotDeadband)
		}
		last = &v
	}
}

// TestPotDeadband: consecutive CCs on the same (channel, cc) stream always
// differ by at least the configured dead-band.
func TestPotDeadband(t *testing.T) {
	var tuning = DefaultTuning()

	rapid.Check(t, func(t *rapid.T) {
		var sink = &fakeSink{}
		var engine = NewPotEngine(tuning, sink, nil)

		var steps = rapid.SliceOfN(rapid.IntRange(0, potADCMax), 1, 200).Draw(t, "steps")
		for _, raw := range steps {
			var samples [NumPots]uint16
			samples[0] = uint16(raw)
			engine.Scan(samples)
		}

		// Every pot emits on channel 1, so the CC number alone names the stream.
		var last = map[byte]byte{}
		for _, frame := range sink.midi {
			if prev, ok := last[frame[1]]; ok {
				assert.GreaterOrEqual(t, absDiff(frame[2], prev), tuning.PotDeadband)
			}
			last[frame[1]] = frame[2]
		}
	})
}
