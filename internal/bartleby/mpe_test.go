package bartleby

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lastRPNValue scans frame-sink MIDI output for the last RPN 0 (pitch-bend
// range) value written on channel, by tracking the CC 6 value most
// recently seen following a CC101=0/CC100=0 select for that channel.
func lastRPNValue(frames [][]byte, channel uint8) (uint8, bool) {
	var status = byte(0xB0 | nibble(channel))
	var selected bool
	var value uint8
	var found bool

	for i := 0; i+1 < len(frames); i++ {
		var f = frames[i]
		if len(f) != 3 || f[0] != status {
			continue
		}
		switch f[1] {
		case 101:
			selected = f[2] == 0
		case 100:
			if f[2] != 0 {
				selected = false
			}
		case 6:
			if selected {
				value = f[2]
				found = true
			}
		}
	}
	return value, found
}

// TestRoundTripRPN: after boot, the last pitch-bend range sent on each
// member channel is 48, and on channel 1 it is 2.
func TestRoundTripRPN(t *testing.T) {
	var tuning = DefaultTuning()
	var sink = &fakeSink{}
	var allocator = NewMpeAllocator(tuning, sink, nil)

	allocator.EmitConfiguration()

	for ch := uint8(2); ch <= 16; ch++ {
		var v, ok = lastRPNValue(sink.midi, ch)
		require.True(t, ok, "channel %d should have a pitch-bend-range RPN", ch)
		assert.Equal(t, uint8(48), v)
	}

	var managerValue, ok = lastRPNValue(sink.midi, ManagerChannel)
	require.True(t, ok)
	assert.Equal(t, uint8(2), managerValue)
}

// TestAllocateStealOrder confirms the free list is consumed round-robin
// and that stealing picks the least-recently-used occupied channel.
func TestAllocateStealOrder(t *testing.T) {
	var tuning = DefaultTuning()
	var sink = &fakeSink{}
	var allocator = NewMpeAllocator(tuning, sink, nil)

	var notes = map[int]uint8{}
	var noteOf = func(keyIndex int) uint8 { return notes[keyIndex] }

	for i := 0; i < MemberChannelCount; i++ {
		notes[i] = uint8(60 + i)
		var ch, stolen = allocator.Allocate(i, notes[i], noteOf)
		assert.Nil(t, stolen)
		assert.Equal(t, uint8(2+i), ch)
	}

	notes[MemberChannelCount] = 99
	var ch, stolen = allocator.Allocate(MemberChannelCount, notes[MemberChannelCount], noteOf)
	require.NotNil(t, stolen)
	assert.Equal(t, 0, stolen.KeyIndex, "key 0's channel was the least recently used")
	assert.Equal(t, uint8(2), ch)
}

// TestReleaseThenReallocateResetsState confirms a freed channel's state is
// zeroed, that it rejoins the free list at the tail (so the next allocation
// gets the next channel in round-robin order), and that Allocate resets
// bend/pressure/timbre before the caller's Note-On goes out.
func TestReleaseThenReallocateResetsState(t *testing.T) {
	var tuning = DefaultTuning()
	var sink = &fakeSink{}
	var allocator = NewMpeAllocator(tuning, sink, nil)

	var ch, _ = allocator.Allocate(0, 60, func(int) uint8 { return 60 })
	allocator.Release(ch)

	var _, held = allocator.Occupant(ch)
	assert.False(t, held)

	sink.midi = nil
	var ch2, stolen = allocator.Allocate(1, 61, func(int) uint8 { return 61 })
	assert.Nil(t, stolen)
	assert.Equal(t, ch+1, ch2, "the released channel went to the tail of the free list")

	require.Len(t, sink.midi, 3)
	assert.Equal(t, PitchBend(ch2, 8192), sink.midi[0])
	assert.Equal(t, ChannelPressure(ch2, 0), sink.midi[1])
	assert.Equal(t, ControlChange(ch2, 74, 64), sink.midi[2])
}
