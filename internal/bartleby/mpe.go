package bartleby

import "github.com/charmbracelet/log"

// ManagerChannel is the fixed MPE lower-zone manager channel.
const ManagerChannel uint8 = 1

// MemberChannelCount is the number of member channels (2..16) in the zone.
const MemberChannelCount = 15

const noOccupant = -1

// channelState is one member channel's MPE state, per the MpeZone data
// model: pitch-bend, pressure and timbre are tracked here (not on the Key)
// because they belong to the channel, and outlive any one note only in the
// sense that a freshly allocated channel always starts from the same reset
// values.
type channelState struct {
	occupant     int // key index, or noOccupant
	pitchBend    uint16
	pressure     uint8
	timbre       uint8
	lastUsedTick uint64
}

// StolenNote describes a note forced off by the allocator to satisfy a new
// allocation when every member channel was occupied. The caller (KeyEngine)
// owns key state and is responsible for transitioning the named key to
// Releasing — the allocator only owns the channel-side bookkeeping and the
// decision of which note to steal.
type StolenNote struct {
	KeyIndex int
	Channel  uint8
}

// MpeAllocator is the sole authority over the MpeZone's channel table: it
// decides which member channel a new note gets, reclaims channels on
// release, and is the only component permitted to mutate channelState.
type MpeAllocator struct {
	tuning Tuning
	sink   FrameSink
	logger *log.Logger

	channels [MemberChannelCount]channelState
	free     []uint8 // channel ids awaiting (re)use, round-robin order
	tick     uint64
}

// NewMpeAllocator builds an allocator with every member channel free and
// zeroed. It does not emit anything; call EmitConfiguration to announce the
// zone once the transport is ready.
func NewMpeAllocator(tuning Tuning, sink FrameSink, logger *log.Logger) *MpeAllocator {
	var a = &MpeAllocator{
		tuning: tuning,
		sink:   sink,
		logger: logger,
		free:   make([]uint8, 0, MemberChannelCount),
	}

	for i := range a.channels {
		a.channels[i].occupant = noOccupant
		a.free = append(a.free, uint8(2+i))
	}

	return a
}

func (a *MpeAllocator) index(channel uint8) int {
	return int(channel) - 2
}

// EmitConfiguration sends the MPE Configuration Message on the manager
// channel followed by the per-member and master pitch-bend-range RPNs.
// Called at boot and whenever an ASCII "reset" arrives.
func (a *MpeAllocator) EmitConfiguration() {
	for _, frame := range MPEConfigurationFrames(ManagerChannel, MemberChannelCount) {
		a.sink.EnqueueMIDI(frame)
	}

	for i := range a.channels {
		var channel = uint8(2 + i)
		for _, frame := range PitchBendRangeFrames(channel, a.tuning.MemberBendRangeSemitones) {
			a.sink.EnqueueMIDI(frame)
		}
	}

	for _, frame := range PitchBendRangeFrames(ManagerChannel, a.tuning.MasterBendRangeSemitones) {
		a.sink.EnqueueMIDI(frame)
	}
}

// Allocate assigns a member channel to keyIndex, stealing the
// least-recently-used occupied channel if none is free. noteOf looks up a
// key's currently sounding note number — KeyEngine passes its own Key
// table — so that if a steal is necessary, Allocate can emit the victim's
// Note-Off itself, before it resets the reused channel's state, before
// returning it for the caller's own new Note-On: off, then reset, then on,
// always in that order. The returned stolen is non-nil exactly
// when a victim was forced off; the caller must still transition that
// key's own state to Releasing, since Key state belongs to KeyEngine.
func (a *MpeAllocator) Allocate(keyIndex int, note uint8, noteOf func(keyIndex int) uint8) (channel uint8, stolen *StolenNote) {
	a.tick++

	if len(a.free) > 0 {
		channel = a.free[0]
		a.free = a.free[1:]
	} else {
		channel, stolen = a.steal(noteOf)
	}

	var idx = a.index(channel)
	a.channels[idx] = channelState{
		occupant:     keyIndex,
		pitchBend:    8192,
		pressure:     0,
		timbre:       64,
		lastUsedTick: a.tick,
	}

	// Bend range itself was already declared at boot/reset and does not
	// change per allocation; only the per-note state resets here.
	a.sink.EnqueueMIDI(PitchBend(channel, 8192))
	a.sink.EnqueueMIDI(ChannelPressure(channel, 0))
	a.sink.EnqueueMIDI(ControlChange(channel, 74, 64))

	if a.logger != nil {
		a.logger.Debug("allocated member channel", "channel", channel, "key", keyIndex, "note", note)
	}

	return channel, stolen
}

// steal picks the occupied channel with the smallest last_used_tick, emits
// its Note-Off, and returns it for reuse along with a description of the
// note that was forced off.
func (a *MpeAllocator) steal(noteOf func(keyIndex int) uint8) (channel uint8, stolen *StolenNote) {
	var victimIdx = -1
	var oldest uint64

	for i := range a.channels {
		if a.channels[i].occupant == noOccupant {
			continue
		}
		if victimIdx == -1 || a.channels[i].lastUsedTick < oldest {
			victimIdx = i
			oldest = a.channels[i].lastUsedTick
		}
	}

	// Every member channel is occupied whenever the free list is empty,
	// so victimIdx is always found; the -1 guard only protects against a
	// MemberChannelCount of zero, which never happens in practice.
	if victimIdx == -1 {
		return 2, nil
	}

	channel = uint8(2 + victimIdx)
	var victimKey = a.channels[victimIdx].occupant

	if a.logger != nil {
		a.logger.Warn("channel pool exhausted, stealing", "channel", channel, "victim_key", victimKey)
	}

	a.sink.EnqueueMIDI(NoteOff(channel, noteOf(victimKey)))

	return channel, &StolenNote{KeyIndex: victimKey, Channel: channel}
}

// Release returns channel to the free list and zeroes its state. Called by
// KeyEngine when a key transitions Held -> Releasing.
func (a *MpeAllocator) Release(channel uint8) {
	var idx = a.index(channel)
	a.channels[idx] = channelState{occupant: noOccupant}
	a.free = append(a.free, channel)
}

// Occupant reports which key (if any) currently holds channel, for tests
// and invariant checks.
func (a *MpeAllocator) Occupant(channel uint8) (keyIndex int, held bool) {
	var c = a.channels[a.index(channel)]
	return c.occupant, c.occupant != noOccupant
}
