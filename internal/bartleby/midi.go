package bartleby

// Stateless MIDI 1.0 message formatting. Running status is deliberately
// never used — every message is emitted in full — so TransportMux can
// treat each one as an atomic 1-3 byte frame without tracking decoder
// state across an interleaved ASCII line.
//
// Channel numbers throughout this package are 1-16 (1 = MPE manager
// channel, 2-16 = member channels); these functions do the -1 into the
// 0-15 nibble MIDI actually puts on the wire.

func nibble(channel uint8) byte {
	return byte((channel - 1) & 0x0F)
}

// NoteOn formats a Note-On message. Velocity 0 is never passed here — a
// true note-off is always sent as an explicit Note-Off, not a zero-velocity
// Note-On, so the transport's coalescing logic can tell them apart cheaply.
func NoteOn(channel, note, velocity uint8) []byte {
	return []byte{0x90 | nibble(channel), note & 0x7F, velocity & 0x7F}
}

// NoteOff formats a Note-Off message.
func NoteOff(channel, note uint8) []byte {
	return []byte{0x80 | nibble(channel), note & 0x7F, 0}
}

// ChannelPressure formats a Channel Pressure (aftertouch) message.
func ChannelPressure(channel, pressure uint8) []byte {
	return []byte{0xD0 | nibble(channel), pressure & 0x7F}
}

// ControlChange formats a Control Change message.
func ControlChange(channel, ccNumber, value uint8) []byte {
	return []byte{0xB0 | nibble(channel), ccNumber & 0x7F, value & 0x7F}
}

// PitchBend formats a Pitch Bend message from a 14-bit value centred at
// 8192, LSB first then MSB per the MIDI 1.0 wire format.
func PitchBend(channel uint8, value14 uint16) []byte {
	value14 &= 0x3FFF
	return []byte{0xE0 | nibble(channel), byte(value14 & 0x7F), byte((value14 >> 7) & 0x7F)}
}

// RPNFrames formats the six-message RPN set-value sequence: select the
// parameter (CC 101/100), write its value (CC 6, with CC 38's LSB always
// zero here since every RPN this controller sets is a coarse 7-bit value),
// then send the RPN null select (101=127, 100=127) so a stray subsequent CC
// 6 from elsewhere on the bus can't be misinterpreted as a further RPN
// write.
func RPNFrames(channel, paramMSB, paramLSB, valueMSB uint8) [][]byte {
	return [][]byte{
		ControlChange(channel, 101, paramMSB),
		ControlChange(channel, 100, paramLSB),
		ControlChange(channel, 6, valueMSB),
		ControlChange(channel, 38, 0),
		ControlChange(channel, 101, 127),
		ControlChange(channel, 100, 127),
	}
}

// Registered parameter numbers used by this controller.
const (
	rpnPitchBendRangeMSB = 0x00
	rpnPitchBendRangeLSB = 0x00

	rpnMPEConfigurationMSB = 0x00
	rpnMPEConfigurationLSB = 0x06
)

// PitchBendRangeFrames formats the RPN 0 sequence setting a channel's
// pitch-bend range to the given number of semitones.
func PitchBendRangeFrames(channel, semitones uint8) [][]byte {
	return RPNFrames(channel, rpnPitchBendRangeMSB, rpnPitchBendRangeLSB, semitones)
}

// MPEConfigurationFrames formats the MPE Configuration Message (RPN 6)
// declaring memberChannelCount member channels in the zone whose manager
// channel is managerChannel.
func MPEConfigurationFrames(managerChannel, memberChannelCount uint8) [][]byte {
	return RPNFrames(managerChannel, rpnMPEConfigurationMSB, rpnMPEConfigurationLSB, memberChannelCount)
}
