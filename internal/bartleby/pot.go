package bartleby

import "github.com/charmbracelet/log"

const potADCMax = 4095

// Pot is one of the 14 independent pot state machines.
type Pot struct {
	smoothed float64 // low-pass filtered raw reading

	emitted    *uint8 // last CC value sent, or nil
	ccNumber   uint8
	pendingVal uint8
	pendingRun int
}

// PotEngine drives all 14 pots, applying a low-pass filter and a
// two-consecutive-samples-agreeing dead-band before emitting CC changes on
// the MPE manager channel.
type PotEngine struct {
	tuning Tuning
	sink   FrameSink
	logger *log.Logger

	pots [NumPots]Pot
}

// NewPotEngine builds a PotEngine with the tuning's initial pot -> CC map.
func NewPotEngine(tuning Tuning, sink FrameSink, logger *log.Logger) *PotEngine {
	var e = &PotEngine{tuning: tuning, sink: sink, logger: logger}
	for i := range e.pots {
		e.pots[i].ccNumber = tuning.PotCCNumbers[i]
	}
	return e
}

// Pot returns a copy of one pot's current state, for tests.
func (e *PotEngine) Pot(index int) Pot { return e.pots[index] }

// Remap changes which CC number a pot emits on, per the ASCII "cc" command.
// It does not reset the pot's emitted/dead-band state: the next sample that
// clears the dead-band against the old value emits on the new CC number.
func (e *PotEngine) Remap(potIndex int, ccNumber uint8) {
	e.pots[potIndex].ccNumber = ccNumber
}

// Scan drives every pot's state machine from one set of raw readings.
func (e *PotEngine) Scan(samples [NumPots]uint16) {
	for i, raw := range samples {
		e.step(i, raw)
	}
}

func (e *PotEngine) step(i int, raw uint16) {
	var p = &e.pots[i]

	p.smoothed += e.tuning.PotAlpha * (float64(raw) - p.smoothed)
	var candidate = quantise7(p.smoothed)

	if p.emitted != nil && absDiff(candidate, *p.emitted) < e.tuning.PotDeadband {
		p.pendingRun = 0
		return
	}

	if p.pendingRun > 0 && p.pendingVal == candidate {
		p.pendingRun++
	} else {
		p.pendingVal = candidate
		p.pendingRun = 1
	}

	if p.pendingRun < 2 {
		return
	}

	p.emitted = &candidate
	e.sink.EnqueueMIDI(ControlChange(ManagerChannel, p.ccNumber, candidate))

	if e.logger != nil {
		e.logger.Debug("pot cc", "pot", i, "cc", p.ccNumber, "value", candidate)
	}
}

func quantise7(smoothed float64) uint8 {
	smoothed = clampF64(smoothed, 0, potADCMax)
	var v = uint32(smoothed*127/potADCMax + 0.5)
	if v > 127 {
		v = 127
	}
	return uint8(v)
}
