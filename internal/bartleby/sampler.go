package bartleby

import "time"

// KeyPoint names one of a key's two pressure points: A breaks first as the
// key descends, B bottoms out.
type KeyPoint int

const (
	PointA KeyPoint = iota
	PointB
)

// Descriptor names one logical analog input: a multiplexer id and the
// channel within it. It carries no knowledge of what it's wired to —
// that mapping lives in Sampler.
type Descriptor struct {
	MuxID   int
	Channel int
}

// MuxSelector is the out-of-scope ADC/multiplexer collaborator: selecting
// a channel and reading it are split so the caller can honor the settling
// delay between them.
type MuxSelector interface {
	Select(muxID, channel int) error
	Read(muxID int) (uint16, error)
}

// settleDelay is the minimum time between selecting a multiplexer channel
// and trusting its reading.
const settleDelay = 10 * time.Microsecond

// Sampler owns the multiplexer tree wiring for the 25 keys' two pressure
// points each and the 14 pots, and exposes plain synchronous reads. It
// performs no filtering and no dynamic allocation; everything downstream of
// it treats a reading as an instantaneous raw sample.
type Sampler struct {
	selector MuxSelector
	sleep    func(time.Duration)

	keyA [NumKeys]Descriptor
	keyB [NumKeys]Descriptor
	pot  [NumPots]Descriptor
}

// NewSampler builds a Sampler over the given descriptor wiring. The three
// arrays must be indexed by key/pot index; callers assemble them from board
// wiring documentation, not from anything this package infers.
func NewSampler(selector MuxSelector, keyA, keyB [NumKeys]Descriptor, pot [NumPots]Descriptor) *Sampler {
	return &Sampler{
		selector: selector,
		sleep:    time.Sleep,
		keyA:     keyA,
		keyB:     keyB,
		pot:      pot,
	}
}

func (s *Sampler) read(d Descriptor) uint16 {
	if err := s.selector.Select(d.MuxID, d.Channel); err != nil {
		return 0
	}
	s.sleep(settleDelay)
	v, err := s.selector.Read(d.MuxID)
	if err != nil {
		return 0
	}
	return v
}

// ReadKey returns the current raw reading for one of a key's two pressure
// points.
func (s *Sampler) ReadKey(keyIndex int, point KeyPoint) uint16 {
	if point == PointA {
		return s.read(s.keyA[keyIndex])
	}
	return s.read(s.keyB[keyIndex])
}

// ReadPot returns the current raw reading for a pot.
func (s *Sampler) ReadPot(potIndex int) uint16 {
	return s.read(s.pot[potIndex])
}
