package bartleby

import (
	"time"

	"github.com/charmbracelet/log"
)

// tickInterval is the key-scan period the scheduler holds to.
const tickInterval = 1 * time.Millisecond

// maxFramesPerTick bounds how many outbound frames TransportMux.Pump will
// attempt in a single tick, so a long queue (e.g. after a steal-heavy burst)
// can never make one tick's Pump call itself overrun the scan deadline.
const maxFramesPerTick = 8

// Clock is the monotonic time source the scheduler waits on. Production
// code uses RealClock; tests substitute a fake so Run's deadline math is
// exercised without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock is the Clock MainLoop uses outside of tests.
type RealClock struct{}

func (RealClock) Now() time.Time        { return time.Now() }
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }

// EncoderSource is the out-of-scope rotary encoder collaborator: it
// collects delta-position events as they arrive (GPIOEncoder buffers them
// behind a mutex), and MainLoop drains whatever has accumulated once per tick.
type EncoderSource interface {
	DrainDeltas() []int
}

// KeySampler and PotSampler narrow Sampler to what MainLoop needs, so tests
// can substitute a fixture without a real MuxSelector.
type KeySampler interface {
	ReadKey(keyIndex int, point KeyPoint) uint16
}

type PotSampler interface {
	ReadPot(potIndex int) uint16
}

// MainLoop is the cooperative scheduler: it owns no engine state of its own
// beyond scheduling bookkeeping, and calls into the engines at their
// prescribed intervals — keys every tick, pots on their own slower cadence,
// then encoder deltas, transport pumping, and inbound ASCII dispatch.
type MainLoop struct {
	keySampler KeySampler
	potSampler PotSampler

	keyEngine     *KeyEngine
	potEngine     *PotEngine
	encoderEngine *EncoderEngine
	encoderSource EncoderSource
	transport     *TransportMux
	ascii         *AsciiDispatcher

	tuning Tuning
	clock  Clock
	logger *log.Logger

	lastPotScan         time.Time
	lastInboundActivity time.Time
	announced           bool

	// ReAnnounce formats the frame sent when comm_timeout elapses with no
	// inbound ASCII activity. Defaults to the plain "bartleby "+Version
	// boot announcement; cmd/bartleby overrides it to fold in a build
	// stamp via internal/diag, which this package does not import so the
	// core stays free of that ambient/outer-wiring concern.
	ReAnnounce func() string
}

// NewMainLoop assembles the scheduler over its already-constructed engines
// and collaborators. The caller is responsible for having wired every
// engine to the same TransportMux/FrameSink and MpeAllocator.
func NewMainLoop(
	keySampler KeySampler,
	potSampler PotSampler,
	keyEngine *KeyEngine,
	potEngine *PotEngine,
	encoderEngine *EncoderEngine,
	encoderSource EncoderSource,
	transport *TransportMux,
	ascii *AsciiDispatcher,
	tuning Tuning,
	clock Clock,
	logger *log.Logger,
) *MainLoop {
	var m = &MainLoop{
		keySampler:    keySampler,
		potSampler:    potSampler,
		keyEngine:     keyEngine,
		potEngine:     potEngine,
		encoderEngine: encoderEngine,
		encoderSource: encoderSource,
		transport:     transport,
		ascii:         ascii,
		tuning:        tuning,
		clock:         clock,
		logger:        logger,
	}
	m.ReAnnounce = func() string { return "bartleby " + Version }
	return m
}

// Boot emits the MPE configuration sequence and arms the comm_timeout
// announcement window. Call once before the first Run/Tick.
func (m *MainLoop) Boot(allocator *MpeAllocator) {
	allocator.EmitConfiguration()
	m.transport.EnqueueASCII("bartleby " + Version)
	m.lastInboundActivity = m.clock.Now()
	m.announced = true

	if m.logger != nil {
		m.logger.Info("boot announcement sent")
	}
}

// Tick runs exactly one scheduler iteration: key scan, gated pot scan,
// encoder drain, transport pump, inbound ASCII dispatch. The caller
// supplies now so tests can drive it without a real clock.
func (m *MainLoop) Tick(now time.Time) {
	var samples [NumKeys][2]uint16
	for i := 0; i < NumKeys; i++ {
		samples[i][0] = m.keySampler.ReadKey(i, PointA)
		samples[i][1] = m.keySampler.ReadKey(i, PointB)
	}
	m.keyEngine.Scan(now, samples)

	if now.Sub(m.lastPotScan) >= m.tuning.PotScanInterval {
		var potSamples [NumPots]uint16
		for i := 0; i < NumPots; i++ {
			potSamples[i] = m.potSampler.ReadPot(i)
		}
		m.potEngine.Scan(potSamples)
		m.lastPotScan = now
	}

	for _, delta := range m.encoderSource.DrainDeltas() {
		m.encoderEngine.ApplyDelta(delta)
	}

	m.transport.Pump(maxFramesPerTick)

	m.transport.PollInbound()
	var lines = m.transport.DrainLines()
	if len(lines) > 0 {
		m.lastInboundActivity = now
	}
	for _, line := range lines {
		m.ascii.Handle(line)
	}

	if m.announced && now.Sub(m.lastInboundActivity) >= m.tuning.CommTimeout {
		m.transport.EnqueueASCII(m.ReAnnounce())
		m.lastInboundActivity = now
		if m.logger != nil {
			m.logger.Warn("comm timeout, re-announcing")
		}
	}
}

// Run drives Tick on monotonic deadlines until stop is closed. A tick that
// overruns its 1ms budget is never made up: the next deadline is pulled
// forward to "now" instead of compounding drift, per the Design Notes'
// "cooperative timing -> monotonic deadlines" rule.
func (m *MainLoop) Run(stop <-chan struct{}) {
	var deadline = m.clock.Now()

	for {
		select {
		case <-stop:
			return
		default:
		}

		var now = m.clock.Now()
		m.Tick(now)

		deadline = deadline.Add(tickInterval)
		if deadline.Before(now) {
			deadline = now
		}

		var wait = deadline.Sub(m.clock.Now())
		if wait > 0 {
			m.clock.Sleep(wait)
		}
	}
}
