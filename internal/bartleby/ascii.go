package bartleby

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
)

// Version is reported by the "hello"/"version" ASCII commands.
const Version = "v1"

// AsciiDispatcher interprets inbound ASCII lines: "hello"/"version"
// announce the build, "cc" remaps a pot, "reset" re-homes the MPE zone and
// releases every held note, and anything else is echoed back as an error.
// It never panics and never restarts the controller on a malformed line —
// only an explicit "reset" touches engine state, and that's a deliberate
// reinitialisation, not a crash recovery.
type AsciiDispatcher struct {
	sink      FrameSink
	pots      *PotEngine
	allocator *MpeAllocator
	keys      *KeyEngine
	logger    *log.Logger

	debug bool
}

// NewAsciiDispatcher wires the dispatcher to the engines its commands act
// on.
func NewAsciiDispatcher(sink FrameSink, pots *PotEngine, allocator *MpeAllocator, keys *KeyEngine, logger *log.Logger) *AsciiDispatcher {
	return &AsciiDispatcher{sink: sink, pots: pots, allocator: allocator, keys: keys, logger: logger}
}

// Handle processes one inbound line (without its trailing newline).
func (d *AsciiDispatcher) Handle(line string) {
	var fields = strings.Fields(line)
	if len(fields) == 0 {
		d.reject(line)
		return
	}

	switch fields[0] {
	case "hello", "version":
		d.sink.EnqueueASCII("bartleby " + Version)

	case "cc":
		d.handleCC(line, fields)

	case "reset":
		d.handleReset()

	case "debug":
		d.handleDebug(line, fields)

	default:
		d.reject(line)
	}
}

func (d *AsciiDispatcher) handleCC(line string, fields []string) {
	if len(fields) != 3 {
		d.reject(line)
		return
	}

	var potIndex, errA = strconv.Atoi(fields[1])
	var ccNumber, errB = strconv.Atoi(fields[2])
	if errA != nil || errB != nil || potIndex < 0 || potIndex >= NumPots || ccNumber < 0 || ccNumber > 127 {
		d.reject(line)
		return
	}

	d.pots.Remap(potIndex, uint8(ccNumber))
	if d.logger != nil {
		d.logger.Info("pot remapped", "pot", potIndex, "cc", ccNumber)
	}
}

func (d *AsciiDispatcher) handleReset() {
	if d.logger != nil {
		d.logger.Info("reset requested")
	}

	for i := 0; i < NumKeys; i++ {
		var k = d.keys.Key(i)
		if k.Phase() != Held {
			continue
		}
		d.keys.forceRelease(i)
	}

	d.allocator.EmitConfiguration()
}

func (d *AsciiDispatcher) handleDebug(line string, fields []string) {
	if len(fields) != 2 {
		d.reject(line)
		return
	}

	switch fields[1] {
	case "0":
		d.debug = false
	case "1":
		d.debug = true
	default:
		d.reject(line)
		return
	}

	if d.logger != nil {
		if d.debug {
			d.logger.SetLevel(log.DebugLevel)
		} else {
			d.logger.SetLevel(log.InfoLevel)
		}
	}
}

func (d *AsciiDispatcher) reject(line string) {
	d.sink.EnqueueASCII("err " + line)
	if d.logger != nil {
		d.logger.Error("unrecognised ascii command", "line", line)
	}
}
