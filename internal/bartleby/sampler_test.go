package bartleby

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// recordingMuxSelector is a fake MuxSelector that logs every Select/Read
// call in order and returns a canned reading, so a test can assert both the
// call sequence and which descriptor it was called with.
type recordingMuxSelector struct {
	calls []string
	value uint16
}

func (s *recordingMuxSelector) Select(muxID, channel int) error {
	s.calls = append(s.calls, fmt.Sprintf("select(%d,%d)", muxID, channel))
	return nil
}

func (s *recordingMuxSelector) Read(muxID int) (uint16, error) {
	s.calls = append(s.calls, fmt.Sprintf("read(%d)", muxID))
	return s.value, nil
}

// newTestSamplerWiring builds a small distinct descriptor table per array so
// tests can tell keyA, keyB, and pot reads apart by mux id alone.
func newTestSamplerWiring() (keyA, keyB [NumKeys]Descriptor, pot [NumPots]Descriptor) {
	for i := range keyA {
		keyA[i] = Descriptor{MuxID: 0, Channel: i % 8}
		keyB[i] = Descriptor{MuxID: 1, Channel: i % 8}
	}
	for i := range pot {
		pot[i] = Descriptor{MuxID: 2, Channel: i % 8}
	}
	return keyA, keyB, pot
}

// TestSamplerSelectsThenReadsHonoringSettleDelay: Select runs, the settle
// delay elapses, then Read runs - in that order.
func TestSamplerSelectsThenReadsHonoringSettleDelay(t *testing.T) {
	var keyA, keyB, pot = newTestSamplerWiring()
	var selector = &recordingMuxSelector{value: 1234}
	var sampler = NewSampler(selector, keyA, keyB, pot)

	var slept time.Duration
	sampler.sleep = func(d time.Duration) { slept += d }

	var got = sampler.ReadKey(5, PointA)

	assert.Equal(t, uint16(1234), got)
	assert.Equal(t, []string{"select(0,5)", "read(0)"}, selector.calls, "select completes before read")
	assert.Equal(t, settleDelay, slept, "the settle delay elapses between select and read")
}

// TestReadKeyUsesPointSpecificDescriptor confirms ReadKey dispatches to the
// keyA descriptor for PointA and the keyB descriptor for PointB - the two
// pressure points velocity is derived from are wired independently.
func TestReadKeyUsesPointSpecificDescriptor(t *testing.T) {
	var keyA, keyB, pot = newTestSamplerWiring()
	var selector = &recordingMuxSelector{value: 1}
	var sampler = NewSampler(selector, keyA, keyB, pot)
	sampler.sleep = func(time.Duration) {}

	sampler.ReadKey(3, PointA)
	assert.Equal(t, []string{"select(0,3)", "read(0)"}, selector.calls)

	selector.calls = nil
	sampler.ReadKey(3, PointB)
	assert.Equal(t, []string{"select(1,3)", "read(1)"}, selector.calls)
}

// TestReadPotUsesPotDescriptor confirms ReadPot consults the pot descriptor
// array, independent of the key arrays.
func TestReadPotUsesPotDescriptor(t *testing.T) {
	var keyA, keyB, pot = newTestSamplerWiring()
	var selector = &recordingMuxSelector{value: 42}
	var sampler = NewSampler(selector, keyA, keyB, pot)
	sampler.sleep = func(time.Duration) {}

	var got = sampler.ReadPot(9)

	assert.Equal(t, uint16(42), got)
	assert.Equal(t, []string{"select(2,1)", "read(2)"}, selector.calls)
}

// erroringMuxSelector lets a test force Select or Read to fail.
type erroringMuxSelector struct {
	selectErr error
	readErr   error
}

func (s *erroringMuxSelector) Select(muxID, channel int) error { return s.selectErr }
func (s *erroringMuxSelector) Read(muxID int) (uint16, error)  { return 999, s.readErr }

// TestSamplerDegradesErrorsToZero: a collaborator failure never panics the
// scan; a bad Select or Read just reads as zero for that tick.
func TestSamplerDegradesErrorsToZero(t *testing.T) {
	var keyA, keyB, pot = newTestSamplerWiring()

	var selectFails = &erroringMuxSelector{selectErr: fmt.Errorf("mux select failed")}
	var samplerA = NewSampler(selectFails, keyA, keyB, pot)
	samplerA.sleep = func(time.Duration) {}
	assert.Equal(t, uint16(0), samplerA.ReadKey(0, PointA), "select error degrades to zero, no panic")

	var readFails = &erroringMuxSelector{readErr: fmt.Errorf("adc read failed")}
	var samplerB = NewSampler(readFails, keyA, keyB, pot)
	samplerB.sleep = func(time.Duration) {}
	assert.Equal(t, uint16(0), samplerB.ReadPot(0), "read error degrades to zero, no panic")
}
