package clockbridge

import (
	"testing"
	"time"
)

func TestEstablishAppliesAffineOffset(t *testing.T) {
	// Simulate a kernel that reports "5 seconds since boot" for the
	// synchronization write; Convert on that exact kernelNs must
	// reproduce the local time observed at Establish, within noise.
	const kernelNsAtSync = uint64(5 * time.Second)

	src := BreakpointSource{WriteAndDrain: func() (uint64, bool) {
		return kernelNsAtSync, true
	}}

	b, ok := Establish(src)
	if !ok || !b.Synchronized() {
		t.Fatal("expected a successful synchronization")
	}

	got := b.Convert(kernelNsAtSync)
	if diff := got.Sub(b.zero); diff < -time.Millisecond || diff > time.Millisecond {
		t.Errorf("Convert(kernelNsAtSync) = %v, want ~= t0 (diff %v)", got, diff)
	}
}

func TestEstablishFallsBackWhenUnavailable(t *testing.T) {
	src := BreakpointSource{} // WriteAndDrain is nil: breakpoint unavailable

	b, ok := Establish(src)
	if ok {
		t.Fatal("expected Establish to report failure when the source yields no sample")
	}
	if b.Synchronized() {
		t.Fatal("expected an unsynchronized bridge")
	}
	if b.delta != 0 {
		t.Errorf("unsynchronized bridge delta = %v, want 0", b.delta)
	}
}

func TestInstructionsFallbackSource(t *testing.T) {
	called := false
	src := InstructionsFallbackSource{ReadOneSample: func() (uint64, bool) {
		called = true
		return 1000, true
	}}
	_, ok := Establish(src)
	if !ok || !called {
		t.Fatal("expected the instructions fallback to be consulted and to succeed")
	}
}
