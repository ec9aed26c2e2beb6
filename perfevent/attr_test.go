package perfevent

import (
	"reflect"
	"testing"

	"golang.org/x/sys/unix"
)

func TestPredefinedAttrFields(t *testing.T) {
	a := Predefined(unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES)
	if a.Flavor != FlavorPredefined {
		t.Errorf("Flavor = %v, want FlavorPredefined", a.Flavor)
	}
	if a.raw.Type != unix.PERF_TYPE_HARDWARE || a.raw.Config != unix.PERF_COUNT_HW_CPU_CYCLES {
		t.Errorf("unexpected attr fields: %+v", a.raw)
	}
	if a.raw.Bits&bitDisabled == 0 {
		t.Error("expected the disabled bit to be set on a freshly built attr")
	}
}

func TestWithPreciseIPZeroIsNotDegraded(t *testing.T) {
	a := Predefined(unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES).WithPreciseIP(0)
	if currentPreciseIP(a) != 0 {
		t.Fatalf("currentPreciseIP = %d, want 0", currentPreciseIP(a))
	}
	// Per the Open Question resolution, precise_ip=0 must never be
	// treated as "nothing left to degrade to" in a way that silently
	// swaps the event for a dummy one; the degrade loop in Open simply
	// stops retrying once level reaches 0, returning the original
	// error instead.
}

func TestWithPreciseIPRoundTrips(t *testing.T) {
	for level := 0; level <= 3; level++ {
		a := Predefined(0, 0).WithPreciseIP(level)
		if got := currentPreciseIP(a); got != level {
			t.Errorf("level %d: currentPreciseIP = %d", level, got)
		}
	}
}

func TestWithSampleFreqAndPeriodAreExclusive(t *testing.T) {
	a := Predefined(0, 0).WithSampleFreq(99)
	if a.raw.Bits&bitFreq == 0 {
		t.Error("expected freq bit set after WithSampleFreq")
	}
	a.WithSamplePeriod(1000)
	if a.raw.Bits&bitFreq != 0 {
		t.Error("expected freq bit cleared after WithSamplePeriod")
	}
	if a.raw.Sample != 1000 {
		t.Errorf("Sample = %d, want 1000", a.raw.Sample)
	}
}

func TestBreakpointAttr(t *testing.T) {
	a := Breakpoint(0xdeadbeef)
	if a.Flavor != FlavorBreakpoint {
		t.Errorf("Flavor = %v, want FlavorBreakpoint", a.Flavor)
	}
	if a.raw.Type != unix.PERF_TYPE_BREAKPOINT {
		t.Errorf("Type = %d, want PERF_TYPE_BREAKPOINT", a.raw.Type)
	}
	if a.raw.Ext1 != 0xdeadbeef || a.raw.Ext2 != 8 {
		t.Errorf("unexpected breakpoint address/length: %+v", a.raw)
	}
}

func TestParseCPURangeList(t *testing.T) {
	cases := map[string][]int{
		"":        nil,
		"0":       {0},
		"0-3":     {0, 1, 2, 3},
		"0,2,4-6": {0, 2, 4, 5, 6},
	}
	for in, want := range cases {
		got, err := parseCPURangeList(in)
		if err != nil {
			t.Fatalf("parseCPURangeList(%q): %v", in, err)
		}
		if !reflect.DeepEqual([]int(got), want) {
			t.Errorf("parseCPURangeList(%q) = %v, want %v", in, got, want)
		}
	}
}
