// Package perfevent implements the event-source factory of spec.md
// component C4: building and opening perf_event_open attributes for
// predefined (hardware/software), sysfs-PMU, raw, tracepoint, and
// breakpoint event flavors, probing availability, and degrading
// precision when the kernel can't honor a request as specified.
//
// Grounded on golang.org/x/sys/unix's perf_event_open binding
// (unix.PerfEventOpen/unix.PerfEventAttr) for the syscall itself; the
// sysfs PMU cpumask format (`/sys/bus/event_source/devices/<pmu>/
// cpumask`) is parsed with the same comma/dash range-list grammar as
// the teacher's CPUSet/parseCPUSet (cpuset.go), adapted into
// a package-local CPUSet type since this package has no other use for
// the rest of perffile's on-disk record model.
package perfevent

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// A CPUSet represents a set of CPU indices parsed from a sysfs
// range-list file (e.g. "0-3,8"), adapted from the teacher's
// CPUSet for the one sysfs cpumask lookup this package needs.
type CPUSet []int

// Flavor distinguishes how an event's type/config fields were
// produced, for diagnostics and for the degrade-on-failure ladder in
// Open.
type Flavor int

const (
	FlavorPredefined Flavor = iota
	FlavorSysfsPMU
	FlavorRaw
	FlavorTracepoint
	FlavorBreakpoint
)

func (f Flavor) String() string {
	switch f {
	case FlavorPredefined:
		return "predefined"
	case FlavorSysfsPMU:
		return "sysfs-pmu"
	case FlavorRaw:
		return "raw"
	case FlavorTracepoint:
		return "tracepoint"
	case FlavorBreakpoint:
		return "breakpoint"
	default:
		return "unknown"
	}
}

// perf_event_attr bit positions not otherwise named by
// golang.org/x/sys/unix (it flattens the kernel's bitfield into a
// single Bits uint64); these mirror linux/perf_event.h's layout.
const (
	bitDisabled = 1 << iota
	bitInherit
	bitPinned
	bitExclusive
	bitExcludeUser
	bitExcludeKernel
	bitExcludeHv
	bitExcludeIdle
	bitMmap
	bitComm
	_ // freq (bit 10); declared separately as bitFreq below
	bitInheritStat
	bitEnableOnExec
	bitTask
	bitWatermark
)
const bitFreq = 1 << 10
const bitSampleIDAll = 1 << 18
const bitPreciseIPShift = 15 // two-bit field, precise_ip

// Attr builds one perf_event_attr for opening, tracking the Flavor and
// the original requested precision for Open's degrade-on-EINVAL ladder
// (spec.md §4.2 "enforces availability and precision degradation").
type Attr struct {
	Flavor Flavor
	raw    unix.PerfEventAttr

	requestedPreciseIP int
}

func newAttr(flavor Flavor) *Attr {
	a := &Attr{Flavor: flavor}
	a.raw.Size = uint32(unix.SizeofPerfEventAttr)
	a.raw.Bits = bitDisabled
	return a
}

// Predefined builds an attribute for one of the generic hardware or
// software event types (PERF_TYPE_HARDWARE / PERF_TYPE_SOFTWARE).
func Predefined(typ uint32, config uint64) *Attr {
	a := newAttr(FlavorPredefined)
	a.raw.Type = typ
	a.raw.Config = config
	return a
}

// SysfsPMU builds an attribute for a dynamic PMU discovered under
// /sys/bus/event_source/devices/<name>, whose numeric "type" value is
// read from the PMU's own `type` file.
func SysfsPMU(pmuName string, config uint64) (*Attr, error) {
	typ, err := readPMUType(pmuName)
	if err != nil {
		return nil, err
	}
	a := newAttr(FlavorSysfsPMU)
	a.raw.Type = typ
	a.raw.Config = config
	return a, nil
}

// Raw builds an attribute directly from a PERF_TYPE_RAW config value,
// for CPU-model-specific events not exposed as a named PMU.
func Raw(config uint64) *Attr {
	a := newAttr(FlavorRaw)
	a.raw.Type = unix.PERF_TYPE_RAW
	a.raw.Config = config
	return a
}

// Tracepoint builds an attribute for a kernel tracepoint, whose id is
// read from /sys/kernel/tracing/events/<group>/<event>/id, per spec.md
// §6.
func Tracepoint(group, event string) (*Attr, error) {
	id, err := readTracepointID(group, event)
	if err != nil {
		return nil, err
	}
	a := newAttr(FlavorTracepoint)
	a.raw.Type = unix.PERF_TYPE_TRACEPOINT
	a.raw.Config = id
	a.raw.Sample_type = unix.PERF_SAMPLE_RAW | unix.PERF_SAMPLE_TID | unix.PERF_SAMPLE_TIME
	return a, nil
}

// Breakpoint builds an attribute for an 8-byte write watchpoint at
// addr, used exclusively for clock-bridge synchronization (spec.md
// §4.4): "Breakpoint: write watch on a 8-byte location; used only for
// clock-bridge synchronization."
func Breakpoint(addr uint64) *Attr {
	a := newAttr(FlavorBreakpoint)
	a.raw.Type = unix.PERF_TYPE_BREAKPOINT
	a.raw.Bp_type = unix.HW_BREAKPOINT_W
	a.raw.Ext1 = addr // union with Config1/Bp_addr
	a.raw.Ext2 = 8    // union with Config2/Bp_len
	a.raw.Sample = 1
	a.raw.Wakeup = 1
	return a
}

// WithSamplePeriod sets a fixed sample period (mutually exclusive with
// WithSampleFreq).
func (a *Attr) WithSamplePeriod(period uint64) *Attr {
	a.raw.Bits &^= bitFreq
	a.raw.Sample = period
	return a
}

// WithSampleFreq requests frequency-based sampling (mutually exclusive
// with WithSamplePeriod).
func (a *Attr) WithSampleFreq(hz uint64) *Attr {
	a.raw.Bits |= bitFreq
	a.raw.Sample = hz
	return a
}

// WithPreciseIP requests a PEBS precision level in [0,3]. Per
// SPEC_FULL.md's Open Question resolution, precise_ip == 0 is always
// treated as a valid, meaningful request — it is never silently
// downgraded to a PERF_TYPE_SOFTWARE "dummy" event.
func (a *Attr) WithPreciseIP(level int) *Attr {
	a.requestedPreciseIP = level
	a.raw.Bits &^= (3 << bitPreciseIPShift)
	a.raw.Bits |= uint64(level&3) << bitPreciseIPShift
	return a
}

// WithSampleTypes ORs in PERF_SAMPLE_* flags.
func (a *Attr) WithSampleTypes(flags uint64) *Attr {
	a.raw.Sample_type |= flags
	return a
}

// WithCallchain requests PERF_SAMPLE_CALLCHAIN, used by the cctx
// sampler to obtain more than the bare instruction pointer (spec.md
// §4.6's unwind-distance rule).
func (a *Attr) WithCallchain() *Attr {
	return a.WithSampleTypes(unix.PERF_SAMPLE_CALLCHAIN)
}

// Exclusions configures which execution levels to exclude.
func (a *Attr) Exclusions(user, kernel, hv bool) *Attr {
	if user {
		a.raw.Bits |= bitExcludeUser
	}
	if kernel {
		a.raw.Bits |= bitExcludeKernel
	}
	if hv {
		a.raw.Bits |= bitExcludeHv
	}
	return a
}

// WithClockID requests a specific clockid (e.g. CLOCK_MONOTONIC_RAW)
// be used for the kernel's sample timestamps, per spec.md §6's "perf_
// event_attr including clockid when supported".
func (a *Attr) WithClockID(id int32) *Attr {
	a.raw.Bits |= 1 << 25 // use_clockid, beyond the named bits above
	a.raw.Clockid = id
	return a
}

func readPMUType(pmuName string) (uint32, error) {
	path := fmt.Sprintf("/sys/bus/event_source/devices/%s/type", pmuName)
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("perfevent: reading PMU type for %q: %w", pmuName, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("perfevent: parsing PMU type for %q: %w", pmuName, err)
	}
	return uint32(n), nil
}

func readTracepointID(group, event string) (uint64, error) {
	path := fmt.Sprintf("/sys/kernel/tracing/events/%s/%s/id", group, event)
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("perfevent: reading tracepoint id for %s:%s: %w", group, event, err)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("perfevent: parsing tracepoint id for %s:%s: %w", group, event, err)
	}
	return n, nil
}

// pmuCPUSet reads and parses a dynamic PMU's cpumask file, using the
// same comma/dash range-list grammar as the teacher's
// CPUSet/parseCPUSet (cpuset.go), adapted here since that
// parser is unexported in the teacher package.
func pmuCPUSet(pmuName string) (CPUSet, error) {
	path := fmt.Sprintf("/sys/bus/event_source/devices/%s/cpumask", pmuName)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("perfevent: reading PMU cpumask for %q: %w", pmuName, err)
	}
	return parseCPURangeList(strings.TrimSpace(string(b)))
}

func parseCPURangeList(str string) (CPUSet, error) {
	var out CPUSet
	if str == "" {
		return out, nil
	}
	for _, r := range strings.Split(str, ",") {
		var lo, hi int
		var err error
		if dash := strings.IndexByte(r, '-'); dash == -1 {
			lo, err = strconv.Atoi(r)
			hi = lo
		} else {
			lo, err = strconv.Atoi(r[:dash])
			if err == nil {
				hi, err = strconv.Atoi(r[dash+1:])
			}
		}
		if err != nil {
			return nil, fmt.Errorf("perfevent: parsing cpu range %q: %w", r, err)
		}
		for cpu := lo; cpu <= hi; cpu++ {
			out = append(out, cpu)
		}
	}
	return out, nil
}
