package monitor

import (
	"encoding/binary"
	"fmt"
)

// Sample bit flags this package understands, named exactly as
// PERF_SAMPLE_* in linux/perf_event.h. The monitor only ever opens
// sampling events with a subset of these (spec.md §4.2's
// `enable_callgraph`, `perf_sampling_event` config knobs), so
// DecodeSample only needs to support this subset rather than the
// kernel's full combinatorial field list.
const (
	SampleIP        uint64 = 1 << 0
	SampleTID       uint64 = 1 << 1
	SampleTime      uint64 = 1 << 2
	SampleCallchain uint64 = 1 << 10
)

const supportedSampleTypes = SampleIP | SampleTID | SampleTime | SampleCallchain

// PerfContextKernel and PerfContextUser are the PERF_CONTEXT_* sentinel
// "addresses" the kernel interleaves into a callchain to mark a
// transition between kernel and user frames.
const (
	PerfContextKernel = ^uint64(0) - 128 + 1 // PERF_CONTEXT_KERNEL (-128)
	PerfContextUser   = ^uint64(0) - 512 + 1 // PERF_CONTEXT_USER (-512)
)

// Sample is a decoded PERF_RECORD_SAMPLE payload for the sample_type
// subset this package supports.
type Sample struct {
	Pid, Tid  uint32
	TimeNs    uint64
	IP        uint64
	Callchain []uint64 // innermost-first, as laid out by the kernel; may include PERF_CONTEXT_* markers
}

// DecodeSample parses raw (the record body following the common
// perf_event_header) according to sampleType, the exact Sample_type
// bitmask the originating event's Attr was opened with. Fields absent
// from sampleType are left zero. Unsupported bits produce an error
// rather than silently misparsing the fixed-order record.
func DecodeSample(raw []byte, sampleType uint64) (Sample, error) {
	if sampleType&^supportedSampleTypes != 0 {
		return Sample{}, fmt.Errorf("monitor: sample_type %#x has unsupported bits (supported: %#x)", sampleType, supportedSampleTypes)
	}

	var s Sample
	off := 0
	need := func(n int) error {
		if off+n > len(raw) {
			return fmt.Errorf("monitor: truncated sample record: need %d more bytes at offset %d of %d", n, off, len(raw))
		}
		return nil
	}

	if sampleType&SampleIP != 0 {
		if err := need(8); err != nil {
			return Sample{}, err
		}
		s.IP = binary.LittleEndian.Uint64(raw[off:])
		off += 8
	}
	if sampleType&SampleTID != 0 {
		if err := need(8); err != nil {
			return Sample{}, err
		}
		s.Pid = binary.LittleEndian.Uint32(raw[off:])
		s.Tid = binary.LittleEndian.Uint32(raw[off+4:])
		off += 8
	}
	if sampleType&SampleTime != 0 {
		if err := need(8); err != nil {
			return Sample{}, err
		}
		s.TimeNs = binary.LittleEndian.Uint64(raw[off:])
		off += 8
	}
	if sampleType&SampleCallchain != 0 {
		if err := need(8); err != nil {
			return Sample{}, err
		}
		nr := binary.LittleEndian.Uint64(raw[off:])
		off += 8
		if err := need(int(nr) * 8); err != nil {
			return Sample{}, err
		}
		s.Callchain = make([]uint64, nr)
		for i := range s.Callchain {
			s.Callchain[i] = binary.LittleEndian.Uint64(raw[off:])
			off += 8
		}
	}
	return s, nil
}

// StripContextMarkers removes the PERF_CONTEXT_* sentinel "addresses"
// the kernel interleaves into a callchain, returning the real
// addresses in the same (innermost-first) order plus whether a
// PERF_CONTEXT_KERNEL marker was seen — the hasKernel flag
// cctx.LocalTree.SampleRef uses to discard the outermost entry as the
// kernel's entry frame, per spec.md §4.6.
func StripContextMarkers(chain []uint64) (addrs []uint64, hasKernel bool) {
	addrs = make([]uint64, 0, len(chain))
	for _, ip := range chain {
		switch ip {
		case PerfContextKernel:
			hasKernel = true
		case PerfContextUser:
		default:
			addrs = append(addrs, ip)
		}
	}
	return addrs, hasKernel
}
