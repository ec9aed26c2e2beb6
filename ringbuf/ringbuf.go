// Package ringbuf implements the producer-consumer drain of a mapped
// perf_event_open ring buffer (spec.md component C3): a power-of-two
// data region preceded by a one-page header of atomic head/tail
// cursors, with wrap-around record reassembly and overflow/loss
// accounting.
//
// The on-the-wire record header layout ({type uint32, misc uint16,
// size uint16}) and the subset of perf_event_type values this live
// sampler cares about are adapted from the teacher's perffile package,
// which decodes the same header for on-disk perf.data files; RecordType
// here is a small ring-local enum carrying only the values this package
// and monitor actually dispatch on, not the full on-disk record zoo.
package ringbuf

import (
	"encoding/binary"
	"fmt"
)

// recordHeaderSize is the fixed {type uint32, misc uint16, size
// uint16} prefix of every ring record.
const recordHeaderSize = 8

// A RecordType identifies the kind of a ring record, per the
// PERF_RECORD_* values in linux/perf_event.h (the same enum the
// teacher's RecordType models for perf.data files, trimmed to
// the subset a live sampling ring actually produces).
type RecordType uint32

const (
	RecordTypeMmap RecordType = 1 + iota
	RecordTypeLost
	RecordTypeComm
	RecordTypeExit
	RecordTypeThrottle
	RecordTypeUnthrottle
	RecordTypeFork
	RecordTypeRead
	RecordTypeSample
	_ // recordTypeMmap2, not dispatched here
	_ // RecordTypeAux, not dispatched here
	_ // RecordTypeItraceStart, not dispatched here
	_ // RecordTypeLostSamples, not dispatched here
	RecordTypeSwitch
	RecordTypeSwitchCPUWide
)

// Source is the seam between this package and the real mmap'd
// perf_event ring (owned by perfevent): it exposes the atomically
// published head cursor, the consumer-owned tail cursor publication,
// and the backing data region. size (len(Data())) must be a power of
// two, per spec.md's contract on init(fd, pages).
type Source interface {
	// Head performs an atomic, acquire-ordered load of the producer's
	// head cursor.
	Head() uint64
	// PublishTail performs an atomic, release-ordered store of the new
	// tail cursor, after all of the corresponding records have been
	// read (spec.md: "a release barrier precedes the tail update").
	PublishTail(tail uint64)
	// Data returns the ring's data region. Its length is the ring size
	// and must be a power of two.
	Data() []byte
}

// Record is one decoded ring entry, handed to a Dispatcher. Raw is the
// record's body (excluding the 8-byte header), reassembled into a
// contiguous scratch buffer if it crossed the ring's wrap boundary.
type Record struct {
	Type RecordType
	Misc uint16
	Raw  []byte
}

// Dispatcher receives decoded records and overflow notifications.
// Dispatch is called in ring order; Overflow is called at most once
// per Drain call, before any Dispatch calls for that drain.
type Dispatcher interface {
	Dispatch(Record)
	Overflow(lostBytes, lostRecords uint64)
	Unknown(recordType RecordType, raw []byte)
}

// Reader drains one ring Source, keeping its own view of the tail
// cursor between Drain calls (the Source's Data/Head don't change
// shape between calls, only the head cursor advances).
type Reader struct {
	src  Source
	tail uint64

	// meanRecordSize is used only to estimate a lost-record count from
	// a lost byte span on overflow (spec.md §8's ring-overflow
	// property); it has no effect on correctness of the records that
	// are actually read.
	meanRecordSize uint64

	scratch []byte
}

// defaultMeanRecordSize approximates a typical PERF_RECORD_SAMPLE with
// a handful of values; it only scales the reported loss count, which
// is inherently an estimate once bytes are gone.
const defaultMeanRecordSize = 64

// NewReader creates a Reader over src, starting at tail=0 (the
// convention perf_event_open itself uses for a freshly mapped ring).
func NewReader(src Source) *Reader {
	return &Reader{src: src, meanRecordSize: defaultMeanRecordSize}
}

// SetMeanRecordSize overrides the divisor used to estimate a lost
// record count on overflow.
func (r *Reader) SetMeanRecordSize(n uint64) {
	if n > 0 {
		r.meanRecordSize = n
	}
}

// Drain processes all records strictly between tail and head as
// observed at entry, advancing tail and publishing it back to src on
// return. If the ring overflowed (head-tail exceeds the ring size),
// Drain reports the loss via d.Overflow and resyncs tail to head
// without attempting to recover any partial record, per spec.md §4.1.
func (r *Reader) Drain(d Dispatcher) error {
	head := r.src.Head()
	data := r.src.Data()
	size := uint64(len(data))
	if size == 0 || size&(size-1) != 0 {
		return fmt.Errorf("ringbuf: data region size %d is not a power of two", size)
	}
	mask := size - 1

	tail := r.tail
	if head < tail {
		return fmt.Errorf("ringbuf: head %d moved backwards past tail %d", head, tail)
	}

	if head-tail > size {
		lost := head - tail - size
		d.Overflow(lost, lost/r.meanRecordSize)
		r.tail = head
		r.src.PublishTail(head)
		return nil
	}

	pos := tail
	for pos < head {
		hdrBuf := r.read(data, mask, pos, recordHeaderSize)
		typ := RecordType(binary.LittleEndian.Uint32(hdrBuf[0:4]))
		misc := binary.LittleEndian.Uint16(hdrBuf[4:6])
		size16 := binary.LittleEndian.Uint16(hdrBuf[6:8])

		if size16 < recordHeaderSize {
			return fmt.Errorf("ringbuf: corrupt record at offset %d: size %d too small", pos, size16)
		}
		bodyLen := int(size16) - recordHeaderSize
		body := r.read(data, mask, pos+recordHeaderSize, bodyLen)

		rec := Record{Type: typ, Misc: misc, Raw: body}
		switch typ {
		case RecordTypeMmap, RecordTypeLost, RecordTypeComm,
			RecordTypeExit, RecordTypeThrottle, RecordTypeUnthrottle,
			RecordTypeFork, RecordTypeSample, RecordTypeSwitch,
			RecordTypeSwitchCPUWide:
			d.Dispatch(rec)
		default:
			d.Unknown(typ, body)
		}

		pos += uint64(size16)
	}

	// Release barrier: on real hardware this is the atomic.Store with
	// release semantics performed inside src.PublishTail, issued only
	// after every read above has completed.
	r.tail = head
	r.src.PublishTail(head)
	return nil
}

// read returns n bytes starting at the ring-relative offset pos,
// reassembling them into r.scratch if the span crosses the wrap
// boundary so callers never have to think about wraparound.
func (r *Reader) read(data []byte, mask, pos uint64, n int) []byte {
	off := pos & mask
	size := uint64(len(data))
	if off+uint64(n) <= size {
		return data[off : off+uint64(n)]
	}

	if cap(r.scratch) < n {
		r.scratch = make([]byte, n)
	}
	scratch := r.scratch[:n]
	first := size - off
	copy(scratch, data[off:size])
	copy(scratch[first:], data[:uint64(n)-first])
	return scratch
}

// Tail returns the reader's current view of the consumed-up-to cursor.
func (r *Reader) Tail() uint64 { return r.tail }
