package perfevent

import (
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Fixed offsets of data_head/data_tail within perf_event_mmap_page,
// per the kernel ABI (tools/include/uapi/linux/perf_event.h): the
// struct is laid out so these two fields sit at byte offset 1024/1032
// regardless of the host's page size, immediately after the
// reserved padding that follows the timekeeping fields.
const (
	mmapPageDataHead = 1024
	mmapPageDataTail = 1032
)

// RingSource adapts one Event's mmap'd ring buffer into a
// ringbuf.Source: the kernel publishes data_head with a release
// store after appending records, and expects the consumer to publish
// data_tail with a release store after it has finished reading up to
// that point, per perf_event_open(2)'s ring buffer documentation.
type RingSource struct {
	page []byte // the full mapping: one header page + the data region
}

// NewRingSource wraps data, the []byte returned by Event.Mmap, as a
// ringbuf.Source.
func NewRingSource(data []byte) *RingSource {
	return &RingSource{page: data}
}

func (r *RingSource) headPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.page[mmapPageDataHead]))
}

func (r *RingSource) tailPtr() *uint64 {
	return (*uint64)(unsafe.Pointer(&r.page[mmapPageDataTail]))
}

// Head performs an acquire-ordered load of data_head.
func (r *RingSource) Head() uint64 {
	return atomic.LoadUint64(r.headPtr())
}

// PublishTail performs a release-ordered store of data_tail.
func (r *RingSource) PublishTail(tail uint64) {
	atomic.StoreUint64(r.tailPtr(), tail)
}

// Data returns the ring's data region: everything after the first
// (header) page of the mapping, matching Event.Mmap's
// (pages+1)*page_size layout.
func (r *RingSource) Data() []byte {
	return r.page[unix.Getpagesize():]
}
