// Package ipc implements spec.md component C12: the shared-memory
// ring buffer GPU/OpenMP instrumentation agents inject events through.
// It is a Go rendering of lo2s's include/lo2s/ringbuf.hpp ShmRingbuf:
// a shm_open'd region with a header page (version, data size, and
// head/tail cursors) followed by a power-of-two data region, with
// producer reserve/commit and consumer peek/pop operations that fail
// rather than block when there isn't room.
//
// The C++ original additionally mmaps the data region a second time,
// back-to-back with the first, so that a record straddling the wrap
// boundary is contiguous in the producer's and consumer's virtual
// address space. This package instead copies a wrapped span's two
// halves on read and write (the same strategy package ringbuf already
// uses for the kernel-owned perf_event ring, see Reader.read) — the
// documented reserve/commit/peek/pop contract, the version/size/head/
// tail header layout, and the reservation-fails-on-insufficient-space
// behavior are preserved exactly; only the double-mmap virtual-memory
// aliasing trick itself is traded for an equivalent copy, a deliberate
// simplification recorded in DESIGN.md.
package ipc

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Version guards against an attaching consumer built against an
// incompatible header layout, mirroring RINGBUF_VERSION.
const Version = 1

// Header layout within the region's first page: version, data size,
// head, tail, each a little-endian uint64.
const (
	offVersion = 0
	offSize    = 8
	offHead    = 16
	offTail    = 24
	headerSize = 32
)

// Region is one shm-backed ring buffer, either the creating (producer)
// side or an attaching (consumer) side.
type Region struct {
	fd       int
	path     string
	data     []byte // pageSize header + size data bytes
	pageSize int
	size     uint64 // data region size in bytes, a power of two
	owner    bool
}

// Create allocates and maps a new ring buffer at path (a shm_open-style
// path, e.g. "/dev/shm/arrowtrace-cuda-12345"), sized pages * the
// system page size. pages must be a power of two, per spec.md §4.11's
// "power-of-two data region".
func Create(path string, pages int) (*Region, error) {
	if pages <= 0 || pages&(pages-1) != 0 {
		return nil, fmt.Errorf("ipc: pages %d is not a positive power of two", pages)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("ipc: creating shm region %s: %w", path, err)
	}

	pageSize := unix.Getpagesize()
	dataSize := uint64(pages) * uint64(pageSize)
	if err := unix.Ftruncate(fd, int64(uint64(pageSize)+dataSize)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ipc: sizing shm region %s: %w", path, err)
	}

	r, err := mapRegion(fd, path, pageSize, dataSize, true)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	binary.LittleEndian.PutUint64(r.data[offVersion:], Version)
	binary.LittleEndian.PutUint64(r.data[offSize:], dataSize)
	atomic.StoreUint64(r.headPtr(), 0)
	atomic.StoreUint64(r.tailPtr(), 0)
	return r, nil
}

// Attach opens and maps an existing ring buffer created by Create,
// reading its real size from the header rather than requiring the
// caller to already know it.
func Attach(path string) (*Region, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("ipc: opening shm region %s: %w", path, err)
	}

	pageSize := unix.Getpagesize()
	hdr, err := unix.Mmap(fd, 0, pageSize, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ipc: mapping header of %s: %w", path, err)
	}
	version := binary.LittleEndian.Uint64(hdr[offVersion:])
	dataSize := binary.LittleEndian.Uint64(hdr[offSize:])
	unix.Munmap(hdr)

	if version != Version {
		unix.Close(fd)
		return nil, fmt.Errorf("ipc: %s has ring buffer version %d, this build expects %d", path, version, Version)
	}

	r, err := mapRegion(fd, path, pageSize, dataSize, false)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	return r, nil
}

func mapRegion(fd int, path string, pageSize int, dataSize uint64, owner bool) (*Region, error) {
	total := int(uint64(pageSize) + dataSize)
	data, err := unix.Mmap(fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("ipc: mapping shm region %s: %w", path, err)
	}
	return &Region{fd: fd, path: path, data: data, pageSize: pageSize, size: dataSize, owner: owner}, nil
}

func (r *Region) headPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.data[offHead])) }
func (r *Region) tailPtr() *uint64 { return (*uint64)(unsafe.Pointer(&r.data[offTail])) }

// Head performs an atomic load of the producer's cursor.
func (r *Region) Head() uint64 { return atomic.LoadUint64(r.headPtr()) }

// Tail performs an atomic load of the consumer's cursor.
func (r *Region) Tail() uint64 { return atomic.LoadUint64(r.tailPtr()) }

// Size returns the data region's size in bytes.
func (r *Region) Size() uint64 { return r.size }

// freeSpace mirrors ShmRingbuf's reserve() availability check: the
// number of bytes that could be written before the producer would
// catch up to the consumer's tail.
func (r *Region) freeSpace() uint64 {
	head, tail := r.Head(), r.Tail()
	if head >= tail {
		return r.size - (head - tail)
	}
	return tail - head
}

// availableData mirrors can_be_loaded's complement: the number of
// bytes a consumer could read before catching up to head.
func (r *Region) availableData() uint64 {
	head, tail := r.Head(), r.Tail()
	if tail <= head {
		return head - tail
	}
	return head + r.size - tail
}

// Reserve copies payload into the ring at the current head and
// advances head, per spec.md §4.11's "producers reserve(n)/commit()".
// It reports false (a failed reservation) without writing anything if
// there is insufficient free space — the producer must drop or retry,
// exactly RingBufWriter::reserve's contract (a reservation that would
// leave zero bytes free is also rejected, matching the C++ `>=`
// comparison rather than `>`).
func (r *Region) Reserve(payload []byte) bool {
	n := uint64(len(payload))
	if n == 0 {
		return true
	}
	if n >= r.freeSpace() {
		return false
	}
	r.writeAt(r.Head(), payload)
	atomic.StoreUint64(r.headPtr(), (r.Head()+n)%r.size)
	return true
}

// Peek returns a copy of the next n bytes at tail without advancing
// it, or false if fewer than n bytes are available.
func (r *Region) Peek(n int) ([]byte, bool) {
	if n == 0 {
		return nil, true
	}
	if uint64(n) > r.availableData() {
		return nil, false
	}
	out := make([]byte, n)
	r.readAt(r.Tail(), out)
	return out, true
}

// Pop advances tail past n bytes already consumed via Peek, per
// spec.md's consumer "pop(n)".
func (r *Region) Pop(n int) {
	if n == 0 {
		return
	}
	atomic.StoreUint64(r.tailPtr(), (r.Tail()+uint64(n))%r.size)
}

// writeAt copies payload into the data region starting at ring
// position pos, splitting the copy across the wrap boundary.
func (r *Region) writeAt(pos uint64, payload []byte) {
	base := uint64(r.pageSize)
	off := pos % r.size
	n := uint64(len(payload))
	if off+n <= r.size {
		copy(r.data[base+off:], payload)
		return
	}
	first := r.size - off
	copy(r.data[base+off:], payload[:first])
	copy(r.data[base:], payload[first:])
}

// readAt copies len(out) bytes from the data region starting at ring
// position pos into out, splitting the copy across the wrap boundary.
func (r *Region) readAt(pos uint64, out []byte) {
	base := uint64(r.pageSize)
	off := pos % r.size
	n := uint64(len(out))
	if off+n <= r.size {
		copy(out, r.data[base+off:base+off+n])
		return
	}
	first := r.size - off
	copy(out[:first], r.data[base+off:base+r.size])
	copy(out[first:], r.data[base:base+(n-first)])
}

// Close unmaps the region. If this side created it (owner == true),
// it also unlinks the shm path, per spec.md §5's "shared-memory names
// are deleted on monitor teardown".
func (r *Region) Close() error {
	err := unix.Munmap(r.data)
	if cerr := unix.Close(r.fd); err == nil {
		err = cerr
	}
	if r.owner {
		if uerr := unix.Unlink(r.path); err == nil {
			err = uerr
		}
	}
	return err
}
