package ipc

import (
	"encoding/binary"
	"fmt"
)

// Tag identifies one of the fixed record kinds spec.md §4.11 names:
// "kernel_def{id, name}, kernel{start, end, id}, omp_enter{tp, ctx},
// omp_leave{tp, ctx}". Grounded on lo2s's CUDA/HIP activity callbacks
// (src/cuda/lib.cpp's bufferCompleted: rb_writer->kernel_def(name)
// followed by rb_writer->kernel(start, end, cctx)) for the kernel_def/
// kernel pair's field order and purpose.
type Tag uint32

const (
	TagKernelDef Tag = iota + 1
	TagKernel
	TagOmpEnter
	TagOmpLeave
)

func (t Tag) String() string {
	switch t {
	case TagKernelDef:
		return "kernel_def"
	case TagKernel:
		return "kernel"
	case TagOmpEnter:
		return "omp_enter"
	case TagOmpLeave:
		return "omp_leave"
	default:
		return fmt.Sprintf("tag(%d)", uint32(t))
	}
}

// recordHeaderSize is this package's own wire header: {tag, bodyLen}
// as two little-endian uint32s. This is a format the core defines for
// its own agent protocol, not a kernel ABI, so it is free to be this
// simple rather than mirroring perf_event's record header.
const recordHeaderSize = 8

// KernelDef names a GPU kernel the first time it is seen; ID is the
// agent's own opaque identifier for it, referenced by later Kernel
// records to avoid repeating the name.
type KernelDef struct {
	ID   uint64
	Name string
}

// Kernel records one kernel execution's local-clock start/end against
// a previously defined KernelDef.ID.
type Kernel struct {
	Start, End uint64
	ID         uint64
}

// OmpEnter/OmpLeave bracket an OpenMP construct: TimeNs is the local
// clock timestamp, Ctx is the agent's opaque calling-context tag for
// the construct (matching the tp/ctx field names spec.md gives).
type OmpEnter struct {
	TimeNs uint64
	Ctx    uint64
}

type OmpLeave struct {
	TimeNs uint64
	Ctx    uint64
}

func encodeRecord(tag Tag, body []byte) []byte {
	buf := make([]byte, recordHeaderSize+len(body))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(tag))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(body)))
	copy(buf[recordHeaderSize:], body)
	return buf
}

// EncodeKernelDef serializes a KernelDef record.
func EncodeKernelDef(d KernelDef) []byte {
	body := make([]byte, 8+len(d.Name))
	binary.LittleEndian.PutUint64(body[0:8], d.ID)
	copy(body[8:], d.Name)
	return encodeRecord(TagKernelDef, body)
}

// EncodeKernel serializes a Kernel record.
func EncodeKernel(k Kernel) []byte {
	body := make([]byte, 24)
	binary.LittleEndian.PutUint64(body[0:8], k.Start)
	binary.LittleEndian.PutUint64(body[8:16], k.End)
	binary.LittleEndian.PutUint64(body[16:24], k.ID)
	return encodeRecord(TagKernel, body)
}

// EncodeOmpEnter serializes an OmpEnter record.
func EncodeOmpEnter(e OmpEnter) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body[0:8], e.TimeNs)
	binary.LittleEndian.PutUint64(body[8:16], e.Ctx)
	return encodeRecord(TagOmpEnter, body)
}

// EncodeOmpLeave serializes an OmpLeave record.
func EncodeOmpLeave(l OmpLeave) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint64(body[0:8], l.TimeNs)
	binary.LittleEndian.PutUint64(body[8:16], l.Ctx)
	return encodeRecord(TagOmpLeave, body)
}

// Decoded is one decoded agent record; exactly one of the pointer
// fields is non-nil, selected by Tag.
type Decoded struct {
	Tag       Tag
	KernelDef *KernelDef
	Kernel    *Kernel
	OmpEnter  *OmpEnter
	OmpLeave  *OmpLeave
}

func decodeBody(tag Tag, body []byte) (Decoded, error) {
	switch tag {
	case TagKernelDef:
		if len(body) < 8 {
			return Decoded{}, fmt.Errorf("ipc: truncated kernel_def record (%d bytes)", len(body))
		}
		return Decoded{Tag: tag, KernelDef: &KernelDef{
			ID:   binary.LittleEndian.Uint64(body[0:8]),
			Name: string(body[8:]),
		}}, nil

	case TagKernel:
		if len(body) != 24 {
			return Decoded{}, fmt.Errorf("ipc: malformed kernel record (%d bytes, want 24)", len(body))
		}
		return Decoded{Tag: tag, Kernel: &Kernel{
			Start: binary.LittleEndian.Uint64(body[0:8]),
			End:   binary.LittleEndian.Uint64(body[8:16]),
			ID:    binary.LittleEndian.Uint64(body[16:24]),
		}}, nil

	case TagOmpEnter:
		if len(body) != 16 {
			return Decoded{}, fmt.Errorf("ipc: malformed omp_enter record (%d bytes, want 16)", len(body))
		}
		return Decoded{Tag: tag, OmpEnter: &OmpEnter{
			TimeNs: binary.LittleEndian.Uint64(body[0:8]),
			Ctx:    binary.LittleEndian.Uint64(body[8:16]),
		}}, nil

	case TagOmpLeave:
		if len(body) != 16 {
			return Decoded{}, fmt.Errorf("ipc: malformed omp_leave record (%d bytes, want 16)", len(body))
		}
		return Decoded{Tag: tag, OmpLeave: &OmpLeave{
			TimeNs: binary.LittleEndian.Uint64(body[0:8]),
			Ctx:    binary.LittleEndian.Uint64(body[8:16]),
		}}, nil

	default:
		return Decoded{}, fmt.Errorf("ipc: unknown record tag %s", tag)
	}
}

// Next decodes and pops the next record in r, or returns ok=false if
// a complete record is not yet available (the producer hasn't
// finished committing it).
func Next(r *Region) (rec Decoded, ok bool, err error) {
	hdr, ok := r.Peek(recordHeaderSize)
	if !ok {
		return Decoded{}, false, nil
	}
	tag := Tag(binary.LittleEndian.Uint32(hdr[0:4]))
	bodyLen := binary.LittleEndian.Uint32(hdr[4:8])
	total := recordHeaderSize + int(bodyLen)

	full, ok := r.Peek(total)
	if !ok {
		return Decoded{}, false, nil
	}

	rec, err = decodeBody(tag, full[recordHeaderSize:])
	r.Pop(total)
	return rec, true, err
}
