package perfevent

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/arrowtrace/profiler/scope"
)

// Event is an opened perf_event_open file descriptor plus the
// attribute it was ultimately opened with (after any precision
// degradation).
type Event struct {
	Attr *Attr
	Fd   int
}

// Open opens attr against the given execution scope. Per spec.md
// §4.2's "enforces availability and precision degradation": if the
// open fails with EINVAL or EOPNOTSUPP and the attribute requested a
// precise_ip level greater than 0, Open retries at decreasing
// precision levels before giving up. A requested precise_ip of 0 is
// never degraded further (per SPEC_FULL.md's Open Question
// resolution) — it is already the least precise level.
func Open(attr *Attr, target scope.ExecutionScope, groupFd int, flags int) (*Event, error) {
	pid, cpu := targetToPidCpu(target)

	level := currentPreciseIP(attr)
	for {
		fd, err := unix.PerfEventOpen(&attr.raw, pid, cpu, groupFd, flags|unix.PERF_FLAG_FD_CLOEXEC)
		if err == nil {
			return &Event{Attr: attr, Fd: fd}, nil
		}
		if !isDegradable(err) || level == 0 {
			return nil, fmt.Errorf("perfevent: open %s event (precise_ip=%d): %w", attr.Flavor, level, err)
		}
		level--
		attr.WithPreciseIP(level)
	}
}

func currentPreciseIP(a *Attr) int {
	return int((a.raw.Bits >> bitPreciseIPShift) & 3)
}

func isDegradable(err error) bool {
	return err == unix.EINVAL || err == unix.EOPNOTSUPP
}

func targetToPidCpu(target scope.ExecutionScope) (pid, cpu int) {
	switch target.Kind {
	case scope.ExecCpu:
		return -1, int(target.Cpu)
	case scope.ExecThread:
		return int(target.Thread), -1
	default:
		return -1, -1
	}
}

// Enable/Disable/SetFilter/SetOutput/ID wrap the
// PERF_EVENT_IOC_{ENABLE,DISABLE,SET_FILTER,SET_OUTPUT,ID} ioctls
// named in spec.md §6.
func (e *Event) Enable() error {
	return unix.IoctlSetInt(e.Fd, unix.PERF_EVENT_IOC_ENABLE, 0)
}

func (e *Event) Disable() error {
	return unix.IoctlSetInt(e.Fd, unix.PERF_EVENT_IOC_DISABLE, 0)
}

func (e *Event) SetFilter(filter string) error {
	return unix.IoctlSetString(e.Fd, unix.PERF_EVENT_IOC_SET_FILTER, filter)
}

func (e *Event) SetOutput(other *Event) error {
	fd := -1
	if other != nil {
		fd = other.Fd
	}
	return unix.IoctlSetInt(e.Fd, unix.PERF_EVENT_IOC_SET_OUTPUT, fd)
}

func (e *Event) ID() (uint64, error) {
	return unix.IoctlGetUint64(e.Fd, unix.PERF_EVENT_IOC_ID)
}

func (e *Event) Close() error {
	return unix.Close(e.Fd)
}

// Mmap maps the ring buffer for this event: (pages+1)*page_size bytes,
// PROT_READ|PROT_WRITE, MAP_SHARED, per spec.md §6. pages must be a
// power of two.
func (e *Event) Mmap(pages int) ([]byte, error) {
	if pages <= 0 || pages&(pages-1) != 0 {
		return nil, fmt.Errorf("perfevent: mmap pages %d is not a positive power of two", pages)
	}
	pageSize := unix.Getpagesize()
	total := (pages + 1) * pageSize
	data, err := unix.Mmap(e.Fd, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("perfevent: mmap ring buffer: %w", err)
	}
	return data, nil
}

// Probe reports whether attr can be opened against target at all,
// without leaving the event open. Used by the availability-probing
// path of component C4.
func Probe(attr *Attr, target scope.ExecutionScope) bool {
	cp := *attr
	ev, err := Open(&cp, target, -1, 0)
	if err != nil {
		return false
	}
	ev.Close()
	return true
}
