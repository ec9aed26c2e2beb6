// Package monitor implements the per-scope polling loops of spec.md
// component C10: each owns a set of kernel event-source guards, a
// local writer, and a local calling-context tree, and drains them on
// a bounded-timeout poll wake, per spec.md §4.9 and §5's concurrency
// model.
package monitor

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/ringbuf"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/writer"
)

// pollTimeout is the bounded poll wait of spec.md §5: "the ring poll
// uses a bounded timeout (default 100ms) so cancellation latency is
// bounded."
const pollTimeout = 100 * time.Millisecond

// Guard owns one kernel event source's fd and ring, draining it into
// a Dispatcher on demand (spec.md §5: "every kernel event fd... is
// owned by a guard type with deterministic release").
type Guard interface {
	Fd() int
	Drain() error
	Close() error
}

// ringGuard adapts a ringbuf.Source plus its file descriptor into a
// Guard, the shape every perf_event_open mmap ring and the eBPF POSIX
// I/O ring share.
type ringGuard struct {
	fd     int
	reader *ringbuf.Reader
	disp   ringbuf.Dispatcher
	closer func() error
}

func (g *ringGuard) Fd() int      { return g.fd }
func (g *ringGuard) Drain() error { return g.reader.Drain(g.disp) }
func (g *ringGuard) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

// NewRingGuard wraps src (backed by an mmap'd perf_event or eBPF ring)
// as a Guard, polled on fd and drained into disp.
func NewRingGuard(fd int, src ringbuf.Source, disp ringbuf.Dispatcher, closer func() error) Guard {
	return &ringGuard{fd: fd, reader: ringbuf.NewReader(src), disp: disp, closer: closer}
}

// CounterReader performs a PERF_FORMAT_GROUP read of one or more
// counter file descriptors and returns raw (value, running-time,
// enabled-time) triples ready for scaling, per spec.md §4.9 step 2
// ("read counter values via group read, convert, and emit metric
// records").
type CounterReader interface {
	ReadGroup() ([]uint64, error)
}

// Monitor is one poll loop: a fixed set of Guards, an optional
// periodic CounterReader driven by a timerfd, a local Writer/cctx
// tree pair, and a cooperative stop flag.
type Monitor struct {
	Scope  scope.MeasurementScope
	Log    *slog.Logger
	Writer *writer.Writer
	Tree   *cctx.LocalTree

	Guards        []Guard
	Counters      CounterReader
	MetricClass   archive.MetricInstRef
	ReadInterval  time.Duration
	BeginRegion   archive.RegionRef
	EndRegion     archive.RegionRef
	Metrics       *Metrics

	timerFd int
	stop_   atomic.Bool
}

// Start opens the monitor's timerfd (if ReadInterval is set) and emits
// the writer's thread_begin event, per spec.md §3's writer lifecycle.
func (m *Monitor) Start(t time.Time) error {
	m.Writer.Begin(t, m.BeginRegion)

	if m.ReadInterval <= 0 || m.Counters == nil {
		m.timerFd = -1
		return nil
	}
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, 0)
	if err != nil {
		return fmt.Errorf("monitor: creating timerfd: %w", err)
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(m.ReadInterval.Nanoseconds()),
		Interval: unix.NsecToTimespec(m.ReadInterval.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		unix.Close(fd)
		return fmt.Errorf("monitor: arming timerfd: %w", err)
	}
	m.timerFd = fd
	return nil
}

// Stop flips the cooperative stop_ flag polled every iteration
// (spec.md §5: "monitors expose an atomic stop_ flag polled every
// iteration"). It is safe to call from any goroutine.
func (m *Monitor) Stop() { m.stop_.Store(true) }

// Run drives the poll loop until Stop is called, returning once the
// loop has observed the flag and exited cleanly.
func (m *Monitor) Run() error {
	pollFds := make([]unix.PollFd, 0, len(m.Guards)+1)
	for _, g := range m.Guards {
		pollFds = append(pollFds, unix.PollFd{Fd: int32(g.Fd()), Events: unix.POLLIN})
	}
	timerIdx := -1
	if m.timerFd >= 0 {
		timerIdx = len(pollFds)
		pollFds = append(pollFds, unix.PollFd{Fd: int32(m.timerFd), Events: unix.POLLIN})
	}

	for {
		if m.stop_.Load() {
			return nil
		}

		n, err := unix.Poll(pollFds, int(pollTimeout.Milliseconds()))
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("monitor: poll: %w", err)
		}
		if m.Metrics != nil {
			m.Metrics.Wakeups.Inc()
		}
		if n == 0 {
			continue // bounded-timeout wake with nothing ready; re-check stop_
		}

		drainStart := time.Now()
		for i, g := range m.Guards {
			if pollFds[i].Revents&unix.POLLIN == 0 {
				continue
			}
			if err := g.Drain(); err != nil {
				m.Log.Error("monitor: draining guard", "fd", g.Fd(), "error", err)
			}
		}
		if m.Metrics != nil {
			m.Metrics.DrainSeconds.Observe(time.Since(drainStart).Seconds())
		}

		if timerIdx >= 0 && pollFds[timerIdx].Revents&unix.POLLIN != 0 {
			if err := m.readTimerExpirations(); err != nil {
				m.Log.Error("monitor: reading timerfd", "error", err)
			}
			if err := m.emitCounters(); err != nil {
				m.Log.Error("monitor: emitting counters", "error", err)
			}
		}
	}
}

func (m *Monitor) readTimerExpirations() error {
	var buf [8]byte
	_, err := unix.Read(m.timerFd, buf[:])
	return err
}

func (m *Monitor) emitCounters() error {
	values, err := m.Counters.ReadGroup()
	if err != nil {
		return err
	}
	m.Writer.Metric(time.Now(), m.MetricClass, values)
	return nil
}

// Finalize emits the writer's thread_end event, finalizes the local
// cctx tree, and releases every guard and the timerfd. Finalize must
// be called exactly once, after Run has returned.
func (m *Monitor) Finalize(t time.Time) error {
	m.Writer.End(t, m.EndRegion)
	m.Tree.Finalize()

	var firstErr error
	for _, g := range m.Guards {
		if err := g.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if m.timerFd >= 0 {
		if err := unix.Close(m.timerFd); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
