// Package control implements spec.md component C11: the orchestrator
// that owns the set of running per-scope monitor.Monitor loops, starts
// and stops them in response to process-tree lifecycle events or
// SIGINT, and drives the stop sequence spec.md §4.10 describes — "stop
// all monitors, drive their finalize, merge cctx trees, write mapping
// tables, and close the archive."
//
// Grounded on lo2s's CpuSetMonitor (cpu_set_monitor.cpp) for the
// monitor-set lifecycle and SystemProcessMonitor/process_monitor_main
// for the per-thread monitor-on-demand pattern process mode uses.
package control

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aclements/go-moremath/stats"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/monitor"
	"github.com/arrowtrace/profiler/registry"
	"github.com/arrowtrace/profiler/scope"
)

// MonitorFactory builds (but does not Start or Run) a monitor for ms:
// opening its event sources, wiring its dispatcher, and returning the
// unstarted *monitor.Monitor. Supplied by the caller (the config-driven
// assembly in cmd/arrowtrace), since only it knows which counters,
// tracepoints, and I/O sources a given scope should sample.
type MonitorFactory func(ms scope.MeasurementScope) (*monitor.Monitor, error)

// liveMonitor pairs a running monitor with the channel its Run
// goroutine reports completion on, plus the time it was started, used
// to summarize each session's per-monitor lifetimes on the way out.
type liveMonitor struct {
	m       *monitor.Monitor
	done    chan error
	started time.Time
}

// Controller owns every monitor started for one recording session: a
// CPU-set session's per-CPU monitors plus lifecycle tracker, or a
// process-mode session's one-monitor-per-thread set, per spec.md
// §4.10.
type Controller struct {
	log    *slog.Logger
	reg    *registry.Registry
	merger *cctx.Merger

	newMonitor MonitorFactory

	mu      sync.Mutex
	running map[scope.MeasurementScope]*liveMonitor
	stopped bool
}

// New creates a Controller that builds monitors via newMonitor and
// merges each one's finalized cctx tree into merger on stop.
func New(log *slog.Logger, reg *registry.Registry, merger *cctx.Merger, newMonitor MonitorFactory) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		log:        log,
		reg:        reg,
		merger:     merger,
		newMonitor: newMonitor,
		running:    make(map[scope.MeasurementScope]*liveMonitor),
	}
}

// Start builds, starts, and runs (on its own goroutine) a monitor for
// ms. It is idempotent per-scope: starting an already-running scope
// is a no-op, matching spec.md §3's "created on first use" writer
// lifecycle when two lifecycle events race for the same thread.
func (c *Controller) Start(ms scope.MeasurementScope, t time.Time) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return fmt.Errorf("control: Start(%s) after the controller was stopped", ms)
	}
	if _, ok := c.running[ms]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	m, err := c.newMonitor(ms)
	if err != nil {
		return fmt.Errorf("control: building monitor for %s: %w", ms, err)
	}
	if err := m.Start(t); err != nil {
		return fmt.Errorf("control: starting monitor for %s: %w", ms, err)
	}

	lm := &liveMonitor{m: m, done: make(chan error, 1), started: t}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		m.Finalize(t)
		return fmt.Errorf("control: Start(%s) after the controller was stopped", ms)
	}
	c.running[ms] = lm
	c.mu.Unlock()

	go func() { lm.done <- m.Run() }()
	return nil
}

// Stop stops and finalizes the monitor for ms (if running) and merges
// its cctx tree into the global tree, per spec.md §4.2's per-thread
// exit path in process mode: a thread exiting stops just its own
// monitor rather than waiting for the whole session to end.
func (c *Controller) Stop(ms scope.MeasurementScope, t time.Time) error {
	c.mu.Lock()
	lm, ok := c.running[ms]
	if ok {
		delete(c.running, ms)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.stopOne(ms, lm, t)
}

func (c *Controller) stopOne(ms scope.MeasurementScope, lm *liveMonitor, t time.Time) error {
	lm.m.Stop()
	if err := <-lm.done; err != nil {
		c.log.Error("control: monitor run returned an error", "scope", ms, "error", err)
	}
	if err := lm.m.Finalize(t); err != nil {
		return fmt.Errorf("control: finalizing monitor for %s: %w", ms, err)
	}
	if _, err := c.merger.Merge(lm.m.Tree); err != nil {
		return fmt.Errorf("control: merging cctx tree for %s: %w", ms, err)
	}
	return nil
}

// StopAll stops, finalizes, and merges every still-running monitor,
// per spec.md §4.10's stop sequence. It is safe to call more than
// once; subsequent calls are no-ops. Start calls after StopAll fail.
func (c *Controller) StopAll(t time.Time) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	live := c.running
	c.running = make(map[scope.MeasurementScope]*liveMonitor)
	c.mu.Unlock()

	var firstErr error
	lifetimes := make([]float64, 0, len(live))
	for ms, lm := range live {
		if err := c.stopOne(ms, lm, t); err != nil && firstErr == nil {
			firstErr = err
		}
		lifetimes = append(lifetimes, t.Sub(lm.started).Seconds())
	}
	c.logLifetimeSummary(lifetimes)
	return firstErr
}

// logLifetimeSummary reports the mean and standard deviation of this
// session's per-monitor lifetimes, a cheap way to surface a lopsided
// session (one monitor finalizing far earlier than its peers usually
// means its event source died early and should be investigated). Uses
// go-moremath/stats, the same summary-statistics package the teacher's
// own latency-analysis tooling (cmd/memlat) builds on, rather than
// hand-rolling mean/variance here.
func (c *Controller) logLifetimeSummary(lifetimesSec []float64) {
	if len(lifetimesSec) == 0 {
		return
	}
	sample := stats.Sample{Xs: lifetimesSec}
	c.log.Info("control: session monitor lifetimes",
		"count", len(lifetimesSec),
		"mean_seconds", sample.Mean(),
		"stddev_seconds", sample.StdDev(),
	)
}

// Running reports the number of currently active monitors, for tests
// and diagnostics.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.running)
}

// RunningScopes reports the string form of every currently active
// monitor's scope, for status reporting (control/rpc.go's Status RPC).
func (c *Controller) RunningScopes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.running))
	for ms := range c.running {
		out = append(out, ms.String())
	}
	return out
}

// IsStopped reports whether StopAll has already run.
func (c *Controller) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// FinalizeArchive closes the sink after every monitor has been merged,
// per spec.md §4.10 ("...and closes the archive"). Call after StopAll.
func FinalizeArchive(sink archive.Sink, start, end time.Time, tickFreqHz uint64) error {
	sink.SetClockProperties(start, end, tickFreqHz)
	return sink.Close()
}
