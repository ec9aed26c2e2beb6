package main

import (
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/config"
	"github.com/arrowtrace/profiler/control"
	"github.com/arrowtrace/profiler/monitor"
	"github.com/arrowtrace/profiler/perfevent"
	"github.com/arrowtrace/profiler/registry"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/symtab"
	"github.com/arrowtrace/profiler/writer"
)

// assembler builds real monitor.Monitor instances from a loaded
// Config, the piece spec.md §4.10 leaves to the config-driven
// assembly layer: "only [control] knows which counters, tracepoints,
// and I/O sources a given scope should sample" is deliberately not
// true of control itself — it's true of this file.
type assembler struct {
	cfg     *config.Config
	log     *slog.Logger
	reg     *registry.Registry
	metrics prometheus.Registerer

	locGroup archive.LocGroupRef
	beginRgn archive.RegionRef
	endRgn   archive.RegionRef

	sampleAttr func() *perfevent.Attr
}

func newAssembler(cfg *config.Config, log *slog.Logger, reg *registry.Registry, metrics prometheus.Registerer, locGroup archive.LocGroupRef) *assembler {
	return &assembler{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		metrics:  metrics,
		locGroup: locGroup,
		beginRgn: reg.Sink().DefineRegion("thread_begin", "", 0),
		endRgn:   reg.Sink().DefineRegion("thread_end", "", 0),
		sampleAttr: func() *perfevent.Attr {
			typ, config := hardwareEventConfig(cfg.PerfSamplingEvent)
			return perfevent.Predefined(typ, config)
		},
	}
}

// hardwareEventConfig maps the small set of perf_sampling_event names
// spec.md's config surface accepts to PERF_TYPE_HARDWARE/config pairs,
// per linux/perf_event.h's generic hardware event enum. Unrecognized
// names fall back to cycles, the same default Default() picks.
func hardwareEventConfig(name string) (typ uint32, config uint64) {
	switch name {
	case "instructions":
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_INSTRUCTIONS
	case "cache-misses":
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CACHE_MISSES
	case "branch-misses":
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_BRANCH_MISSES
	case "cycles", "":
		fallthrough
	default:
		return unix.PERF_TYPE_HARDWARE, unix.PERF_COUNT_HW_CPU_CYCLES
	}
}

// buildSampleMonitor builds a sampling monitor.Monitor for one
// execution scope (a CPU in CPU-set mode, a thread in process mode),
// wiring a real perf_event_open ring the way monitor.NewRingGuard
// expects: Event.Mmap's raw bytes adapted through
// perfevent.NewRingSource, drained by a monitor.SampleDispatcher into
// ms's own writer/cctx.LocalTree pair.
func (a *assembler) buildSampleMonitor(ms scope.MeasurementScope, exec scope.ExecutionScope, locName string) (*monitor.Monitor, error) {
	attr := a.sampleAttr().
		WithSampleTypes(monitor.SampleIP | monitor.SampleTID | monitor.SampleTime).
		WithSamplePeriod(a.cfg.PerfSamplingPeriod).
		Exclusions(false, a.cfg.ExcludeKernel, false)
	if a.cfg.EnableCallgraph {
		attr = attr.WithCallchain()
	}

	ev, err := perfevent.Open(attr, exec, -1, 0)
	if err != nil {
		return nil, fmt.Errorf("assemble: opening sampling event for %s: %w", ms, err)
	}
	data, err := ev.Mmap(a.cfg.MmapPages)
	if err != nil {
		ev.Close()
		return nil, fmt.Errorf("assemble: mmapping ring for %s: %w", ms, err)
	}
	if err := ev.Enable(); err != nil {
		ev.Close()
		return nil, fmt.Errorf("assemble: enabling event for %s: %w", ms, err)
	}

	loc := a.reg.Location(ms, locName, a.locGroup)
	w := writer.New(a.reg.Sink(), ms, loc)
	tree := cctx.NewLocalTree(w)

	sampleType := monitor.SampleIP | monitor.SampleTID | monitor.SampleTime
	if a.cfg.EnableCallgraph {
		sampleType |= monitor.SampleCallchain
	}
	disp := &monitor.SampleDispatcher{
		Log:        a.log,
		Tree:       tree,
		SampleType: sampleType,
		Overlay:    symtab.NewOverlay(),
	}

	src := perfevent.NewRingSource(data)
	guard := monitor.NewRingGuard(ev.Fd, src, disp, func() error {
		return ev.Close()
	})

	return &monitor.Monitor{
		Scope:       ms,
		Log:         a.log,
		Writer:      w,
		Tree:        tree,
		Guards:      []monitor.Guard{guard},
		BeginRegion: a.beginRgn,
		EndRegion:   a.endRgn,
		Metrics:     monitor.NewMetrics(a.metrics, locName),
	}, nil
}

// cpuSetFactory builds a control.MonitorFactory over CPU-targeted
// measurement scopes, for monitor_type=cpu-set.
func (a *assembler) cpuSetFactory() control.MonitorFactory {
	return func(ms scope.MeasurementScope) (*monitor.Monitor, error) {
		return a.buildSampleMonitor(ms, scope.ForCpu(ms.Target.Cpu), ms.Target.Cpu.String())
	}
}

// processFactory builds a control.MonitorFactory over thread-targeted
// measurement scopes, for monitor_type=process.
func (a *assembler) processFactory() control.MonitorFactory {
	return func(ms scope.MeasurementScope) (*monitor.Monitor, error) {
		return a.buildSampleMonitor(ms, scope.ForThread(ms.Target.Thread), ms.Target.Thread.String())
	}
}
