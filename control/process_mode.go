package control

import (
	"log/slog"
	"time"

	"github.com/arrowtrace/profiler/registry"
	"github.com/arrowtrace/profiler/scope"
)

// ProcessLifecycle adapts a Controller to proctree.Monitor (it is not
// declared to implement that interface directly here, to keep control
// free of a direct dependency on proctree's ptrace internals; the
// caller assembling a process-mode session asserts the fit). Every
// fork/clone reported by the ptrace tree starts one sample monitor for
// the new thread; every exit stops just that thread's monitor, per
// spec.md §4.10 ("process mode launches one monitor per target thread
// plus the lifecycle tracker"), grounded on lo2s's SystemProcessMonitor
// implementing the same observer role over process_monitor_main's
// ptrace loop.
type ProcessLifecycle struct {
	log  *slog.Logger
	ctl  *Controller
	reg  *registry.Registry
	kind scope.MeasurementKind
}

// NewProcessLifecycle builds a ProcessLifecycle driving ctl's monitors
// under measurement kind (ordinarily scope.KindSample).
func NewProcessLifecycle(log *slog.Logger, ctl *Controller, reg *registry.Registry, kind scope.MeasurementKind) *ProcessLifecycle {
	if log == nil {
		log = slog.Default()
	}
	return &ProcessLifecycle{log: log, ctl: ctl, reg: reg, kind: kind}
}

// InsertProcess registers the forked child's comm group and starts its
// main thread's monitor. parent and spawned are accepted to match
// proctree.Monitor's signature; this adapter does not otherwise use
// them, since every process shares one flat comm-group namespace keyed
// by scope.Process regardless of how it came to be traced.
func (p *ProcessLifecycle) InsertProcess(parent, child scope.Process, name string, spawned bool) error {
	group := p.reg.CommGroup(child, name)
	p.reg.Comm(child.AsThread(), name, group)
	return p.ctl.Start(scope.ScopeForThread(p.kind, child.AsThread()), time.Now())
}

// InsertThread registers a cloned thread's comm under its process's
// group and starts its monitor.
func (p *ProcessLifecycle) InsertThread(process scope.Process, thread scope.Thread, name string) error {
	group := p.reg.CommGroup(process, "")
	p.reg.Comm(thread, name, group)
	return p.ctl.Start(scope.ScopeForThread(p.kind, thread), time.Now())
}

// UpdateProcessName is invoked on PTRACE_EVENT_EXEC. The registry has
// no rename operation (Comm names are fixed at definition time, per
// OTF2's append-only definition model), so the exec'd name is only
// logged; the thread keeps the name it was inserted under.
func (p *ProcessLifecycle) UpdateProcessName(proc scope.Process, name string) {
	p.log.Debug("control: process exec'd, comm unchanged in archive", "process", proc, "new_name", name)
}

// ExitThread stops and merges the exiting thread's monitor.
func (p *ProcessLifecycle) ExitThread(t scope.Thread) error {
	return p.ctl.Stop(scope.ScopeForThread(p.kind, t), time.Now())
}
