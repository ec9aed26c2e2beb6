package control

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/monitor"
	"github.com/arrowtrace/profiler/registry"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/writer"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRig wires a memsink-backed registry and merger, the stack every
// monitor factory built in these tests writes through.
type testRig struct {
	sink   *memsink.Sink
	reg    *registry.Registry
	merger *cctx.Merger
}

func newTestRig() *testRig {
	sink := memsink.New()
	reg := registry.New(sink)
	merger := cctx.NewMerger(sink, reg)
	return &testRig{sink: sink, reg: reg, merger: merger}
}

// noGuardFactory builds a guard-less monitor for ms: Run's poll loop
// has nothing to drain and simply waits out its bounded timeout until
// Stop is called, enough to exercise Controller's start/stop/merge
// bookkeeping without a real kernel event source.
func (r *testRig) noGuardFactory(ms scope.MeasurementScope) (*monitor.Monitor, error) {
	loc := r.sink.DefineLocation(ms.String(), 0)
	w := writer.New(r.sink, ms, loc)
	return &monitor.Monitor{
		Scope: ms,
		Log:   discardLogger(),
		Writer: w,
		Tree:  cctx.NewLocalTree(w),
	}, nil
}

func TestControllerStartStopMerges(t *testing.T) {
	rig := newTestRig()
	ctl := New(nil, rig.reg, rig.merger, rig.noGuardFactory)

	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(123))
	if err := ctl.Start(ms, time.Unix(0, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := ctl.Running(); got != 1 {
		t.Fatalf("Running() = %d, want 1", got)
	}

	if err := ctl.Stop(ms, time.Unix(0, 1)); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := ctl.Running(); got != 0 {
		t.Fatalf("Running() after Stop = %d, want 0", got)
	}
	// Root + nothing else: a monitor with no samples merges only its
	// (already-present) root node.
	if got := rig.merger.NumGlobalCctx(); got != 1 {
		t.Errorf("NumGlobalCctx() = %d, want 1 (root only)", got)
	}
}

func TestControllerStartIsIdempotentPerScope(t *testing.T) {
	rig := newTestRig()
	calls := 0
	factory := func(ms scope.MeasurementScope) (*monitor.Monitor, error) {
		calls++
		return rig.noGuardFactory(ms)
	}
	ctl := New(nil, rig.reg, rig.merger, factory)

	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	if err := ctl.Start(ms, time.Unix(0, 0)); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := ctl.Start(ms, time.Unix(0, 0)); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1 (second Start should be a no-op)", calls)
	}
	if err := ctl.StopAll(time.Unix(0, 1)); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
}

func TestControllerStopAllStopsEverythingOnce(t *testing.T) {
	rig := newTestRig()
	ctl := New(nil, rig.reg, rig.merger, rig.noGuardFactory)

	for i := 0; i < 3; i++ {
		ms := scope.ScopeForThread(scope.KindSample, scope.Thread(i))
		if err := ctl.Start(ms, time.Unix(0, 0)); err != nil {
			t.Fatalf("Start(%d): %v", i, err)
		}
	}
	if got := ctl.Running(); got != 3 {
		t.Fatalf("Running() = %d, want 3", got)
	}

	if err := ctl.StopAll(time.Unix(0, 1)); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if got := ctl.Running(); got != 0 {
		t.Fatalf("Running() after StopAll = %d, want 0", got)
	}

	// A second StopAll is a no-op, not an error.
	if err := ctl.StopAll(time.Unix(0, 2)); err != nil {
		t.Fatalf("second StopAll: %v", err)
	}
}

func TestControllerStartAfterStopAllFails(t *testing.T) {
	rig := newTestRig()
	ctl := New(nil, rig.reg, rig.merger, rig.noGuardFactory)

	if err := ctl.StopAll(time.Unix(0, 0)); err != nil {
		t.Fatalf("StopAll: %v", err)
	}

	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	if err := ctl.Start(ms, time.Unix(0, 1)); err == nil {
		t.Fatal("expected Start after StopAll to fail")
	}
}

func TestControllerFactoryErrorPropagates(t *testing.T) {
	rig := newTestRig()
	wantErr := fmt.Errorf("boom")
	ctl := New(nil, rig.reg, rig.merger, func(ms scope.MeasurementScope) (*monitor.Monitor, error) {
		return nil, wantErr
	})

	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	if err := ctl.Start(ms, time.Unix(0, 0)); err == nil {
		t.Fatal("expected Start to propagate the factory error")
	}
	if got := ctl.Running(); got != 0 {
		t.Errorf("Running() = %d, want 0 after a failed Start", got)
	}
}
