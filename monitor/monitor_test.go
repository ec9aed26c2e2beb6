package monitor

import (
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/writer"
)

// pipeGuard is a minimal Guard backed by an os.Pipe, used to exercise
// Monitor.Run's poll loop without a real perf_event_open fd.
type pipeGuard struct {
	r     *os.File
	drain atomic.Int64
}

func (g *pipeGuard) Fd() int { return int(g.r.Fd()) }
func (g *pipeGuard) Drain() error {
	g.drain.Add(1)
	buf := make([]byte, 64)
	_, err := g.r.Read(buf)
	return err
}
func (g *pipeGuard) Close() error { return g.r.Close() }

func newMonitorForTest() (*Monitor, *pipeGuard, *os.File) {
	sink := memsink.New()
	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	w := writer.New(sink, ms, sink.DefineLocation("t1", 0))
	tree := cctx.NewLocalTree(w)

	r, wr, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	g := &pipeGuard{r: r}

	m := &Monitor{
		Scope:  ms,
		Log:    slog.Default(),
		Writer: w,
		Tree:   tree,
		Guards: []Guard{g},
	}
	return m, g, wr
}

func TestMonitorStartEndPairing(t *testing.T) {
	m, _, wr := newMonitorForTest()
	defer wr.Close()

	if err := m.Start(time.Unix(0, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := m.Finalize(time.Unix(0, 1)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestMonitorRunStopsOnStopFlag(t *testing.T) {
	m, _, wr := newMonitorForTest()
	defer wr.Close()

	if err := m.Start(time.Unix(0, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	m.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned an error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop within 5s of Stop()")
	}

	if err := m.Finalize(time.Unix(0, 1)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestMonitorRunDrainsReadyGuard(t *testing.T) {
	m, g, wr := newMonitorForTest()

	if err := m.Start(time.Unix(0, 0)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- m.Run() }()

	if _, err := wr.Write([]byte("x")); err != nil {
		t.Fatalf("writing to pipe: %v", err)
	}

	// Give the poll loop a chance to observe the readable fd before
	// stopping it.
	time.Sleep(150 * time.Millisecond)
	m.Stop()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop within 5s of Stop()")
	}
	wr.Close()

	if g.drain.Load() == 0 {
		t.Error("guard was never drained despite the pipe becoming readable")
	}

	if err := m.Finalize(time.Unix(0, 1)); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}
