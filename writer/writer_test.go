package writer

import (
	"testing"
	"time"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/scope"
)

func TestMonotonicFixup(t *testing.T) {
	sink := memsink.New()
	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	w := New(sink, ms, sink.DefineLocation("t1", 0))

	base := time.Unix(0, 0)
	raw := []int64{100, 90, 110}
	want := []int64{100, 100, 110}

	for i, ns := range raw {
		w.Metric(base.Add(time.Duration(ns)), 0, nil)
		got := sink.Metrics[i].Time.Sub(base).Nanoseconds()
		if got != want[i] {
			t.Errorf("event %d: got ts %d, want %d", i, got, want[i])
		}
	}
}

func TestBeginEndPairing(t *testing.T) {
	sink := memsink.New()
	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	w := New(sink, ms, sink.DefineLocation("t1", 0))

	w.Begin(time.Unix(0, 0), archive.RegionRef(0))
	w.End(time.Unix(0, 1), archive.RegionRef(0))

	if len(sink.ThreadBegins) != 1 || len(sink.ThreadEnds) != 1 {
		t.Fatalf("expected exactly one begin and one end, got %d/%d", len(sink.ThreadBegins), len(sink.ThreadEnds))
	}
}

func TestDoubleBeginPanics(t *testing.T) {
	sink := memsink.New()
	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	w := New(sink, ms, sink.DefineLocation("t1", 0))

	w.Begin(time.Unix(0, 0), archive.RegionRef(0))
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double Begin")
		}
	}()
	w.Begin(time.Unix(0, 1), archive.RegionRef(0))
}
