package cctx

import (
	"testing"
	"time"

	"github.com/arrowtrace/profiler/address"
	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/registry"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/writer"
)

func TestMergeIdempotence(t *testing.T) {
	sink := memsink.New()
	reg := registry.New(sink)
	merger := NewMerger(sink, reg)

	loc1 := sink.DefineLocation("t1", 0)
	loc2 := sink.DefineLocation("t2", 0)
	w1 := writer.New(sink, scope.ScopeForThread(scope.KindSample, scope.Thread(1)), loc1)
	w2 := writer.New(sink, scope.ScopeForThread(scope.KindSample, scope.Thread(2)), loc2)

	tree1 := NewLocalTree(w1)
	tree2 := NewLocalTree(w2)

	base := time.Unix(0, 0)
	tree1.SampleRef(base, []Node{ForSample(address.Addr(0x1000))}, false)
	tree2.SampleRef(base, []Node{ForSample(address.Addr(0x1000))}, false)

	tree1.Finalize()
	tree2.Finalize()

	m1, err := merger.Merge(tree1)
	if err != nil {
		t.Fatalf("Merge(tree1): %v", err)
	}
	m2, err := merger.Merge(tree2)
	if err != nil {
		t.Fatalf("Merge(tree2): %v", err)
	}

	// Identical single-sample local trees must land on the same global
	// node: one sample per tree, one child of the root each, same
	// variant -> shared global ref.
	localRef1 := archive.CctxRef(tree1.arena[1].Ref)
	localRef2 := archive.CctxRef(tree2.arena[1].Ref)

	if m1[localRef1] != m2[localRef2] {
		t.Errorf("two identical local trees merged to different global refs: %v != %v", m1[localRef1], m2[localRef2])
	}

	// root + one shared sample node == 2 distinct global nodes.
	if got := merger.NumGlobalCctx(); got != 2 {
		t.Errorf("NumGlobalCctx() = %d, want 2", got)
	}

	if len(sink.MapTables()) != 2 {
		t.Errorf("expected one mapping table per writer, got %d", len(sink.MapTables()))
	}
}

func TestMergeAfterFinalizeRejected(t *testing.T) {
	sink := memsink.New()
	reg := registry.New(sink)
	merger := NewMerger(sink, reg)

	loc := sink.DefineLocation("t1", 0)
	w := writer.New(sink, scope.ScopeForThread(scope.KindSample, scope.Thread(1)), loc)
	tree := NewLocalTree(w)
	tree.Finalize()

	merger.Finalize()
	if _, err := merger.Merge(tree); err == nil {
		t.Fatal("expected Merge after Finalize to return an error")
	}
}

func TestMergeDistinctSamplesProduceDistinctGlobalNodes(t *testing.T) {
	sink := memsink.New()
	reg := registry.New(sink)
	merger := NewMerger(sink, reg)

	loc := sink.DefineLocation("t1", 0)
	w := writer.New(sink, scope.ScopeForThread(scope.KindSample, scope.Thread(1)), loc)
	tree := NewLocalTree(w)

	base := time.Unix(0, 0)
	tree.SampleRef(base, []Node{ForSample(address.Addr(0x1000))}, false)
	tree.Leave(base.Add(1), 0)
	tree.SampleRef(base.Add(2), []Node{ForSample(address.Addr(0x2000))}, false)
	tree.Finalize()

	if _, err := merger.Merge(tree); err != nil {
		t.Fatalf("Merge: %v", err)
	}

	// root + two distinct sample addresses == 3 distinct global nodes.
	if got := merger.NumGlobalCctx(); got != 3 {
		t.Errorf("NumGlobalCctx() = %d, want 3", got)
	}
}
