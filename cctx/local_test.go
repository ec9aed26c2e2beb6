package cctx

import (
	"testing"
	"time"

	"github.com/arrowtrace/profiler/address"
	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/writer"
)

func newTestTree() (*LocalTree, *memsink.Sink) {
	sink := memsink.New()
	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	w := writer.New(sink, ms, sink.DefineLocation("t1", 0))
	return NewLocalTree(w), sink
}

func TestEnterEnterLeaveRestoresLevel(t *testing.T) {
	tree, sink := newTestTree()
	base := time.Unix(0, 0)

	if got := tree.CurLevel(); got != 0 {
		t.Fatalf("fresh tree level = %d, want 0", got)
	}

	tree.Enter(base, ForProcess(scope.Process(1)))
	if got := tree.CurLevel(); got != 1 {
		t.Fatalf("after one enter, level = %d, want 1", got)
	}

	tree.Enter(base.Add(1), ForThread(scope.Thread(1)))
	if got := tree.CurLevel(); got != 2 {
		t.Fatalf("after two enters, level = %d, want 2", got)
	}

	tree.Leave(base.Add(2))
	if got := tree.CurLevel(); got != 1 {
		t.Fatalf("after one leave, level = %d, want 1", got)
	}

	tree.Leave(base.Add(3), 0)
	if got := tree.CurLevel(); got != 0 {
		t.Fatalf("after leaving to root, level = %d, want 0", got)
	}

	if len(sink.Enters) != 2 || len(sink.Leaves) != 2 {
		t.Fatalf("expected 2 enters and 2 leaves, got %d/%d", len(sink.Enters), len(sink.Leaves))
	}
}

func TestSampleRefDeterministic(t *testing.T) {
	tree, _ := newTestTree()
	base := time.Unix(0, 0)

	frames := []Node{ForSample(address.Addr(0x1000)), ForSample(address.Addr(0x2000))}
	r1 := tree.SampleRef(base, frames, false)
	tree.Leave(base.Add(1), 0)

	r2 := tree.SampleRef(base.Add(2), frames, false)

	if r1 != r2 {
		t.Errorf("identical sample stacks produced different refs: %v != %v", r1, r2)
	}
}

func TestSampleRefKernelFrameDiscarded(t *testing.T) {
	tree, sink := newTestTree()
	base := time.Unix(0, 0)

	// Innermost-first: [user, kernel-entry]. With kernelFrame=true the
	// kernel-entry frame must be dropped, leaving only one user frame
	// entered (unwind distance 2, the single-IP case).
	frames := []Node{ForSample(address.Addr(0x1000)), ForSample(address.Addr(0xffffffff81000000))}
	tree.SampleRef(base, frames, true)

	if got := tree.CurLevel(); got != 1 {
		t.Fatalf("expected exactly one frame entered, level = %d", got)
	}
	if sink.Enters[0].UnwindDistance != 2 {
		t.Errorf("single-frame sample unwind distance = %d, want 2", sink.Enters[0].UnwindDistance)
	}
}

func TestNumCctxCountsDistinctPairs(t *testing.T) {
	tree, _ := newTestTree()
	base := time.Unix(0, 0)

	tree.Enter(base, ForProcess(scope.Process(1)))
	tree.Leave(base.Add(1), 0)
	tree.Enter(base.Add(2), ForProcess(scope.Process(1))) // same (variant, parent) pair
	tree.Leave(base.Add(3), 0)
	tree.Enter(base.Add(4), ForProcess(scope.Process(2))) // distinct variant
	tree.Leave(base.Add(5), 0)

	tree.Finalize()

	// root + process(1) + process(2) == 3 distinct nodes, regardless of
	// how many times each was entered.
	if got := tree.NumCctx(); got != 3 {
		t.Errorf("NumCctx() = %d, want 3", got)
	}
}
