package registry

import (
	"testing"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/scope"
)

func TestInternIsIdempotent(t *testing.T) {
	r := New(memsink.New())
	a := r.Intern("hello")
	b := r.Intern("hello")
	c := r.Intern("world")
	if a != b {
		t.Errorf("Intern(\"hello\") twice returned different refs: %v != %v", a, b)
	}
	if a == c {
		t.Errorf("Intern of distinct strings returned the same ref")
	}
}

func TestProcessNodeIsIdempotent(t *testing.T) {
	r := New(memsink.New())
	root := r.RootSystemTreeNode("host")
	n1 := r.ProcessNode(scope.Process(42), "echo", root)
	n2 := r.ProcessNode(scope.Process(42), "echo (stale name)", root)
	if n1 != n2 {
		t.Errorf("ProcessNode(42) twice returned different refs: %v != %v", n1, n2)
	}
	other := r.ProcessNode(scope.Process(7), "cat", root)
	if other == n1 {
		t.Errorf("different processes got the same node ref")
	}
}

func TestLineInfoRegionDedup(t *testing.T) {
	r := New(memsink.New())
	li := archive.LineInfo{Function: "main", File: "main.c", Line: 10, Dso: "a.out"}
	a := r.LineInfoRegion(li)
	b := r.LineInfoRegion(li)
	if a != b {
		t.Errorf("LineInfoRegion dedup failed: %v != %v", a, b)
	}
}
