package symtab

import (
	"testing"
	"time"

	"github.com/arrowtrace/profiler/address"
	"github.com/arrowtrace/profiler/scope"
)

func TestProcessOverlaysGreatestLowerBound(t *testing.T) {
	s := NewProcessOverlays()
	p := scope.Process(42)

	t0 := time.Unix(1000, 0)
	t1 := time.Unix(2000, 0)

	o0 := s.NewVersion(p, t0)
	o0.Insert(address.Mapping{Range: address.NewRange(0x1000, 0x2000), Filename: "a.out"})

	o1 := s.NewVersion(p, t1)
	o1.Insert(address.Mapping{Range: address.NewRange(0x5000, 0x6000), Filename: "b.out"})

	got, ok := s.Get(p, time.Unix(1500, 0))
	if !ok || got != o0 {
		t.Fatalf("Get before t1: ok=%v got=%p want=%p", ok, got, o0)
	}

	got, ok = s.Get(p, time.Unix(2500, 0))
	if !ok || got != o1 {
		t.Fatalf("Get after t1: ok=%v got=%p want=%p", ok, got, o1)
	}

	if _, ok := s.Get(p, time.Unix(500, 0)); ok {
		t.Fatal("Get before any version should report not found")
	}
}

func TestProcessOverlaysForget(t *testing.T) {
	s := NewProcessOverlays()
	p := scope.Process(7)
	s.NewVersion(p, time.Unix(0, 0))

	s.Forget(p)
	if _, ok := s.Get(p, time.Unix(10, 0)); ok {
		t.Fatal("Get after Forget should report not found")
	}
}

func TestProcessOverlaysDistinctProcessesIndependent(t *testing.T) {
	s := NewProcessOverlays()
	p1, p2 := scope.Process(1), scope.Process(2)
	o1 := s.NewVersion(p1, time.Unix(0, 0))
	o2 := s.NewVersion(p2, time.Unix(0, 0))
	if o1 == o2 {
		t.Fatal("distinct processes must not share an overlay")
	}
}
