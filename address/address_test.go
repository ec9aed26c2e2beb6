package address

import "testing"

func TestRangeCompareNesting(t *testing.T) {
	outer := NewRange(0x1000, 0x3000)
	inner := NewRange(0x1800, 0x2000)

	if cmp, err := outer.Compare(inner); err != nil || cmp != 0 {
		t.Fatalf("outer.Compare(inner) = %d, %v; want 0, nil", cmp, err)
	}
	if cmp, err := inner.Compare(outer); err != nil || cmp != 0 {
		t.Fatalf("inner.Compare(outer) = %d, %v; want 0, nil", cmp, err)
	}
}

func TestRangeComparePartialOverlapIsError(t *testing.T) {
	a := NewRange(0x1000, 0x2000)
	b := NewRange(0x1800, 0x2800)

	if _, err := a.Compare(b); err == nil {
		t.Fatal("expected OverlapError for partially overlapping ranges")
	}
	var overlapErr *OverlapError
	if _, err := a.Compare(b); err != nil {
		if oe, ok := err.(*OverlapError); !ok {
			t.Fatalf("expected *OverlapError, got %T", err)
		} else {
			overlapErr = oe
		}
	}
	_ = overlapErr
}

func TestRangeCompareDisjoint(t *testing.T) {
	a := NewRange(0x1000, 0x2000)
	b := NewRange(0x2000, 0x3000)
	cmp, err := a.Compare(b)
	if err != nil || cmp != -1 {
		t.Fatalf("a.Compare(b) = %d, %v; want -1, nil", cmp, err)
	}
	cmp, err = b.Compare(a)
	if err != nil || cmp != 1 {
		t.Fatalf("b.Compare(a) = %d, %v; want 1, nil", cmp, err)
	}
}

func TestNewRangeRejectsEmpty(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for start >= end")
		}
	}()
	NewRange(5, 5)
}

func TestFileOffset(t *testing.T) {
	m := Mapping{Range: NewRange(0x1000, 0x3000), PgOff: 0x100}
	if got, want := m.FileOffset(0x1500), uint64(0x600); got != want {
		t.Errorf("FileOffset = 0x%x, want 0x%x", got, want)
	}
}

func TestRangeMapDisjointInsertions(t *testing.T) {
	var rm RangeMap[string]
	rm.Insert(NewRange(0, 10), "a")
	rm.Insert(NewRange(10, 20), "b")
	rm.Insert(NewRange(30, 40), "c")

	if rm.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", rm.Len())
	}

	for addr, want := range map[Addr]string{5: "a", 15: "b", 35: "c"} {
		_, val, ok := rm.Lookup(addr)
		if !ok || val != want {
			t.Errorf("Lookup(%d) = %q, %v; want %q, true", addr, val, ok, want)
		}
	}
	if _, _, ok := rm.Lookup(25); ok {
		t.Errorf("Lookup(25) unexpectedly found a value in a gap")
	}
}

func TestTruncateBits(t *testing.T) {
	a := Addr(0x1234)
	if got, want := a.TruncateBits(8), Addr(0x1200); got != want {
		t.Errorf("TruncateBits(8) = %s, want %s", got, want)
	}
}
