package symtab

import (
	"testing"

	"github.com/arrowtrace/profiler/address"
)

func TestOverlaySplitsOnOverlappingInsert(t *testing.T) {
	o := NewOverlay()
	o.Insert(address.Mapping{
		Range:    address.NewRange(0x1000, 0x3000),
		PgOff:    0x0,
		Filename: "A",
	})
	o.Insert(address.Mapping{
		Range:    address.NewRange(0x2000, 0x2800),
		PgOff:    0x100,
		Filename: "B",
	})

	got := o.Mappings()
	want := []address.Mapping{
		{Range: address.NewRange(0x1000, 0x2000), PgOff: 0x0, Filename: "A"},
		{Range: address.NewRange(0x2000, 0x2800), PgOff: 0x100, Filename: "B"},
		{Range: address.NewRange(0x2800, 0x3000), PgOff: 0x1800, Filename: "A"},
	}

	if len(got) != len(want) {
		t.Fatalf("got %d mappings, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mapping %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOverlayLookup(t *testing.T) {
	o := NewOverlay()
	o.Insert(address.Mapping{Range: address.NewRange(0x1000, 0x2000), Filename: "A"})

	m, ok := o.Lookup(0x1500)
	if !ok || m.Filename != "A" {
		t.Fatalf("Lookup(0x1500) = %+v, %v", m, ok)
	}
	if _, ok := o.Lookup(0x3000); ok {
		t.Error("Lookup outside any mapping should fail")
	}
}

func TestOverlayRemoveFullyContained(t *testing.T) {
	o := NewOverlay()
	o.Insert(address.Mapping{Range: address.NewRange(0x1000, 0x2000), Filename: "A"})
	o.Remove(address.NewRange(0x1000, 0x2000))
	if len(o.Mappings()) != 0 {
		t.Errorf("expected the mapping to be fully removed, got %+v", o.Mappings())
	}
}

func TestShouldIgnore(t *testing.T) {
	cases := map[string]bool{
		"":               true,
		"/dev/zero":      true,
		"//anon":         true,
		"/usr/lib/libc.so": false,
	}
	for name, want := range cases {
		if got := ShouldIgnore(name); got != want {
			t.Errorf("ShouldIgnore(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsBracketedPseudoName(t *testing.T) {
	if !IsBracketedPseudoName("[vdso]") {
		t.Error("expected [vdso] to be a bracketed pseudo-name")
	}
	if IsBracketedPseudoName("/usr/lib/libc.so") {
		t.Error("did not expect a real path to be a bracketed pseudo-name")
	}
}
