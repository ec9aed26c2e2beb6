package symtab

import (
	"strings"
	"testing"
)

const sampleJITMap = `1000 200 JIT::compiled_foo
1200 100 JIT::compiled_bar
`

func TestParseJITMap(t *testing.T) {
	r, err := parseJITMap(strings.NewReader(sampleJITMap))
	if err != nil {
		t.Fatalf("parseJITMap: %v", err)
	}
	if len(r.regions) != 2 {
		t.Fatalf("regions = %d, want 2", len(r.regions))
	}
}

func TestJITMapLookupLineInfo(t *testing.T) {
	r, err := parseJITMap(strings.NewReader(sampleJITMap))
	if err != nil {
		t.Fatalf("parseJITMap: %v", err)
	}

	li, err := r.LookupLineInfo(0x1050)
	if err != nil {
		t.Fatalf("LookupLineInfo: %v", err)
	}
	if li.Function != "JIT::compiled_foo" {
		t.Errorf("Function = %q, want JIT::compiled_foo", li.Function)
	}
	if li.Dso != "[perf-map]" {
		t.Errorf("Dso = %q, want [perf-map]", li.Dso)
	}

	if _, err := r.LookupLineInfo(0x1300); err == nil {
		t.Fatal("expected error looking up address past all regions")
	}
}

func TestJITMapLookupBetweenRegions(t *testing.T) {
	r, err := parseJITMap(strings.NewReader(sampleJITMap))
	if err != nil {
		t.Fatalf("parseJITMap: %v", err)
	}
	if _, err := r.LookupLineInfo(0x1201); err != nil {
		t.Fatalf("LookupLineInfo inside second region: %v", err)
	}
}
