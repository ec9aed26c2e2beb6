package symtab

import (
	"strings"
	"testing"
)

const sampleKallsyms = `0000000000000000 A fixed_percpu_data
ffffffff81000000 T startup_64
ffffffff81000040 T secondary_startup_64
ffffffff81200000 T do_syscall_64
ffffffff81200100 t local_helper
`

func TestParseKallsymsSkipsZeroAddr(t *testing.T) {
	r, err := parseKallsyms(strings.NewReader(sampleKallsyms))
	if err != nil {
		t.Fatalf("parseKallsyms: %v", err)
	}
	if len(r.entries) != 4 {
		t.Fatalf("entries = %d, want 4 (zero-address line skipped)", len(r.entries))
	}
}

func TestKallsymsLookupLineInfo(t *testing.T) {
	r, err := parseKallsyms(strings.NewReader(sampleKallsyms))
	if err != nil {
		t.Fatalf("parseKallsyms: %v", err)
	}

	li, err := r.LookupLineInfo(0xffffffff81200050)
	if err != nil {
		t.Fatalf("LookupLineInfo: %v", err)
	}
	if li.Function != "do_syscall_64" {
		t.Errorf("Function = %q, want do_syscall_64", li.Function)
	}
	if li.Dso != "[kernel.kallsyms]" {
		t.Errorf("Dso = %q, want [kernel.kallsyms]", li.Dso)
	}
}

func TestKallsymsLookupBeforeFirstSymbol(t *testing.T) {
	r, err := parseKallsyms(strings.NewReader(sampleKallsyms))
	if err != nil {
		t.Fatalf("parseKallsyms: %v", err)
	}
	if _, err := r.LookupLineInfo(0x10); err == nil {
		t.Fatal("expected error looking up address below all symbols")
	}
}
