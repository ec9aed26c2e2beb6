// Package symtab implements the per-process memory-map / symbol
// resolver overlay (spec.md component C5): tracking live mmaps with
// the kernel's own split/truncate/contained-insertion semantics, and
// resolving sampled instruction pointers to function/line information
// through a chain of resolver backends.
//
// Grounded on lo2s's memory_map.hpp (the insert-splits-existing
// algorithm spec.md §4.3/§8 scenario 2 specifies) and on the teacher's
// perfsession/session.go, whose munmap/mapFind functions implement the
// same "find overlapping entries and trim them" shape for an in-memory
// post-processing tool rather than a live overlay.
package symtab

import (
	"sort"

	"github.com/arrowtrace/profiler/address"
)

// Overlay is one process's live view of its mapped files, maintained
// through a sequence of mmap/munmap events with kernel mmap semantics:
// a new mapping truncates, splits, or fully replaces any existing
// mapping it overlaps.
type Overlay struct {
	mappings []address.Mapping // kept sorted by Range.Start
}

// NewOverlay returns an empty overlay.
func NewOverlay() *Overlay { return &Overlay{} }

// Insert adds m, splitting or truncating any existing mapping it
// overlaps. Mappings whose filename is ignored by the caller (spec.md
// §4.3's //anon, /dev/zero, ... rules) should simply not be inserted;
// Overlay has no opinion on filenames.
func (o *Overlay) Insert(m address.Mapping) {
	var kept []address.Mapping
	for _, e := range o.mappings {
		if !e.Range.Overlaps(m.Range) {
			kept = append(kept, e)
			continue
		}
		kept = append(kept, o.split(e, m)...)
	}
	kept = append(kept, m)
	sort.Slice(kept, func(i, j int) bool { return kept[i].Range.Start < kept[j].Range.Start })
	o.mappings = kept
}

// split returns the portion(s) of existing that survive the insertion
// of m, per the kernel mmap-overwrite rule: whatever part of existing
// falls inside m's range is discarded; what remains on either side is
// kept, with its page offset adjusted if the surviving part starts
// later in the file (i.e. the head of existing was cut away).
func (o *Overlay) split(existing, m address.Mapping) []address.Mapping {
	var out []address.Mapping

	if existing.Range.Start < m.Range.Start {
		// A head portion survives: [existing.Start, m.Start).
		out = append(out, address.Mapping{
			Range:    address.NewRange(existing.Range.Start, m.Range.Start),
			PgOff:    existing.PgOff,
			Filename: existing.Filename,
		})
	}
	if existing.Range.End > m.Range.End {
		// A tail portion survives: [m.End, existing.End), with its
		// page offset advanced by how much of the file the discarded
		// prefix (from existing.Start up to m.End) covered.
		advance := uint64(m.Range.End - existing.Range.Start)
		out = append(out, address.Mapping{
			Range:    address.NewRange(m.Range.End, existing.Range.End),
			PgOff:    existing.PgOff + advance,
			Filename: existing.Filename,
		})
	}
	return out
}

// Remove deletes any mapping overlapping r (an munmap).
func (o *Overlay) Remove(r address.Range) {
	var kept []address.Mapping
	for _, e := range o.mappings {
		if !e.Range.Overlaps(r) {
			kept = append(kept, e)
			continue
		}
		kept = append(kept, o.split(e, address.Mapping{Range: r})...)
	}
	o.mappings = kept
}

// Lookup returns the mapping containing ip, if any.
func (o *Overlay) Lookup(ip address.Addr) (address.Mapping, bool) {
	// Binary search: Insert/Remove keep the slice sorted by start and
	// the mappings never overlap, so the first mapping ending after ip
	// is the only candidate.
	i := sort.Search(len(o.mappings), func(i int) bool {
		return ip < o.mappings[i].Range.End
	})
	if i < len(o.mappings) && o.mappings[i].Range.Start <= ip && ip < o.mappings[i].Range.End {
		return o.mappings[i], true
	}
	return address.Mapping{}, false
}

// Mappings returns the overlay's current mappings, sorted by start
// address, for tests and diagnostics.
func (o *Overlay) Mappings() []address.Mapping {
	return append([]address.Mapping{}, o.mappings...)
}

// IgnoredFilenamePrefixes lists the mmap filename prefixes spec.md
// §4.3 says to silently drop (anonymous/pseudo mappings that never
// carry resolvable symbols).
var IgnoredFilenamePrefixes = []string{"//anon", "/dev/zero", "/anon_hugepage", "/memfd", "/SYSV", "/dev"}

// ShouldIgnore reports whether filename should never be inserted into
// an Overlay, per spec.md §4.3.
func ShouldIgnore(filename string) bool {
	if filename == "" {
		return true
	}
	for _, p := range IgnoredFilenamePrefixes {
		if len(filename) >= len(p) && filename[:len(p)] == p {
			return true
		}
	}
	return false
}

// IsBracketedPseudoName reports whether filename is a bracketed
// pseudo-name like "[vdso]" or "[kernel.kallsyms]", which binds to a
// stub resolver that returns the name itself (spec.md §4.3).
func IsBracketedPseudoName(filename string) bool {
	return len(filename) >= 2 && filename[0] == '[' && filename[len(filename)-1] == ']'
}
