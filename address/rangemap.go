package address

import "sort"

// RangeMap stores values associated with disjoint, non-overlapping
// ranges and supports binary-search lookup. It underlies simple
// by-address registry keys (spec.md's ByAddress key flavor); the
// overlapping-mmap splitting logic lives in package symtab, which has
// additional structure (insert-time split/truncate) this generic map
// does not need.
type RangeMap[T any] struct {
	entries []rangeEntry[T]
	sorted  bool
}

type rangeEntry[T any] struct {
	r   Range
	val T
}

// Insert associates val with r. Insert is undefined if the new
// range overlaps one already present; use symtab.Overlay when
// overlapping mmap semantics are required.
func (m *RangeMap[T]) Insert(r Range, val T) {
	m.entries = append(m.entries, rangeEntry[T]{r, val})
	m.sorted = false
}

// Lookup returns the range and value containing addr, if any.
func (m *RangeMap[T]) Lookup(addr Addr) (r Range, val T, ok bool) {
	if m == nil || len(m.entries) == 0 {
		return Range{}, val, false
	}
	if !m.sorted {
		sort.Slice(m.entries, func(i, j int) bool {
			return m.entries[i].r.Start < m.entries[j].r.Start
		})
		m.sorted = true
	}
	es := m.entries
	i := sort.Search(len(es), func(i int) bool {
		return addr < es[i].r.End
	})
	if i < len(es) && es[i].r.Start <= addr && addr < es[i].r.End {
		return es[i].r, es[i].val, true
	}
	return Range{}, val, false
}

// Len reports the number of disjoint ranges currently stored.
func (m *RangeMap[T]) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}
