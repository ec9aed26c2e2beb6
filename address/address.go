// Package address implements the typed address, range, and mapping
// primitives used to key the symbol overlay and the calling-context
// tree (spec component C1).
package address

import "fmt"

// Addr is a 64-bit address in the observed program's address space.
//
// The value -1 (all bits set) is reserved as a sentinel: callers that
// need to key a range map on such a value must remap it to -2 first
// (see Range), since a genuine range [-1, 0) is impossible (Range
// requires Start < End).
type Addr uint64

// Invalid is the sentinel value used where no address is known.
const Invalid Addr = ^Addr(0)

func (a Addr) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// TruncateBits clears the low n bits of a, e.g. to align to a page
// boundary.
func (a Addr) TruncateBits(n uint) Addr {
	mask := ^uint64(0) >> n << n
	return Addr(uint64(a) & mask)
}

// Range is a half-open address interval [Start, End).
type Range struct {
	Start, End Addr
}

// NewRange constructs a Range, panicking if Start >= End (construction
// error per spec.md §3).
func NewRange(start, end Addr) Range {
	if start == Invalid {
		start = Addr(invalidRemap)
	}
	if start >= end {
		panic(fmt.Sprintf("malformed range [%s, %s)", start, end))
	}
	return Range{start, end}
}

// invalidRemap is what the -1 sentinel is remapped to on range
// construction, per spec.md §3 ("a true -1 range [-1, 0) is
// impossible").
const invalidRemap = ^uint64(0) - 1

// Contains reports whether r fully contains o (o ⊆ r).
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

// Overlaps reports whether r and o share any address.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// PartialOverlap reports whether r and o overlap without either
// containing the other — a construction error for the range map.
func (r Range) PartialOverlap(o Range) bool {
	return r.Overlaps(o) && !r.Contains(o) && !o.Contains(r)
}

// Compare orders two ranges so that two overlapping ranges compare
// equal iff one contains the other; it returns an error if the ranges
// partially overlap (spec.md §3).
func (r Range) Compare(o Range) (cmp int, err error) {
	if r.PartialOverlap(o) {
		return 0, &OverlapError{r, o}
	}
	if r.Contains(o) || o.Contains(r) {
		return 0, nil
	}
	if r.End <= o.Start {
		return -1, nil
	}
	return 1, nil
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}

// OverlapError is spec.md §7's RangeOverlap: two ranges that neither
// nest nor are disjoint were compared.
type OverlapError struct {
	A, B Range
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("overlapping ranges %s and %s", e.A, e.B)
}

// Mapping is a Range plus the file page offset it was mapped from,
// used to translate a runtime instruction pointer to a file-relative
// offset.
type Mapping struct {
	Range    Range
	PgOff    uint64
	Filename string
}

// FileOffset computes file_offset(ip) = ip − range.start + pgoff.
// The caller must ensure ip lies within m.Range.
func (m Mapping) FileOffset(ip Addr) uint64 {
	return uint64(ip-m.Range.Start) + m.PgOff
}

// In reports whether m's range lies fully inside o's range.
func (m Mapping) In(o Mapping) bool {
	return o.Range.Contains(m.Range)
}
