package symtab

import (
	"sync"

	"github.com/arrowtrace/profiler/address"
	"github.com/arrowtrace/profiler/archive"
)

// FunctionResolver resolves a file-relative offset to function/line
// information. Concrete backends wrap DWARF, /proc/kallsyms, the JIT
// perf-<pid>.map convention, or a universal stub (spec.md §4.3,
// "Resolver backends").
type FunctionResolver interface {
	LookupLineInfo(fileOffset uint64) (archive.LineInfo, error)
}

// InstructionResolver performs best-effort disassembly of the
// instruction at a file offset (spec.md §4.3's lookup_instruction).
type InstructionResolver interface {
	LookupInstruction(fileOffset uint64) (string, error)
}

// LookupError is spec.md §7's LookupError(addr): a resolver found no
// matching entry. Callers substitute LineInfo::unknown or an
// address-stringified placeholder rather than treating this as fatal.
type LookupError struct {
	Addr address.Addr
}

func (e *LookupError) Error() string {
	return "symtab: no symbol information for " + e.Addr.String()
}

// StubResolver is the universal fallback: it never errors, and always
// reports an unknown function attributed to a fixed DSO name — used
// for bracketed pseudo-names ([vdso], [kernel.kallsyms], ...) and as
// the last link in any resolver chain.
type StubResolver struct {
	Dso string
}

func (s StubResolver) LookupLineInfo(uint64) (archive.LineInfo, error) {
	return archive.ForUnknownFunction(s.Dso), nil
}

func (s StubResolver) LookupInstruction(uint64) (string, error) {
	return "<unknown instruction>", nil
}

// CachingResolver wraps a FunctionResolver with a per-address memo, per
// spec.md §4.3 ("Resolvers cache per-address results").
type CachingResolver struct {
	mu    sync.Mutex
	inner FunctionResolver
	cache map[uint64]archive.LineInfo
}

// NewCachingResolver wraps inner.
func NewCachingResolver(inner FunctionResolver) *CachingResolver {
	return &CachingResolver{inner: inner, cache: map[uint64]archive.LineInfo{}}
}

func (c *CachingResolver) LookupLineInfo(fileOffset uint64) (archive.LineInfo, error) {
	c.mu.Lock()
	if li, ok := c.cache[fileOffset]; ok {
		c.mu.Unlock()
		return li, nil
	}
	c.mu.Unlock()

	li, err := c.inner.LookupLineInfo(fileOffset)
	if err != nil {
		return archive.LineInfo{}, err
	}

	c.mu.Lock()
	c.cache[fileOffset] = li
	c.mu.Unlock()
	return li, nil
}

// ChainResolver tries each backend in order, falling back to the next
// on error — spec.md §4.3: "Failure to initialize a backend falls back
// to the next; ultimate fallback is 'unknown function in <dso>'."
// Backends are tried per-lookup here (rather than only at
// initialization) so a backend that loads lazily (e.g. DWARF info
// fetched on first use) degrades gracefully mid-run too.
type ChainResolver struct {
	Backends []FunctionResolver
	Dso      string
}

func (c ChainResolver) LookupLineInfo(fileOffset uint64) (archive.LineInfo, error) {
	for _, b := range c.Backends {
		if li, err := b.LookupLineInfo(fileOffset); err == nil {
			return li, nil
		}
	}
	return archive.ForUnknownFunction(c.Dso), nil
}
