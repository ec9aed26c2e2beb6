package symtab

import (
	"sort"
	"sync"
	"time"

	"github.com/arrowtrace/profiler/scope"
)

// ProcessOverlays is the "process map of maps" of spec.md §4.3: one
// Overlay per process, versioned by the start-timestamp of the exec
// that produced that address-space layout, so a post-exec sample never
// resolves against a pre-exec mapping (or vice versa).
type ProcessOverlays struct {
	mu       sync.RWMutex
	versions map[scope.Process][]overlayVersion
}

type overlayVersion struct {
	start   time.Time
	overlay *Overlay
}

// NewProcessOverlays returns an empty store.
func NewProcessOverlays() *ProcessOverlays {
	return &ProcessOverlays{versions: map[scope.Process][]overlayVersion{}}
}

// NewVersion starts tracking a fresh Overlay for p, effective at
// start. Called on process creation and on every successful execve.
func (s *ProcessOverlays) NewVersion(p scope.Process, start time.Time) *Overlay {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := NewOverlay()
	vs := s.versions[p]
	vs = append(vs, overlayVersion{start, o})
	sort.Slice(vs, func(i, j int) bool { return vs[i].start.Before(vs[j].start) })
	s.versions[p] = vs
	return o
}

// Get returns the overlay whose version is the greatest lower bound of
// t (spec.md §4.3: "get(pid, t) returns the overlay whose version is
// the greatest lower bound of t"). Lookups always take the reader
// lock; NewVersion and Forget take the writer lock. The lock is one
// for the whole store, not one per process.
func (s *ProcessOverlays) Get(p scope.Process, t time.Time) (*Overlay, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vs := s.versions[p]
	i := sort.Search(len(vs), func(i int) bool { return vs[i].start.After(t) })
	if i == 0 {
		return nil, false
	}
	return vs[i-1].overlay, true
}

// Forget drops all overlay versions for p, called once the process has
// exited and merge has consumed its final samples.
func (s *ProcessOverlays) Forget(p scope.Process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, p)
}
