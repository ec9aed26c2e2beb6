package proctree

import (
	"fmt"
	"sync"

	"github.com/arrowtrace/profiler/scope"
)

// ScopeGroups tracks which process owns each thread, the minimal
// bookkeeping Controller needs to resolve a ptrace-reported tid back
// to the process it belongs to (lo2s's ExecutionScopeGroup, scoped
// down to exactly what proctree needs from it).
type ScopeGroups struct {
	mu      sync.Mutex
	process map[scope.Thread]scope.Process
}

// NewScopeGroups returns an empty group tracker.
func NewScopeGroups() *ScopeGroups {
	return &ScopeGroups{process: map[scope.Thread]scope.Process{}}
}

// AddProcess registers p's main thread as belonging to p.
func (g *ScopeGroups) AddProcess(p scope.Process) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.process[p.AsThread()] = p
}

// AddThread registers t as an additional thread of p.
func (g *ScopeGroups) AddThread(t scope.Thread, p scope.Process) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.process[t] = p
}

// GetProcess returns the process owning t.
func (g *ScopeGroups) GetProcess(t scope.Thread) (scope.Process, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.process[t]
	if !ok {
		return scope.InvalidProcess, fmt.Errorf("proctree: no known process for %s", t)
	}
	return p, nil
}

// Forget removes t (called once its exit has been delivered and
// processed).
func (g *ScopeGroups) Forget(t scope.Thread) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.process, t)
}
