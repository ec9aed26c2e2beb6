package cctx

import (
	"fmt"
	"sync"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/registry"
)

// Merger implements spec.md component C8: the depth-first merge of
// every writer's LocalTree into one process-wide global calling
// context tree, producing a per-writer local-to-global ref mapping
// table (written via archive.Sink.DefineMappingTable).
//
// Node variants are deduplicated globally by (parent global ref,
// variant) regardless of which writer produced them, mirroring lo2s's
// GlobalCctxTree::insert. A single Merger must not be shared across
// goroutines calling Merge concurrently without relying on its
// internal lock; the lock exists because control's stop sequence may
// merge several writers' trees in parallel.
type Merger struct {
	mu       sync.Mutex
	sink     archive.Sink
	registry *registry.Registry

	root     archive.CctxRef
	children map[archive.CctxRef]map[Node]archive.CctxRef

	finalized bool
}

// NewMerger creates a Merger with its global root node already defined
// on sink.
func NewMerger(sink archive.Sink, reg *registry.Registry) *Merger {
	root := sink.DefineCallingContext(reg.Intern("ROOT"), reg.SourceCodeLocation("", 0), archive.CctxRef(0), false)
	return &Merger{
		sink:     sink,
		registry: reg,
		root:     root,
		children: map[archive.CctxRef]map[Node]archive.CctxRef{},
	}
}

// Root returns the global root's ref.
func (m *Merger) Root() archive.CctxRef { return m.root }

// Merge depth-first walks tree (which must already be Finalize()d by
// its owner) into the shared global tree and emits tree's mapping
// table. It returns the local-ref -> global-ref map for callers that
// want it without re-reading the sink.
func (m *Merger) Merge(tree *LocalTree) (map[archive.CctxRef]archive.CctxRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return nil, fmt.Errorf("cctx: Merge called after the global tree was finalized")
	}

	mapping := map[archive.CctxRef]archive.CctxRef{
		archive.CctxRef(tree.arena[0].Ref): m.root,
	}
	m.mergeChildren(tree, 0, m.root, mapping)
	m.sink.DefineMappingTable(tree.w.Location, mapping)
	return mapping, nil
}

func (m *Merger) mergeChildren(tree *LocalTree, localIdx int, globalParent archive.CctxRef, mapping map[archive.CctxRef]archive.CctxRef) {
	for variant, childIdx := range tree.arena[localIdx].Children {
		localRef := archive.CctxRef(tree.arena[childIdx].Ref)
		globalRef := m.getOrCreate(globalParent, variant)
		mapping[localRef] = globalRef
		m.mergeChildren(tree, childIdx, globalRef, mapping)
	}
}

func (m *Merger) getOrCreate(parent archive.CctxRef, variant Node) archive.CctxRef {
	kids, ok := m.children[parent]
	if !ok {
		kids = map[Node]archive.CctxRef{}
		m.children[parent] = kids
	}
	if ref, ok := kids[variant]; ok {
		return ref
	}

	// Sample-address nodes are not resolved through symtab here: every
	// node, whatever its variant, is named by its variant string and
	// carries an empty source-code location.
	name := m.registry.Intern(variant.String())
	scl := m.registry.SourceCodeLocation("", 0)
	ref := m.sink.DefineCallingContext(name, scl, parent, true)
	kids[variant] = ref
	return ref
}

// Finalize prevents further Merge calls. After Finalize, NumGlobalCctx
// is stable.
func (m *Merger) Finalize() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
}

// NumGlobalCctx returns the number of distinct global nodes, including
// the root.
func (m *Merger) NumGlobalCctx() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 1 // root
	for _, kids := range m.children {
		n += len(kids)
	}
	return n
}
