package cctx

import (
	"time"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/writer"
)

// localNode is one entry in a LocalTree's arena. Children are
// addressed by arena index rather than by pointer (package-level
// design note: "Arena + indices is preferred over shared ownership to
// avoid cycles and to make the merge algorithm a plain tree walk").
type localNode struct {
	Ref      uint64
	Parent   int
	Children map[Node]int
}

// LocalTree is the per-writer local calling-context tree of spec.md
// component C7, directly modeled on lo2s's LocalCctxTree.
type LocalTree struct {
	w *writer.Writer

	arena []localNode
	// cur is the current callstack, by arena index; cur[0] is always
	// the root.
	cur []int

	nextRef  uint64
	refCount uint64

	finalized bool
}

// NewLocalTree creates a tree rooted at Root, writing enter/leave
// events through w.
func NewLocalTree(w *writer.Writer) *LocalTree {
	t := &LocalTree{w: w}
	t.arena = append(t.arena, localNode{Ref: 0, Parent: -1, Children: map[Node]int{}})
	t.cur = []int{0}
	t.nextRef = 1
	return t
}

// CurLevel returns the current callstack depth; the root is always
// present at level 0.
func (t *LocalTree) CurLevel() uint64 {
	return uint64(len(t.cur) - 1)
}

// NumCctx returns the number of distinct (variant, parent-ref) pairs
// ever emplaced. It is only meaningful after Finalize.
func (t *LocalTree) NumCctx() uint64 { return t.refCount }

// Finalize freezes the ref count so NumCctx is observable; per
// spec.md §3, no new local trees may be created process-wide once the
// global tree has been finalized (enforced by the Merger, not here).
func (t *LocalTree) Finalize() {
	t.refCount = t.nextRef
	t.finalized = true
}

// Enter pushes one or more nodes below the current call stack,
// returning the level of the first newly entered node. This mirrors
// lo2s's variadic cctx_enter(tp, ctx, ctxs...).
func (t *LocalTree) Enter(tp time.Time, ctxs ...Node) uint64 {
	level := t.CurLevel() + 1
	t.EnterAt(tp, level, ctxs...)
	return level
}

// EnterAt enters ctxs starting at the explicit stack level. level must
// be > 0 (the root is reserved) and <= CurLevel()+1.
func (t *LocalTree) EnterAt(tp time.Time, level uint64, ctxs ...Node) {
	for _, ctx := range ctxs {
		t.enterOne(tp, level, ctx, 2)
		level++
	}
}

func (t *LocalTree) enterOne(tp time.Time, level uint64, ctx Node, unwindDistance int) {
	if level == 0 {
		panic("cctx: level 0 is reserved for the root")
	}
	if level > t.CurLevel()+1 {
		panic("cctx: cannot enter past the top of the current call stack")
	}

	if level == t.CurLevel()+1 {
		idx := t.createChild(ctx, t.cur[len(t.cur)-1])
		t.cur = append(t.cur, idx)
		t.w.Enter(tp, archive.CctxRef(t.arena[idx].Ref), unwindDistance)
		return
	}

	// A node already exists on the stack at this level. If it matches,
	// the call stack hasn't changed at that level; otherwise leave
	// everything from level down and enter the new node.
	existingIdx := t.cur[level]
	if t.childKeyOf(existingIdx) == ctx {
		return
	}
	t.Leave(tp, level-1)
	idx := t.createChild(ctx, t.cur[len(t.cur)-1])
	t.cur = append(t.cur, idx)
	t.w.Enter(tp, archive.CctxRef(t.arena[idx].Ref), unwindDistance)
}

// childKeyOf finds the Node variant leading to arena index idx by
// scanning its parent's children map. Used only for the "does the
// node at this level already match" comparison in enterOne.
func (t *LocalTree) childKeyOf(idx int) Node {
	parent := t.arena[idx].Parent
	for k, v := range t.arena[parent].Children {
		if v == idx {
			return k
		}
	}
	return Node{}
}

func (t *LocalTree) createChild(ctx Node, parentIdx int) int {
	if idx, ok := t.arena[parentIdx].Children[ctx]; ok {
		return idx
	}
	idx := len(t.arena)
	t.arena = append(t.arena, localNode{Ref: t.nextRef, Parent: parentIdx, Children: map[Node]int{}})
	t.arena[parentIdx].Children[ctx] = idx
	t.nextRef++
	return idx
}

// Leave pops the call stack until it is exactly level frames deep,
// emitting one leave event per popped frame; Leave(tp) with no level
// pops exactly the top-most frame, matching lo2s's zero-arg
// cctx_leave. Leave(tp, 0) pops back to the root.
func (t *LocalTree) Leave(tp time.Time, level ...uint64) uint64 {
	if len(level) == 0 {
		if t.CurLevel() == 0 {
			return 0
		}
		top := t.cur[len(t.cur)-1]
		t.w.Leave(tp, archive.CctxRef(t.arena[top].Ref))
		t.cur = t.cur[:len(t.cur)-1]
		return t.CurLevel()
	}

	lvl := level[0]
	for t.CurLevel() > lvl {
		top := t.cur[len(t.cur)-1]
		t.w.Leave(tp, archive.CctxRef(t.arena[top].Ref))
		t.cur = t.cur[:len(t.cur)-1]
	}
	return t.CurLevel()
}

// SampleRef walks from the current top down a stack of sample-address
// nodes, creating missing children, and returns the ref of the
// deepest node entered. ips is ordered innermost-frame-first; when
// kernelFrame is true the last (outermost) entry is the kernel's entry
// frame and is discarded, per spec.md §4.6. When only one address is
// supplied (callchains disabled), unwind distance is fixed at 2 (fake
// root + sample); otherwise it equals the number of user frames
// entered.
func (t *LocalTree) SampleRef(tp time.Time, ips []Node, kernelFrame bool) uint64 {
	if len(ips) == 0 {
		return t.arena[t.cur[len(t.cur)-1]].Ref
	}

	frames := ips
	if kernelFrame && len(frames) > 1 {
		frames = frames[:len(frames)-1]
	}

	distance := 2
	if len(frames) > 1 {
		distance = len(frames)
	}

	// Enter frames outermost-first onto the stack (frames is
	// innermost-first, so walk it in reverse); only the innermost
	// (last-entered) frame carries the sample's unwind distance, the
	// rest are plain call-stack frames with distance 2.
	level := t.CurLevel() + 1
	var deepest int
	for i := len(frames) - 1; i >= 0; i-- {
		d := 2
		if i == 0 {
			d = distance
		}
		t.enterOne(tp, level, frames[i], d)
		deepest = t.cur[len(t.cur)-1]
		level++
	}
	return t.arena[deepest].Ref
}
