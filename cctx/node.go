// Package cctx implements the per-writer local calling-context tree
// (spec.md component C7) and the depth-first merge into one global
// tree (component C8).
package cctx

import (
	"fmt"

	"github.com/arrowtrace/profiler/address"
	"github.com/arrowtrace/profiler/scope"
)

// Kind enumerates the calling-context node variants of spec.md §3.
// The numeric order of the constants is the total order used to break
// ties between nodes of different kinds (mirroring lo2s's
// CallingContextType, whose enum order is itself the comparison
// order).
type Kind int

const (
	Root Kind = iota
	ProcessNode
	ThreadNode
	SampleAddrNode
	GpuKernelNode
	OpenMpNode
	SyscallNode
)

// OpenMpType distinguishes the kind of OpenMP region a node
// represents.
type OpenMpType int

const (
	OpenMpParallel OpenMpType = iota
	OpenMpTask
	OpenMpLoop
	OpenMpSection
	OpenMpCritical
)

// Node is the tagged calling-context variant. It is fully comparable
// (usable as a map key), which backs the "two equivalent nodes at the
// same tree level must collapse" invariant directly via Go map
// identity — no custom Equal method needed.
type Node struct {
	Kind Kind

	Process scope.Process
	Thread  scope.Thread
	Addr    address.Addr

	GpuKernelID uint64

	OpenMpKind       OpenMpType
	OpenMpAddr       address.Addr
	OpenMpThread     scope.Thread
	OpenMpNumThreads uint32
	OpenMpHasNum     bool

	Syscall int64
}

func RootNode() Node { return Node{Kind: Root} }

func ForProcess(p scope.Process) Node { return Node{Kind: ProcessNode, Process: p} }
func ForThread(t scope.Thread) Node   { return Node{Kind: ThreadNode, Thread: t} }
func ForSample(a address.Addr) Node   { return Node{Kind: SampleAddrNode, Addr: a} }
func ForGpuKernel(id uint64) Node     { return Node{Kind: GpuKernelNode, GpuKernelID: id} }
func ForSyscall(nr int64) Node        { return Node{Kind: SyscallNode, Syscall: nr} }

func ForOpenMp(kind OpenMpType, addr address.Addr, t scope.Thread, numThreads uint32, hasNum bool) Node {
	return Node{Kind: OpenMpNode, OpenMpKind: kind, OpenMpAddr: addr, OpenMpThread: t, OpenMpNumThreads: numThreads, OpenMpHasNum: hasNum}
}

// Less implements the total order described in spec.md §3.
func (n Node) Less(o Node) bool {
	if n.Kind != o.Kind {
		return n.Kind < o.Kind
	}
	switch n.Kind {
	case Root:
		return false
	case ProcessNode:
		return n.Process < o.Process
	case ThreadNode:
		return n.Thread < o.Thread
	case SampleAddrNode:
		return n.Addr < o.Addr
	case GpuKernelNode:
		return n.GpuKernelID < o.GpuKernelID
	case SyscallNode:
		return n.Syscall < o.Syscall
	case OpenMpNode:
		if n.OpenMpKind != o.OpenMpKind {
			return n.OpenMpKind < o.OpenMpKind
		}
		return n.OpenMpAddr < o.OpenMpAddr
	default:
		return false
	}
}

func (n Node) String() string {
	switch n.Kind {
	case Root:
		return "ROOT"
	case ProcessNode:
		return fmt.Sprintf("PROCESS %s", n.Process)
	case ThreadNode:
		return fmt.Sprintf("THREAD %s", n.Thread)
	case SampleAddrNode:
		return fmt.Sprintf("SAMPLE ADDR %s", n.Addr)
	case GpuKernelNode:
		return fmt.Sprintf("GPU KERNEL %d", n.GpuKernelID)
	case SyscallNode:
		return fmt.Sprintf("SYSCALL %d", n.Syscall)
	case OpenMpNode:
		return fmt.Sprintf("OPENMP %d @ %s", n.OpenMpKind, n.OpenMpAddr)
	default:
		return "UNKNOWN"
	}
}
