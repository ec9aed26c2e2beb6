// Package scope defines the strongly-typed topology handles (thread,
// process, CPU, core, package, GPU, block device) and the tagged
// measurement/execution scope tuples that key writers and event
// sources throughout the engine (spec.md §3).
package scope

import "fmt"

// Thread is a kernel thread id (Linux tid). Thread(0) is the idle-task
// sentinel; it is admitted into the topology but never written to the
// trace.
type Thread int32

// InvalidThread is the sentinel for "no thread".
const InvalidThread Thread = -1

func (t Thread) Valid() bool    { return t != InvalidThread }
func (t Thread) String() string { return fmt.Sprintf("thread %d", int32(t)) }

// Process is a kernel process id (Linux pid/tgid).
type Process int32

// InvalidProcess and IdleProcess are admitted but never written to
// the trace, per spec.md §3.
const (
	InvalidProcess Process = -1
	IdleProcess    Process = 0
)

func (p Process) Valid() bool    { return p != InvalidProcess }
func (p Process) String() string { return fmt.Sprintf("process %d", int32(p)) }
func (p Process) AsThread() Thread { return Thread(p) }

// Cpu is a logical CPU index.
type Cpu int32

const InvalidCpu Cpu = -1

func (c Cpu) String() string { return fmt.Sprintf("cpu %d", int32(c)) }

// Core identifies a physical core within a package.
type Core struct {
	CoreID, PackageID int32
}

var InvalidCore = Core{-1, -1}

// Package identifies a physical CPU package (socket).
type Package int32

const InvalidPackage Package = -1

// Gpu identifies an accelerator device.
type Gpu struct {
	ID   int32
	Name string
}

var InvalidGpu = Gpu{ID: -1}

// BlockDeviceKind distinguishes whole disks from partitions.
type BlockDeviceKind int

const (
	BlockDeviceDisk BlockDeviceKind = iota
	BlockDevicePartition
)

// BlockDevice identifies a block device or partition, as enumerated
// from /sys/dev/block/*/uevent (spec.md §6).
type BlockDevice struct {
	Dev         uint64 // dev_t
	Kind        BlockDeviceKind
	ParentDev   uint64 // dev_t of the parent disk, for partitions
	HasParent   bool
	DisplayName string
}

func (b BlockDevice) String() string { return b.DisplayName }

// Target is the recording target of a measurement: exactly one of
// Cpu, Thread, Process, or BlockDevice is meaningful, selected by Kind
// in the enclosing MeasurementScope/ExecutionScope.
type Target struct {
	Cpu         Cpu
	Thread      Thread
	Process     Process
	BlockDevice BlockDevice
}

// ExecutionScopeKind distinguishes what a Target actually names.
type ExecutionScopeKind int

const (
	ExecCpu ExecutionScopeKind = iota
	ExecThread
	ExecProcess
)

// ExecutionScope names either a CPU or a thread/process, the two
// things a kernel event source can be opened against (spec.md §4.2).
type ExecutionScope struct {
	Kind   ExecutionScopeKind
	Cpu    Cpu
	Thread Thread
}

func ForCpu(c Cpu) ExecutionScope       { return ExecutionScope{Kind: ExecCpu, Cpu: c} }
func ForThread(t Thread) ExecutionScope { return ExecutionScope{Kind: ExecThread, Thread: t} }

func (s ExecutionScope) String() string {
	switch s.Kind {
	case ExecCpu:
		return s.Cpu.String()
	case ExecThread:
		return s.Thread.String()
	default:
		return "unknown scope"
	}
}

// MeasurementKind enumerates the kinds of measurement a writer/scope
// can represent (spec.md §3 "Measurement scope").
type MeasurementKind int

const (
	KindSample MeasurementKind = iota
	KindGroupMetric
	KindUserspaceMetric
	KindTracepoint
	KindSyscall
	KindPosixIO
	KindBIO
)

func (k MeasurementKind) String() string {
	switch k {
	case KindSample:
		return "sample"
	case KindGroupMetric:
		return "group-metric"
	case KindUserspaceMetric:
		return "userspace-metric"
	case KindTracepoint:
		return "tracepoint"
	case KindSyscall:
		return "syscall"
	case KindPosixIO:
		return "posix-io"
	case KindBIO:
		return "bio"
	default:
		return "unknown"
	}
}

// MeasurementScope is the tagged tuple that keys every writer
// (spec.md §3).
type MeasurementScope struct {
	Kind   MeasurementKind
	Target Target
	// TargetKind disambiguates which field of Target is populated,
	// mirroring ExecutionScopeKind but widened with BlockDevice.
	TargetKind TargetKind
}

type TargetKind int

const (
	TargetCpu TargetKind = iota
	TargetThread
	TargetProcess
	TargetBlockDevice
)

func ScopeForCpu(kind MeasurementKind, c Cpu) MeasurementScope {
	return MeasurementScope{Kind: kind, Target: Target{Cpu: c}, TargetKind: TargetCpu}
}

func ScopeForThread(kind MeasurementKind, t Thread) MeasurementScope {
	return MeasurementScope{Kind: kind, Target: Target{Thread: t}, TargetKind: TargetThread}
}

func ScopeForProcess(kind MeasurementKind, p Process) MeasurementScope {
	return MeasurementScope{Kind: kind, Target: Target{Process: p}, TargetKind: TargetProcess}
}

func ScopeForBlockDevice(kind MeasurementKind, b BlockDevice) MeasurementScope {
	return MeasurementScope{Kind: kind, Target: Target{BlockDevice: b}, TargetKind: TargetBlockDevice}
}

func (s MeasurementScope) String() string {
	switch s.TargetKind {
	case TargetCpu:
		return fmt.Sprintf("%s@%s", s.Kind, s.Target.Cpu)
	case TargetThread:
		return fmt.Sprintf("%s@%s", s.Kind, s.Target.Thread)
	case TargetProcess:
		return fmt.Sprintf("%s@%s", s.Kind, s.Target.Process)
	case TargetBlockDevice:
		return fmt.Sprintf("%s@%s", s.Kind, s.Target.BlockDevice)
	default:
		return s.Kind.String()
	}
}
