// Package registry implements the deduplicating writer registry
// (spec.md component C9): a process-wide, mutex-serialized store of
// OTF2-like definitions keyed by semantic handles (ByProcess, ByCpu,
// ByString, ...), emplaced idempotently against an archive.Sink.
//
// lo2s's reg_keys.hpp uses a tag-templated SimpleKeyType<K, Tag> to
// get distinct C++ types per key flavor sharing one underlying key
// type (e.g. ByCpu and ByPackage are both backed by int). Go doesn't
// need that trick: each key flavor below is simply a typed map whose
// key type already disambiguates it.
package registry

import (
	"sync"

	"github.com/arrowtrace/profiler/archive"
	"github.com/arrowtrace/profiler/scope"
)

// LineInfoKey is the ByLineInfo key flavor: a resolved source location
// used to deduplicate Region/SourceCodeLocation definitions.
type LineInfoKey struct {
	Function string
	File     string
	Line     int
}

// Registry is the process-wide deduplicating definition store. All
// mutation is serialized by mu; per spec.md §5 this corresponds to
// "one recursive mutex" — Go mutexes are not reentrant, so Registry
// methods never call back into the registry while mu is held (the
// design note's resolution of that mismatch).
type Registry struct {
	mu   sync.Mutex
	sink archive.Sink

	strings map[string]archive.StringRef

	processNodes map[scope.Process]archive.SysTreeRef
	threadLocs   map[scope.MeasurementScope]archive.LocationRef
	cpuLocs      map[scope.MeasurementScope]archive.LocationRef
	execLocs     map[scope.ExecutionScope]archive.LocationRef
	coreNodes    map[scope.Core]archive.SysTreeRef
	pkgNodes     map[scope.Package]archive.SysTreeRef
	blockDevs    map[uint64]archive.SysTreeRef

	commGroups map[scope.Process]archive.CommGroupRef
	comms      map[scope.Thread]archive.CommRef

	syscalls  map[int64]archive.RegionRef
	lineInfos map[LineInfoKey]archive.RegionRef
	sclTab    map[LineInfoKey]archive.SclRef

	ioHandles map[uint32]archive.IoHandleRef // keyed by block-device dev_t or fd identity

	rootSysTree archive.SysTreeRef
	haveRoot    bool
}

// New creates a Registry writing definitions into sink.
func New(sink archive.Sink) *Registry {
	return &Registry{
		sink:         sink,
		strings:      make(map[string]archive.StringRef),
		processNodes: make(map[scope.Process]archive.SysTreeRef),
		threadLocs:   make(map[scope.MeasurementScope]archive.LocationRef),
		cpuLocs:      make(map[scope.MeasurementScope]archive.LocationRef),
		execLocs:     make(map[scope.ExecutionScope]archive.LocationRef),
		coreNodes:    make(map[scope.Core]archive.SysTreeRef),
		pkgNodes:     make(map[scope.Package]archive.SysTreeRef),
		blockDevs:    make(map[uint64]archive.SysTreeRef),
		commGroups:   make(map[scope.Process]archive.CommGroupRef),
		comms:        make(map[scope.Thread]archive.CommRef),
		syscalls:     make(map[int64]archive.RegionRef),
		lineInfos:    make(map[LineInfoKey]archive.RegionRef),
		sclTab:       make(map[LineInfoKey]archive.SclRef),
		ioHandles:    make(map[uint32]archive.IoHandleRef),
	}
}

// Intern deduplicates a string, returning the same StringRef for equal
// strings across any number of calls.
func (r *Registry) Intern(s string) archive.StringRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.strings[s]; ok {
		return ref
	}
	ref := r.sink.DefineString(s)
	r.strings[s] = ref
	return ref
}

// RootSystemTreeNode returns (creating on first call) the single root
// system-tree node carrying the UNAME::* / LO2S::* machine properties
// (spec.md §6).
func (r *Registry) RootSystemTreeNode(hostname string) archive.SysTreeRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.haveRoot {
		return r.rootSysTree
	}
	r.rootSysTree = r.sink.DefineSystemTreeNode(hostname, 0, false)
	r.haveRoot = true
	return r.rootSysTree
}

// ProcessNode returns (creating on first call) the system-tree node
// for a process, keyed ByProcess.
func (r *Registry) ProcessNode(p scope.Process, name string, root archive.SysTreeRef) archive.SysTreeRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.processNodes[p]; ok {
		return ref
	}
	ref := r.sink.DefineSystemTreeNode(name, root, true)
	r.processNodes[p] = ref
	return ref
}

// CoreNode returns (creating on first call) the system-tree node for a
// physical core, keyed ByCore.
func (r *Registry) CoreNode(c scope.Core, parent archive.SysTreeRef) archive.SysTreeRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.coreNodes[c]; ok {
		return ref
	}
	ref := r.sink.DefineSystemTreeNode("core", parent, true)
	r.coreNodes[c] = ref
	return ref
}

// PackageNode returns (creating on first call) the system-tree node
// for a package/socket, keyed ByPackage.
func (r *Registry) PackageNode(p scope.Package, root archive.SysTreeRef) archive.SysTreeRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.pkgNodes[p]; ok {
		return ref
	}
	ref := r.sink.DefineSystemTreeNode("package", root, true)
	r.pkgNodes[p] = ref
	return ref
}

// BlockDeviceNode returns (creating on first call) the system-tree
// node for a block device, keyed ByBlockDevice.
func (r *Registry) BlockDeviceNode(b scope.BlockDevice, root archive.SysTreeRef) archive.SysTreeRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.blockDevs[b.Dev]; ok {
		return ref
	}
	ref := r.sink.DefineSystemTreeNode(b.DisplayName, root, true)
	r.blockDevs[b.Dev] = ref
	return ref
}

// Location returns (creating on first call) the Location for a
// measurement scope. A Location is indexable both ByMeasurementScope
// (this method) and ByExecutionScope (LocationForExecutionScope) per
// spec.md §4.8 — both maps may point at the same created Location
// when a caller chooses to alias them, but each index has its own
// idempotent create path.
func (r *Registry) Location(ms scope.MeasurementScope, name string, group archive.LocGroupRef) archive.LocationRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.threadLocs
	if ms.TargetKind == scope.TargetCpu {
		m = r.cpuLocs
	}
	if ref, ok := m[ms]; ok {
		return ref
	}
	ref := r.sink.DefineLocation(name, group)
	m[ms] = ref
	return ref
}

// LocationForExecutionScope returns (creating on first call) the
// Location for an ExecutionScope, the ByExecutionScope index.
func (r *Registry) LocationForExecutionScope(es scope.ExecutionScope, name string, group archive.LocGroupRef) archive.LocationRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.execLocs[es]; ok {
		return ref
	}
	ref := r.sink.DefineLocation(name, group)
	r.execLocs[es] = ref
	return ref
}

// CommGroup returns (creating on first call) the CommGroup for a
// process, keyed ByProcess.
func (r *Registry) CommGroup(p scope.Process, name string) archive.CommGroupRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.commGroups[p]; ok {
		return ref
	}
	ref := r.sink.DefineCommGroup(name)
	r.commGroups[p] = ref
	return ref
}

// Comm returns (creating on first call) the Comm for a thread, keyed
// ByThread.
func (r *Registry) Comm(t scope.Thread, name string, group archive.CommGroupRef) archive.CommRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.comms[t]; ok {
		return ref
	}
	ref := r.sink.DefineComm(name, group)
	r.comms[t] = ref
	return ref
}

// SyscallRegion returns (creating on first call) the Region
// representing a syscall number, keyed BySyscall.
func (r *Registry) SyscallRegion(nr int64, name string) archive.RegionRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.syscalls[nr]; ok {
		return ref
	}
	ref := r.sink.DefineRegion(name, "", 0)
	r.syscalls[nr] = ref
	return ref
}

// LineInfoRegion returns (creating on first call) the Region for a
// resolved line-info quadruple, keyed ByLineInfo. This is the path
// used by the cctx merger to turn a SampleAddr node into a Region
// (spec.md §4.7).
func (r *Registry) LineInfoRegion(li archive.LineInfo) archive.RegionRef {
	key := LineInfoKey{li.Function, li.File, li.Line}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.lineInfos[key]; ok {
		return ref
	}
	ref := r.sink.DefineRegion(li.Function, li.File, li.Line)
	r.lineInfos[key] = ref
	return ref
}

// SourceCodeLocation returns (creating on first call) the
// SourceCodeLocation for a file/line pair, keyed ByLineInfo.
func (r *Registry) SourceCodeLocation(file string, line int) archive.SclRef {
	key := LineInfoKey{File: file, Line: line}
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.sclTab[key]; ok {
		return ref
	}
	ref := r.sink.DefineSourceCodeLocation(file, line)
	r.sclTab[key] = ref
	return ref
}

// IoHandleByAddress returns (creating on first call) an IoHandle keyed
// ByAddress — used for block devices (keyed by dev_t) and POSIX file
// descriptors (keyed by a synthetic per-process fd identity).
func (r *Registry) IoHandleByAddress(key uint32, name string, paradigm archive.IoParadigmRef, loc archive.LocationRef) archive.IoHandleRef {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref, ok := r.ioHandles[key]; ok {
		return ref
	}
	ref := r.sink.DefineIoHandle(name, paradigm, loc)
	r.ioHandles[key] = ref
	return ref
}

// Sink exposes the underlying archive.Sink for components (monitors,
// the cctx merger) that must also issue event-stream writes, which are
// not deduplicated and so bypass the registry's maps.
func (r *Registry) Sink() archive.Sink { return r.sink }

// HasIoHandle reports whether a ByAddress-keyed IoHandle has already been
// created, without creating one (spec.md's has<Def>(key)).
func (r *Registry) HasIoHandle(key uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.ioHandles[key]
	return ok
}
