// Package archive specifies the contract the measurement core expects
// from the trace-archive serializer. The serializer itself (an OTF2
// writer) is an external collaborator out of scope for this module
// (spec.md §1); Sink is the interface the core writes against, and
// package memsink provides an in-memory implementation used by tests
// and by cmd/arrowtrace.
package archive

import "time"

// Ref types. All are process-wide unique identifiers handed out by a
// Sink implementation; the core treats them as opaque.
type (
	StringRef    uint32
	RegionRef    uint32
	LocationRef  uint64
	SysTreeRef   uint32
	LocGroupRef  uint32
	CommRef      uint32
	CommGroupRef uint32
	CctxRef      uint64
	SclRef       uint32 // SourceCodeLocation
	MetricMemberRef uint32
	MetricClassRef  uint32
	MetricInstRef   uint32
	IoHandleRef     uint32
	IoParadigmRef   uint32
	MappingTableRef uint32
)

// LineInfo names a source location, or the stand-in returned when
// resolution fails (spec.md GLOSSARY).
type LineInfo struct {
	Function string
	File     string
	Line     int
	Dso      string
}

// ForUnknownFunction is the placeholder LineInfo substituted by
// callers on LookupError (spec.md §7).
func ForUnknownFunction(dso string) LineInfo {
	return LineInfo{Function: "unknown function", Dso: dso}
}

// IoMode mirrors the direction of a POSIX/block I/O operation.
type IoMode int

const (
	IoRead IoMode = iota
	IoWrite
)

// Sink is the definition + event-stream contract consumed by the
// registry, the monitors, and the cctx merger. A concrete
// implementation owns deduplication of its own ref space (the
// registry deduplicates the *semantic* keys above this layer; a Sink
// only needs to hand back a fresh ref on every call).
type Sink interface {
	DefineString(s string) StringRef
	DefineSystemTreeNode(name string, parent SysTreeRef, hasParent bool) SysTreeRef
	DefineSystemTreeNodeProperty(node SysTreeRef, name, value string)
	DefineLocationGroup(name string, parent SysTreeRef) LocGroupRef
	DefineLocation(name string, group LocGroupRef) LocationRef
	DefineRegion(name string, sourceFile string, sourceLine int) RegionRef
	DefineSourceCodeLocation(file string, line int) SclRef
	DefineCallingContext(name StringRef, scl SclRef, parent CctxRef, hasParent bool) CctxRef
	DefineCallingContextProperty(ctx CctxRef, name string, value string)
	DefineComm(name string, group CommGroupRef) CommRef
	DefineCommGroup(name string) CommGroupRef
	DefineMetricMember(name, unit string) MetricMemberRef
	DefineMetricClass(members []MetricMemberRef) MetricClassRef
	DefineMetricInstance(class MetricClassRef, recorder LocationRef) MetricInstRef
	DefineIoParadigm(name string) IoParadigmRef
	DefineIoHandle(name string, paradigm IoParadigmRef, scope LocationRef) IoHandleRef
	DefineMappingTable(writer LocationRef, localToGlobal map[CctxRef]CctxRef) MappingTableRef
	SetClockProperties(start, end time.Time, tickFreqHz uint64)

	// Event stream, keyed implicitly by the current writer (see
	// registry.Writer).
	WriteThreadBegin(loc LocationRef, t time.Time, region RegionRef)
	WriteThreadEnd(loc LocationRef, t time.Time, region RegionRef)
	WriteCallingContextEnter(loc LocationRef, t time.Time, ctx CctxRef, unwindDistance int)
	WriteCallingContextLeave(loc LocationRef, t time.Time, ctx CctxRef)
	WriteMetric(loc LocationRef, t time.Time, class MetricInstRef, values []uint64)
	WriteIoOperationBegin(loc LocationRef, t time.Time, handle IoHandleRef, mode IoMode, bytes uint64, matchingID uint64)
	WriteIoOperationComplete(loc LocationRef, t time.Time, handle IoHandleRef, bytes uint64, matchingID uint64)

	Close() error
}
