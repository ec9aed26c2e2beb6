// Package memsink implements an in-memory archive.Sink, used by tests
// throughout the engine and by cmd/arrowtrace as its session archive;
// it keeps the recorded trace in memory and writes nothing to disk.
package memsink

import (
	"fmt"
	"sync"
	"time"

	"github.com/arrowtrace/profiler/archive"
)

// CallingContextEnter records one WriteCallingContextEnter call, kept
// for test assertions.
type CallingContextEnter struct {
	Location       archive.LocationRef
	Time           time.Time
	Ctx            archive.CctxRef
	UnwindDistance int
}

// IoOp records one I/O begin/complete pair observation.
type IoOp struct {
	Location   archive.LocationRef
	Time       time.Time
	Handle     archive.IoHandleRef
	Bytes      uint64
	MatchingID uint64
}

// Sink is a minimal, race-safe, fully in-memory archive.Sink.
type Sink struct {
	mu sync.Mutex

	strings   []string
	sysTree   []sysTreeNode
	locGroups []locGroup
	locations []location
	regions   []region
	sclTab    []scl
	cctxTab   []cctxDef
	cctxProps []cctxProp
	comms     []comm
	commGrps  []string
	metricMem []metricMember
	metricCls [][]archive.MetricMemberRef
	metricIns []metricInstance
	ioParad   []string
	ioHandles []ioHandle
	mapTables []MappingTable

	ThreadBegins []ThreadEvent
	ThreadEnds   []ThreadEvent
	Enters       []CallingContextEnter
	Leaves       []CallingContextEnter
	Metrics      []MetricWrite
	IoBegins     []IoOp
	IoCompletes  []IoOp

	ClockStart, ClockEnd time.Time
	TickFreqHz           uint64

	closed bool
}

type ThreadEvent struct {
	Location archive.LocationRef
	Time     time.Time
	Region   archive.RegionRef
}

type MetricWrite struct {
	Location archive.LocationRef
	Time     time.Time
	Class    archive.MetricInstRef
	Values   []uint64
}

type MappingTable struct {
	Writer        archive.LocationRef
	LocalToGlobal map[archive.CctxRef]archive.CctxRef
}

type sysTreeNode struct {
	name      string
	parent    archive.SysTreeRef
	hasParent bool
	props     map[string]string
}

type locGroup struct {
	name   string
	parent archive.SysTreeRef
}

type location struct {
	name  string
	group archive.LocGroupRef
}

type region struct {
	name string
	file string
	line int
}

type scl struct {
	file string
	line int
}

type cctxDef struct {
	name      archive.StringRef
	scl       archive.SclRef
	parent    archive.CctxRef
	hasParent bool
}

type cctxProp struct {
	ctx   archive.CctxRef
	name  string
	value string
}

type comm struct {
	name  string
	group archive.CommGroupRef
}

type metricMember struct {
	name, unit string
}

type metricInstance struct {
	class    archive.MetricClassRef
	recorder archive.LocationRef
}

type ioHandle struct {
	name     string
	paradigm archive.IoParadigmRef
	scope    archive.LocationRef
}

// New returns an empty Sink.
func New() *Sink { return &Sink{} }

func (s *Sink) DefineString(str string) archive.StringRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings = append(s.strings, str)
	return archive.StringRef(len(s.strings) - 1)
}

func (s *Sink) DefineSystemTreeNode(name string, parent archive.SysTreeRef, hasParent bool) archive.SysTreeRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sysTree = append(s.sysTree, sysTreeNode{name, parent, hasParent, map[string]string{}})
	return archive.SysTreeRef(len(s.sysTree) - 1)
}

func (s *Sink) DefineSystemTreeNodeProperty(node archive.SysTreeRef, name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(node) < len(s.sysTree) {
		s.sysTree[node].props[name] = value
	}
}

func (s *Sink) DefineLocationGroup(name string, parent archive.SysTreeRef) archive.LocGroupRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locGroups = append(s.locGroups, locGroup{name, parent})
	return archive.LocGroupRef(len(s.locGroups) - 1)
}

func (s *Sink) DefineLocation(name string, group archive.LocGroupRef) archive.LocationRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locations = append(s.locations, location{name, group})
	return archive.LocationRef(len(s.locations) - 1)
}

func (s *Sink) DefineRegion(name string, sourceFile string, sourceLine int) archive.RegionRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regions = append(s.regions, region{name, sourceFile, sourceLine})
	return archive.RegionRef(len(s.regions) - 1)
}

func (s *Sink) DefineSourceCodeLocation(file string, line int) archive.SclRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sclTab = append(s.sclTab, scl{file, line})
	return archive.SclRef(len(s.sclTab) - 1)
}

func (s *Sink) DefineCallingContext(name archive.StringRef, sclRef archive.SclRef, parent archive.CctxRef, hasParent bool) archive.CctxRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cctxTab = append(s.cctxTab, cctxDef{name, sclRef, parent, hasParent})
	return archive.CctxRef(len(s.cctxTab) - 1)
}

func (s *Sink) DefineCallingContextProperty(ctx archive.CctxRef, name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cctxProps = append(s.cctxProps, cctxProp{ctx, name, value})
}

func (s *Sink) DefineComm(name string, group archive.CommGroupRef) archive.CommRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comms = append(s.comms, comm{name, group})
	return archive.CommRef(len(s.comms) - 1)
}

func (s *Sink) DefineCommGroup(name string) archive.CommGroupRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commGrps = append(s.commGrps, name)
	return archive.CommGroupRef(len(s.commGrps) - 1)
}

func (s *Sink) DefineMetricMember(name, unit string) archive.MetricMemberRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricMem = append(s.metricMem, metricMember{name, unit})
	return archive.MetricMemberRef(len(s.metricMem) - 1)
}

func (s *Sink) DefineMetricClass(members []archive.MetricMemberRef) archive.MetricClassRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricCls = append(s.metricCls, append([]archive.MetricMemberRef{}, members...))
	return archive.MetricClassRef(len(s.metricCls) - 1)
}

func (s *Sink) DefineMetricInstance(class archive.MetricClassRef, recorder archive.LocationRef) archive.MetricInstRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricIns = append(s.metricIns, metricInstance{class, recorder})
	return archive.MetricInstRef(len(s.metricIns) - 1)
}

func (s *Sink) DefineIoParadigm(name string) archive.IoParadigmRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioParad = append(s.ioParad, name)
	return archive.IoParadigmRef(len(s.ioParad) - 1)
}

func (s *Sink) DefineIoHandle(name string, paradigm archive.IoParadigmRef, scope archive.LocationRef) archive.IoHandleRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ioHandles = append(s.ioHandles, ioHandle{name, paradigm, scope})
	return archive.IoHandleRef(len(s.ioHandles) - 1)
}

func (s *Sink) DefineMappingTable(writer archive.LocationRef, localToGlobal map[archive.CctxRef]archive.CctxRef) archive.MappingTableRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make(map[archive.CctxRef]archive.CctxRef, len(localToGlobal))
	for k, v := range localToGlobal {
		cp[k] = v
	}
	s.mapTables = append(s.mapTables, MappingTable{writer, cp})
	return archive.MappingTableRef(len(s.mapTables) - 1)
}

func (s *Sink) SetClockProperties(start, end time.Time, tickFreqHz uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ClockStart, s.ClockEnd, s.TickFreqHz = start, end, tickFreqHz
}

func (s *Sink) WriteThreadBegin(loc archive.LocationRef, t time.Time, region archive.RegionRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ThreadBegins = append(s.ThreadBegins, ThreadEvent{loc, t, region})
}

func (s *Sink) WriteThreadEnd(loc archive.LocationRef, t time.Time, region archive.RegionRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ThreadEnds = append(s.ThreadEnds, ThreadEvent{loc, t, region})
}

func (s *Sink) WriteCallingContextEnter(loc archive.LocationRef, t time.Time, ctx archive.CctxRef, unwindDistance int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enters = append(s.Enters, CallingContextEnter{loc, t, ctx, unwindDistance})
}

func (s *Sink) WriteCallingContextLeave(loc archive.LocationRef, t time.Time, ctx archive.CctxRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Leaves = append(s.Leaves, CallingContextEnter{Location: loc, Time: t, Ctx: ctx})
}

func (s *Sink) WriteMetric(loc archive.LocationRef, t time.Time, class archive.MetricInstRef, values []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Metrics = append(s.Metrics, MetricWrite{loc, t, class, append([]uint64{}, values...)})
}

func (s *Sink) WriteIoOperationBegin(loc archive.LocationRef, t time.Time, handle archive.IoHandleRef, mode archive.IoMode, bytes uint64, matchingID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IoBegins = append(s.IoBegins, IoOp{loc, t, handle, bytes, matchingID})
}

func (s *Sink) WriteIoOperationComplete(loc archive.LocationRef, t time.Time, handle archive.IoHandleRef, bytes uint64, matchingID uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IoCompletes = append(s.IoCompletes, IoOp{loc, t, handle, bytes, matchingID})
}

// MapTables returns the mapping tables recorded via DefineMappingTable,
// in definition order, for test introspection.
func (s *Sink) MapTables() []MappingTable {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]MappingTable{}, s.mapTables...)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memsink: already closed")
	}
	s.closed = true
	return nil
}

var _ archive.Sink = (*Sink)(nil)
