package monitor

import (
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/arrowtrace/profiler/archive/memsink"
	"github.com/arrowtrace/profiler/cctx"
	"github.com/arrowtrace/profiler/ringbuf"
	"github.com/arrowtrace/profiler/scope"
	"github.com/arrowtrace/profiler/writer"
)

func newTestDispatcher() (*SampleDispatcher, *cctx.LocalTree) {
	sink := memsink.New()
	ms := scope.ScopeForThread(scope.KindSample, scope.Thread(1))
	w := writer.New(sink, ms, sink.DefineLocation("t1", 0))
	tree := cctx.NewLocalTree(w)
	d := &SampleDispatcher{
		Log:        slog.Default(),
		Tree:       tree,
		SampleType: SampleTID | SampleTime | SampleCallchain,
	}
	return d, tree
}

func sampleRaw(chain []uint64, timeNs uint64) []byte {
	buf := make([]byte, 8+8+8+8*len(chain))
	binary.LittleEndian.PutUint32(buf[0:], 1)
	binary.LittleEndian.PutUint32(buf[4:], 2)
	binary.LittleEndian.PutUint64(buf[8:], timeNs)
	binary.LittleEndian.PutUint64(buf[16:], uint64(len(chain)))
	for i, ip := range chain {
		binary.LittleEndian.PutUint64(buf[24+8*i:], ip)
	}
	return buf
}

func TestDispatchSampleInsertsCctxNodes(t *testing.T) {
	d, tree := newTestDispatcher()

	d.Dispatch(ringbuf.Record{
		Type: ringbuf.RecordTypeSample,
		Raw:  sampleRaw([]uint64{0x1000, 0x2000}, 100),
	})

	tree.Finalize()
	// The root plus one node per user frame.
	if got := tree.NumCctx(); got != 3 {
		t.Fatalf("NumCctx = %d after dispatching a sample with two user frames, want 3", got)
	}
}

func TestDispatchSampleDropsKernelFrames(t *testing.T) {
	d, tree := newTestDispatcher()
	d.Dispatch(ringbuf.Record{
		Type: ringbuf.RecordTypeSample,
		Raw:  sampleRaw([]uint64{0x1000, PerfContextKernel, 0xffffffff81000000}, 100),
	})
	tree.Finalize()

	// Only the one user frame (0x1000) should have produced a node,
	// the same as if the kernel frame had never been in the chain.
	d2, tree2 := newTestDispatcher()
	d2.Dispatch(ringbuf.Record{Type: ringbuf.RecordTypeSample, Raw: sampleRaw([]uint64{0x1000}, 100)})
	tree2.Finalize()

	if tree.NumCctx() != tree2.NumCctx() {
		t.Errorf("kernel-frame sample produced NumCctx=%d, want same as single-frame sample's %d", tree.NumCctx(), tree2.NumCctx())
	}
}

func TestDispatchMalformedSampleDoesNotPanic(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Dispatch(ringbuf.Record{Type: ringbuf.RecordTypeSample, Raw: []byte{1, 2}})
}

func TestDispatchUnknownRecordTypeIgnored(t *testing.T) {
	d, tree := newTestDispatcher()
	d.Dispatch(ringbuf.Record{Type: ringbuf.RecordTypeRead, Raw: nil})
	tree.Finalize()
	// NumCctx counts the root, so a tree with no inserted node reports 1.
	if tree.NumCctx() != 1 {
		t.Errorf("unknown record type should not insert any cctx node, got NumCctx=%d, want 1 (root only)", tree.NumCctx())
	}
}

func TestOverflowAndUnknownDoNotPanicWithoutMetrics(t *testing.T) {
	d, _ := newTestDispatcher()
	d.Overflow(10, 1)
	d.Unknown(ringbuf.RecordTypeRead, nil)
}
