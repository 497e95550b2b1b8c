package mining

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startWorker spins up a standalone worker against a fresh slot and returns
// a stop function that drives it through a clean exit.
func startWorker(t *testing.T, kernel *recordingKernel, sink EventSink,
	initial WorkItem, threads int, cfg WorkerConfig) (*Worker, *WorkSlot, func()) {
	t.Helper()

	slot := NewWorkSlot(initial, threads)
	tel := NewTelemetry(threads)
	fn, ok := kernel.provider()(cfg.Width)
	require.True(t, ok)
	cfg.Kernel = fn

	w := NewWorker(zap.NewNop(), slot, tel, sink, &fakeAlloc{}, initial, cfg)
	require.NoError(t, w.Start())

	return w, slot, func() {
		w.Stop()
		slot.Publish(StallWork())
		select {
		case <-w.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not exit")
		}
	}
}

func TestWorkerMultiwayNoncesAreConsecutive(t *testing.T) {
	kernel := &recordingKernel{}
	sink := &collectSink{}

	_, _, stop := startWorker(t, kernel, sink, testWork('a', 0), 1,
		WorkerConfig{ThreadNo: 0, Width: 6, Affinity: -1})
	time.Sleep(100 * time.Millisecond)
	stop()

	nonces := kernel.recorded()
	require.NotEmpty(t, nonces)
	assert.Zero(t, len(nonces)%6, "kernel invocations must cover full lanes")

	// One contiguous ascending range; the first tested nonce is base+1.
	for i, n := range nonces {
		assert.Equal(t, nonces[0]+uint32(i), n)
	}
	assert.Equal(t, uint32(1), nonces[0])

	// Target zero never matches.
	assert.Zero(t, sink.len())
}

func TestWorkerNiceHashKeepsNoncePrefix(t *testing.T) {
	kernel := &recordingKernel{}
	sink := &collectSink{}

	work := testWork('n', 0)
	work.NiceHash = true
	work.SetNonce(0xAB000000)

	_, _, stop := startWorker(t, kernel, sink, work, 1,
		WorkerConfig{ThreadNo: 0, Width: 2, Affinity: -1})
	time.Sleep(50 * time.Millisecond)
	stop()

	nonces := kernel.recorded()
	require.NotEmpty(t, nonces)
	for _, n := range nonces {
		assert.Equal(t, uint32(0xAB), n>>24, "nonce 0x%08x lost the pool prefix", n)
	}
}

func TestWorkerEmitsQualifyingSolutions(t *testing.T) {
	kernel := &recordingKernel{}
	sink := &collectSink{}

	// The mock kernel writes the nonce into the comparand, so exactly the
	// nonces below the target qualify.
	work := testWork('s', 100)
	work.PoolID = 3

	_, _, stop := startWorker(t, kernel, sink, work, 1,
		WorkerConfig{ThreadNo: 0, Width: 1, Affinity: -1})
	time.Sleep(50 * time.Millisecond)
	stop()

	solutions := sink.all()
	require.NotEmpty(t, solutions)
	assert.LessOrEqual(t, len(solutions), 99)
	for _, s := range solutions {
		assert.Less(t, uint64(s.Nonce), uint64(100))
		assert.Equal(t, JobID{'s', 's', 's', 's', 's', 's', 's', 's'}, s.JobID)
		assert.Equal(t, 3, s.PoolID)
		assert.Equal(t, uint64(s.Nonce), TrailingU64(s.Digest[:]))
	}
}

func TestWorkerStallHashesNothing(t *testing.T) {
	kernel := &recordingKernel{}
	sink := &collectSink{}

	_, slot, stop := startWorker(t, kernel, sink, StallWork(), 1,
		WorkerConfig{ThreadNo: 0, Width: 1, Affinity: -1})

	time.Sleep(150 * time.Millisecond)
	assert.Zero(t, kernel.calls.Load(), "stalled worker must not hash")

	slot.Publish(testWork('r', 0))
	assert.Eventually(t, func() bool { return kernel.calls.Load() > 0 },
		time.Second, 10*time.Millisecond, "worker did not resume after stall")
	stop()
}

func TestWorkerRangesDoNotOverlap(t *testing.T) {
	kernelA := &recordingKernel{}
	kernelB := &recordingKernel{}
	sink := &collectSink{}

	work := testWork('d', 0)
	slot := NewWorkSlot(work, 2)
	tel := NewTelemetry(2)

	fnA, _ := kernelA.provider()(1)
	fnB, _ := kernelB.provider()(4)
	w0 := NewWorker(zap.NewNop(), slot, tel, sink, &fakeAlloc{}, work,
		WorkerConfig{ThreadNo: 0, Width: 1, Affinity: -1, Kernel: fnA})
	w1 := NewWorker(zap.NewNop(), slot, tel, sink, &fakeAlloc{}, work,
		WorkerConfig{ThreadNo: 1, Width: 4, Affinity: -1, Kernel: fnB})
	require.NoError(t, w0.Start())
	require.NoError(t, w1.Start())

	time.Sleep(100 * time.Millisecond)
	w0.Stop()
	w1.Stop()
	slot.Publish(StallWork())
	<-w0.Done()
	<-w1.Done()

	seen := make(map[uint32]int)
	for _, n := range kernelA.recorded() {
		seen[n] = 1
	}
	for _, n := range kernelB.recorded() {
		require.Zero(t, seen[n], "nonce 0x%08x tested by both workers", n)
	}
}

func TestWorkerAllocationFailureReportedOnStart(t *testing.T) {
	slot := NewWorkSlot(StallWork(), 1)
	tel := NewTelemetry(1)
	kernel := &recordingKernel{}
	fn, _ := kernel.provider()(2)

	w := NewWorker(zap.NewNop(), slot, tel, &collectSink{}, &fakeAlloc{fail: true},
		StallWork(), WorkerConfig{ThreadNo: 0, Width: 2, Affinity: -1, Kernel: fn})
	err := w.Start()
	require.Error(t, err)

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("failed worker did not exit")
	}
}

func TestWorkerFreesContextsOnExit(t *testing.T) {
	alloc := &fakeAlloc{}
	kernel := &recordingKernel{}
	sink := &collectSink{}

	work := testWork('f', 0)
	slot := NewWorkSlot(work, 1)
	tel := NewTelemetry(1)
	fn, _ := kernel.provider()(4)

	w := NewWorker(zap.NewNop(), slot, tel, sink, alloc, work,
		WorkerConfig{ThreadNo: 0, Width: 4, Affinity: -1, Kernel: fn})
	require.NoError(t, w.Start())
	time.Sleep(20 * time.Millisecond)

	w.Stop()
	slot.Publish(StallWork())
	<-w.Done()

	assert.Equal(t, int64(4), alloc.allocs.Load())
	assert.Equal(t, int64(4), alloc.frees.Load())
}
