package mining

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
)

func testPool(kernel *recordingKernel, sink EventSink, opts ...Option) *Pool {
	base := []Option{
		WithKernelProvider(kernel.provider()),
		WithoutSelfTest(),
		WithPushInterval(time.Millisecond),
	}
	return NewPool(zap.NewNop(), sink, &fakeAlloc{}, append(base, opts...)...)
}

func TestPoolRejectsEmptyConfig(t *testing.T) {
	p := testPool(&recordingKernel{}, &collectSink{})
	assert.Error(t, p.Start(StallWork(), nil))
}

func TestPoolRejectsUnknownWidth(t *testing.T) {
	p := testPool(&recordingKernel{}, &collectSink{})
	err := p.Start(StallWork(), []ThreadSpec{{Multiway: 3, Affinity: -1}})
	assert.ErrorContains(t, err, "multiway")
}

func TestPoolSelfTestFailureIsFatal(t *testing.T) {
	// A kernel that writes nothing cannot match the known answers.
	broken := func(width int) (cryptonight.HashFn, bool) {
		return func(input []byte, size int, output []byte, ctxs []*cryptonight.Context) {}, true
	}
	p := NewPool(zap.NewNop(), &collectSink{}, &fakeAlloc{}, WithKernelProvider(broken))
	err := p.Start(StallWork(), []ThreadSpec{{Multiway: 1, Affinity: -1}})
	assert.ErrorContains(t, err, "self-test")
}

func TestPoolAllocationFailureAbortsStart(t *testing.T) {
	kernel := &recordingKernel{}
	// The second worker's first context allocation fails.
	alloc := &fakeAlloc{limited: true, failAt: 1}
	p := NewPool(zap.NewNop(), &collectSink{}, alloc,
		WithKernelProvider(kernel.provider()), WithoutSelfTest())

	err := p.Start(StallWork(), []ThreadSpec{
		{Multiway: 1, Affinity: -1},
		{Multiway: 1, Affinity: -1},
	})
	require.Error(t, err)
	assert.Zero(t, p.WorkerCount())
}

func TestPoolSwitchWorkRetargetsSolutions(t *testing.T) {
	kernel := &recordingKernel{}
	sink := &collectSink{}
	p := testPool(kernel, sink)

	// Every hash qualifies: the mock comparand is the 32-bit nonce, which is
	// always below the maximum 64-bit target.
	jobA := testWork('A', ^uint64(0))
	require.NoError(t, p.Start(jobA, []ThreadSpec{
		{Multiway: 1, Affinity: -1},
		{Multiway: 2, Affinity: -1},
	}))

	time.Sleep(100 * time.Millisecond)
	p.SwitchWork(testWork('B', ^uint64(0)))
	switchLen := sink.len()

	// Give in-flight rounds of job A time to drain, then watch only the
	// solutions emitted afterwards.
	time.Sleep(100 * time.Millisecond)
	drainLen := sink.len()
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, p.Shutdown(2*time.Second))

	solutions := sink.all()
	require.Greater(t, len(solutions), drainLen)
	wantB := JobID{'B', 'B', 'B', 'B', 'B', 'B', 'B', 'B'}
	for _, s := range solutions[drainLen:] {
		assert.Equal(t, wantB, s.JobID)
	}
	// Solutions found before the switch kept job A's id.
	wantA := JobID{'A', 'A', 'A', 'A', 'A', 'A', 'A', 'A'}
	require.Greater(t, switchLen, 0)
	assert.Equal(t, wantA, solutions[0].JobID)

	assert.Equal(t, uint64(1), p.JobsPublished())
	assert.Equal(t, uint64(sink.len()), p.SolutionsFound())
}

func TestPoolStallThenResume(t *testing.T) {
	kernel := &recordingKernel{}
	kernel.delay = func() { time.Sleep(50 * time.Microsecond) }
	sink := &collectSink{}
	p := testPool(kernel, sink)

	require.NoError(t, p.Start(StallWork(), []ThreadSpec{{Multiway: 1, Affinity: -1}}))
	defer p.Shutdown(2 * time.Second)

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, sink.len())
	total, missing := p.Hashrate(10 * time.Second)
	assert.Zero(t, total)
	assert.Equal(t, 1, missing)

	p.SwitchWork(testWork('w', 0))
	assert.Eventually(t, func() bool {
		rate := p.WorkerHashrate(0, 400*time.Millisecond)
		return !math.IsNaN(rate) && rate > 0
	}, 2*time.Second, 25*time.Millisecond)
}

func TestPoolShutdownTerminatesWorkers(t *testing.T) {
	kernel := &recordingKernel{}
	p := testPool(kernel, &collectSink{})

	require.NoError(t, p.Start(testWork('x', 0), []ThreadSpec{
		{Multiway: 1, Affinity: -1},
		{Multiway: 4, Affinity: -1},
		{Multiway: 6, Affinity: -1},
	}))
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, p.Shutdown(2*time.Second))
	assert.Less(t, time.Since(start), time.Second)

	// Shutdown after shutdown is a no-op.
	assert.NoError(t, p.Shutdown(time.Second))
}

func TestPoolHashrateSumsWorkers(t *testing.T) {
	kernel := &recordingKernel{}
	kernel.delay = func() { time.Sleep(20 * time.Microsecond) }
	p := testPool(kernel, &collectSink{})

	require.NoError(t, p.Start(testWork('h', 0), []ThreadSpec{
		{Multiway: 1, Affinity: -1},
		{Multiway: 2, Affinity: -1},
	}))
	defer p.Shutdown(2 * time.Second)

	require.Eventually(t, func() bool {
		_, missing := p.Hashrate(400 * time.Millisecond)
		return missing == 0
	}, 3*time.Second, 50*time.Millisecond)

	total, _ := p.Hashrate(400 * time.Millisecond)
	w0 := p.WorkerHashrate(0, 400*time.Millisecond)
	w1 := p.WorkerHashrate(1, 400*time.Millisecond)
	assert.InDelta(t, w0+w1, total, total*0.01)
	assert.Positive(t, total)
}
