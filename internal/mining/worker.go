package mining

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/affinity"
	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
	"github.com/shizukutanaka/tsurugi/internal/memory"
)

// ContextAllocator produces and releases kernel contexts. The worker calls
// Alloc on its own pinned thread so the pages land on the right NUMA node.
type ContextAllocator interface {
	Alloc() (*cryptonight.Context, error)
	Free(*cryptonight.Context)
}

// WorkerConfig fixes one worker's kernel width and placement.
type WorkerConfig struct {
	ThreadNo int
	Width    int
	// Affinity is the CPU to pin to; negative means unpinned.
	Affinity int
	Kernel   cryptonight.HashFn
	// PushInterval throttles telemetry ring pushes. Zero means the default
	// 250 ms.
	PushInterval time.Duration
}

// Worker owns one OS thread that repeatedly hashes the current work item at
// a fixed multiway width and emits solutions to the sink.
type Worker struct {
	log   *zap.Logger
	slot  *WorkSlot
	tel   *Telemetry
	sink  EventSink
	alloc ContextAllocator

	threadNo   int
	affinity   int
	width      int
	sampleMask uint64
	hashFn     cryptonight.HashFn
	pushEvery  uint64 // milliseconds

	localWork  WorkItem
	localJobNo uint64
	count      uint64
	lastPush   uint64

	hashCount atomic.Uint64
	timestamp atomic.Uint64
	quit      atomic.Bool
	done      chan struct{}
}

// NewWorker creates a worker primed with the initial work item. Start must
// be called to spawn its thread.
func NewWorker(log *zap.Logger, slot *WorkSlot, tel *Telemetry, sink EventSink,
	alloc ContextAllocator, initial WorkItem, cfg WorkerConfig) *Worker {

	// The hash count advances by the width each round; sample when
	// count&0xF == 0 for width 1 and count&0x3 == 0 for wider kernels.
	sampleMask := uint64(0xF)
	if cfg.Width > 1 {
		sampleMask = 0x3
	}
	pushEvery := cfg.PushInterval
	if pushEvery <= 0 {
		pushEvery = 250 * time.Millisecond
	}

	return &Worker{
		log:        log.With(zap.Int("worker", cfg.ThreadNo)),
		slot:       slot,
		tel:        tel,
		sink:       sink,
		alloc:      alloc,
		threadNo:   cfg.ThreadNo,
		affinity:   cfg.Affinity,
		width:      cfg.Width,
		sampleMask: sampleMask,
		hashFn:     cfg.Kernel,
		pushEvery:  uint64(pushEvery.Milliseconds()),
		localWork:  initial,
		done:       make(chan struct{}),
	}
}

// Start spawns the worker thread and blocks until it has pinned itself and
// allocated its contexts. An allocation failure is returned here and the
// worker never counts itself ready.
func (w *Worker) Start() error {
	startup := make(chan error, 1)
	go w.run(startup)
	return <-startup
}

// Stop requests shutdown. The worker observes the flag at the next job
// boundary; see Pool.Shutdown for how that boundary is forced.
func (w *Worker) Stop() { w.quit.Store(true) }

// Done is closed when the worker thread has exited and freed its contexts.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Hashrate answers a windowed hashrate query for this worker.
func (w *Worker) Hashrate(window time.Duration) float64 {
	return w.tel.Hashrate(w.threadNo, window)
}

// LiveCounters returns the last sampled (hash count, timestamp ms) pair. The
// pair is written with relaxed ordering; callers treat a torn read as noise.
func (w *Worker) LiveCounters() (uint64, uint64) {
	return w.hashCount.Load(), w.timestamp.Load()
}

func (w *Worker) run(startup chan<- error) {
	defer close(w.done)

	// The thread must be locked before pinning, and pinned before the
	// scratchpads are allocated, so their pages fault in NUMA-local.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if w.affinity >= 0 {
		if err := memory.BindToNode(w.affinity); err != nil {
			w.log.Warn("NUMA bind failed", zap.Int("cpu", w.affinity), zap.Error(err))
		}
		if affinity.Advisory {
			w.log.Warn("thread affinity is only advisory on this platform")
		}
		if err := affinity.Pin(w.affinity); err != nil {
			w.log.Warn("failed to pin thread", zap.Int("cpu", w.affinity), zap.Error(err))
		}
	}

	ctxs := make([]*cryptonight.Context, w.width)
	for i := range ctxs {
		ctx, err := w.alloc.Alloc()
		if err != nil {
			for j := 0; j < i; j++ {
				w.alloc.Free(ctxs[j])
			}
			startup <- fmt.Errorf("worker %d: %w", w.threadNo, err)
			return
		}
		ctxs[i] = ctx
	}
	defer func() {
		for _, ctx := range ctxs {
			w.alloc.Free(ctx)
		}
	}()

	w.slot.Ready()
	startup <- nil

	blob := make([]byte, w.width*MaxBlobSize)
	hashOut := make([]byte, w.width*cryptonight.DigestSize)
	w.refreshBlob(blob)

	for !w.quit.Load() {
		if w.localWork.Stall {
			// No job yet; wait for the next generation rather than spin on
			// an empty blob.
			for w.slot.Generation() == w.localJobNo {
				time.Sleep(100 * time.Millisecond)
			}
			w.consumeWork()
			w.refreshBlob(blob)
			continue
		}

		size := w.localWork.Size
		target := w.localWork.Target
		jobID := w.localWork.JobID
		poolID := w.localWork.PoolID
		nonce := w.baseNonce(blob)

		for w.slot.Generation() == w.localJobNo {
			if w.count&w.sampleMask == 0 {
				w.sampleTelemetry()
			}
			w.count += uint64(w.width)

			for i := 0; i < w.width; i++ {
				nonce++
				binary.LittleEndian.PutUint32(blob[i*size+NonceOffset:], nonce)
			}

			w.hashFn(blob[:w.width*size], size, hashOut, ctxs)

			for i := 0; i < w.width; i++ {
				digest := hashOut[i*cryptonight.DigestSize : (i+1)*cryptonight.DigestSize]
				if TrailingU64(digest) < target {
					sol := Solution{
						JobID:  jobID,
						Nonce:  nonce - uint32(w.width-1) + uint32(i),
						PoolID: poolID,
					}
					copy(sol.Digest[:], digest)
					w.sink.PushSolution(sol)
				}
			}

			runtime.Gosched()
		}

		w.consumeWork()
		w.refreshBlob(blob)
	}
}

// consumeWork copies the published work into the worker and counts it into
// the new generation.
func (w *Worker) consumeWork() {
	w.localWork = w.slot.Consume()
	w.localJobNo++
}

// refreshBlob lays the local work blob out once per lane. Lane i's nonce
// slot sits at i*size+NonceOffset; the offsets move whenever the work size
// changes, so every job change re-derives them.
func (w *Worker) refreshBlob(blob []byte) {
	size := w.localWork.Size
	if size == 0 {
		return
	}
	for i := 0; i < w.width; i++ {
		copy(blob[i*size:(i+1)*size], w.localWork.Blob[:size])
	}
}

// baseNonce picks the first nonce (exclusive) of this worker's range for the
// current job. In NiceHash mode the top byte carries the pool-assigned
// prefix and must survive; only the low 24 bits are ours.
func (w *Worker) baseNonce(blob []byte) uint32 {
	start := w.startNonce(w.localWork.ResumeCount)
	if w.localWork.NiceHash {
		cur := binary.LittleEndian.Uint32(blob[NonceOffset:])
		return cur&0xFF000000 | start&0x00FFFFFF
	}
	return start
}

// startNonce splits the 32-bit nonce space evenly across workers; the resume
// counter shifts the split so a revisited job continues past ranges already
// handed out.
func (w *Worker) startNonce(resume uint32) uint32 {
	threads := uint32(w.slot.ThreadCount())
	step := uint32(math.MaxUint32) / threads
	return step * (uint32(w.threadNo) + threads*resume)
}

// sampleTelemetry stores the live counters and, at most once per push
// interval, appends them to the telemetry ring.
func (w *Worker) sampleTelemetry() {
	stamp := uint64(time.Now().UnixMilli())
	w.hashCount.Store(w.count)
	w.timestamp.Store(stamp)
	if stamp-w.lastPush >= w.pushEvery {
		w.tel.Push(w.threadNo, w.count, stamp)
		w.lastPush = stamp
	}
}
