package mining

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shizukutanaka/tsurugi/internal/cryptonight"
)

// ThreadSpec configures one worker: its kernel width and pin target.
// Affinity below zero leaves the thread unpinned.
type ThreadSpec struct {
	Multiway int
	Affinity int
}

// Pool owns the workers. It publishes work items to them, aggregates their
// telemetry and tears them down.
type Pool struct {
	log    *zap.Logger
	sink   EventSink
	alloc  ContextAllocator
	kernel KernelProvider

	selfTest     bool
	pushInterval time.Duration
	session      uuid.UUID

	slot    *WorkSlot
	tel     *Telemetry
	workers []*Worker

	solutions atomic.Uint64
	jobs      atomic.Uint64
	started   bool
}

// Option tweaks pool construction.
type Option func(*Pool)

// WithKernelProvider swaps the kernel lookup; tests inject mocks here.
func WithKernelProvider(k KernelProvider) Option {
	return func(p *Pool) { p.kernel = k }
}

// WithoutSelfTest skips the known-answer check on Start. Only meaningful
// together with WithKernelProvider.
func WithoutSelfTest() Option {
	return func(p *Pool) { p.selfTest = false }
}

// WithPushInterval changes the telemetry ring push throttle.
func WithPushInterval(d time.Duration) Option {
	return func(p *Pool) { p.pushInterval = d }
}

// NewPool wires a pool to its solution sink and context allocator.
func NewPool(log *zap.Logger, sink EventSink, alloc ContextAllocator, opts ...Option) *Pool {
	p := &Pool{
		log:      log,
		sink:     sink,
		alloc:    alloc,
		kernel:   cryptonight.Kernel,
		selfTest: true,
		session:  uuid.New(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start runs the kernel self-test and spawns one worker per spec, all primed
// with the initial work item. A worker that fails to allocate its contexts
// aborts the whole start.
func (p *Pool) Start(initial WorkItem, threads []ThreadSpec) error {
	if p.started {
		return errors.New("pool already started")
	}
	if len(threads) == 0 {
		return errors.New("no worker threads configured")
	}
	for _, spec := range threads {
		if _, ok := p.kernel(spec.Multiway); !ok {
			return fmt.Errorf("unsupported multiway width %d", spec.Multiway)
		}
	}

	if p.selfTest {
		if err := SelfTest(p.alloc, p.kernel, p.log); err != nil {
			return err
		}
	}

	p.slot = NewWorkSlot(initial, len(threads))
	p.tel = NewTelemetry(len(threads))
	counting := &countingSink{next: p.sink, count: func() { p.solutions.Add(1) }}

	for i, spec := range threads {
		fn, _ := p.kernel(spec.Multiway)
		w := NewWorker(p.log, p.slot, p.tel, counting, p.alloc, initial, WorkerConfig{
			ThreadNo:     i,
			Width:        spec.Multiway,
			Affinity:     spec.Affinity,
			Kernel:       fn,
			PushInterval: p.pushInterval,
		})
		if err := w.Start(); err != nil {
			p.abortStart()
			return err
		}
		p.workers = append(p.workers, w)

		if spec.Affinity >= 0 {
			p.log.Info("starting thread",
				zap.Int("multiway", spec.Multiway), zap.Int("affinity", spec.Affinity))
		} else {
			p.log.Info("starting thread, no affinity", zap.Int("multiway", spec.Multiway))
		}
	}

	p.started = true
	p.log.Info("worker pool started",
		zap.String("session", p.session.String()),
		zap.Int("threads", len(p.workers)))
	return nil
}

// abortStart tears down the workers spawned before a startup failure. They
// have all consumed generation zero, so a forced publish cannot race them.
func (p *Pool) abortStart() {
	for _, w := range p.workers {
		w.Stop()
	}
	if len(p.workers) > 0 {
		p.slot.forcePublish(StallWork())
		for _, w := range p.workers {
			<-w.Done()
		}
	}
	p.workers = nil
}

// SwitchWork publishes a new work item to every worker. It blocks until all
// workers have picked up the previous generation.
func (p *Pool) SwitchWork(w WorkItem) {
	p.slot.Publish(w)
	p.jobs.Add(1)
}

// Session identifies this pool instance in logs.
func (p *Pool) Session() uuid.UUID { return p.session }

// WorkerCount returns the number of running workers.
func (p *Pool) WorkerCount() int { return len(p.workers) }

// WorkerHashrate answers a windowed hashrate query for a single worker.
// NaN means the worker has too little telemetry inside the window.
func (p *Pool) WorkerHashrate(thread int, window time.Duration) float64 {
	return p.workers[thread].Hashrate(window)
}

// Hashrate sums the per-worker hashrates over the window. Workers without
// enough telemetry contribute zero; how many comes back alongside the sum.
func (p *Pool) Hashrate(window time.Duration) (total float64, missing int) {
	for _, w := range p.workers {
		rate := w.Hashrate(window)
		if math.IsNaN(rate) {
			missing++
			continue
		}
		total += rate
	}
	return total, missing
}

// SolutionsFound counts solutions emitted since Start.
func (p *Pool) SolutionsFound() uint64 { return p.solutions.Load() }

// JobsPublished counts SwitchWork calls since Start.
func (p *Pool) JobsPublished() uint64 { return p.jobs.Load() }

// Shutdown stops every worker and waits for their threads to exit. Workers
// only check the quit flag at job boundaries, so a final stall publish
// forces one; every worker terminates within a job quantum.
func (p *Pool) Shutdown(timeout time.Duration) error {
	if !p.started {
		return nil
	}
	for _, w := range p.workers {
		w.Stop()
	}
	p.slot.Publish(StallWork())

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for _, w := range p.workers {
		select {
		case <-w.Done():
		case <-deadline.C:
			return fmt.Errorf("worker pool shutdown timed out after %s", timeout)
		}
	}

	p.started = false
	p.log.Info("worker pool stopped", zap.Uint64("solutions", p.solutions.Load()))
	return nil
}
