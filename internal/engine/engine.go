// Package engine runs claim-process-release cycles across a worker pool.
// It owns scheduling policy only; what one cycle does is the Processor's
// business.
package engine

import (
	"context"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/nkozyrev/mpcrawl/internal/logger"
)

// Outcome classifies one processing cycle.
type Outcome int

const (
	// OutcomeProcessed means the cycle claimed and processed work.
	OutcomeProcessed Outcome = iota
	// OutcomeIdleFuture means nothing was due but future work exists;
	// the worker backs off and retries.
	OutcomeIdleFuture
	// OutcomeExhausted means no work exists at all for this facet.
	OutcomeExhausted
)

// Processor executes one claim-process-release cycle. A returned error
// is fatal for the whole pool; transient per-entity failures must be
// handled inside the cycle (requeue, log) and reported as an Outcome.
type Processor interface {
	Name() string
	ProcessNext(ctx context.Context) (Outcome, error)
}

// exhaustedRounds is how many consecutive exhausted cycles each worker
// must observe before the pool stops cleanly.
const exhaustedRounds = 3

// Pool fans a Processor out over workers sized from GOMAXPROCS.
type Pool struct {
	processor  Processor
	log        logger.Interface
	multiplier float64
	backoff    time.Duration
}

// NewPool creates a pool. A multiplier of zero runs cycles inline on the
// calling goroutine, which keeps debugging and tests single-threaded.
func NewPool(processor Processor, multiplier float64, backoff time.Duration, log logger.Interface) *Pool {
	return &Pool{
		processor:  processor,
		log:        log,
		multiplier: multiplier,
		backoff:    backoff,
	}
}

// Size returns the worker count: max(1, floor(GOMAXPROCS × multiplier)).
func (p *Pool) Size() int {
	size := int(math.Floor(float64(runtime.GOMAXPROCS(0)) * p.multiplier))
	if size < 1 {
		return 1
	}
	return size
}

// Run executes cycles until the facet is exhausted, the context is
// cancelled, or a cycle fails. The first failure cancels all workers,
// lets in-flight cycles finish, and is returned.
func (p *Pool) Run(ctx context.Context) error {
	size := p.Size()
	p.log.Info("starting worker pool",
		"processor", p.processor.Name(), "workers", size, "inline", p.multiplier == 0)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	state := &poolState{
		cancel:    cancel,
		threshold: int64(exhaustedRounds * size),
	}

	if p.multiplier == 0 {
		p.runWorker(runCtx, state)
	} else {
		var wg sync.WaitGroup
		for range size {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.runWorker(runCtx, state)
			}()
		}
		wg.Wait()
	}

	if err := state.firstError(); err != nil {
		return err
	}
	p.log.Info("worker pool drained", "processor", p.processor.Name())
	return nil
}

// poolState is the coordination shared by all workers of one Run.
type poolState struct {
	cancel    context.CancelFunc
	threshold int64

	mu         sync.Mutex
	exhausted  int64
	fatalError error
}

// noteExhausted records one exhausted cycle and reports whether the pool
// should stop.
func (s *poolState) noteExhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exhausted++
	return s.exhausted >= s.threshold
}

func (s *poolState) noteProgress() {
	s.mu.Lock()
	s.exhausted = 0
	s.mu.Unlock()
}

// noteFatal keeps the first error and cancels the pool.
func (s *poolState) noteFatal(err error) {
	s.mu.Lock()
	if s.fatalError == nil {
		s.fatalError = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *poolState) firstError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatalError
}

func (p *Pool) runWorker(ctx context.Context, state *poolState) {
	for {
		if ctx.Err() != nil {
			return
		}

		outcome, err := p.processor.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("processing cycle failed, stopping pool",
				"processor", p.processor.Name(), "error", err)
			state.noteFatal(err)
			return
		}

		switch outcome {
		case OutcomeProcessed:
			state.noteProgress()
		case OutcomeIdleFuture:
			state.noteProgress()
			p.sleep(ctx)
		case OutcomeExhausted:
			if state.noteExhausted() {
				state.cancel()
				return
			}
			p.sleep(ctx)
		}
	}
}

// sleep backs off between empty cycles, waking early on cancellation.
func (p *Pool) sleep(ctx context.Context) {
	if p.backoff <= 0 {
		return
	}
	timer := time.NewTimer(p.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
