// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package pipeline implements the staged worker-pool pipeline: orders move
// from Submit through the Prepare, Pack and Deliver pools over bounded
// blocking edges, with graceful drain and forced cancel termination.
package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/absmach/opspipe/metrics"
	"github.com/absmach/opspipe/order"
	"github.com/absmach/opspipe/queue"
)

var (
	// ErrLifecycle is returned for operations illegal in the current state.
	ErrLifecycle = errors.New("pipeline: illegal lifecycle transition")
	// ErrNotAccepting is returned by Submit once the pipeline no longer
	// accepts new orders.
	ErrNotAccepting = errors.New("pipeline: not accepting orders")
	// ErrBackpressure is returned by Submit when the input edge could not
	// take the order within the push timeout, or closed while waiting.
	ErrBackpressure = errors.New("pipeline: submit rejected by backpressure")
)

// Pipeline owns the three edge queues, the three worker pools, the
// delivered sink, the metrics store and the lifecycle state machine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	qIn      *queue.Queue[order.Order]
	qPrepare *queue.Queue[order.Order]
	qPack    *queue.Queue[order.Order]

	store *metrics.Store

	prepare *stage
	pack    *stage
	deliver *stage

	mu        sync.RWMutex // guards state and workerErr
	state     State
	workerErr error

	cancel atomic.Bool

	workers  sync.WaitGroup
	closers  sync.WaitGroup
	teardown sync.Once

	sinkMu    sync.Mutex
	delivered []order.Order
}

// New creates a pipeline from the given configuration. Nothing runs until
// Start is called.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pipeline{
		cfg:      cfg,
		logger:   cfg.Logger,
		qIn:      queue.New[order.Order](cfg.QInCapacity),
		qPrepare: queue.New[order.Order](cfg.QPrepareCapacity),
		qPack:    queue.New[order.Order](cfg.QPackCapacity),
		store:    metrics.NewStore(),
		state:    StateCreated,
	}

	p.prepare = &stage{
		name:   "prepare",
		in:     p.qIn,
		out:    p.qPrepare,
		inID:   metrics.QueueIn,
		outID:  metrics.QueuePrepare,
		target: order.StatusPrepared,
	}
	p.pack = &stage{
		name:   "pack",
		in:     p.qPrepare,
		out:    p.qPack,
		inID:   metrics.QueuePrepare,
		outID:  metrics.QueuePack,
		target: order.StatusPacked,
	}
	p.deliver = &stage{
		name:   "deliver",
		in:     p.qPack,
		inID:   metrics.QueuePack,
		target: order.StatusDelivered,
	}

	return p, nil
}

// Start spawns the three worker pools and transitions Created -> Running.
// Calling Start while already Running is a no-op; any later state returns
// ErrLifecycle.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateRunning:
		return nil
	case StateCreated:
	default:
		return fmt.Errorf("%w: start in state %s", ErrLifecycle, p.state)
	}

	p.store.SetWorkersUsed(p.cfg.PrepareWorkers, p.cfg.PackWorkers, p.cfg.DeliverWorkers)

	p.startStage(p.prepare, p.cfg.PrepareWorkers)
	p.startStage(p.pack, p.cfg.PackWorkers)
	p.startStage(p.deliver, p.cfg.DeliverWorkers)

	p.state = StateRunning

	p.logger.Info("pipeline started",
		"prepare_workers", p.cfg.PrepareWorkers,
		"pack_workers", p.cfg.PackWorkers,
		"deliver_workers", p.cfg.DeliverWorkers)

	return nil
}

// Submit offers an order to the input edge, waiting at most the configured
// push timeout. Safe for concurrent producers. Orders are accepted while
// the pipeline is Created (queued until Start) or Running.
func (p *Pipeline) Submit(o order.Order) error {
	p.mu.RLock()
	st := p.state
	p.mu.RUnlock()

	if st != StateCreated && st != StateRunning {
		return fmt.Errorf("%w: state %s", ErrNotAccepting, st)
	}

	switch p.qIn.PushFor(o, p.cfg.PushTimeout) {
	case queue.ResultOK:
		p.store.QueuePushed(metrics.QueueIn, p.qIn.Len())
		p.store.IncAccepted()
		return nil
	case queue.ResultTimedOut:
		p.store.IncSubmitTimeout()
		return fmt.Errorf("%w: push timed out after %s", ErrBackpressure, p.cfg.PushTimeout)
	default:
		p.store.IncSubmitTimeout()
		return fmt.Errorf("%w: input queue closed", ErrBackpressure)
	}
}

// Shutdown drains gracefully: the input edge is closed, closure propagates
// stage by stage as each pool empties its input, and every accepted order
// is delivered. Blocks until all workers have exited. No-op when already
// draining, stopped or failed. Called before Start, it closes every edge and
// stops without spawning workers, so orders queued before Start are not
// delivered.
func (p *Pipeline) Shutdown() error {
	p.mu.Lock()
	switch p.state {
	case StateDraining, StateStopped, StateFailed:
		p.mu.Unlock()
		return nil
	case StateCreated:
		// No workers were ever spawned; close the edges and stop.
		p.state = StateStopped
		p.mu.Unlock()
		p.qIn.Close()
		p.qPrepare.Close()
		p.qPack.Close()
		return nil
	}
	p.state = StateDraining
	p.mu.Unlock()

	p.logger.Info("pipeline draining")

	p.qIn.Close()
	p.workers.Wait()
	p.closers.Wait()

	p.mu.Lock()
	if p.state == StateDraining {
		p.state = StateStopped
	}
	final := p.state
	p.mu.Unlock()

	p.logger.Info("pipeline stopped", "state", final.String())

	return nil
}

// ShutdownNow cancels forcibly: the cancel flag is raised and every edge is
// closed up front, abandoning queued orders. Blocks until all workers have
// exited. Idempotent; legal in every state.
func (p *Pipeline) ShutdownNow() error {
	p.teardown.Do(func() {
		p.logger.Info("pipeline canceling")
		p.cancel.Store(true)
		p.qIn.Close()
		p.qPrepare.Close()
		p.qPack.Close()
	})

	p.workers.Wait()
	p.closers.Wait()

	p.mu.Lock()
	if p.state != StateFailed {
		p.state = StateStopped
	}
	final := p.state
	p.mu.Unlock()

	p.logger.Info("pipeline stopped", "state", final.String())

	return nil
}

// Cancel is an alias for ShutdownNow.
func (p *Pipeline) Cancel() error {
	return p.ShutdownNow()
}

// Close implements io.Closer. A pipeline dropped without an explicit
// shutdown is canceled forcibly; Close never blocks indefinitely and never
// panics.
func (p *Pipeline) Close() error {
	return p.ShutdownNow()
}

// fail records the first worker fault, moves the pipeline to Failed and
// triggers an asynchronous forced shutdown. The fault never reaches callers
// synchronously; it is observable via State and Err.
func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.workerErr == nil {
		p.workerErr = err
	}
	if p.state != StateStopped {
		p.state = StateFailed
	}
	p.mu.Unlock()

	p.logger.Error("worker fault", "error", err)

	go func() { _ = p.ShutdownNow() }()
}

// Err returns the first recorded worker fault, if any.
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.workerErr
}

// Metrics returns an internally consistent snapshot of all counters.
func (p *Pipeline) Metrics() metrics.Snapshot {
	return p.store.Snapshot()
}

// DeliveredOrders returns a copy of the delivered sink in completion order.
func (p *Pipeline) DeliveredOrders() []order.Order {
	p.sinkMu.Lock()
	defer p.sinkMu.Unlock()

	out := make([]order.Order, len(p.delivered))
	copy(out, p.delivered)
	return out
}

// State returns the current lifecycle state.
func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// IsRunning reports whether the pipeline is accepting and processing work.
func (p *Pipeline) IsRunning() bool {
	return p.State() == StateRunning
}

// IsStopped reports whether the pipeline has terminated.
func (p *Pipeline) IsStopped() bool {
	st := p.State()
	return st == StateStopped || st == StateFailed
}
