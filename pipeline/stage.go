// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"sync"

	"github.com/absmach/opspipe/metrics"
	"github.com/absmach/opspipe/order"
	"github.com/absmach/opspipe/queue"
)

// Transform runs inside a stage worker after the status advance. It may
// mutate the order but must not block on pipeline state.
type Transform func(*order.Order) error

// stage is one processing step: an input edge, an optional output edge
// (nil for the terminal Deliver stage), the status it advances orders to
// and the transform it applies.
type stage struct {
	name      string
	in        *queue.Queue[order.Order]
	out       *queue.Queue[order.Order]
	inID      metrics.QueueID
	outID     metrics.QueueID
	target    order.Status
	transform Transform

	wg sync.WaitGroup
}

// startStage spawns the configured number of workers plus one closer
// goroutine that propagates drain: once every worker of the stage has
// exited, the stage's output edge is closed so the downstream pool can
// finish.
func (p *Pipeline) startStage(st *stage, workers int) {
	st.wg.Add(workers)
	for i := 0; i < workers; i++ {
		p.workers.Add(1)
		go func(id int) {
			defer p.workers.Done()
			defer st.wg.Done()
			p.runWorker(st, id)
		}(i)
	}

	p.closers.Add(1)
	go func() {
		defer p.closers.Done()
		st.wg.Wait()
		if st.out != nil {
			st.out.Close()
		}
	}()
}

// runWorker is the per-worker loop. Pops use the pop timeout so the cancel
// flag is re-checked periodically; a closed input ends the loop. Faults in
// the transform never escape the worker.
func (p *Pipeline) runWorker(st *stage, id int) {
	defer func() {
		if r := recover(); r != nil {
			p.fail(fmt.Errorf("stage %s worker %d: panic: %v", st.name, id, r))
		}
	}()

	for {
		if p.cancel.Load() {
			return
		}

		o, res := st.in.WaitPopFor(p.cfg.PopTimeout)
		switch res {
		case queue.ResultTimedOut:
			continue
		case queue.ResultClosed:
			return
		}

		p.store.QueuePopped(st.inID)

		if err := p.process(st, &o); err != nil {
			p.fail(fmt.Errorf("stage %s worker %d: %w", st.name, id, err))
			return
		}
	}
}

// process advances one order through the stage. The stage counter is only
// incremented once the order has actually landed downstream (queue push or
// sink append); a push interrupted by forced cancel drops the order.
func (p *Pipeline) process(st *stage, o *order.Order) error {
	if err := o.AdvanceTo(st.target); err != nil {
		return err
	}
	if st.transform != nil {
		if err := st.transform(o); err != nil {
			return err
		}
	}

	if st.out == nil {
		p.sinkMu.Lock()
		p.delivered = append(p.delivered, *o)
		p.sinkMu.Unlock()

		p.store.IncDelivered(o.LeadTime())

		if p.cfg.OnDelivered != nil {
			p.cfg.OnDelivered(*o)
		}
		return nil
	}

	if st.out.Push(*o) != queue.ResultOK {
		// Downstream edge closed by forced cancel; abandon the order.
		_ = o.Cancel()
		return nil
	}

	p.store.QueuePushed(st.outID, st.out.Len())

	switch st.target {
	case order.StatusPrepared:
		p.store.IncPrepared()
	case order.StatusPacked:
		p.store.IncPacked()
	}

	return nil
}
