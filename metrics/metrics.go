// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the pipeline counters. Every mutation and the
// snapshot take the same mutex, so a Snapshot is internally consistent and
// counters never regress between two observations.
package metrics

import (
	"sync"
	"time"
)

// QueueID names one of the three pipeline edges.
type QueueID int

const (
	QueueIn QueueID = iota
	QueuePrepare
	QueuePack
)

// QueueCounters tracks push/pop totals and the high-water mark of one edge.
type QueueCounters struct {
	Push    uint64
	Pop     uint64
	MaxSize uint64
}

// Snapshot is a consistent copy of every counter.
type Snapshot struct {
	AcceptedCount  uint64
	PreparedCount  uint64
	PackedCount    uint64
	DeliveredCount uint64

	SubmitTimeoutCount uint64

	PrepareWorkersUsed int
	PackWorkersUsed    int
	DeliverWorkersUsed int

	QIn      QueueCounters
	QPrepare QueueCounters
	QPack    QueueCounters

	TotalLeadTime time.Duration
}

// Store is the mutable counter set shared by the pipeline workers.
type Store struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewStore creates an empty counter store.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of all counters taken in one critical section.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// IncAccepted counts one accepted order.
func (s *Store) IncAccepted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AcceptedCount++
}

// IncPrepared counts one prepared order.
func (s *Store) IncPrepared() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.PreparedCount++
}

// IncPacked counts one packed order.
func (s *Store) IncPacked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.PackedCount++
}

// IncDelivered counts one delivered order and accumulates its lead time.
func (s *Store) IncDelivered(lead time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.DeliveredCount++
	s.snap.TotalLeadTime += lead
}

// IncSubmitTimeout counts one submit rejected by backpressure or closure.
func (s *Store) IncSubmitTimeout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.SubmitTimeoutCount++
}

// SetWorkersUsed records the worker pool sizes the controller spawned.
func (s *Store) SetWorkersUsed(prepare, pack, deliver int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.PrepareWorkersUsed = prepare
	s.snap.PackWorkersUsed = pack
	s.snap.DeliverWorkersUsed = deliver
}

// QueuePushed counts one push onto the given edge and ratchets its
// high-water mark with the observed depth.
func (s *Store) QueuePushed(id QueueID, depth int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters(id)
	c.Push++
	if uint64(depth) > c.MaxSize {
		c.MaxSize = uint64(depth)
	}
}

// QueuePopped counts one pop from the given edge.
func (s *Store) QueuePopped(id QueueID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters(id).Pop++
}

func (s *Store) counters(id QueueID) *QueueCounters {
	switch id {
	case QueuePrepare:
		return &s.snap.QPrepare
	case QueuePack:
		return &s.snap.QPack
	default:
		return &s.snap.QIn
	}
}
