// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	pipemetrics "github.com/absmach/opspipe/metrics"
)

// SnapshotFunc supplies the pipeline counters to observe.
type SnapshotFunc func() pipemetrics.Snapshot

// Metrics holds the OpenTelemetry instruments for the pipeline.
type Metrics struct {
	meter    metric.Meter
	snapshot SnapshotFunc

	accepted  metric.Int64ObservableCounter
	prepared  metric.Int64ObservableCounter
	packed    metric.Int64ObservableCounter
	delivered metric.Int64ObservableCounter

	submitTimeouts metric.Int64ObservableCounter

	queuePushed metric.Int64ObservableCounter
	queuePopped metric.Int64ObservableCounter

	leadTime metric.Float64ObservableCounter

	registration metric.Registration
}

// NewMetrics creates the instruments and registers one callback that reads
// a single snapshot per collection.
func NewMetrics(snapshot SnapshotFunc) (*Metrics, error) {
	if snapshot == nil {
		return nil, fmt.Errorf("snapshot func cannot be nil")
	}

	m := &Metrics{
		meter:    otel.Meter("opspipe"),
		snapshot: snapshot,
	}

	var err error

	if m.accepted, err = m.meter.Int64ObservableCounter(
		"opspipe.orders.accepted",
		metric.WithDescription("Orders accepted into the pipeline"),
	); err != nil {
		return nil, fmt.Errorf("failed to create accepted counter: %w", err)
	}

	if m.prepared, err = m.meter.Int64ObservableCounter(
		"opspipe.orders.prepared",
		metric.WithDescription("Orders that completed the prepare stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create prepared counter: %w", err)
	}

	if m.packed, err = m.meter.Int64ObservableCounter(
		"opspipe.orders.packed",
		metric.WithDescription("Orders that completed the pack stage"),
	); err != nil {
		return nil, fmt.Errorf("failed to create packed counter: %w", err)
	}

	if m.delivered, err = m.meter.Int64ObservableCounter(
		"opspipe.orders.delivered",
		metric.WithDescription("Orders delivered to the sink"),
	); err != nil {
		return nil, fmt.Errorf("failed to create delivered counter: %w", err)
	}

	if m.submitTimeouts, err = m.meter.Int64ObservableCounter(
		"opspipe.submit.timeouts",
		metric.WithDescription("Submits rejected by backpressure"),
	); err != nil {
		return nil, fmt.Errorf("failed to create submit timeout counter: %w", err)
	}

	if m.queuePushed, err = m.meter.Int64ObservableCounter(
		"opspipe.queue.pushed",
		metric.WithDescription("Elements pushed per edge queue"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queue pushed counter: %w", err)
	}

	if m.queuePopped, err = m.meter.Int64ObservableCounter(
		"opspipe.queue.popped",
		metric.WithDescription("Elements popped per edge queue"),
	); err != nil {
		return nil, fmt.Errorf("failed to create queue popped counter: %w", err)
	}

	if m.leadTime, err = m.meter.Float64ObservableCounter(
		"opspipe.lead_time.total",
		metric.WithDescription("Accumulated accept-to-deliver lead time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create lead time counter: %w", err)
	}

	m.registration, err = m.meter.RegisterCallback(m.observe,
		m.accepted, m.prepared, m.packed, m.delivered,
		m.submitTimeouts, m.queuePushed, m.queuePopped, m.leadTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics callback: %w", err)
	}

	return m, nil
}

func (m *Metrics) observe(_ context.Context, obs metric.Observer) error {
	s := m.snapshot()

	obs.ObserveInt64(m.accepted, int64(s.AcceptedCount))
	obs.ObserveInt64(m.prepared, int64(s.PreparedCount))
	obs.ObserveInt64(m.packed, int64(s.PackedCount))
	obs.ObserveInt64(m.delivered, int64(s.DeliveredCount))
	obs.ObserveInt64(m.submitTimeouts, int64(s.SubmitTimeoutCount))

	queues := []struct {
		name string
		c    pipemetrics.QueueCounters
	}{
		{"q_in", s.QIn},
		{"q_prepare", s.QPrepare},
		{"q_pack", s.QPack},
	}
	for _, q := range queues {
		attrs := metric.WithAttributes(attribute.String("queue", q.name))
		obs.ObserveInt64(m.queuePushed, int64(q.c.Push), attrs)
		obs.ObserveInt64(m.queuePopped, int64(q.c.Pop), attrs)
	}

	obs.ObserveFloat64(m.leadTime, s.TotalLeadTime.Seconds())

	return nil
}

// Unregister stops the observation callback.
func (m *Metrics) Unregister() error {
	if m.registration == nil {
		return nil
	}
	return m.registration.Unregister()
}
