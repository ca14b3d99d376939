// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package webhook notifies external endpoints about delivered orders. A
// bounded event queue with a drop policy decouples the pipeline's Deliver
// workers from HTTP latency; a worker pool sends, with per-endpoint circuit
// breakers and retry backoff.
package webhook

import (
	"context"
	"time"

	"github.com/absmach/opspipe/order"
)

// EventType is the single event the notifier emits today.
const EventType = "order.delivered"

// Event is the payload sent for each delivered order.
type Event struct {
	OrderID     uint64    `json:"order_id"`
	Ref         string    `json:"ref"`
	AcceptedAt  time.Time `json:"accepted_at"`
	DeliveredAt time.Time `json:"delivered_at"`
	LeadTimeMS  int64     `json:"lead_time_ms"`
}

// Envelope wraps an event with its source and emission time.
type Envelope struct {
	Source string    `json:"source"`
	Event  string    `json:"event"`
	Time   time.Time `json:"time"`
	Data   Event     `json:"data"`
}

// newEvent builds the wire payload for a delivered order.
func newEvent(o order.Order) Event {
	return Event{
		OrderID:     o.ID,
		Ref:         o.Ref,
		AcceptedAt:  o.AcceptedAt,
		DeliveredAt: o.DeliveredAt,
		LeadTimeMS:  o.LeadTime().Milliseconds(),
	}
}

// Sender delivers a marshaled payload to a single endpoint.
type Sender interface {
	Send(ctx context.Context, url string, headers map[string]string, payload []byte, timeout time.Duration) error
}
