// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package order defines the order that flows through the fulfillment
// pipeline: a numeric ID, a correlation reference, a strict status chain
// and one timestamp per stage boundary.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the fulfillment state of an order.
type Status int

const (
	StatusAccepted Status = iota
	StatusPrepared
	StatusPacked
	StatusDelivered
	StatusCanceled
)

// String returns the human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "Accepted"
	case StatusPrepared:
		return "Prepared"
	case StatusPacked:
		return "Packed"
	case StatusDelivered:
		return "Delivered"
	case StatusCanceled:
		return "Canceled"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrInvalidTransition is returned when an order is advanced out of the
// Accepted -> Prepared -> Packed -> Delivered chain.
var ErrInvalidTransition = errors.New("invalid order status transition")

// Order is the unit of work transported by the pipeline.
// Timestamps are stamped exactly once, at the transition that owns them.
type Order struct {
	ID     uint64
	Ref    string
	Status Status

	AcceptedAt  time.Time
	PreparedAt  time.Time
	PackedAt    time.Time
	DeliveredAt time.Time
}

// New creates an accepted order and stamps its acceptance time.
func New(id uint64) Order {
	return Order{
		ID:         id,
		Ref:        uuid.NewString(),
		Status:     StatusAccepted,
		AcceptedAt: time.Now(),
	}
}

// AdvanceTo moves the order one step forward along the status chain and
// stamps the matching timestamp. Any other transition returns
// ErrInvalidTransition and leaves the order unchanged.
func (o *Order) AdvanceTo(next Status) error {
	if next > StatusDelivered || o.Status == StatusCanceled || next != o.Status+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}

	now := time.Now()
	switch next {
	case StatusPrepared:
		o.PreparedAt = now
	case StatusPacked:
		o.PackedAt = now
	case StatusDelivered:
		o.DeliveredAt = now
	}
	o.Status = next

	return nil
}

// Cancel marks the order canceled. Already-delivered orders cannot be
// canceled. Previously stamped timestamps are kept.
func (o *Order) Cancel() error {
	if o.Status == StatusDelivered {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, StatusCanceled)
	}
	o.Status = StatusCanceled
	return nil
}

// LeadTime returns the time between acceptance and delivery.
// Meaningful only for delivered orders.
func (o *Order) LeadTime() time.Duration {
	return o.DeliveredAt.Sub(o.AcceptedAt)
}
