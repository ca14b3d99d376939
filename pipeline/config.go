// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/opspipe/order"
)

// Config holds the pipeline topology: one capacity per edge, one pool size
// per stage and the two timeouts that bound blocking operations.
type Config struct {
	QInCapacity      int
	QPrepareCapacity int
	QPackCapacity    int

	PrepareWorkers int
	PackWorkers    int
	DeliverWorkers int

	PushTimeout time.Duration
	PopTimeout  time.Duration

	// OnDelivered, when set, is invoked outside all pipeline locks for
	// every delivered order. It must not block.
	OnDelivered func(order.Order)

	Logger *slog.Logger
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QInCapacity:      1024,
		QPrepareCapacity: 1024,
		QPackCapacity:    1024,
		PrepareWorkers:   2,
		PackWorkers:      2,
		DeliverWorkers:   2,
		PushTimeout:      100 * time.Millisecond,
		PopTimeout:       20 * time.Millisecond,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.QInCapacity < 1 {
		return fmt.Errorf("q_in_capacity must be at least 1")
	}
	if c.QPrepareCapacity < 1 {
		return fmt.Errorf("q_prepare_capacity must be at least 1")
	}
	if c.QPackCapacity < 1 {
		return fmt.Errorf("q_pack_capacity must be at least 1")
	}
	if c.PrepareWorkers < 1 {
		return fmt.Errorf("prepare_workers must be at least 1")
	}
	if c.PackWorkers < 1 {
		return fmt.Errorf("pack_workers must be at least 1")
	}
	if c.DeliverWorkers < 1 {
		return fmt.Errorf("deliver_workers must be at least 1")
	}
	if c.PushTimeout <= 0 {
		return fmt.Errorf("push_timeout must be positive")
	}
	if c.PopTimeout <= 0 {
		return fmt.Errorf("pop_timeout must be positive")
	}
	return nil
}
