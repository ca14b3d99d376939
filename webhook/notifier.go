// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/absmach/opspipe/config"
	"github.com/absmach/opspipe/order"
)

// Notifier fans delivered-order events out to configured endpoints with a
// worker pool and per-endpoint circuit breakers.
type Notifier struct {
	cfg        config.WebhookConfig
	source     string
	endpoints  []endpointConfig
	eventQueue chan eventJob
	breakers   map[string]*gobreaker.CircuitBreaker
	sender     Sender
	logger     *slog.Logger
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
}

type endpointConfig struct {
	name        string
	url         string
	headers     map[string]string
	timeout     time.Duration
	retryConfig config.RetryConfig
}

type eventJob struct {
	event    Event
	endpoint endpointConfig
	attempt  int
}

// NewNotifier creates a notifier and starts its worker pool.
func NewNotifier(cfg config.WebhookConfig, source string, sender Sender, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	endpoints := make([]endpointConfig, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		// Use endpoint-specific timeout or default
		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}

		// Use endpoint-specific retry config or default
		retryConfig := cfg.Defaults.Retry
		if ep.Retry != nil {
			retryConfig = *ep.Retry
		}

		endpoints = append(endpoints, endpointConfig{
			name:        ep.Name,
			url:         ep.URL,
			headers:     ep.Headers,
			timeout:     timeout,
			retryConfig: retryConfig,
		})
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	n := &Notifier{
		cfg:        cfg,
		source:     source,
		endpoints:  endpoints,
		eventQueue: make(chan eventJob, cfg.QueueSize),
		breakers:   breakers,
		sender:     sender,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker(i)
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

// OrderDelivered queues a delivered-order event for every endpoint. Never
// blocks: when the queue is full the configured drop policy applies. Safe
// to use as the pipeline's OnDelivered hook.
func (n *Notifier) OrderDelivered(o order.Order) {
	ev := newEvent(o)

	for _, endpoint := range n.endpoints {
		job := eventJob{
			event:    ev,
			endpoint: endpoint,
			attempt:  0,
		}

		select {
		case n.eventQueue <- job:
			// Successfully queued
		default:
			// Queue full, apply drop policy
			if n.cfg.DropPolicy == "oldest" {
				select {
				case <-n.eventQueue: // drop oldest
				default:
				}
				select {
				case n.eventQueue <- job: // try to add newest
				default:
					n.logger.Error("webhook queue full, event dropped",
						slog.Uint64("order_id", ev.OrderID),
						slog.String("endpoint", endpoint.name))
				}
			} else {
				// Drop newest (this one)
				n.logger.Error("webhook queue full, event dropped",
					slog.Uint64("order_id", ev.OrderID),
					slog.String("endpoint", endpoint.name))
			}
		}
	}
}

// worker processes events from the queue.
func (n *Notifier) worker(id int) {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case job := <-n.eventQueue:
			n.processJob(job)
		}
	}
}

// processJob sends a webhook with retry logic.
func (n *Notifier) processJob(job eventJob) {
	breaker := n.breakers[job.endpoint.name]

	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, n.sendWebhook(job)
	})

	if err == nil {
		return
	}

	if job.attempt < job.endpoint.retryConfig.MaxAttempts-1 {
		job.attempt++
		delay := n.calculateRetryDelay(job.attempt, job.endpoint.retryConfig)

		n.logger.Debug("webhook delivery failed, retrying",
			slog.String("endpoint", job.endpoint.name),
			slog.Uint64("order_id", job.event.OrderID),
			slog.Int("attempt", job.attempt),
			slog.Duration("retry_after", delay),
			slog.String("error", err.Error()))

		time.AfterFunc(delay, func() {
			select {
			case n.eventQueue <- job:
			default:
				n.logger.Error("failed to requeue event for retry",
					slog.String("endpoint", job.endpoint.name),
					slog.Uint64("order_id", job.event.OrderID))
			}
		})
	} else {
		n.logger.Error("webhook delivery failed after max retries",
			slog.String("endpoint", job.endpoint.name),
			slog.Uint64("order_id", job.event.OrderID),
			slog.Int("attempts", job.attempt+1),
			slog.String("error", err.Error()))
	}
}

// sendWebhook marshals the event and delegates to the sender. The sender
// bounds each attempt by the endpoint timeout; the notifier context cancels
// in-flight attempts on Close.
func (n *Notifier) sendWebhook(job eventJob) error {
	envelope := Envelope{
		Source: n.source,
		Event:  EventType,
		Time:   time.Now(),
		Data:   job.event,
	}

	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return n.sender.Send(n.ctx, job.endpoint.url, job.endpoint.headers, payload, job.endpoint.timeout)
}

// calculateRetryDelay computes exponential backoff capped at MaxInterval.
func (n *Notifier) calculateRetryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	delay := cfg.InitialInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay >= cfg.MaxInterval {
			return cfg.MaxInterval
		}
	}
	if delay > cfg.MaxInterval {
		delay = cfg.MaxInterval
	}
	return delay
}

// Close stops the worker pool, waiting at most the configured shutdown
// timeout for in-flight sends to finish.
func (n *Notifier) Close() error {
	n.cancel()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(n.cfg.ShutdownTimeout):
		return fmt.Errorf("webhook notifier shutdown timed out after %s", n.cfg.ShutdownTimeout)
	}
}
