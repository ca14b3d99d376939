// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/absmach/opspipe/config"
	"github.com/absmach/opspipe/metrics"
	"github.com/absmach/opspipe/order"
	otelbridge "github.com/absmach/opspipe/otel"
	"github.com/absmach/opspipe/pipeline"
	"github.com/absmach/opspipe/ratelimit"
	"github.com/absmach/opspipe/webhook"
)

const (
	exitOK    = 0
	exitUsage = 1
	exitFault = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Usage = usage
	flag.Parse()

	ordersCount := 10000
	mode := "shutdown"

	args := flag.Args()
	if len(args) > 2 {
		usage()
		return exitUsage
	}
	if len(args) >= 1 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			fmt.Fprintf(os.Stderr, "invalid orders_count %q\n", args[0])
			usage()
			return exitUsage
		}
		ordersCount = n
	}
	if len(args) == 2 {
		mode = args[1]
	}

	switch mode {
	case "shutdown", "shutdown_now", "cancel":
	default:
		fmt.Fprintf(os.Stderr, "invalid mode %q\n", mode)
		usage()
		return exitUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return exitUsage
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	slog.Info("Starting ops pipeline", "orders", ordersCount, "mode", mode)

	if cfg.Otel.Enabled {
		shutdown, err := otelbridge.InitProvider(cfg.Otel)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			return exitFault
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("OpenTelemetry shutdown failed", "error", err)
			}
		}()
	}

	pcfg := pipeline.Config{
		QInCapacity:      cfg.Pipeline.QInCapacity,
		QPrepareCapacity: cfg.Pipeline.QPrepareCapacity,
		QPackCapacity:    cfg.Pipeline.QPackCapacity,
		PrepareWorkers:   cfg.Pipeline.PrepareWorkers,
		PackWorkers:      cfg.Pipeline.PackWorkers,
		DeliverWorkers:   cfg.Pipeline.DeliverWorkers,
		PushTimeout:      cfg.Pipeline.PushTimeout,
		PopTimeout:       cfg.Pipeline.PopTimeout,
		Logger:           logger,
	}

	var notifier *webhook.Notifier
	if cfg.Webhook.Enabled {
		notifier, err = webhook.NewNotifier(cfg.Webhook, cfg.Otel.ServiceName, webhook.NewHTTPSender(), logger)
		if err != nil {
			slog.Error("Failed to start webhook notifier", "error", err)
			return exitFault
		}
		defer func() {
			if err := notifier.Close(); err != nil {
				slog.Error("Webhook notifier close failed", "error", err)
			}
		}()
		pcfg.OnDelivered = notifier.OrderDelivered
	}

	p, err := pipeline.New(pcfg)
	if err != nil {
		slog.Error("Failed to build pipeline", "error", err)
		return exitFault
	}
	defer p.Close()

	if err := p.Start(); err != nil {
		slog.Error("Failed to start pipeline", "error", err)
		return exitFault
	}

	limiter := ratelimit.NewSubmitLimiter(cfg.Submit.Rate, cfg.Submit.Burst)

	start := time.Now()
	var ok, failed uint64

	for i := 1; i <= ordersCount; i++ {
		if err := limiter.Wait(context.Background()); err != nil {
			slog.Error("Rate limiter failed", "error", err)
			return exitFault
		}

		switch err := p.Submit(order.New(uint64(i))); {
		case err == nil:
			ok++
		case errors.Is(err, pipeline.ErrBackpressure), errors.Is(err, pipeline.ErrNotAccepting):
			failed++
		default:
			slog.Error("Submit failed unexpectedly", "order_id", i, "error", err)
			return exitFault
		}
	}

	switch mode {
	case "shutdown":
		err = p.Shutdown()
	default:
		err = p.ShutdownNow()
	}
	if err != nil {
		slog.Error("Pipeline termination failed", "error", err)
		return exitFault
	}

	wall := time.Since(start)
	m := p.Metrics()
	delivered := p.DeliveredOrders()

	report(mode, ordersCount, ok, failed, p.State(), m, len(delivered), wall)
	warn(cfg.Pipeline, m, delivered)

	return exitOK
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

func report(mode string, requested int, ok, failed uint64, state pipeline.State, m metrics.Snapshot, deliveredSize int, wall time.Duration) {
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Requested: %d\n", requested)
	fmt.Printf("OK: %d\n", ok)
	fmt.Printf("Failed: %d\n", failed)
	fmt.Printf("Pipeline state: %s\n", state)
	fmt.Printf("Accepted: %d\n", m.AcceptedCount)
	fmt.Printf("Prepared: %d\n", m.PreparedCount)
	fmt.Printf("Packed: %d\n", m.PackedCount)
	fmt.Printf("Delivered: %d\n", m.DeliveredCount)
	fmt.Printf("Delivered vector size: %d\n", deliveredSize)
	fmt.Printf("Submit timeouts: %d\n", m.SubmitTimeoutCount)
	fmt.Printf("Workers used (prepare/pack/deliver): %d/%d/%d\n",
		m.PrepareWorkersUsed, m.PackWorkersUsed, m.DeliverWorkersUsed)
	fmt.Printf("q_in push/pop/max: %d/%d/%d\n", m.QIn.Push, m.QIn.Pop, m.QIn.MaxSize)
	fmt.Printf("q_prepare push/pop/max: %d/%d/%d\n", m.QPrepare.Push, m.QPrepare.Pop, m.QPrepare.MaxSize)
	fmt.Printf("q_pack push/pop/max: %d/%d/%d\n", m.QPack.Push, m.QPack.Pop, m.QPack.MaxSize)
	fmt.Printf("Total lead time (ms): %d\n", m.TotalLeadTime.Milliseconds())
	fmt.Printf("Wall time (ms): %d\n", wall.Milliseconds())
}

// warn prints a line per violated pipeline invariant.
func warn(cfg config.PipelineConfig, m metrics.Snapshot, delivered []order.Order) {
	if m.DeliveredCount > m.PackedCount || m.PackedCount > m.PreparedCount || m.PreparedCount > m.AcceptedCount {
		fmt.Println("WARNING: stage counter chain violated")
	}
	if uint64(len(delivered)) != m.DeliveredCount {
		fmt.Println("WARNING: delivered vector size does not match delivered_count")
	}
	if m.QIn.Pop > m.QIn.Push || m.QPrepare.Pop > m.QPrepare.Push || m.QPack.Pop > m.QPack.Push {
		fmt.Println("WARNING: queue pop exceeds push")
	}
	if m.QIn.MaxSize > uint64(cfg.QInCapacity) ||
		m.QPrepare.MaxSize > uint64(cfg.QPrepareCapacity) ||
		m.QPack.MaxSize > uint64(cfg.QPackCapacity) {
		fmt.Println("WARNING: queue max size exceeds capacity")
	}

	seen := make(map[uint64]struct{}, len(delivered))
	for _, o := range delivered {
		if _, dup := seen[o.ID]; dup {
			fmt.Println("WARNING: duplicate order IDs in delivered vector")
			break
		}
		seen[o.ID] = struct{}{}
	}

	for _, o := range delivered {
		if o.AcceptedAt.After(o.PreparedAt) || o.PreparedAt.After(o.PackedAt) || o.PackedAt.After(o.DeliveredAt) {
			fmt.Println("WARNING: non-monotonic timestamps in delivered orders")
			break
		}
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [-config file] [orders_count] [mode]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "  orders_count: number of orders to submit (default 10000)")
	fmt.Fprintln(os.Stderr, "  mode: shutdown | shutdown_now | cancel (default shutdown)")
}
