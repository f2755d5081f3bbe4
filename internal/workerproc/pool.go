package workerproc

import (
	"context"
	"errors"
	"sync"
	"time"

	"niche-backend/internal/queue"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/telemetry"
)

const receiveErrorPause = time.Second

// Pool polls a queue and runs deliveries with bounded concurrency.
type Pool struct {
	Consumer    queue.Consumer
	Processor   Processor
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
	// ShutdownTimeout bounds how long Run waits for in-flight jobs once ctx
	// is cancelled. Jobs still running after that have their context
	// cancelled.
	ShutdownTimeout time.Duration
}

// Run polls until ctx is cancelled, then drains in-flight jobs.
func (p *Pool) Run(ctx context.Context) error {
	if p.Consumer == nil || p.Processor == nil {
		return errors.New("worker pool not configured")
	}
	concurrency := max(1, p.Concurrency)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	telemetry.Info("worker.started", map[string]any{"concurrency": concurrency, "max_attempts": p.MaxAttempts})

pollLoop:
	for {
		// Poll only once a slot is free, and never for more jobs than fit.
		select {
		case <-ctx.Done():
			break pollLoop
		case sem <- struct{}{}:
		}
		limit := concurrency - len(sem) + 1
		<-sem

		deliveries, err := p.Consumer.Receive(ctx, limit)
		if err != nil {
			if ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive.failed", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				break pollLoop
			case <-time.After(receiveErrorPause):
			}
			continue
		}

		for _, d := range deliveries {
			select {
			case <-ctx.Done():
				// Unstarted deliveries become visible again once their
				// backend lease expires.
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncJobsReceived()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				p.handle(jobCtx, d)
			}()
		}
	}

	telemetry.Info("worker.draining", map[string]any{"timeout_ms": p.ShutdownTimeout.Milliseconds()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(p.ShutdownTimeout):
		telemetry.Warn("worker.shutdown.timeout", nil)
		cancelJobs()
		<-waitDone
	}
	return nil
}

func (p *Pool) handle(ctx context.Context, d queue.Delivery) {
	meta := ComputeMeta(d.Body)
	telemetry.Info("worker.job.received", map[string]any{
		"delivery_id":   d.ID,
		"receive_count": d.ReceiveCount,
		"body_len":      meta.BodyLen,
	})
	msg, err := HandleMessage(ctx, p.Processor, d.Body, d.ReceiveCount)
	if err != nil {
		var decode ErrDecode
		if errors.As(err, &decode) {
			telemetry.Error("worker.job.decode_failed", map[string]any{
				"delivery_id": d.ID,
				"body_sha256": decode.Meta.BodySHA,
				"error":       err.Error(),
			})
		}
	}
	// Settling must survive a cancelled job context.
	settleCtx := context.WithoutCancel(ctx)
	if serr := Settle(settleCtx, d, msg, err, p.MaxAttempts, p.BackoffBase); serr != nil {
		telemetry.Error("worker.job.settle_failed", map[string]any{
			"delivery_id": d.ID,
			"run_id":      msg.RunID,
			"error":       serr.Error(),
		})
		return
	}
	if err == nil {
		telemetry.Info("worker.job.completed", map[string]any{"delivery_id": d.ID, "run_id": msg.RunID})
	}
}
