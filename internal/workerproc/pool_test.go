package workerproc

import (
	"context"
	"sync"
	"testing"
	"time"

	"niche-backend/internal/queue"
)

// scriptedConsumer hands out its deliveries once, then blocks like an empty
// long poll.
type scriptedConsumer struct {
	mu         sync.Mutex
	deliveries []queue.Delivery
	limits     []int
}

func (c *scriptedConsumer) Receive(ctx context.Context, limit int) ([]queue.Delivery, error) {
	c.mu.Lock()
	c.limits = append(c.limits, limit)
	n := min(limit, len(c.deliveries))
	out := c.deliveries[:n]
	c.deliveries = c.deliveries[n:]
	c.mu.Unlock()
	if len(out) > 0 {
		return out, nil
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func TestPoolProcessesAndSettles(t *testing.T) {
	settler := &fakeSettler{}
	consumer := &scriptedConsumer{}
	for _, id := range []string{"run-1", "run-2", "run-3"} {
		consumer.deliveries = append(consumer.deliveries, queue.Delivery{
			ID:           id,
			Body:         encode(t, queue.Message{RunID: id}),
			ReceiveCount: 1,
			Settler:      settler,
		})
	}
	consumer.deliveries = append(consumer.deliveries, queue.Delivery{ID: "bad", Body: "{", ReceiveCount: 1, Settler: settler})

	proc := &fakeProcessor{}
	pool := &Pool{Consumer: consumer, Processor: proc, Concurrency: 2, MaxAttempts: 3, BackoffBase: time.Millisecond, ShutdownTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		settler.mu.Lock()
		settled := settler.acked + settler.dropped
		settler.mu.Unlock()
		if settled == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for deliveries to settle (%d/4)", settled)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	if settler.acked != 3 || settler.dropped != 1 {
		t.Fatalf("expected 3 acks and 1 drop, got %d/%d", settler.acked, settler.dropped)
	}
	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	for _, l := range consumer.limits {
		if l < 1 || l > 2 {
			t.Fatalf("receive limit %d outside concurrency bounds", l)
		}
	}
}

func TestPoolRequiresCollaborators(t *testing.T) {
	if err := (&Pool{}).Run(context.Background()); err == nil {
		t.Fatalf("expected error for unconfigured pool")
	}
}
