package queue

import (
	"context"
	"time"
)

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// Remover drops a job that has not been picked up yet. It reports whether a
// job was removed.
type Remover interface {
	Remove(ctx context.Context, runID string) (bool, error)
}

// StatsReporter reports queue depth.
type StatsReporter interface {
	Stats(ctx context.Context) (Stats, error)
}

// Stats are job counts by state. Backends fill what they can observe.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Consumer receives deliveries. Receive may block for a backend-defined poll
// interval and return no deliveries.
type Consumer interface {
	Receive(ctx context.Context, limit int) ([]Delivery, error)
}

// Settler finishes one delivery with its backend.
type Settler interface {
	// Ack removes a processed job.
	Ack(ctx context.Context) error
	// Retry makes the job visible again after delay.
	Retry(ctx context.Context, delay time.Duration) error
	// Drop removes a job that will never succeed.
	Drop(ctx context.Context) error
}

// Delivery is one received job.
type Delivery struct {
	ID   string
	Body string
	// ReceiveCount is 1 on first delivery.
	ReceiveCount int
	Settler
}
