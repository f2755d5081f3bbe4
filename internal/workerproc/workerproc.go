// Package workerproc turns one queue delivery into an analysis run attempt
// and decides what happens to the delivery afterwards.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"niche-backend/internal/analysisruns"
	"niche-backend/internal/queue"
	"niche-backend/internal/shared/metrics"
	"niche-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingRunID indicates a message without a run id.
type ErrMissingRunID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingRunID) Error() string { return "missing run id" }

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	RunID     string
	RequestID string
	Attempt   int
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process run"
	}
	return "process run: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Processor executes one attempt of a run.
type Processor interface {
	ProcessRun(ctx context.Context, msg queue.Message) error
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.RunID) == "" {
		return msg, meta, ErrMissingRunID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

// HandleMessage parses and processes a message payload. receiveCount is the
// backend's delivery count and overrides a lower Attempt in the body.
func HandleMessage(ctx context.Context, p Processor, body string, receiveCount int) (queue.Message, error) {
	if p == nil {
		return queue.Message{}, errors.New("run processor not configured")
	}
	msg, _, err := ParseMessage(body)
	if err != nil {
		return msg, err
	}
	msg.Attempt = max(msg.Attempt, receiveCount, 1)

	ctx = telemetry.WithRequestID(ctx, msg.RequestID)
	if err := p.ProcessRun(ctx, msg); err != nil {
		return msg, ErrProcess{RunID: msg.RunID, RequestID: msg.RequestID, Attempt: msg.Attempt, Err: err}
	}
	return msg, nil
}

// Unrecoverable reports whether a delivery that failed with err should be
// dropped rather than retried.
func Unrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		missing ErrMissingRunID
	)
	if errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &missing) {
		return true
	}
	return analysisruns.IsPermanent(err)
}

// Backoff returns base doubled for every attempt after the first.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<(attempt-1))
}

// Settle acknowledges, retries or drops a delivery after HandleMessage.
func Settle(ctx context.Context, d queue.Delivery, msg queue.Message, err error, maxAttempts int, backoffBase time.Duration) error {
	fields := map[string]any{
		"delivery_id": d.ID,
		"run_id":      msg.RunID,
		"attempt":     msg.Attempt,
		"request_id":  msg.RequestID,
	}
	if err == nil {
		return d.Ack(ctx)
	}
	fields["error"] = err.Error()
	metrics.IncJobsFailed()

	if Unrecoverable(err) {
		metrics.IncJobsDeletedUnrecoverable()
		telemetry.Warn("worker.job.dropped", fields)
		return d.Drop(ctx)
	}
	if maxAttempts > 0 && msg.Attempt >= maxAttempts {
		fields["max_attempts"] = maxAttempts
		telemetry.Error("worker.job.exhausted", fields)
		return d.Drop(ctx)
	}
	delay := Backoff(backoffBase, msg.Attempt)
	fields["retry_in_ms"] = delay.Milliseconds()
	telemetry.Warn("worker.job.retry", fields)
	return d.Retry(ctx, delay)
}
