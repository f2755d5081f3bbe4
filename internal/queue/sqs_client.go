package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

const (
	defaultSQSRegion     = "us-east-1"
	defaultSQSVisibility = 1200
	sqsLongPollSeconds   = 20
	sqsMaxBatch          = 10
	sqsMaxVisibility     = 43200
)

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// SQSClient sends and receives queue messages through AWS SQS. SQS has no
// priorities and cannot remove a specific message, so Priority is carried in
// the payload only and cancellation relies on the worker re-reading run
// status.
type SQSClient struct {
	client            SQSAPI
	queueURL          string
	visibilitySeconds int32
}

// NewSQSClient constructs an SQS-backed queue client.
func NewSQSClient(ctx context.Context, queueURL, region string) (*SQSClient, error) {
	queueURL = strings.TrimSpace(queueURL)
	if queueURL == "" {
		return nil, fmt.Errorf("SQS_QUEUE_URL is required")
	}
	if strings.TrimSpace(region) == "" {
		region = defaultSQSRegion
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewSQSClientWith(sqs.NewFromConfig(cfg), queueURL), nil
}

// NewSQSClientWith wraps an existing SQS API client.
func NewSQSClientWith(api SQSAPI, queueURL string) *SQSClient {
	return &SQSClient{client: api, queueURL: queueURL, visibilitySeconds: defaultSQSVisibility}
}

// QueueURL returns the configured queue.
func (s *SQSClient) QueueURL() string { return s.queueURL }

// Send delivers a message to the configured SQS queue.
func (s *SQSClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode sqs message: %w", err)
	}

	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("sqs send message: %w", err)
	}
	return nil
}

// Receive long-polls for up to limit messages.
func (s *SQSClient) Receive(ctx context.Context, limit int) ([]Delivery, error) {
	resp, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(s.queueURL),
		MaxNumberOfMessages: int32(min(max(1, limit), sqsMaxBatch)),
		WaitTimeSeconds:     sqsLongPollSeconds,
		VisibilityTimeout:   s.visibilitySeconds,
		AttributeNames:      []sqstypes.QueueAttributeName{sqstypes.QueueAttributeName("ApproximateReceiveCount")},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Delivery, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		out = append(out, Delivery{
			ID:           aws.ToString(m.MessageId),
			Body:         aws.ToString(m.Body),
			ReceiveCount: receiveCount(m),
			Settler:      sqsSettler{client: s.client, queueURL: s.queueURL, receipt: aws.ToString(m.ReceiptHandle)},
		})
	}
	return out, nil
}

// Stats reads the approximate queue depth attributes.
func (s *SQSClient) Stats(ctx context.Context) (Stats, error) {
	resp, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: aws.String(s.queueURL),
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed,
		},
	})
	if err != nil {
		return Stats{}, fmt.Errorf("sqs queue attributes: %w", err)
	}
	attr := func(name sqstypes.QueueAttributeName) int {
		n, _ := strconv.Atoi(resp.Attributes[string(name)])
		return n
	}
	return Stats{
		Waiting: attr(sqstypes.QueueAttributeNameApproximateNumberOfMessages),
		Active:  attr(sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible),
		Delayed: attr(sqstypes.QueueAttributeNameApproximateNumberOfMessagesDelayed),
	}, nil
}

type sqsSettler struct {
	client   SQSAPI
	queueURL string
	receipt  string
}

func (s sqsSettler) Ack(ctx context.Context) error { return s.delete(ctx) }

func (s sqsSettler) Drop(ctx context.Context) error { return s.delete(ctx) }

func (s sqsSettler) delete(ctx context.Context) error {
	if s.receipt == "" {
		return fmt.Errorf("missing receipt handle")
	}
	if _, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(s.queueURL),
		ReceiptHandle: aws.String(s.receipt),
	}); err != nil {
		return fmt.Errorf("sqs delete message: %w", err)
	}
	return nil
}

// Retry shortens the visibility timeout so the message reappears after
// delay; SQS increments the receive count on the next delivery.
func (s sqsSettler) Retry(ctx context.Context, delay time.Duration) error {
	if s.receipt == "" {
		return fmt.Errorf("missing receipt handle")
	}
	secs := int32(min(int(delay/time.Second), sqsMaxVisibility))
	if _, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(s.queueURL),
		ReceiptHandle:     aws.String(s.receipt),
		VisibilityTimeout: secs,
	}); err != nil {
		return fmt.Errorf("sqs change visibility: %w", err)
	}
	return nil
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes["ApproximateReceiveCount"]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}

var (
	_ Client        = (*SQSClient)(nil)
	_ Consumer      = (*SQSClient)(nil)
	_ StatsReporter = (*SQSClient)(nil)
)
