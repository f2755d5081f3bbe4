package queue

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	received   []sqstypes.Message
	sent       []string
	deleted    []string
	visibility map[string]int32
	attributes map[string]string
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, aws.ToString(params.MessageBody))
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{Messages: f.received}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func (f *fakeSQS) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	if f.visibility == nil {
		f.visibility = map[string]int32{}
	}
	f.visibility[aws.ToString(params.ReceiptHandle)] = params.VisibilityTimeout
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

func (f *fakeSQS) GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	return &sqs.GetQueueAttributesOutput{Attributes: f.attributes}, nil
}

func TestSQSClientReceiveAndSettle(t *testing.T) {
	api := &fakeSQS{received: []sqstypes.Message{
		{MessageId: aws.String("m1"), ReceiptHandle: aws.String("r1"), Body: aws.String(`{"runId":"run-1"}`), Attributes: map[string]string{"ApproximateReceiveCount": "2"}},
		{MessageId: aws.String("m2"), ReceiptHandle: aws.String("r2"), Body: aws.String(`{"runId":"run-2"}`)},
	}}
	client := NewSQSClientWith(api, "queue")

	got, err := client.Receive(context.Background(), 10)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if len(got) != 2 || got[0].ReceiveCount != 2 || got[1].ReceiveCount != 0 {
		t.Fatalf("unexpected deliveries %+v", got)
	}

	if err := got[0].Retry(context.Background(), 10*time.Second); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if api.visibility["r1"] != 10 {
		t.Fatalf("expected visibility 10s, got %d", api.visibility["r1"])
	}
	if err := got[1].Ack(context.Background()); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(api.deleted) != 1 || api.deleted[0] != "r2" {
		t.Fatalf("expected r2 deleted, got %v", api.deleted)
	}
}

func TestSQSClientStats(t *testing.T) {
	api := &fakeSQS{attributes: map[string]string{
		"ApproximateNumberOfMessages":           "4",
		"ApproximateNumberOfMessagesNotVisible": "2",
		"ApproximateNumberOfMessagesDelayed":    "1",
	}}
	st, err := NewSQSClientWith(api, "queue").Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st != (Stats{Waiting: 4, Active: 2, Delayed: 1}) {
		t.Fatalf("unexpected stats %+v", st)
	}
}
