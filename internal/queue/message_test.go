package queue

import (
	"reflect"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := Message{
		RunID:             "run-123",
		RequestID:         "request-456",
		Priority:          PriorityHigh,
		Resume:            true,
		LastCompletedStep: "fetch_keepa_data",
		EnqueuedAt:        "2026-01-30T22:00:00Z",
		Version:           MessageVersion,
	}

	payload, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}

	got, err := DecodeMessage(payload)
	if err != nil {
		t.Fatalf("decode message: %v", err)
	}

	if !reflect.DeepEqual(got, msg) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, msg)
	}
}

func TestPriorityFor(t *testing.T) {
	cases := map[string]int{"high": 1, "normal": 5, "low": 10, "": 5, "urgent": 5}
	for name, want := range cases {
		if got := PriorityFor(name); got != want {
			t.Fatalf("PriorityFor(%q) = %d, want %d", name, got, want)
		}
	}
}
