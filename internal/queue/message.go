package queue

import "encoding/json"

// MessageVersion is the current payload layout.
const MessageVersion = 2

// Job priorities; lower runs first on backends that order by priority.
const (
	PriorityHigh   = 1
	PriorityNormal = 5
	PriorityLow    = 10
)

// Message is the payload consumed by the analysis worker.
type Message struct {
	RunID     string `json:"runId"`
	RequestID string `json:"requestId"`
	Priority  int    `json:"priority"`
	// Attempt is 1-based. Backends that track redeliveries themselves
	// (SQS receive count) may leave it at zero.
	Attempt           int    `json:"attempt,omitempty"`
	Resume            bool   `json:"resume,omitempty"`
	LastCompletedStep string `json:"lastCompletedStep,omitempty"`
	EnqueuedAt        string `json:"enqueuedAt"`
	Version           int    `json:"version"`
}

// PriorityFor maps a priority name to its numeric value. Unknown names are
// normal.
func PriorityFor(name string) int {
	switch name {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
