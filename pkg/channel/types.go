// Package channel implements the outbound delivery transports. Each
// sender speaks one provider protocol and reports the provider message
// id on success.
package channel

import "context"

// Destination is the resolved recipient of one message. Exactly one
// address field is expected to be set per channel type.
type Destination struct {
	Phone  string
	Email  string
	ChatID string
	Name   string
}

// Message is the content to deliver.
type Message struct {
	Content   string
	MediaURL  string
	MediaType string
}

// Sender delivers one message over one provider. Implementations are
// safe for concurrent use.
type Sender interface {
	// Send delivers the message and returns the provider message id.
	// Errors carry retryability so the queue can decide between
	// requeue and permanent failure.
	Send(ctx context.Context, dest Destination, msg Message) (string, error)
}
