// Package messaging contains the outbound customer-messaging transports.
package messaging

import "context"

// Message is one outbound customer message. Subject is ignored by transports
// that have no subject concept.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message over one concrete channel. Implementations must
// honour context cancellation so a slow provider cannot stall the caller.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}
