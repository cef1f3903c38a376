// Package mail renders and delivers account emails.
package mail

import "context"

// Message is one rendered HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message synchronously.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
