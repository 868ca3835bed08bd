package notify

import "context"

// Message is one notification: a short subject and a newline-joined body.
type Message struct {
	Subject string
	Body    string
}

// Origin identifies the monitor instance that emits notifications.
type Origin struct {
	System string // e.g. "Sirepo"
	Host   string
}

// Notifier is the interface that all notification channel implementations must satisfy.
type Notifier interface {
	// Type returns the notifier type identifier (e.g., "slack", "email").
	Type() string

	// Send delivers a message. It should return an error if delivery fails.
	Send(ctx context.Context, msg Message) error

	// Validate checks whether the notifier configuration is valid.
	Validate() error
}

// FileSender is implemented by notifiers that can deliver attachments such as screenshots.
type FileSender interface {
	SendFiles(ctx context.Context, files []string) error
}
