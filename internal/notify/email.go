package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/go-mail"
)

// EmailNotifier sends plain-text mail through an SMTP relay, by default the local MTA.
type EmailNotifier struct {
	Recipients []string
	From       string
	Host       string
	Port       int
	Origin     Origin
}

func (e *EmailNotifier) Type() string { return "email" }

func (e *EmailNotifier) Validate() error {
	if len(e.Recipients) == 0 {
		return errors.New("email: recipients are required")
	}
	if e.Host == "" {
		return errors.New("email: smtp host is required")
	}
	return nil
}

func (e *EmailNotifier) Send(ctx context.Context, msg Message) error {
	m, err := e.build(msg)
	if err != nil {
		return err
	}

	port := e.Port
	if port <= 0 {
		port = 25
	}
	client, err := mail.NewClient(e.Host,
		mail.WithPort(port),
		mail.WithTLSPortPolicy(mail.TLSOpportunistic),
	)
	if err != nil {
		return fmt.Errorf("email: create client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}

func (e *EmailNotifier) build(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.sender()); err != nil {
		return nil, fmt.Errorf("email: sender: %w", err)
	}
	if err := m.To(e.Recipients...); err != nil {
		return nil, fmt.Errorf("email: recipients: %w", err)
	}
	m.Subject(fmt.Sprintf("%s: %s", e.Origin.System, msg.Subject))
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	return m, nil
}

func (e *EmailNotifier) sender() string {
	if e.From != "" {
		return e.From
	}
	host := e.Origin.Host
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s Health Check <sirepo@%s>", e.Origin.System, host)
}
