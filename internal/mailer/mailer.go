// Package mailer sends the transactional emails: account verification,
// password reset and discussion notifications.
//
// Controllers depend on the Mailer interface only. Two implementations ship:
// SendGrid for production and Log for development, where messages are
// written to the logger instead of delivered.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	gobreaker "github.com/sony/gobreaker/v2"
)

// Message is one outgoing email. HTML is the main body and Text the
// plain-text alternative.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers a message synchronously.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendGridConfig configures the SendGrid adapter. Host is only set in tests.
type SendGridConfig struct {
	APIKey      string
	Host        string
	FromName    string
	FromAddress string

	// FailureThreshold consecutive failures open the breaker for
	// BreakerTimeout. Zero values pick 5 and one minute.
	FailureThreshold uint32
	BreakerTimeout   time.Duration
	Logger           *slog.Logger
}

// SendGrid delivers through the SendGrid v3 mail API behind a circuit
// breaker: while SendGrid is failing, Send returns immediately with
// gobreaker.ErrOpenState instead of holding the request.
type SendGrid struct {
	client  *sendgrid.Client
	from    *mail.Email
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// NewSendGrid builds the adapter.
func NewSendGrid(cfg SendGridConfig) *SendGrid {
	req := sendgrid.GetRequest(cfg.APIKey, "/v3/mail/send", cfg.Host)
	req.Method = "POST"

	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	timeout := cfg.BreakerTimeout
	if timeout == 0 {
		timeout = time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SendGrid{
		client: &sendgrid.Client{Request: req},
		from:   mail.NewEmail(cfg.FromName, cfg.FromAddress),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:        "sendgrid",
			MaxRequests: 1,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("mail circuit breaker state change",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

// Send implements Mailer. Any non-2XX answer is an error.
func (s *SendGrid) Send(ctx context.Context, msg Message) error {
	message := mail.NewV3Mail()
	message.From = s.from
	message.Subject = msg.Subject

	personalization := mail.NewPersonalization()
	personalization.To = append(personalization.To, mail.NewEmail("", msg.To))
	message.Personalizations = append(message.Personalizations, personalization)

	// SendGrid requires text/plain to come before text/html.
	if msg.Text != "" {
		message.Content = append(message.Content, mail.NewContent("text/plain", msg.Text))
	}
	if msg.HTML != "" {
		message.Content = append(message.Content, mail.NewContent("text/html", msg.HTML))
	}

	_, err := s.breaker.Execute(func() (struct{}, error) {
		resp, err := s.client.SendWithContext(ctx, message)
		if err != nil {
			return struct{}{}, fmt.Errorf("mailer: sending through SendGrid: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("mailer: non-2XX response from SendGrid: %d %s", resp.StatusCode, resp.Body)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("mailer: %w", err)
	}
	return nil
}

// Log writes messages to the logger instead of sending them.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Send(ctx context.Context, msg Message) error {
	l.logger.InfoContext(ctx, "mail not delivered (log provider)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("text", msg.Text),
	)
	return nil
}
