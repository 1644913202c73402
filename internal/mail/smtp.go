package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"gopkg.in/gomail.v2"
)

// Message is one outbound email. Body is treated as opaque HTML markup.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
}

// SMTPSender transmits messages over SMTP. A circuit breaker sits in
// front of the dialer so a dead relay sheds load fast instead of making
// every worker wait out a full dial timeout.
type SMTPSender struct {
	dialer  *gomail.Dialer
	breaker *gobreaker.CircuitBreaker
}

func NewSMTPSender(host string, port int, user, password string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, user, password),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "smtp",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Send transmits msg and returns once the relay accepts or rejects it.
// The context is honored up to the dial; an accepted transmission is
// never abandoned mid-flight.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.Body)

	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.dialer.DialAndSend(m)
	})
	if err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}
