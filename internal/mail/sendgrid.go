package mail

import (
	"context"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridSender delivers through the SendGrid REST API, which is more
// reliable than direct SMTP on cloud platforms that throttle port 587.
type SendGridSender struct {
	apiKey   string
	from     string
	fromName string
}

func NewSendGridSender(apiKey, from, fromName string) *SendGridSender {
	return &SendGridSender{apiKey: apiKey, from: from, fromName: fromName}
}

func (s *SendGridSender) Name() string { return "sendgrid" }

func (s *SendGridSender) Send(ctx context.Context, msg Message) Result {
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.FromName == "" {
		msg.FromName = s.fromName
	}
	if err := validateMessage(msg); err != nil {
		return Result{Success: false, Error: err}
	}
	if s.apiKey == "" {
		return Result{Success: false, Error: fmt.Errorf("sendgrid API key is not configured")}
	}

	from := sgmail.NewEmail(msg.FromName, msg.From)
	to := sgmail.NewEmail("", msg.To)
	m := sgmail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)

	client := sendgrid.NewSendClient(s.apiKey)
	resp, err := client.SendWithContext(ctx, m)
	if err != nil {
		return Result{Success: false, Error: fmt.Errorf("sendgrid send failed: %w", err)}
	}
	if resp.StatusCode >= 400 {
		return Result{Success: false, Error: fmt.Errorf("sendgrid rejected message: status %d", resp.StatusCode)}
	}

	var messageID string
	if ids := resp.Headers["X-Message-Id"]; len(ids) > 0 {
		messageID = ids[0]
	}
	return Result{Success: true, MessageID: messageID}
}
