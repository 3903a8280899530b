package mailer

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

type IEmailService interface {
	SendDeadLetterAlert(toEmail, eventType, originalEventId, errorMessage string) error
}

type emailService struct {
	dialer      *gomail.Dialer
	senderEmail string
	senderName  string
}

func NewEmailService(host string, port int, username, password, senderEmail, senderName string) IEmailService {
	d := gomail.NewDialer(host, port, username, password)

	return &emailService{
		dialer:      d,
		senderEmail: senderEmail,
		senderName:  senderName,
	}
}

// SendDeadLetterAlert notifies an operator that a dead letter could not be
// published to the broker and was spilled to the relational store.
func (s *emailService) SendDeadLetterAlert(toEmail, eventType, originalEventId, errorMessage string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(s.senderEmail, s.senderName))
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", fmt.Sprintf("[EventMesh] Dead letter spillover: %s", eventType))

	body := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; padding: 20px; color: #333;">
			<h2>Dead letter could not reach the broker</h2>
			<p>The record was persisted to the spillover table instead.</p>
			<ul>
				<li><b>Event type:</b> %s</li>
				<li><b>Original event id:</b> %s</li>
				<li><b>Error:</b> %s</li>
			</ul>
			<p>Inspect the <code>dead_letter_events</code> table for the full payload.</p>
		</div>
	`, eventType, originalEventId, errorMessage)

	m.SetBody("text/html", body)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send dead letter alert: %w", err)
	}

	return nil
}
