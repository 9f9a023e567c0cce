package email

import (
	"fmt"
	"log"

	"gopkg.in/gomail.v2"
)

// Sender delivers account emails over SMTP. Without an SMTP host it logs
// and drops instead of sending.
type Sender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSender constructs a Sender; host may be empty to disable delivery.
func NewSender(host string, port int, username, password, from string) *Sender {
	s := &Sender{from: from}
	if host != "" {
		s.dialer = gomail.NewDialer(host, port, username, password)
	}
	return s
}

// SendVerification emails the verification code for a fresh registration.
func (s *Sender) SendVerification(to, username, code string) error {
	subject := "Verify your email address"
	body := fmt.Sprintf("Hi %s,\n\nYour verification code is: %s\n", username, code)
	return s.send(to, subject, body)
}

func (s *Sender) send(to, subject, body string) error {
	if s.dialer == nil {
		log.Printf("email disabled, dropping %q to %s", subject, to)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	return s.dialer.DialAndSend(m)
}
