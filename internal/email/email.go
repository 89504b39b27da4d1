// Package email delivers verification codes to users. Sender has two
// implementations chosen once at startup: SMTPSender for production and
// MockSender for dev/test, which prints codes to stderr instead of sending.
// Codes reach users only through this package — they are never echoed in an
// API response.
package email

import (
	"fmt"
	"net/smtp"
	"os"
	"sync"
)

// Sender dispatches a verification code to an email address.
type Sender interface {
	SendVerificationCode(toEmail, code string) error
}

// SMTPSender sends codes through a plain SMTP relay with STARTTLS.
type SMTPSender struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
}

// SendVerificationCode sends the code email. The code appears only in the
// message body, never in logs.
func (s *SMTPSender) SendVerificationCode(toEmail, code string) error {
	body := fmt.Sprintf(`LLM API - Verification Code

Your verification code is: %s

This code will expire in 5 minutes.

If you didn't request this code, please ignore this email.

---
This is an automated message from the internal LLM API service.
`, code)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: Your LLM API Verification Code\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		s.FromEmail, toEmail, body)

	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	var auth smtp.Auth
	if s.User != "" && s.Password != "" {
		auth = smtp.PlainAuth("", s.User, s.Password, s.Host)
	}

	if err := smtp.SendMail(addr, auth, s.FromEmail, []string{toEmail}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", toEmail, err)
	}
	return nil
}

// MockSender prints codes to stderr and records them for tests.
type MockSender struct {
	// Fail makes every send return an error; used to test the
	// email-send-failed path.
	Fail bool

	mu   sync.Mutex
	sent []SentCode
}

// SentCode is one captured dispatch.
type SentCode struct {
	To   string
	Code string
}

// SendVerificationCode records the code and prints it to stderr.
func (m *MockSender) SendVerificationCode(toEmail, code string) error {
	if m.Fail {
		return fmt.Errorf("mock send failure")
	}
	m.mu.Lock()
	m.sent = append(m.sent, SentCode{To: toEmail, Code: code})
	m.mu.Unlock()

	fmt.Fprintf(os.Stderr, "============================================================\n")
	fmt.Fprintf(os.Stderr, "MOCK EMAIL TO: %s\n", toEmail)
	fmt.Fprintf(os.Stderr, "VERIFICATION CODE: %s\n", code)
	fmt.Fprintf(os.Stderr, "============================================================\n")
	return nil
}

// Sent returns a copy of all captured dispatches.
func (m *MockSender) Sent() []SentCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentCode, len(m.sent))
	copy(out, m.sent)
	return out
}

// Last returns the most recent dispatch, or false if none happened.
func (m *MockSender) Last() (SentCode, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentCode{}, false
	}
	return m.sent[len(m.sent)-1], true
}
