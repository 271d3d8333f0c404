// Package mailer sends HTML email over SMTP.
package mailer

import (
	"bytes"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/Daskott/sheguard/shared"
	"github.com/google/uuid"
)

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type Mailer struct {
	config shared.SmtpConfig
	send   sendFunc
	now    func() time.Time
}

func NewMailer(config shared.SmtpConfig) *Mailer {
	return &Mailer{config: config, send: smtp.SendMail, now: time.Now}
}

// Send delivers an HTML email to a single recipient.
func (m *Mailer) Send(to, subject, htmlBody string) error {
	if strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("mailer: invalid recipient %q", to)
	}

	var auth smtp.Auth
	if m.config.Username != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	addr := net.JoinHostPort(m.config.Host, strconv.Itoa(m.config.Port))
	msg := m.buildMessage(to, subject, htmlBody)

	if err := m.send(addr, auth, m.config.From, []string{to}, msg); err != nil {
		return fmt.Errorf("mailer: send to %v: %v", to, err)
	}

	return nil
}

func (m *Mailer) buildMessage(to, subject, htmlBody string) []byte {
	var buf bytes.Buffer

	headers := [][2]string{
		{"From", m.config.From},
		{"To", to},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), m.config.Host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=\"utf-8\""},
	}

	for _, header := range headers {
		fmt.Fprintf(&buf, "%s: %s\r\n", header[0], header[1])
	}
	buf.WriteString("\r\n")
	buf.WriteString(strings.ReplaceAll(htmlBody, "\n", "\r\n"))

	return buf.Bytes()
}
