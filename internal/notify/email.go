package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"taskmarket/internal/config"
	"taskmarket/lib/sl"
)

// EmailSender sends plain-text mail through an SMTP relay with PLAIN auth.
type EmailSender struct {
	host     string
	port     string
	user     string
	password string
	from     string
	brand    string
	log      *slog.Logger
	send     func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewEmailSender(conf config.Smtp, log *slog.Logger) *EmailSender {
	from := conf.From
	if from == "" {
		from = conf.User
	}
	return &EmailSender{
		host:     conf.Host,
		port:     conf.Port,
		user:     conf.User,
		password: conf.Password,
		from:     from,
		brand:    conf.Brand,
		log:      log.With(sl.Module("notify.email")),
		send:     smtp.SendMail,
	}
}

func (e *EmailSender) Send(_ context.Context, destination, payload string) error {
	if strings.ContainsAny(destination, "\r\n") {
		return fmt.Errorf("invalid recipient")
	}
	var auth smtp.Auth
	if e.user != "" {
		auth = smtp.PlainAuth("", e.user, e.password, e.host)
	}
	err := e.send(e.host+":"+e.port, auth, e.from, []string{destination}, e.message(destination, payload))
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	e.log.With(sl.Secret("to", destination)).Debug("email sent")
	return nil
}

func (e *EmailSender) message(to, payload string) []byte {
	subject := fmt.Sprintf("Subject: %s - verification code\r\n", e.brand)
	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\n", e.from, to)
	mime := "MIME-version: 1.0;\r\nContent-Type: text/plain; charset=\"UTF-8\";\r\n\r\n"
	body := fmt.Sprintf("Hello,\r\n\r\n%s\r\n\r\nIf you did not request this code, ignore this email.\r\n\r\nThe %s Team\r\n",
		payload, e.brand)
	return []byte(headers + subject + mime + body)
}
