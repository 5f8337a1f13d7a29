package notify

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail/v2"
)

type SMTPConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	SkipTLSVerify bool
}

// SMTP sends rendered messages through an SMTP relay.
type SMTP struct {
	cfg    SMTPConfig
	dialer *mail.Dialer
}

func NewSMTP(cfg SMTPConfig) *SMTP {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password)
	d.StartTLSPolicy = mail.MandatoryStartTLS
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.SkipTLSVerify,
	}
	return &SMTP{cfg: cfg, dialer: d}
}

// BuildMessage renders msg into a mail message.
func (s *SMTP) BuildMessage(msg Message) (*mail.Message, error) {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return nil, fmt.Errorf("smtp not configured (host/from)")
	}
	body, err := Render(msg)
	if err != nil {
		return nil, err
	}
	m := mail.NewMessage()
	m.SetHeader("From", s.cfg.From)
	m.SetHeader("To", msg.Recipients...)
	m.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetBody("text/html", body)
	return m, nil
}

func (s *SMTP) Notify(_ context.Context, msg Message) error {
	if len(msg.Recipients) == 0 {
		return nil
	}
	m, err := s.BuildMessage(msg)
	if err != nil {
		return &DeliveryError{Template: msg.Template, Err: err}
	}
	if err := s.dialer.DialAndSend(m); err != nil {
		return &DeliveryError{Template: msg.Template, Err: err}
	}
	return nil
}
