package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/jordan-wright/email"

	"github.com/nalpari/jppc/internal/crawler"
)

// EmailConfig holds SMTP settings.
type EmailConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

type sendFunc func(e *email.Email, addr string, a smtp.Auth) error

// Email sends alerts through an SMTP relay.
type Email struct {
	cfg  EmailConfig
	send sendFunc
}

// NewEmail validates cfg and returns an SMTP notifier.
func NewEmail(cfg EmailConfig) (*Email, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if len(cfg.Recipients) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &Email{
		cfg: cfg,
		send: func(e *email.Email, addr string, a smtp.Auth) error {
			return e.Send(addr, a)
		},
	}, nil
}

// NotifyCrawlFailure mails the failure to every recipient.
func (m *Email) NotifyCrawlFailure(ctx context.Context, sourceName, msg string, at time.Time) error {
	body := fmt.Sprintf("Crawling %s failed.\n\nTime: %s\nError: %s\n", sourceName, formatTime(at), msg)
	return m.deliver(ctx, "[JPPC Alert] Crawl Failed: "+sourceName, body)
}

// NotifyPriceChange mails the list of significant changes.
func (m *Email) NotifyPriceChange(ctx context.Context, sourceName string, changes []crawler.PriceChange, at time.Time) error {
	body := fmt.Sprintf("%d price change(s) detected for %s.\n\nTime: %s\n\n%s",
		len(changes), sourceName, formatTime(at), changeLines(changes))
	return m.deliver(ctx, "[JPPC Alert] Price Change Detected: "+sourceName, body)
}

func (m *Email) deliver(ctx context.Context, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("JPPC <%s>", m.cfg.From)
	mail.To = m.cfg.Recipients
	mail.Subject = subject
	mail.Text = []byte(body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	err := m.send(mail, addr, auth)
	if err != nil && auth != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		err = m.send(mail, addr, nil)
	}
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}
	return nil
}
