package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"

	"signal-engine/internal/model"
)

// EmailConfig describes the SMTP relay and the envelope of alert mails.
type EmailConfig struct {
	Host     string
	Port     int
	Username string // plain auth is used when set
	Password string
	From     string
	To       []string
	TLS      string // mandatory (default), opportunistic or none
	Timeout  time.Duration
}

// EmailNotifier mails the plain-text Subject/Body rendering of each alert.
type EmailNotifier struct {
	cfg  EmailConfig
	opts []mail.Option
}

// NewEmailNotifier creates a notifier sending through cfg.Host. A new SMTP
// session is opened per alert.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
		mail.WithTLSPolicy(tlsPolicy(cfg.TLS)),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	return &EmailNotifier{cfg: cfg, opts: opts}
}

func tlsPolicy(s string) mail.TLSPolicy {
	switch s {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

func (e *EmailNotifier) Name() string { return "email" }

func (e *EmailNotifier) Notify(ctx context.Context, ev model.AlertEvent) error {
	m := mail.NewMsg()
	if err := m.From(e.cfg.From); err != nil {
		return fmt.Errorf("email: from: %w", err)
	}
	if err := m.To(e.cfg.To...); err != nil {
		return fmt.Errorf("email: to: %w", err)
	}
	m.Subject(ev.Subject())
	m.SetDate()
	m.SetBodyString(mail.TypeTextPlain, ev.Body())

	c, err := mail.NewClient(e.cfg.Host, e.opts...)
	if err != nil {
		return fmt.Errorf("email: client: %w", err)
	}
	if err := c.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	return nil
}
