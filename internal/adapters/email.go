package adapters

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"inmocrm_backend/platform/config"
	"inmocrm_backend/platform/logger"
)

const emailSubject = "Novedades de tu búsqueda"

// EmailSender delivers campaign messages over the tenant's SMTP relay.
type EmailSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
	log       *logger.Logger
}

func NewEmailSender(cfg config.EmailConfig, log *logger.Logger) *EmailSender {
	if !cfg.IsEmailEnabled() {
		return nil
	}

	return &EmailSender{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromName:  cfg.GetEmailFromName(),
		fromEmail: cfg.GetEmailFromAddress(),
		log:       log,
	}
}

func (s *EmailSender) SendMessage(ctx context.Context, to, body string) error {
	if s == nil {
		return fmt.Errorf("email delivery not configured")
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(emailSubject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	s.log.Info("campaign email sent", "to", to)
	return nil
}
