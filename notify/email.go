package notify

import (
	"context"
	"fmt"
	"os"

	"github.com/nvr-ai/go-behavior/alert"
	"github.com/nvr-ai/go-behavior/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

// EmailSubject is the subject line of every alert email.
const EmailSubject = "Abnormal Behavior Detected"

// sendFunc delivers msg over one transport attempt.
type sendFunc func(ctx context.Context, port int, ssl bool, msg *mail.Msg) error

// Email sends alert emails with the snapshot and clip attached.
//
// Delivery is tried with implicit TLS on the SSL port first and falls back to
// STARTTLS on the TLS port.
type Email struct {
	config config.EmailConfig
	send   sendFunc
}

// NewEmail creates an SMTP notifier.
func NewEmail(cfg config.EmailConfig) *Email {
	e := &Email{config: cfg}
	e.send = e.dial
	return e
}

// Notify builds and sends the alert email.
func (e *Email) Notify(ctx context.Context, a alert.Alert) error {
	msg, err := e.Message(a)
	if err != nil {
		return err
	}

	sslErr := e.send(ctx, e.config.SSLPort, true, msg)
	if sslErr == nil {
		log.Info().Str("alert_id", a.ID).Int("port", e.config.SSLPort).Msg("alert email sent")
		return nil
	}
	log.Warn().Err(sslErr).Int("port", e.config.SSLPort).Msg("SSL delivery failed, trying STARTTLS")

	if err := e.send(ctx, e.config.TLSPort, false, msg); err != nil {
		return errors.Wrapf(err, "email delivery failed on ports %d and %d", e.config.SSLPort, e.config.TLSPort)
	}
	log.Info().Str("alert_id", a.ID).Int("port", e.config.TLSPort).Msg("alert email sent")
	return nil
}

// Message builds the alert email. Artifacts that do not exist on disk are
// not attached.
func (e *Email) Message(a alert.Alert) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(e.config.From); err != nil {
		return nil, errors.Wrap(err, "invalid sender")
	}
	if err := msg.To(e.config.To...); err != nil {
		return nil, errors.Wrap(err, "invalid recipient")
	}
	msg.Subject(EmailSubject)
	msg.SetDate()
	msg.SetBodyString(mail.TypeTextPlain, emailBody(a))

	for _, path := range []string{a.SnapshotPath, a.ClipPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("attachment missing")
			continue
		}
		msg.AttachFile(path)
	}
	return msg, nil
}

func (e *Email) dial(ctx context.Context, port int, ssl bool, msg *mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(e.config.Username),
		mail.WithPassword(e.config.Password),
	}
	if ssl {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}

	client, err := mail.NewClient(e.config.Host, opts...)
	if err != nil {
		return errors.Wrap(err, "create mail client")
	}
	return client.DialAndSendWithContext(ctx, msg)
}

func emailBody(a alert.Alert) string {
	name := a.User.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(`Hello %s,

Abnormal behavior was detected at %s.

Behavior: %s
Location: %s
Alert ID: %s

The snapshot and the recorded clip are attached when available.
`, name, a.Time.Format("2006-01-02 15:04:05"), a.Behavior, a.Location, a.ID)
}
