package mail

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/lorebook/lorebook/internal/config"
	"github.com/lorebook/lorebook/pkg/logger"
)

// Sender delivers rendered messages to a mail provider
type Sender interface {
	Send(ctx context.Context, opts SendOptions) (*SendResult, error)
}

// MailgunSender sends mail via the Mailgun API.
// A thin wrapper around the Mailgun SDK.
type MailgunSender struct {
	cfg    *config.MailConfig
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

var _ Sender = (*MailgunSender)(nil)

// NewMailgunSender creates a Mailgun-backed sender
func NewMailgunSender(cfg *config.MailConfig, log *slog.Logger) *MailgunSender {
	return &MailgunSender{
		cfg:    cfg,
		log:    log.With(logger.Scope("mail.mailgun")),
		client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
	}
}

// Send delivers one message. A provider rejection is returned as an error so
// the job is retried with backoff rather than silently dropped.
func (s *MailgunSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	to := opts.To
	if opts.ToName != "" {
		to = fmt.Sprintf("%s <%s>", opts.ToName, opts.To)
	}
	from := opts.From
	if from == "" {
		from = fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)
	}

	message := s.client.NewMessage(from, opts.Subject, opts.Text, to)
	if opts.HTML != "" {
		message.SetHtml(opts.HTML)
	}

	s.log.Debug("sending mail",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject))

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		s.log.Error("mail send failed",
			slog.String("to", opts.To),
			logger.Error(err))
		return &SendResult{Success: false, Error: err.Error()}, err
	}

	s.log.Info("mail sent",
		slog.String("to", opts.To),
		slog.String("message_id", messageID))

	return &SendResult{Success: true, MessageID: messageID}, nil
}

// NoopSender logs instead of sending. Used when Mailgun credentials are not
// configured so the pipeline still drains the mail queue in development.
type NoopSender struct {
	log *slog.Logger
}

var _ Sender = (*NoopSender)(nil)

// NewNoopSender creates a sender that only logs
func NewNoopSender(log *slog.Logger) *NoopSender {
	return &NoopSender{log: log.With(logger.Scope("mail.noop"))}
}

// Send logs the message and reports success
func (s *NoopSender) Send(_ context.Context, opts SendOptions) (*SendResult, error) {
	s.log.Info("mail sending disabled, dropping message",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject))
	return &SendResult{Success: true, MessageID: "noop"}, nil
}
