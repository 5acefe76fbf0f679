// Package mail holds the handler of the mail worker variant.
package mail

import (
	"context"
	"errors"

	"github.com/illmade-knight/go-queueworker/pkg/metrics"
	"github.com/illmade-knight/go-queueworker/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// ErrEmptyMessage is returned for a message with no body.
var ErrEmptyMessage = errors.New("mail message has no body")

// Sender delivers one mail. The default LogSender only logs it.
type Sender interface {
	Send(ctx context.Context, body string) error
}

// LogSender is a Sender that logs the body instead of delivering it.
type LogSender struct {
	Logger zerolog.Logger
}

// Send logs body at debug level.
func (s LogSender) Send(_ context.Context, body string) error {
	s.Logger.Debug().Str("body", body).Msg("Mail sent.")
	return nil
}

// SendMailService sends one mail per queue message.
type SendMailService struct {
	sender Sender
	logger zerolog.Logger
	sent   prometheus.Counter
}

// NewSendMailService creates the service. A nil sender logs instead of sending.
func NewSendMailService(sender Sender, reg *metrics.Registry, logger zerolog.Logger) *SendMailService {
	logger = logger.With().Str("component", "SendMailService").Logger()
	if sender == nil {
		sender = LogSender{Logger: logger}
	}
	return &SendMailService{
		sender: sender,
		logger: logger,
		sent:   reg.Counter("mails_sent", "Mails sent"),
	}
}

// Handle sends the mail described by msg.
func (s *SendMailService) Handle(ctx context.Context, msg types.InboundMessage) error {
	if msg.Body == "" {
		return ErrEmptyMessage
	}
	if err := s.sender.Send(ctx, msg.Body); err != nil {
		return err
	}
	s.sent.Inc()
	return nil
}
