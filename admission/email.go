package admission

import (
	"context"
	"log/slog"
)

// Email is one outbound notification to an applicant.
type Email struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// EmailSender delivers notifications. The portal never talks to a real
// mail provider; deployments plug in their own implementation.
type EmailSender interface {
	Send(ctx context.Context, msg Email) error
}

// LogSender is an EmailSender that writes to the log. The default for
// development and tests.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(_ context.Context, msg Email) error {
	l.logger.Info("email sent",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}
