package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
)

// LoggingEmailSender is a placeholder EmailSender: the real provider
// integration (SES, Postmark, whatever the deployment picks) is external
// and out of scope. It logs what would have been sent so the Dispatcher
// has a concrete collaborator to wire in the absence of one.
type LoggingEmailSender struct{}

func NewLoggingEmailSender() *LoggingEmailSender {
	return &LoggingEmailSender{}
}

func (s *LoggingEmailSender) Send(ctx context.Context, recipient, subject, markdownBody string) error {
	logger.Info("email send (no provider configured, logging only)",
		zap.String("recipient", recipient), zap.String("subject", subject))
	return nil
}
