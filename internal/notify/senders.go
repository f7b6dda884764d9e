package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

// LogEmailSender logs instead of talking to a mail provider. Used until real
// provider credentials are wired in deployment.
type LogEmailSender struct {
	Logger *zap.SugaredLogger
}

func (s LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Logger.Infow("email delivery (log sender)", "to", to, "subject", subject)
	return nil
}

// LogPushSender logs instead of calling a push provider.
type LogPushSender struct {
	Logger *zap.SugaredLogger
}

func (s LogPushSender) SendPush(_ context.Context, token storage.DeviceToken, payload PushPayload) error {
	s.Logger.Infow("push delivery (log sender)", "token_id", token.ID, "platform", token.Platform, "title", payload.Title)
	return nil
}
