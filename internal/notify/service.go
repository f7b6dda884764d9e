package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
	"github.com/MagloireKITIO/findam-rencontre/internal/ws"
)

// Store is the slice of the durable store the fan-out service needs.
type Store interface {
	UserByID(ctx context.Context, id int64) (storage.User, error)
	PreferencesFor(ctx context.Context, userID int64) (storage.Preferences, error)
	CreateNotification(ctx context.Context, n storage.Notification) (storage.Notification, error)
	MarkNotificationEmailSent(ctx context.Context, id int64) error
	MarkNotificationPushSent(ctx context.Context, id int64) error
	ActiveDeviceTokens(ctx context.Context, userID int64) ([]storage.DeviceToken, error)
	RegisterDevice(ctx context.Context, userID int64, token string, platform storage.Platform, deviceName string) (storage.DeviceToken, error)
	UnregisterDevice(ctx context.Context, token string) error
	MarkNotificationRead(ctx context.Context, userID, id int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
}

// Broadcaster delivers a payload to every live connection in a named group.
type Broadcaster interface {
	Broadcast(group string, payload []byte)
}

// EmailSender is the opaque email delivery collaborator; failures are recorded,
// never propagated.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// PushPayload is what a push provider receives for one device.
type PushPayload struct {
	Title          string
	Body           string
	NotificationID int64
	Type           storage.NotificationType
	ContextType    string
	ContextID      int64
	ActionURL      string
}

// PushSender is the opaque push delivery collaborator.
type PushSender interface {
	SendPush(ctx context.Context, token storage.DeviceToken, payload PushPayload) error
}

// Params describes one notification to fan out.
type Params struct {
	RecipientID int64
	Type        storage.NotificationType
	ContextType string
	ContextID   int64
	ActorID     *int64
	Title       string
	Message     string
	ImageURL    *string
	ActionURL   *string
	ActionText  *string
	SkipEmail   bool
	SkipPush    bool
}

// Service persists notifications, attempts email/push delivery according to the
// recipient's preferences and broadcasts a lightweight event to the recipient's
// live connections.
type Service struct {
	logger *zap.SugaredLogger
	store  Store
	hub    Broadcaster
	email  EmailSender
	push   PushSender
}

func NewService(logger *zap.SugaredLogger, store Store, hub Broadcaster, email EmailSender, push PushSender) *Service {
	return &Service{
		logger: logger,
		store:  store,
		hub:    hub,
		email:  email,
		push:   push,
	}
}

// Send runs the full fan-out: recipient resolution, preference gating, persistence,
// delivery attempts and the user-group broadcast. A missing recipient or a disabled
// category yields (nil, nil) and no side effects.
func (s *Service) Send(ctx context.Context, p Params) (*storage.Notification, error) {
	recipient, err := s.store.UserByID(ctx, p.RecipientID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return nil, nil
		}
		return nil, err
	}

	preferences, err := s.store.PreferencesFor(ctx, recipient.ID)
	if err != nil {
		return nil, err
	}

	if !preferences.Allows(p.Type) {
		s.logger.Debugf("User (id: %d) opted out of %s notifications", recipient.ID, p.Type)
		return nil, nil
	}

	n, err := s.store.CreateNotification(ctx, storage.Notification{
		RecipientID: recipient.ID,
		Type:        p.Type,
		ContextType: p.ContextType,
		ContextID:   p.ContextID,
		ActorID:     p.ActorID,
		Title:       p.Title,
		Message:     p.Message,
		ImageURL:    p.ImageURL,
		ActionURL:   p.ActionURL,
		ActionText:  p.ActionText,
	})
	if err != nil {
		return nil, err
	}

	if !p.SkipEmail && preferences.ReceiveEmail {
		n.IsEmailSent = s.sendEmail(ctx, recipient, n)
	}
	if !p.SkipPush && preferences.ReceivePush {
		n.IsPushSent = s.sendPush(ctx, recipient, n)
	}

	// fire and forget; with no live connection the row is still there for later fetch
	s.hub.Broadcast(ws.UserGroup(recipient.ID), ws.NotificationEvent(n))

	return &n, nil
}

func (s *Service) sendEmail(ctx context.Context, recipient storage.User, n storage.Notification) bool {
	if err := s.email.SendEmail(ctx, recipient.Email, n.Title, n.Message); err != nil {
		s.logger.Warnw("email delivery failed", "notification_id", n.ID, "user_id", recipient.ID, "error", err)
		return false
	}
	if err := s.store.MarkNotificationEmailSent(ctx, n.ID); err != nil {
		s.logger.Errorw("recording email delivery failed", "notification_id", n.ID, "error", err)
	}
	return true
}

func (s *Service) sendPush(ctx context.Context, recipient storage.User, n storage.Notification) bool {
	tokens, err := s.store.ActiveDeviceTokens(ctx, recipient.ID)
	if err != nil {
		s.logger.Errorw("loading device tokens failed", "user_id", recipient.ID, "error", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}

	payload := PushPayload{
		Title:          n.Title,
		Body:           n.Message,
		NotificationID: n.ID,
		Type:           n.Type,
		ContextType:    n.ContextType,
		ContextID:      n.ContextID,
	}
	if n.ActionURL != nil {
		payload.ActionURL = *n.ActionURL
	}

	delivered := false
	for _, token := range tokens {
		if err := s.push.SendPush(ctx, token, payload); err != nil {
			s.logger.Warnw("push delivery failed", "notification_id", n.ID, "token_id", token.ID, "error", err)
			continue
		}
		delivered = true
	}
	if !delivered {
		return false
	}

	if err := s.store.MarkNotificationPushSent(ctx, n.ID); err != nil {
		s.logger.Errorw("recording push delivery failed", "notification_id", n.ID, "error", err)
	}
	return true
}

// MarkAsRead flips the read flag on one notification; pure persistence, no broadcast
func (s *Service) MarkAsRead(ctx context.Context, userID, notificationID int64) error {
	return s.store.MarkNotificationRead(ctx, userID, notificationID)
}

// MarkAllAsRead flips the read flag on every unread notification of a user
func (s *Service) MarkAllAsRead(ctx context.Context, userID int64) (int64, error) {
	return s.store.MarkAllNotificationsRead(ctx, userID)
}

// RegisterDevice stores a push token, reassigning it when another user registered
// it before
func (s *Service) RegisterDevice(ctx context.Context, userID int64, token string, platform storage.Platform, deviceName string) (storage.DeviceToken, error) {
	return s.store.RegisterDevice(ctx, userID, token, platform, deviceName)
}

// UnregisterDevice deactivates a push token; an unknown token is an error for the
// caller only
func (s *Service) UnregisterDevice(ctx context.Context, token string) error {
	return s.store.UnregisterDevice(ctx, token)
}
