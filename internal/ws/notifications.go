package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

// unreadSnapshotLimit caps the backlog pushed to a freshly connected client
const unreadSnapshotLimit = 20

// NotificationStore is the slice of the durable store the notification socket needs.
type NotificationStore interface {
	UnreadNotifications(ctx context.Context, userID int64, limit int) ([]storage.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id int64) error
	MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error)
}

// NotificationHandler upgrades authenticated requests on the notification endpoint.
// Each connection joins the user's group, receives an unread backlog snapshot and
// then serves read-marking actions.
type NotificationHandler struct {
	logger   *zap.SugaredLogger
	hub      *Hub
	store    NotificationStore
	auth     Authenticator
	upgrader websocket.Upgrader
	parsers  fastjson.ParserPool
}

func NewNotificationHandler(logger *zap.SugaredLogger, hub *Hub, store NotificationStore, auth Authenticator) *NotificationHandler {
	return &NotificationHandler{
		logger: logger,
		hub:    hub,
		store:  store,
		auth:   auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *NotificationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth.Authenticate(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("upgrade failed: %v", err)
		return
	}

	c := newClient(h.hub, conn, user.ID, h.logger)
	sess := &notificationSession{handler: h, client: c, user: user}
	c.handle = sess.handle

	h.hub.Join(UserGroup(user.ID), c)
	h.logger.Infow("notification connection opened", "connection_id", c.ID, "user_id", user.ID)

	sess.pushUnreadSnapshot(c.ctx)

	go c.serve()
}

type notificationSession struct {
	handler *NotificationHandler
	client  *Client
	user    storage.User
}

func (s *notificationSession) pushUnreadSnapshot(ctx context.Context) {
	unread, err := s.handler.store.UnreadNotifications(ctx, s.user.ID, unreadSnapshotLimit)
	if err != nil {
		s.handler.logger.Errorw("unread snapshot failed", "connection_id", s.client.ID, "user_id", s.user.ID, "error", err)
		return
	}
	if len(unread) == 0 {
		return
	}
	s.client.Send(unreadNotificationsEvent(unread))
}

func (s *notificationSession) handle(ctx context.Context, raw []byte) {
	parser := s.handler.parsers.Get()
	defer s.handler.parsers.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		s.client.Send(errorEvent("malformed payload"))
		return
	}

	switch action := string(v.GetStringBytes("action")); action {
	case "mark_as_read":
		s.markAsRead(ctx, v)
	case "mark_all_as_read":
		s.markAllAsRead(ctx)
	default:
		s.client.Send(errorEvent("unsupported action"))
	}
}

func (s *notificationSession) markAsRead(ctx context.Context, v *fastjson.Value) {
	notificationID := v.GetInt64("notification_id")
	if notificationID < 1 {
		s.client.Send(errorEvent("mark_as_read requires notification_id"))
		return
	}

	err := s.handler.store.MarkNotificationRead(ctx, s.user.ID, notificationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotificationNotFound) {
			s.client.Send(errorEvent("notification not found"))
			return
		}
		s.handler.logger.Errorw("mark notification read failed", "connection_id", s.client.ID, "user_id", s.user.ID, "error", err)
		s.client.Send(errorEvent("internal error"))
		return
	}

	s.client.Send(notificationMarkedEvent(notificationID))
}

func (s *notificationSession) markAllAsRead(ctx context.Context) {
	count, err := s.handler.store.MarkAllNotificationsRead(ctx, s.user.ID)
	if err != nil {
		s.handler.logger.Errorw("mark all notifications read failed", "connection_id", s.client.ID, "user_id", s.user.ID, "error", err)
		s.client.Send(errorEvent("internal error"))
		return
	}

	s.client.Send(allNotificationsMarkedEvent(count))
}
