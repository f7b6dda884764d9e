package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

type fakeNotificationStore struct {
	mu            sync.Mutex
	notifications map[int64]storage.Notification
}

func newFakeNotificationStore() *fakeNotificationStore {
	return &fakeNotificationStore{notifications: make(map[int64]storage.Notification)}
}

func (f *fakeNotificationStore) add(id, recipientID int64, title string) {
	f.notifications[id] = storage.Notification{
		ID:          id,
		RecipientID: recipientID,
		Type:        storage.NotificationSystem,
		Title:       title,
		CreatedAt:   time.Now(),
	}
}

func (f *fakeNotificationStore) UnreadNotifications(_ context.Context, userID int64, limit int) ([]storage.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	unread := make([]storage.Notification, 0)
	for _, n := range f.notifications {
		if n.RecipientID == userID && !n.IsRead && len(unread) < limit {
			unread = append(unread, n)
		}
	}
	return unread, nil
}

func (f *fakeNotificationStore) MarkNotificationRead(_ context.Context, userID, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.notifications[id]
	if !ok || n.RecipientID != userID {
		return storage.ErrNotificationNotFound
	}
	n.IsRead = true
	f.notifications[id] = n
	return nil
}

func (f *fakeNotificationStore) MarkAllNotificationsRead(_ context.Context, userID int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var count int64
	for id, n := range f.notifications {
		if n.RecipientID == userID && !n.IsRead {
			n.IsRead = true
			f.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func newNotificationSession(store *fakeNotificationStore, userID int64) (*notificationSession, *Client) {
	h := newTestHub()
	handler := NewNotificationHandler(zap.NewNop().Sugar(), h, store, nil)
	c := newTestClient(h, userID)
	sess := &notificationSession{handler: handler, client: c, user: storage.User{ID: userID}}
	c.handle = sess.handle
	h.Join(UserGroup(userID), c)
	return sess, c
}

func TestUnreadSnapshotOnConnect(t *testing.T) {
	store := newFakeNotificationStore()
	store.add(1, 7, "Nouveau match !")
	store.add(2, 7, "Nouveau message")
	store.add(3, 8, "someone else's")

	sess, c := newNotificationSession(store, 7)
	sess.pushUnreadSnapshot(context.Background())

	payload := recv(t, c)
	require.Equal(t, "unread_notifications", fastjson.GetString(payload, "type"))
	require.Equal(t, 2, fastjson.GetInt(payload, "count"))
}

func TestUnreadSnapshotSkippedWhenEmpty(t *testing.T) {
	store := newFakeNotificationStore()

	sess, c := newNotificationSession(store, 7)
	sess.pushUnreadSnapshot(context.Background())

	expectNone(t, c)
}

func TestNotificationMarkAsRead(t *testing.T) {
	store := newFakeNotificationStore()
	store.add(5, 7, "Nouveau match !")

	sess, c := newNotificationSession(store, 7)
	sess.handle(context.Background(), []byte(`{"action":"mark_as_read","notification_id":5}`))

	payload := recv(t, c)
	require.Equal(t, "notification_marked_as_read", fastjson.GetString(payload, "type"))
	require.Equal(t, 5, fastjson.GetInt(payload, "notification_id"))
	require.True(t, store.notifications[5].IsRead)
}

func TestNotificationMarkAsReadUnknown(t *testing.T) {
	store := newFakeNotificationStore()

	sess, c := newNotificationSession(store, 7)
	sess.handle(context.Background(), []byte(`{"action":"mark_as_read","notification_id":99}`))

	payload := recv(t, c)
	require.Equal(t, "error", fastjson.GetString(payload, "type"))
	require.Equal(t, "notification not found", fastjson.GetString(payload, "message"))
}

func TestNotificationMarkAsReadOtherRecipient(t *testing.T) {
	store := newFakeNotificationStore()
	store.add(5, 8, "not yours")

	sess, c := newNotificationSession(store, 7)
	sess.handle(context.Background(), []byte(`{"action":"mark_as_read","notification_id":5}`))

	payload := recv(t, c)
	require.Equal(t, "error", fastjson.GetString(payload, "type"))
	require.False(t, store.notifications[5].IsRead)
}

func TestNotificationMarkAsReadMissingID(t *testing.T) {
	store := newFakeNotificationStore()

	sess, c := newNotificationSession(store, 7)
	sess.handle(context.Background(), []byte(`{"action":"mark_as_read"}`))

	payload := recv(t, c)
	require.Equal(t, "error", fastjson.GetString(payload, "type"))
}

func TestNotificationMarkAllAsRead(t *testing.T) {
	store := newFakeNotificationStore()
	store.add(1, 7, "a")
	store.add(2, 7, "b")
	store.add(3, 8, "c")

	sess, c := newNotificationSession(store, 7)
	sess.handle(context.Background(), []byte(`{"action":"mark_all_as_read"}`))

	payload := recv(t, c)
	require.Equal(t, "all_notifications_marked_as_read", fastjson.GetString(payload, "type"))
	require.Equal(t, 2, fastjson.GetInt(payload, "count"))
	require.False(t, store.notifications[3].IsRead)

	// marking again reports zero
	sess.handle(context.Background(), []byte(`{"action":"mark_all_as_read"}`))
	payload = recv(t, c)
	require.Equal(t, 0, fastjson.GetInt(payload, "count"))
}

func TestNotificationUnsupportedAction(t *testing.T) {
	store := newFakeNotificationStore()

	sess, c := newNotificationSession(store, 7)
	sess.handle(context.Background(), []byte(`{"action":"subscribe"}`))

	payload := recv(t, c)
	require.Equal(t, "error", fastjson.GetString(payload, "type"))
	require.Equal(t, "unsupported action", fastjson.GetString(payload, "message"))
}
