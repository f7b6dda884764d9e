package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

func allEnabled(userID int64) storage.Preferences {
	return storage.Preferences{
		UserID:       userID,
		ReceiveEmail: true,
		ReceivePush:  true,
		Matches:      true,
		Messages:     true,
		Likes:        true,
		Events:       true,
		Subscription: true,
		System:       true,
	}
}

type fakeStore struct {
	users       map[int64]storage.User
	preferences map[int64]storage.Preferences
	tokens      map[int64][]storage.DeviceToken

	created       []storage.Notification
	nextID        int64
	emailSentIDs  []int64
	pushSentIDs   []int64
	unregistered  []string
	registerCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       make(map[int64]storage.User),
		preferences: make(map[int64]storage.Preferences),
		tokens:      make(map[int64][]storage.DeviceToken),
	}
}

func (f *fakeStore) addUser(id int64, prefs storage.Preferences) {
	f.users[id] = storage.User{ID: id, Username: "u", Email: "u@example.com"}
	f.preferences[id] = prefs
}

func (f *fakeStore) UserByID(_ context.Context, id int64) (storage.User, error) {
	u, ok := f.users[id]
	if !ok {
		return storage.User{}, storage.ErrUserNotExist
	}
	return u, nil
}

func (f *fakeStore) PreferencesFor(_ context.Context, userID int64) (storage.Preferences, error) {
	return f.preferences[userID], nil
}

func (f *fakeStore) CreateNotification(_ context.Context, n storage.Notification) (storage.Notification, error) {
	f.nextID++
	n.ID = f.nextID
	f.created = append(f.created, n)
	return n, nil
}

func (f *fakeStore) MarkNotificationEmailSent(_ context.Context, id int64) error {
	f.emailSentIDs = append(f.emailSentIDs, id)
	return nil
}

func (f *fakeStore) MarkNotificationPushSent(_ context.Context, id int64) error {
	f.pushSentIDs = append(f.pushSentIDs, id)
	return nil
}

func (f *fakeStore) ActiveDeviceTokens(_ context.Context, userID int64) ([]storage.DeviceToken, error) {
	return f.tokens[userID], nil
}

func (f *fakeStore) RegisterDevice(_ context.Context, userID int64, token string, platform storage.Platform, deviceName string) (storage.DeviceToken, error) {
	f.registerCalls++
	return storage.DeviceToken{ID: 1, UserID: userID, Token: token, Platform: platform, DeviceName: deviceName, IsActive: true}, nil
}

func (f *fakeStore) UnregisterDevice(_ context.Context, token string) error {
	f.unregistered = append(f.unregistered, token)
	return nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, _, _ int64) error { return nil }

func (f *fakeStore) MarkAllNotificationsRead(_ context.Context, _ int64) (int64, error) {
	return 0, nil
}

type fakeBroadcaster struct {
	groups   []string
	payloads [][]byte
}

func (f *fakeBroadcaster) Broadcast(group string, payload []byte) {
	f.groups = append(f.groups, group)
	f.payloads = append(f.payloads, payload)
}

type fakeEmailSender struct {
	sent []string
	err  error
}

func (f *fakeEmailSender) SendEmail(_ context.Context, to, _, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakePushSender struct {
	sent    []string
	failFor map[string]error
}

func (f *fakePushSender) SendPush(_ context.Context, token storage.DeviceToken, _ PushPayload) error {
	if err := f.failFor[token.Token]; err != nil {
		return err
	}
	f.sent = append(f.sent, token.Token)
	return nil
}

type fixture struct {
	store *fakeStore
	hub   *fakeBroadcaster
	email *fakeEmailSender
	push  *fakePushSender
	svc   *Service
}

func newFixture() *fixture {
	fx := &fixture{
		store: newFakeStore(),
		hub:   &fakeBroadcaster{},
		email: &fakeEmailSender{},
		push:  &fakePushSender{failFor: make(map[string]error)},
	}
	fx.svc = NewService(zap.NewNop().Sugar(), fx.store, fx.hub, fx.email, fx.push)
	return fx
}

func matchParams(recipientID int64) Params {
	return Params{
		RecipientID: recipientID,
		Type:        storage.NotificationMatch,
		ContextType: "match",
		ContextID:   11,
		Title:       "Nouveau match !",
		Message:     "Vous avez un nouveau match.",
	}
}

func TestSendPersistsAndBroadcasts(t *testing.T) {
	fx := newFixture()
	fx.store.addUser(7, allEnabled(7))
	fx.store.tokens[7] = []storage.DeviceToken{{ID: 1, UserID: 7, Token: "tok-a", IsActive: true}}

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.True(t, n.IsEmailSent)
	require.True(t, n.IsPushSent)

	require.Len(t, fx.store.created, 1)
	require.Equal(t, []string{"u@example.com"}, fx.email.sent)
	require.Equal(t, []string{"tok-a"}, fx.push.sent)
	require.Equal(t, []int64{n.ID}, fx.store.emailSentIDs)
	require.Equal(t, []int64{n.ID}, fx.store.pushSentIDs)

	require.Equal(t, []string{"user:7"}, fx.hub.groups)
	payload := fx.hub.payloads[0]
	require.Equal(t, "notification", fastjson.GetString(payload, "type"))
	require.Equal(t, "MATCH", fastjson.GetString(payload, "notification", "notification_type"))
	require.Equal(t, "Nouveau match !", fastjson.GetString(payload, "notification", "title"))
}

func TestSendUnknownRecipientNoop(t *testing.T) {
	fx := newFixture()

	n, err := fx.svc.Send(context.Background(), matchParams(99))
	require.NoError(t, err)
	require.Nil(t, n)
	require.Empty(t, fx.store.created)
	require.Empty(t, fx.hub.groups)
}

func TestSendDisabledCategoryNoop(t *testing.T) {
	fx := newFixture()
	prefs := allEnabled(7)
	prefs.Matches = false
	fx.store.addUser(7, prefs)

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.Nil(t, n)
	require.Empty(t, fx.store.created)
	require.Empty(t, fx.email.sent)
	require.Empty(t, fx.hub.groups)
}

func TestSendOtherCategoriesUnaffected(t *testing.T) {
	fx := newFixture()
	prefs := allEnabled(7)
	prefs.Matches = false
	fx.store.addUser(7, prefs)

	p := matchParams(7)
	p.Type = storage.NotificationLike
	p.ContextType = "like"

	n, err := fx.svc.Send(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Len(t, fx.store.created, 1)
}

func TestSendEmailDisabledByMasterToggle(t *testing.T) {
	fx := newFixture()
	prefs := allEnabled(7)
	prefs.ReceiveEmail = false
	fx.store.addUser(7, prefs)

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.False(t, n.IsEmailSent)
	require.Empty(t, fx.email.sent)
}

func TestSendEmailFailureRecordedNotRaised(t *testing.T) {
	fx := newFixture()
	fx.store.addUser(7, allEnabled(7))
	fx.email.err = errors.New("smtp refused")

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.False(t, n.IsEmailSent)
	require.Empty(t, fx.store.emailSentIDs)

	// the broadcast still happens
	require.Equal(t, []string{"user:7"}, fx.hub.groups)
}

func TestSendPushNoDevices(t *testing.T) {
	fx := newFixture()
	fx.store.addUser(7, allEnabled(7))

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.False(t, n.IsPushSent)
	require.Empty(t, fx.store.pushSentIDs)
}

func TestSendPushPartialDeliveryCounts(t *testing.T) {
	fx := newFixture()
	fx.store.addUser(7, allEnabled(7))
	fx.store.tokens[7] = []storage.DeviceToken{
		{ID: 1, UserID: 7, Token: "tok-dead", IsActive: true},
		{ID: 2, UserID: 7, Token: "tok-live", IsActive: true},
	}
	fx.push.failFor["tok-dead"] = errors.New("unregistered")

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.True(t, n.IsPushSent)
	require.Equal(t, []string{"tok-live"}, fx.push.sent)
}

func TestSendPushAllFailed(t *testing.T) {
	fx := newFixture()
	fx.store.addUser(7, allEnabled(7))
	fx.store.tokens[7] = []storage.DeviceToken{{ID: 1, UserID: 7, Token: "tok-dead", IsActive: true}}
	fx.push.failFor["tok-dead"] = errors.New("unregistered")

	n, err := fx.svc.Send(context.Background(), matchParams(7))
	require.NoError(t, err)
	require.NotNil(t, n)
	require.False(t, n.IsPushSent)
	require.Empty(t, fx.store.pushSentIDs)
}

func TestSendSkipFlags(t *testing.T) {
	fx := newFixture()
	fx.store.addUser(7, allEnabled(7))
	fx.store.tokens[7] = []storage.DeviceToken{{ID: 1, UserID: 7, Token: "tok-a", IsActive: true}}

	p := matchParams(7)
	p.SkipEmail = true
	p.SkipPush = true

	n, err := fx.svc.Send(context.Background(), p)
	require.NoError(t, err)
	require.NotNil(t, n)
	require.False(t, n.IsEmailSent)
	require.False(t, n.IsPushSent)
	require.Empty(t, fx.email.sent)
	require.Empty(t, fx.push.sent)
}
