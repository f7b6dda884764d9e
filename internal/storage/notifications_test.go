package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	mytesting "github.com/MagloireKITIO/findam-rencontre/internal/testing"
)

func createNotification(t *testing.T, s *Store, recipientID int64, title string) Notification {
	t.Helper()

	n, err := s.CreateNotification(context.Background(), Notification{
		RecipientID: recipientID,
		Type:        NotificationSystem,
		ContextType: "system",
		Title:       title,
		Message:     "corps",
	})
	require.NoError(t, err)

	return n
}

func TestCreateNotification(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	created := createNotification(t, s, userID, "Bienvenue")
	require.NotZero(t, created.ID)

	n, err := s.NotificationByID(context.Background(), userID, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Bienvenue", n.Title)
	require.False(t, n.IsRead)
	require.False(t, n.IsEmailSent)
	require.False(t, n.IsPushSent)
}

func TestNotificationByIDScopedToRecipient(t *testing.T) {
	s := bootstrap(t)
	alice := createUser(t, s)
	bob := createUser(t, s)

	n := createNotification(t, s, alice, "Bienvenue")

	_, err := s.NotificationByID(context.Background(), bob, n.ID)
	require.Equal(t, ErrNotificationNotFound, err)
}

func TestUnreadNotificationsNewestFirst(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	first := createNotification(t, s, userID, "premier")
	second := createNotification(t, s, userID, "deuxieme")

	unread, err := s.UnreadNotifications(context.Background(), userID, 20)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	require.Equal(t, second.ID, unread[0].ID)
	require.Equal(t, first.ID, unread[1].ID)
}

func TestUnreadNotificationsLimit(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	for i := 0; i < 3; i++ {
		createNotification(t, s, userID, "titre")
	}

	unread, err := s.UnreadNotifications(context.Background(), userID, 2)
	require.NoError(t, err)
	require.Len(t, unread, 2)
}

func TestMarkNotificationRead(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)
	n := createNotification(t, s, userID, "Bienvenue")

	require.NoError(t, s.MarkNotificationRead(context.Background(), userID, n.ID))

	read, err := s.NotificationByID(context.Background(), userID, n.ID)
	require.NoError(t, err)
	require.True(t, read.IsRead)
}

func TestMarkNotificationReadUnknown(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	err := s.MarkNotificationRead(context.Background(), userID, -1)
	require.Equal(t, ErrNotificationNotFound, err)
}

func TestMarkNotificationReadOtherRecipient(t *testing.T) {
	s := bootstrap(t)
	alice := createUser(t, s)
	bob := createUser(t, s)
	n := createNotification(t, s, alice, "Bienvenue")

	err := s.MarkNotificationRead(context.Background(), bob, n.ID)
	require.Equal(t, ErrNotificationNotFound, err)
}

func TestMarkAllNotificationsRead(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	createNotification(t, s, userID, "un")
	createNotification(t, s, userID, "deux")

	count, err := s.MarkAllNotificationsRead(context.Background(), userID)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	count, err = s.MarkAllNotificationsRead(context.Background(), userID)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestNotificationDeliveryFlags(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)
	n := createNotification(t, s, userID, "Bienvenue")

	require.NoError(t, s.MarkNotificationEmailSent(context.Background(), n.ID))
	require.NoError(t, s.MarkNotificationPushSent(context.Background(), n.ID))

	flagged, err := s.NotificationByID(context.Background(), userID, n.ID)
	require.NoError(t, err)
	require.True(t, flagged.IsEmailSent)
	require.True(t, flagged.IsPushSent)
}

func TestUpdatePreferences(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	p, err := s.PreferencesFor(context.Background(), userID)
	require.NoError(t, err)

	p.Matches = false
	p.ReceiveEmail = false
	require.NoError(t, s.UpdatePreferences(context.Background(), p))

	updated, err := s.PreferencesFor(context.Background(), userID)
	require.NoError(t, err)
	require.False(t, updated.Matches)
	require.False(t, updated.ReceiveEmail)
	require.True(t, updated.Messages)
}

func TestUpdatePreferencesUnknownUser(t *testing.T) {
	s := bootstrap(t)

	err := s.UpdatePreferences(context.Background(), Preferences{UserID: -1})
	require.Equal(t, ErrUserNotExist, err)
}

func TestRegisterDevice(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	token := mytesting.RandString()
	d, err := s.RegisterDevice(context.Background(), userID, token, PlatformAndroid, "Pixel 7")
	require.NoError(t, err)
	require.Equal(t, userID, d.UserID)
	require.Equal(t, PlatformAndroid, d.Platform)
	require.True(t, d.IsActive)
}

func TestRegisterDeviceLastRegistrationWins(t *testing.T) {
	s := bootstrap(t)
	alice := createUser(t, s)
	bob := createUser(t, s)

	token := mytesting.RandString()
	_, err := s.RegisterDevice(context.Background(), alice, token, PlatformAndroid, "Pixel 7")
	require.NoError(t, err)

	d, err := s.RegisterDevice(context.Background(), bob, token, PlatformIOS, "")
	require.NoError(t, err)
	require.Equal(t, bob, d.UserID)
	require.Equal(t, PlatformIOS, d.Platform)
	// the stored name survives a registration without one
	require.Equal(t, "Pixel 7", d.DeviceName)

	aliceTokens, err := s.ActiveDeviceTokens(context.Background(), alice)
	require.NoError(t, err)
	require.Empty(t, aliceTokens)
}

func TestUnregisterDevice(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	token := mytesting.RandString()
	_, err := s.RegisterDevice(context.Background(), userID, token, PlatformWeb, "")
	require.NoError(t, err)

	require.NoError(t, s.UnregisterDevice(context.Background(), token))

	tokens, err := s.ActiveDeviceTokens(context.Background(), userID)
	require.NoError(t, err)
	require.Empty(t, tokens)
}

func TestUnregisterDeviceUnknown(t *testing.T) {
	s := bootstrap(t)

	err := s.UnregisterDevice(context.Background(), mytesting.RandString())
	require.Equal(t, ErrTokenNotFound, err)
}

func TestActiveDeviceTokens(t *testing.T) {
	s := bootstrap(t)
	userID := createUser(t, s)

	active := mytesting.RandString()
	inactive := mytesting.RandString()
	_, err := s.RegisterDevice(context.Background(), userID, active, PlatformAndroid, "")
	require.NoError(t, err)
	_, err = s.RegisterDevice(context.Background(), userID, inactive, PlatformIOS, "")
	require.NoError(t, err)
	require.NoError(t, s.UnregisterDevice(context.Background(), inactive))

	tokens, err := s.ActiveDeviceTokens(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	require.Equal(t, active, tokens[0].Token)
}
