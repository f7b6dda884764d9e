package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v4"
)

// CreateNotification persists a notification row and returns it with id and
// creation time filled in
func (s *Store) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	s.logger.Debugf("Creating %s notification for user (id: %d)", n.Type, n.RecipientID)

	sql := `insert into notifications
	        (recipient_id, notification_type, context_type, context_id, actor_id,
	         title, message, image_url, action_url, action_text, created_at)
	        values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	        returning id, created_at`
	err := s.db.QueryRow(ctx, sql,
		n.RecipientID, string(n.Type), n.ContextType, n.ContextID, n.ActorID,
		n.Title, n.Message, n.ImageURL, n.ActionURL, n.ActionText, time.Now(),
	).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		return Notification{}, err
	}

	return n, nil
}

// NotificationByID returns a notification owned by recipientID
func (s *Store) NotificationByID(ctx context.Context, recipientID, id int64) (Notification, error) {
	var n Notification
	sql := `select id, recipient_id, notification_type, context_type, context_id, actor_id,
	               title, message, image_url, action_url, action_text,
	               is_read, is_email_sent, is_push_sent, created_at
	          from notifications
	         where id = $1 and recipient_id = $2`
	err := s.db.QueryRow(ctx, sql, id, recipientID).Scan(
		&n.ID, &n.RecipientID, &n.Type, &n.ContextType, &n.ContextID, &n.ActorID,
		&n.Title, &n.Message, &n.ImageURL, &n.ActionURL, &n.ActionText,
		&n.IsRead, &n.IsEmailSent, &n.IsPushSent, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotificationNotFound
		}
		return Notification{}, err
	}

	return n, nil
}

// UnreadNotifications returns up to limit unread notifications for a user,
// newest first
func (s *Store) UnreadNotifications(ctx context.Context, userID int64, limit int) ([]Notification, error) {
	sql := `select id, recipient_id, notification_type, context_type, context_id, actor_id,
	               title, message, image_url, action_url, action_text,
	               is_read, is_email_sent, is_push_sent, created_at
	          from notifications
	         where recipient_id = $1 and not is_read
	         order by created_at desc, id desc
	         limit $2`

	rows, err := s.db.Query(ctx, sql, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		err = rows.Scan(
			&n.ID, &n.RecipientID, &n.Type, &n.ContextType, &n.ContextID, &n.ActorID,
			&n.Title, &n.Message, &n.ImageURL, &n.ActionURL, &n.ActionText,
			&n.IsRead, &n.IsEmailSent, &n.IsPushSent, &n.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return notifications, nil
}

// MarkNotificationRead flips the read flag on a single notification owned by userID
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id int64) error {
	tag, err := s.db.Exec(ctx, "update notifications set is_read = true where id = $1 and recipient_id = $2", id, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllNotificationsRead flips the read flag on every unread notification of a
// user and returns how many rows changed
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, "update notifications set is_read = true where recipient_id = $1 and not is_read", userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// MarkNotificationEmailSent records a successful email delivery attempt
func (s *Store) MarkNotificationEmailSent(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, "update notifications set is_email_sent = true where id = $1", id)
	return err
}

// MarkNotificationPushSent records a successful push delivery attempt
func (s *Store) MarkNotificationPushSent(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, "update notifications set is_push_sent = true where id = $1", id)
	return err
}

// PreferencesFor returns the notification preferences of a user, lazily creating
// the all-enabled default row when absent
func (s *Store) PreferencesFor(ctx context.Context, userID int64) (Preferences, error) {
	sql := `insert into notification_preferences (user_id, created_at, updated_at)
	        values ($1, $2, $2)
	        on conflict (user_id) do nothing`
	if _, err := s.db.Exec(ctx, sql, userID, time.Now()); err != nil {
		return Preferences{}, err
	}

	var p Preferences
	sql = `select user_id, receive_email, receive_push, matches, messages, likes, events, subscription, system
	         from notification_preferences
	        where user_id = $1`
	err := s.db.QueryRow(ctx, sql, userID).Scan(
		&p.UserID, &p.ReceiveEmail, &p.ReceivePush,
		&p.Matches, &p.Messages, &p.Likes, &p.Events, &p.Subscription, &p.System,
	)
	if err != nil {
		return Preferences{}, err
	}

	return p, nil
}

// UpdatePreferences overwrites all preference toggles of a user
func (s *Store) UpdatePreferences(ctx context.Context, p Preferences) error {
	sql := `update notification_preferences
	           set receive_email = $2, receive_push = $3,
	               matches = $4, messages = $5, likes = $6, events = $7, subscription = $8, system = $9,
	               updated_at = $10
	         where user_id = $1`
	tag, err := s.db.Exec(ctx, sql,
		p.UserID, p.ReceiveEmail, p.ReceivePush,
		p.Matches, p.Messages, p.Likes, p.Events, p.Subscription, p.System,
		time.Now(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

// RegisterDevice stores a push token with last-registration-wins semantics: a token
// already owned by another user is reassigned to userID and reactivated.
func (s *Store) RegisterDevice(ctx context.Context, userID int64, token string, platform Platform, deviceName string) (DeviceToken, error) {
	s.logger.Debugf("Registering %s device token for user (id: %d)", platform, userID)

	sql := `insert into device_tokens (user_id, token, platform, device_name, is_active, created_at, last_used)
	        values ($1, $2, $3, nullif($4, ''), true, $5, $5)
	        on conflict (token) do update
	           set user_id = excluded.user_id,
	               platform = excluded.platform,
	               device_name = coalesce(excluded.device_name, device_tokens.device_name),
	               is_active = true,
	               last_used = excluded.last_used
	        returning id, user_id, token, platform, coalesce(device_name, ''), is_active, created_at, last_used`

	var d DeviceToken
	err := s.db.QueryRow(ctx, sql, userID, token, string(platform), deviceName, time.Now()).Scan(
		&d.ID, &d.UserID, &d.Token, &d.Platform, &d.DeviceName, &d.IsActive, &d.CreatedAt, &d.LastUsed,
	)
	if err != nil {
		return DeviceToken{}, err
	}

	return d, nil
}

// UnregisterDevice deactivates a token; an unknown token is reported to the caller
// only
func (s *Store) UnregisterDevice(ctx context.Context, token string) error {
	tag, err := s.db.Exec(ctx, "update device_tokens set is_active = false where token = $1", token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ActiveDeviceTokens returns every active push token owned by a user
func (s *Store) ActiveDeviceTokens(ctx context.Context, userID int64) ([]DeviceToken, error) {
	sql := `select id, user_id, token, platform, coalesce(device_name, ''), is_active, created_at, last_used
	          from device_tokens
	         where user_id = $1 and is_active`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []DeviceToken
	for rows.Next() {
		var d DeviceToken
		err = rows.Scan(&d.ID, &d.UserID, &d.Token, &d.Platform, &d.DeviceName, &d.IsActive, &d.CreatedAt, &d.LastUsed)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, d)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return tokens, nil
}
