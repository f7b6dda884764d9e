package ws

import (
	"encoding/json"
	"time"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage"
)

// Outbound event envelopes. Every frame written to a client carries a "type"
// discriminator; payload shapes mirror the persisted entities.

type messagePayload struct {
	ID             int64  `json:"id"`
	ConversationID int64  `json:"conversation_id"`
	SenderID       int64  `json:"sender_id"`
	SenderUsername string `json:"sender_username"`
	Content        string `json:"content"`
	MessageType    string `json:"message_type"`
	IsRead         bool   `json:"is_read"`
	IsSender       bool   `json:"is_sender"`
	CreatedAt      string `json:"created_at"`
}

func toMessagePayload(m storage.Message, recipientID int64) messagePayload {
	return messagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderUsername: m.SenderUsername,
		Content:        m.Content,
		MessageType:    string(m.Type),
		IsRead:         m.IsRead,
		IsSender:       m.SenderID == recipientID,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func newMessageEvent(m storage.Message, recipientID int64) []byte {
	return encode(struct {
		Type    string         `json:"type"`
		Message messagePayload `json:"message"`
	}{"new_message", toMessagePayload(m, recipientID)})
}

type conversationPayload struct {
	ID          int64           `json:"id"`
	IsActive    bool            `json:"is_active"`
	UpdatedAt   string          `json:"updated_at"`
	LastMessage *messagePayload `json:"last_message,omitempty"`
}

func conversationUpdateEvent(c storage.Conversation, last storage.Message, recipientID int64) []byte {
	lp := toMessagePayload(last, recipientID)
	return encode(struct {
		Type         string              `json:"type"`
		Conversation conversationPayload `json:"conversation"`
	}{"conversation_update", conversationPayload{
		ID:          c.ID,
		IsActive:    c.IsActive,
		UpdatedAt:   c.UpdatedAt.Format(time.RFC3339Nano),
		LastMessage: &lp,
	}})
}

func messageReadEvent(messageID, conversationID, readerID int64) []byte {
	return encode(struct {
		Type           string `json:"type"`
		MessageID      int64  `json:"message_id"`
		ConversationID int64  `json:"conversation_id"`
		ReaderID       int64  `json:"reader_id"`
	}{"message_read", messageID, conversationID, readerID})
}

func conversationJoinedEvent(conversationID int64) []byte {
	return encode(struct {
		Type           string `json:"type"`
		ConversationID int64  `json:"conversation_id"`
	}{"conversation_joined", conversationID})
}

func conversationLeftEvent(conversationID int64) []byte {
	return encode(struct {
		Type           string `json:"type"`
		ConversationID int64  `json:"conversation_id"`
	}{"conversation_left", conversationID})
}

func userTypingEvent(userID, conversationID int64) []byte {
	return encode(struct {
		Type           string `json:"type"`
		UserID         int64  `json:"user_id"`
		ConversationID int64  `json:"conversation_id"`
	}{"user_typing", userID, conversationID})
}

func errorEvent(message string) []byte {
	return encode(struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{"error", message})
}

type notificationPayload struct {
	ID          int64   `json:"id"`
	Type        string  `json:"notification_type"`
	ContextType string  `json:"context_type"`
	ContextID   int64   `json:"context_id"`
	ActorID     *int64  `json:"actor_id"`
	Title       string  `json:"title"`
	Message     string  `json:"message"`
	ImageURL    *string `json:"image_url"`
	ActionURL   *string `json:"action_url"`
	ActionText  *string `json:"action_text"`
	CreatedAt   string  `json:"created_at"`
}

func toNotificationPayload(n storage.Notification) notificationPayload {
	return notificationPayload{
		ID:          n.ID,
		Type:        string(n.Type),
		ContextType: n.ContextType,
		ContextID:   n.ContextID,
		ActorID:     n.ActorID,
		Title:       n.Title,
		Message:     n.Message,
		ImageURL:    n.ImageURL,
		ActionURL:   n.ActionURL,
		ActionText:  n.ActionText,
		CreatedAt:   n.CreatedAt.Format(time.RFC3339Nano),
	}
}

// NotificationEvent encodes the lightweight frame broadcast to a recipient's live
// connections after a notification row is persisted
func NotificationEvent(n storage.Notification) []byte {
	return encode(struct {
		Type         string              `json:"type"`
		Notification notificationPayload `json:"notification"`
	}{"notification", toNotificationPayload(n)})
}

func unreadNotificationsEvent(notifications []storage.Notification) []byte {
	payloads := make([]notificationPayload, 0, len(notifications))
	for _, n := range notifications {
		payloads = append(payloads, toNotificationPayload(n))
	}
	return encode(struct {
		Type          string                `json:"type"`
		Notifications []notificationPayload `json:"notifications"`
		Count         int                   `json:"count"`
	}{"unread_notifications", payloads, len(payloads)})
}

func notificationMarkedEvent(notificationID int64) []byte {
	return encode(struct {
		Type           string `json:"type"`
		NotificationID int64  `json:"notification_id"`
	}{"notification_marked_as_read", notificationID})
}

func allNotificationsMarkedEvent(count int64) []byte {
	return encode(struct {
		Type  string `json:"type"`
		Count int64  `json:"count"`
	}{"all_notifications_marked_as_read", count})
}

func encode(v interface{}) []byte {
	payload, err := json.Marshal(v)
	if err != nil {
		// event structs only hold marshalable fields
		panic(err)
	}
	return payload
}
