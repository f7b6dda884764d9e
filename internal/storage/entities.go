package storage

import "time"

type User struct {
	ID        int64
	Username  string
	Email     string
	CreatedAt time.Time
}

type Conversation struct {
	ID           int64
	Participants []int64
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageImage    MessageType = "IMAGE"
	MessageAudio    MessageType = "AUDIO"
	MessageVideo    MessageType = "VIDEO"
	MessageLocation MessageType = "LOCATION"
)

// ValidMessageType reports whether t is one of the supported message type tags.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageText, MessageImage, MessageAudio, MessageVideo, MessageLocation:
		return true
	}
	return false
}

type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	SenderUsername string
	Content        string
	Type           MessageType
	IsRead         bool
	CreatedAt      time.Time
}

// ReceiptStatus orders as SENT < DELIVERED < READ; a stored status never regresses.
type ReceiptStatus string

const (
	ReceiptSent      ReceiptStatus = "SENT"
	ReceiptDelivered ReceiptStatus = "DELIVERED"
	ReceiptRead      ReceiptStatus = "READ"
)

type Receipt struct {
	MessageID   int64
	RecipientID int64
	Status      ReceiptStatus
	UpdatedAt   time.Time
}

type NotificationType string

const (
	NotificationMatch        NotificationType = "MATCH"
	NotificationMessage      NotificationType = "MESSAGE"
	NotificationLike         NotificationType = "LIKE"
	NotificationEvent        NotificationType = "EVENT"
	NotificationSubscription NotificationType = "SUBSCRIPTION"
	NotificationSystem       NotificationType = "SYSTEM"
)

type Notification struct {
	ID          int64
	RecipientID int64
	Type        NotificationType
	ContextType string
	ContextID   int64
	ActorID     *int64
	Title       string
	Message     string
	ImageURL    *string
	ActionURL   *string
	ActionText  *string
	IsRead      bool
	IsEmailSent bool
	IsPushSent  bool
	CreatedAt   time.Time
}

// Preferences holds per-category notification opt-ins plus the master email/push
// toggles. A user without a stored row gets all-enabled defaults.
type Preferences struct {
	UserID       int64
	ReceiveEmail bool
	ReceivePush  bool
	Matches      bool
	Messages     bool
	Likes        bool
	Events       bool
	Subscription bool
	System       bool
}

// Allows reports whether the per-category preference for t is enabled.
func (p Preferences) Allows(t NotificationType) bool {
	switch t {
	case NotificationMatch:
		return p.Matches
	case NotificationMessage:
		return p.Messages
	case NotificationLike:
		return p.Likes
	case NotificationEvent:
		return p.Events
	case NotificationSubscription:
		return p.Subscription
	case NotificationSystem:
		return p.System
	}
	return false
}

type Platform string

const (
	PlatformAndroid Platform = "ANDROID"
	PlatformIOS     Platform = "IOS"
	PlatformWeb     Platform = "WEB"
)

type DeviceToken struct {
	ID         int64
	UserID     int64
	Token      string
	Platform   Platform
	DeviceName string
	IsActive   bool
	CreatedAt  time.Time
	LastUsed   time.Time
}
