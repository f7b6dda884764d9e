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

// ChatStore is the slice of the durable store the chat protocol needs.
type ChatStore interface {
	AuthorizeParticipant(ctx context.Context, userID, conversationID int64) error
	ConversationByID(ctx context.Context, id int64) (storage.Conversation, error)
	CreateMessage(ctx context.Context, senderID, conversationID int64, content string, messageType storage.MessageType) (storage.Message, error)
	MarkMessageRead(ctx context.Context, userID, messageID int64) (storage.Message, error)
	MarkDelivered(ctx context.Context, userID, conversationID int64) error
}

// Authenticator admits or rejects a connection before any hub join happens.
type Authenticator interface {
	Authenticate(r *http.Request) (storage.User, error)
}

// ChatHandler upgrades authenticated requests on the chat endpoint and runs the
// message fan-out protocol over each resulting connection.
type ChatHandler struct {
	logger   *zap.SugaredLogger
	hub      *Hub
	store    ChatStore
	auth     Authenticator
	upgrader websocket.Upgrader
	parsers  fastjson.ParserPool
}

func NewChatHandler(logger *zap.SugaredLogger, hub *Hub, store ChatStore, auth Authenticator) *ChatHandler {
	return &ChatHandler{
		logger: logger,
		hub:    hub,
		store:  store,
		auth:   auth,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
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
	sess := &chatSession{handler: h, client: c, user: user}
	c.handle = sess.handle

	h.hub.Join(UserGroup(user.ID), c)
	h.logger.Infow("chat connection opened", "connection_id", c.ID, "user_id", user.ID)

	go c.serve()
}

// chatSession holds per-connection protocol state for the chat endpoint
type chatSession struct {
	handler *ChatHandler
	client  *Client
	user    storage.User
}

func (s *chatSession) handle(ctx context.Context, raw []byte) {
	parser := s.handler.parsers.Get()
	defer s.handler.parsers.Put(parser)

	v, err := parser.ParseBytes(raw)
	if err != nil {
		s.client.Send(errorEvent("malformed payload"))
		return
	}

	switch action := string(v.GetStringBytes("action")); action {
	case "send_message":
		s.sendMessage(ctx, v)
	case "mark_as_read":
		s.markAsRead(ctx, v)
	case "join_conversation":
		s.joinConversation(ctx, v)
	case "leave_conversation":
		s.leaveConversation(v)
	case "typing":
		s.typing(ctx, v)
	default:
		s.client.Send(errorEvent("unsupported action"))
	}
}

func (s *chatSession) sendMessage(ctx context.Context, v *fastjson.Value) {
	conversationID := v.GetInt64("conversation_id")
	content := string(v.GetStringBytes("content"))
	if conversationID < 1 || len(content) == 0 {
		s.client.Send(errorEvent("send_message requires conversation_id and content"))
		return
	}

	messageType := storage.MessageText
	if raw := v.GetStringBytes("message_type"); len(raw) > 0 {
		messageType = storage.MessageType(raw)
		if !storage.ValidMessageType(messageType) {
			s.client.Send(errorEvent("unsupported message type"))
			return
		}
	}

	m, err := s.handler.store.CreateMessage(ctx, s.user.ID, conversationID, content, messageType)
	if err != nil {
		s.fail(err)
		return
	}

	conversation, err := s.handler.store.ConversationByID(ctx, conversationID)
	if err != nil {
		s.fail(err)
		return
	}

	// a recipient must observe the new message before the conversation update;
	// per-connection FIFO delivery keeps this pair ordered
	for _, participant := range conversation.Participants {
		group := UserGroup(participant)
		s.handler.hub.Broadcast(group, newMessageEvent(m, participant))
		s.handler.hub.Broadcast(group, conversationUpdateEvent(conversation, m, participant))
	}
}

func (s *chatSession) markAsRead(ctx context.Context, v *fastjson.Value) {
	messageID := v.GetInt64("message_id")
	if messageID < 1 {
		s.client.Send(errorEvent("mark_as_read requires message_id"))
		return
	}

	m, err := s.handler.store.MarkMessageRead(ctx, s.user.ID, messageID)
	if err != nil {
		s.fail(err)
		return
	}

	// reading an own message changes nothing and notifies no one
	if m.SenderID == s.user.ID {
		return
	}

	s.handler.hub.Broadcast(UserGroup(m.SenderID), messageReadEvent(m.ID, m.ConversationID, s.user.ID))
}

func (s *chatSession) joinConversation(ctx context.Context, v *fastjson.Value) {
	conversationID := v.GetInt64("conversation_id")
	if conversationID < 1 {
		s.client.Send(errorEvent("join_conversation requires conversation_id"))
		return
	}

	if err := s.handler.store.AuthorizeParticipant(ctx, s.user.ID, conversationID); err != nil {
		s.fail(err)
		return
	}

	if err := s.handler.store.MarkDelivered(ctx, s.user.ID, conversationID); err != nil {
		s.fail(err)
		return
	}

	s.handler.hub.Join(ConversationGroup(conversationID), s.client)
	s.client.Send(conversationJoinedEvent(conversationID))
}

func (s *chatSession) leaveConversation(v *fastjson.Value) {
	conversationID := v.GetInt64("conversation_id")
	if conversationID < 1 {
		s.client.Send(errorEvent("leave_conversation requires conversation_id"))
		return
	}

	s.handler.hub.Leave(ConversationGroup(conversationID), s.client)
	s.client.Send(conversationLeftEvent(conversationID))
}

func (s *chatSession) typing(ctx context.Context, v *fastjson.Value) {
	conversationID := v.GetInt64("conversation_id")
	if conversationID < 1 {
		s.client.Send(errorEvent("typing requires conversation_id"))
		return
	}

	if err := s.handler.store.AuthorizeParticipant(ctx, s.user.ID, conversationID); err != nil {
		s.fail(err)
		return
	}

	conversation, err := s.handler.store.ConversationByID(ctx, conversationID)
	if err != nil {
		s.fail(err)
		return
	}

	for _, participant := range conversation.Participants {
		if participant == s.user.ID {
			continue
		}
		s.handler.hub.Broadcast(UserGroup(participant), userTypingEvent(s.user.ID, conversationID))
	}
}

// fail reports a per-action failure to the originating connection only; the
// connection itself survives
func (s *chatSession) fail(err error) {
	switch {
	case errors.Is(err, storage.ErrConversationNotFound):
		s.client.Send(errorEvent("conversation not found"))
	case errors.Is(err, storage.ErrConversationInactive):
		s.client.Send(errorEvent("conversation is inactive"))
	case errors.Is(err, storage.ErrNotParticipant):
		s.client.Send(errorEvent("not a conversation participant"))
	case errors.Is(err, storage.ErrMessageNotFound):
		s.client.Send(errorEvent("message not found"))
	default:
		s.handler.logger.Errorw("chat action failed", "connection_id", s.client.ID, "user_id", s.user.ID, "error", err)
		s.client.Send(errorEvent("internal error"))
	}
}
