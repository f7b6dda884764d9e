package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"github.com/MagloireKITIO/findam-rencontre/internal/storage/zapadapter"
)

var (
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotExist         = errors.New("user does not exist")
	ErrConversationNotFound = errors.New("conversation does not exist")
	ErrConversationInactive = errors.New("conversation is deactivated")
	ErrConversationBadUsers = errors.New("bad participants list")
	ErrNotParticipant       = errors.New("user is not a conversation participant")
	ErrMessageNotFound      = errors.New("message does not exist")
	ErrReceiptNotFound      = errors.New("receipt does not exist")
	ErrNotificationNotFound = errors.New("notification does not exist")
	ErrTokenNotFound        = errors.New("device token does not exist")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so helpers can run inside
// or outside a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// NewStore sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func NewStore(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close releases all pooled connections
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates a user together with its all-enabled notification preferences row.
// Both inserts share one transaction so a user never exists without preferences.
func (s *Store) CreateUser(ctx context.Context, username, email string) (int64, error) {
	s.logger.Debugf("Creating user (%s)", username)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	now := time.Now()

	var id int64
	sql := "insert into users (username, email, created_at) values ($1, $2, $3) returning id"
	err = tx.QueryRow(ctx, sql, username, email, now).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, ErrUserExists
		}
		return 0, err
	}

	sql = "insert into notification_preferences (user_id, created_at, updated_at) values ($1, $2, $2)"
	_, err = tx.Exec(ctx, sql, id, now)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debugf("Created user (%s) with id %d", username, id)

	return id, nil
}

// UserByID resolves a user by id
func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	var u User
	sql := "select id, trim(username), trim(email), created_at from users where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	return u, nil
}

// CreateConversation performs two-step transaction to create conversation
// (1. insert conversation record; 2. bulk insert on participants table) and returns its id
func (s *Store) CreateConversation(ctx context.Context, participants []int64) (int64, error) {
	s.logger.Debugf("Creating conversation with participants (%v)", participants)

	if len(participants) < 2 {
		return 0, ErrConversationBadUsers
	}
	seen := make(map[int64]struct{}, len(participants))
	for _, p := range participants {
		if _, ok := seen[p]; ok {
			return 0, ErrConversationBadUsers
		}
		seen[p] = struct{}{}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(context.Background())

	var id int64
	sql := "insert into conversations (is_active, created_at, updated_at) values (true, $1, $1) returning id"
	err = tx.QueryRow(ctx, sql, time.Now()).Scan(&id)
	if err != nil {
		return 0, err
	}

	var rows []participantRow
	for _, user := range participants {
		rows = append(rows, participantRow{
			conversationID: id,
			userID:         user,
		})
	}

	_, err = tx.CopyFrom(
		ctx,
		pgx.Identifier{"conversation_participants"},
		[]string{"conversation_id", "user_id"},
		copyFromBulk(rows),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return 0, ErrConversationBadUsers
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debugf("Created conversation with id %d", id)

	return id, nil
}

// DeactivateConversation flips the active flag off, keeping messages readable but
// rejecting new activity
func (s *Store) DeactivateConversation(ctx context.Context, id int64) error {
	tag, err := s.db.Exec(ctx, "update conversations set is_active = false where id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ConversationByID returns the conversation with its full participant set
func (s *Store) ConversationByID(ctx context.Context, id int64) (Conversation, error) {
	var c Conversation
	sql := `select c.id,
	               c.is_active,
	               c.created_at,
	               c.updated_at,
	               (select array_agg(cp.user_id order by cp.user_id)
	                  from conversation_participants cp
	                 where cp.conversation_id = c.id)
	          from conversations c
	         where c.id = $1`

	var participants pgtype.Int8Array
	err := s.db.QueryRow(ctx, sql, id).Scan(&c.ID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt, &participants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrConversationNotFound
		}
		return Conversation{}, err
	}

	if err := participants.AssignTo(&c.Participants); err != nil {
		return Conversation{}, err
	}

	return c, nil
}

// Participants returns the participant user ids of a conversation
func (s *Store) Participants(ctx context.Context, conversationID int64) ([]int64, error) {
	c, err := s.ConversationByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return c.Participants, nil
}

// AuthorizeParticipant checks that the conversation exists, is active and that user
// belongs to its participant set
func (s *Store) AuthorizeParticipant(ctx context.Context, userID, conversationID int64) error {
	sql := `select c.is_active,
	               exists (select 1
	                         from conversation_participants cp
	                        where cp.conversation_id = c.id and cp.user_id = $2)
	          from conversations c
	         where c.id = $1`

	var isActive, isParticipant bool
	err := s.db.QueryRow(ctx, sql, conversationID, userID).Scan(&isActive, &isParticipant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		return err
	}

	if !isParticipant {
		return ErrNotParticipant
	}
	if !isActive {
		return ErrConversationInactive
	}

	return nil
}

// CreateMessage persists a message from sender in a conversation, bumps the
// conversation activity timestamp and creates a SENT receipt for every other
// participant, all in one transaction
func (s *Store) CreateMessage(ctx context.Context, senderID, conversationID int64, content string, messageType MessageType) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in conversation (id: %d)", senderID, conversationID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(context.Background())

	var isActive bool
	err = tx.QueryRow(ctx, "select is_active from conversations where id = $1 for update", conversationID).Scan(&isActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrConversationNotFound
		}
		return Message{}, err
	}
	if !isActive {
		return Message{}, ErrConversationInactive
	}

	var participants pgtype.Int8Array
	sql := "select array_agg(user_id) from conversation_participants where conversation_id = $1"
	if err := tx.QueryRow(ctx, sql, conversationID).Scan(&participants); err != nil {
		return Message{}, err
	}

	var participantIDs []int64
	if err := participants.AssignTo(&participantIDs); err != nil {
		return Message{}, err
	}

	recipients := make([]int64, 0, len(participantIDs))
	isParticipant := false
	for _, p := range participantIDs {
		if p == senderID {
			isParticipant = true
			continue
		}
		recipients = append(recipients, p)
	}
	if !isParticipant {
		return Message{}, ErrNotParticipant
	}

	now := time.Now()

	m := Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Type:           messageType,
	}
	sql = `insert into messages (conversation_id, sender_id, content, message_type, created_at)
	       values ($1, $2, $3, $4, $5)
	       returning id, created_at`
	err = tx.QueryRow(ctx, sql, conversationID, senderID, content, string(messageType), now).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if err := tx.QueryRow(ctx, "select trim(username) from users where id = $1", senderID).Scan(&m.SenderUsername); err != nil {
		return Message{}, err
	}

	// activity timestamp is monotonically non-decreasing
	sql = "update conversations set updated_at = greatest(updated_at, $2) where id = $1"
	if _, err := tx.Exec(ctx, sql, conversationID, now); err != nil {
		return Message{}, err
	}

	if len(recipients) > 0 {
		sql = `insert into message_receipts (message_id, recipient_id, status, updated_at)
		       select $1, unnest($2::bigint[]), 'SENT', $3
		       on conflict (message_id, recipient_id) do nothing`
		if _, err := tx.Exec(ctx, sql, m.ID, recipients, now); err != nil {
			return Message{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return m, nil
}

// MessageByID returns a single message with its sender username
func (s *Store) MessageByID(ctx context.Context, id int64) (Message, error) {
	return s.messageByID(ctx, s.db, id)
}

func (s *Store) messageByID(ctx context.Context, q querier, id int64) (Message, error) {
	var m Message
	sql := `select m.id, m.conversation_id, m.sender_id, trim(u.username), m.content, m.message_type, m.is_read, m.created_at
	          from messages m
	          join users u on u.id = m.sender_id
	         where m.id = $1`
	err := q.QueryRow(ctx, sql, id).Scan(
		&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.Content, &m.Type, &m.IsRead, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotFound
		}
		return Message{}, err
	}

	return m, nil
}

// receiptCAS upgrades a (message, recipient) receipt to status, inserting it when
// absent. The status ranking in the conflict clause makes downgrades no-ops, so
// concurrent delivery/read races cannot regress a receipt.
const receiptCAS = `insert into message_receipts (message_id, recipient_id, status, updated_at)
values ($1, $2, $3, $4)
on conflict (message_id, recipient_id) do update
   set status = excluded.status, updated_at = excluded.updated_at
 where case message_receipts.status when 'SENT' then 1 when 'DELIVERED' then 2 else 3 end
     < case excluded.status when 'SENT' then 1 when 'DELIVERED' then 2 else 3 end`

// MarkMessageRead flips the read flag and upgrades the reader's receipt to READ.
// Marking an own message is a no-op and not an error; callers can detect it by
// comparing the returned sender id with userID.
func (s *Store) MarkMessageRead(ctx context.Context, userID, messageID int64) (Message, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	defer tx.Rollback(context.Background())

	m, err := s.messageByID(ctx, tx, messageID)
	if err != nil {
		return Message{}, err
	}

	if m.SenderID == userID {
		return m, nil
	}

	if _, err := tx.Exec(ctx, "update messages set is_read = true where id = $1", messageID); err != nil {
		return Message{}, err
	}
	m.IsRead = true

	if _, err := tx.Exec(ctx, receiptCAS, messageID, userID, string(ReceiptRead), time.Now()); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	s.logger.Debugf("Message (id: %d) marked as read by user (id: %d)", messageID, userID)

	return m, nil
}

// MarkDelivered upgrades receipts to DELIVERED for every unread message in the
// conversation not authored by userID, without downgrading READ receipts
func (s *Store) MarkDelivered(ctx context.Context, userID, conversationID int64) error {
	sql := `insert into message_receipts (message_id, recipient_id, status, updated_at)
	        select m.id, $2, 'DELIVERED', $3
	          from messages m
	         where m.conversation_id = $1
	           and m.sender_id <> $2
	           and not m.is_read
	        on conflict (message_id, recipient_id) do update
	           set status = excluded.status, updated_at = excluded.updated_at
	         where case message_receipts.status when 'SENT' then 1 when 'DELIVERED' then 2 else 3 end
	             < case excluded.status when 'SENT' then 1 when 'DELIVERED' then 2 else 3 end`
	_, err := s.db.Exec(ctx, sql, conversationID, userID, time.Now())
	return err
}

// ReceiptFor returns the receipt stored for a (message, recipient) pair
func (s *Store) ReceiptFor(ctx context.Context, messageID, recipientID int64) (Receipt, error) {
	var r Receipt
	sql := "select message_id, recipient_id, status, updated_at from message_receipts where message_id = $1 and recipient_id = $2"
	err := s.db.QueryRow(ctx, sql, messageID, recipientID).Scan(&r.MessageID, &r.RecipientID, &r.Status, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, ErrReceiptNotFound
		}
		return Receipt{}, err
	}

	return r, nil
}

// DeleteMessageForUser records a per-user hide marker; the message itself and other
// participants' view of it are unaffected. Repeated deletion is a no-op.
func (s *Store) DeleteMessageForUser(ctx context.Context, userID, messageID int64) error {
	if _, err := s.messageByID(ctx, s.db, messageID); err != nil {
		return err
	}

	sql := `insert into deleted_messages (message_id, user_id, deleted_at)
	        values ($1, $2, $3)
	        on conflict (message_id, user_id) do nothing`
	_, err := s.db.Exec(ctx, sql, messageID, userID, time.Now())
	return err
}

// UnreadCount counts messages from other participants that userID has not read and
// not hidden for themselves
func (s *Store) UnreadCount(ctx context.Context, userID, conversationID int64) (int64, error) {
	sql := `select count(*)
	          from messages m
	         where m.conversation_id = $1
	           and m.sender_id <> $2
	           and not m.is_read
	           and not exists (select 1 from deleted_messages d where d.message_id = m.id and d.user_id = $2)`

	var count int64
	if err := s.db.QueryRow(ctx, sql, conversationID, userID).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
