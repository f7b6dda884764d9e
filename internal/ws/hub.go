package ws

import (
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// UserGroup is the broadcast address covering every live connection of a user
func UserGroup(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// ConversationGroup is the broadcast address for connections joined to a conversation
func ConversationGroup(conversationID int64) string {
	return "conversation:" + strconv.FormatInt(conversationID, 10)
}

// Hub maintains the live mapping from group names to connection sets and delivers
// broadcasts to every member of a named group. All maps are guarded by one mutex so
// join/leave/broadcast are individually atomic.
type Hub struct {
	logger *zap.SugaredLogger

	mu          sync.Mutex
	groups      map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		logger:      logger,
		groups:      make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
	}
}

// Join adds a connection to a group. Joining a group twice is a no-op.
func (h *Hub) Join(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]struct{})
	}
	h.groups[group][c] = struct{}{}

	if h.memberships[c] == nil {
		h.memberships[c] = make(map[string]struct{})
	}
	h.memberships[c][group] = struct{}{}
}

// Leave removes a connection from a group. Leaving a group the connection is not a
// member of is a no-op.
func (h *Hub) Leave(group string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(group, c)
}

func (h *Hub) leaveLocked(group string, c *Client) {
	if members, ok := h.groups[group]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if groups, ok := h.memberships[c]; ok {
		delete(groups, group)
	}
}

// Broadcast delivers payload to every connection currently in the group,
// best-effort. Each connection receives broadcasts in issuance order; a connection
// whose outbound buffer is full is evicted rather than allowed to stall the rest.
func (h *Hub) Broadcast(group string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var stalled []*Client
	for c := range h.groups[group] {
		select {
		case c.out <- payload:
		default:
			stalled = append(stalled, c)
		}
	}

	for _, c := range stalled {
		h.logger.Warnw("evicting slow consumer", "connection_id", c.ID, "user_id", c.UserID, "group", group)
		h.unregisterLocked(c)
	}
}

// send delivers payload to a single connection, used for acks and scoped errors
func (h *Hub) send(c *Client, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.out <- payload:
	default:
		h.logger.Warnw("evicting slow consumer", "connection_id", c.ID, "user_id", c.UserID)
		h.unregisterLocked(c)
	}
}

// Unregister removes a connection from every group it joined and closes its
// outbound channel. Safe to call more than once; it runs on every exit path of the
// connection's read pump.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	if c.closed {
		return
	}
	c.closed = true

	for group := range h.memberships[c] {
		if members, ok := h.groups[group]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.groups, group)
			}
		}
	}
	delete(h.memberships, c)

	close(c.out)
	c.cancel()
}

// GroupSize returns how many connections are currently in a group
func (h *Hub) GroupSize(group string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.groups[group])
}
