package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"

	"lingochat/internal/models"
	"lingochat/internal/observability"
)

const (
	chatRoomPrefix = "chat:"
	userRoomPrefix = "user:"
)

// ErrNotAuthenticated is returned when an unregistered connection tries to join a room.
var ErrNotAuthenticated = errors.New("connection is not authenticated")

// ChatRoom is the room of everyone viewing a conversation.
func ChatRoom(conversationID string) string {
	return chatRoomPrefix + conversationID
}

// UserRoom is the private channel of every connection of one user.
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

func roomKind(room string) string {
	switch {
	case strings.HasPrefix(room, chatRoomPrefix):
		return "chat"
	case strings.HasPrefix(room, userRoomPrefix):
		return "user"
	}
	return "other"
}

// MembershipChecker decides whether a user may join a conversation room.
type MembershipChecker interface {
	EnsureMember(ctx context.Context, userID, conversationID string) (*models.ConversationMember, error)
}

// Router maps room ids to the connections subscribed to them.
type Router struct {
	mu          sync.RWMutex
	rooms       map[string]map[*Client]struct{}
	clientRooms map[*Client]map[string]struct{}
	members     MembershipChecker
}

// NewRouter creates a Router. members may be nil, in which case
// JoinConversation refuses every join.
func NewRouter(members MembershipChecker) *Router {
	return &Router{
		rooms:       make(map[string]map[*Client]struct{}),
		clientRooms: make(map[*Client]map[string]struct{}),
		members:     members,
	}
}

// Join subscribes c to room. It reports false when c was already subscribed.
func (r *Router) Join(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.rooms[room]
	if !ok {
		subs = make(map[*Client]struct{})
		r.rooms[room] = subs
	}
	if _, exists := subs[c]; exists {
		return false
	}
	subs[c] = struct{}{}

	joined, ok := r.clientRooms[c]
	if !ok {
		joined = make(map[string]struct{})
		r.clientRooms[c] = joined
	}
	joined[room] = struct{}{}

	observability.RoomSubscriptions.WithLabelValues(roomKind(room)).Inc()
	return true
}

// Leave unsubscribes c from room.
func (r *Router) Leave(c *Client, room string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaveLocked(c, room)
}

func (r *Router) leaveLocked(c *Client, room string) bool {
	subs, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := subs[c]; !exists {
		return false
	}
	delete(subs, c)
	if len(subs) == 0 {
		delete(r.rooms, room)
	}
	if joined, ok := r.clientRooms[c]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(r.clientRooms, c)
		}
	}
	observability.RoomSubscriptions.WithLabelValues(roomKind(room)).Dec()
	return true
}

// LeaveAll unsubscribes c from every room and returns the rooms it left.
func (r *Router) LeaveAll(c *Client) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.clientRooms[c]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		r.leaveLocked(c, room)
	}
	return left
}

// JoinConversation subscribes c to the conversation room after checking membership.
// Rejected joins leave the router untouched.
func (r *Router) JoinConversation(ctx context.Context, c *Client, conversationID string) error {
	if c.UserID == "" {
		return ErrNotAuthenticated
	}
	if r.members == nil {
		return models.NewForbiddenError("You are not a member of this conversation")
	}
	if _, err := r.members.EnsureMember(ctx, c.UserID, conversationID); err != nil {
		return err
	}
	r.Join(c, ChatRoom(conversationID))
	return nil
}

// InRoom reports whether c is subscribed to room.
func (r *Router) InRoom(c *Client, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

// Rooms returns the rooms c is subscribed to.
func (r *Router) Rooms(c *Client) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.clientRooms[c]))
	for room := range r.clientRooms[c] {
		out = append(out, room)
	}
	return out
}

// Size returns the number of connections in room.
func (r *Router) Size(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Broadcast encodes e once and queues it on every connection in room.
// It returns the number of connections the frame was queued on.
func (r *Router) Broadcast(room string, e Event) int {
	payload, err := Encode(e)
	if err != nil {
		observability.GlobalLogger.Error("failed to encode event", "event", e.EventName(), "error", err.Error())
		return 0
	}
	return r.BroadcastRaw(room, payload)
}

// BroadcastRaw queues an already encoded frame on every connection in room.
func (r *Router) BroadcastRaw(room string, payload []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for c := range r.rooms[room] {
		if c.TrySend(payload) {
			sent++
		}
	}
	return sent
}

// BroadcastAll queues e on every subscribed connection.
func (r *Router) BroadcastAll(e Event) int {
	payload, err := Encode(e)
	if err != nil {
		observability.GlobalLogger.Error("failed to encode event", "event", e.EventName(), "error", err.Error())
		return 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	sent := 0
	for c := range r.clientRooms {
		if c.TrySend(payload) {
			sent++
		}
	}
	return sent
}

// SendTo queues e on a single connection.
func SendTo(c *Client, e Event) bool {
	payload, err := Encode(e)
	if err != nil {
		return false
	}
	return c.TrySend(payload)
}
