package notifications

import (
	"encoding/json"
	"time"

	"lingochat/internal/models"
)

// Event names on the wire.
const (
	EventNewMessage          = "chat:new"
	EventMessageUpdate       = "chat:update"
	EventTyping              = "chat:typing"
	EventRead                = "chat:read"
	EventMembersUpdated      = "chat:members_updated"
	EventConversationUpdated = "chat:conversation_updated"
	EventConversationAdded   = "chat:conversation_added"
	EventConversationRemoved = "chat:conversation_removed"
	EventConversationDeleted = "chat:conversation_deleted"
	EventPresenceUpdate      = "presence:update"
	EventPresenceSnapshot    = "presence:snapshot"
	EventAck                 = "ack"
	EventError               = "error"
)

// Inbound request names. chat:typing and chat:read are also outbound.
const (
	RequestPresenceSync = "presence:sync"
	RequestJoin         = "chat:join"
	RequestLeave        = "chat:leave"
	RequestTyping       = EventTyping
	RequestRead         = EventRead
	RequestSend         = "chat:send"
)

// UpdateType discriminates chat:update payloads.
type UpdateType string

const (
	UpdateEdit                UpdateType = "EDIT"
	UpdateDelete              UpdateType = "DELETE"
	UpdateReactions           UpdateType = "REACTIONS"
	UpdateHidden              UpdateType = "HIDDEN"
	UpdateConversationRemoved UpdateType = "CONVERSATION_REMOVED"
	UpdateConversationDeleted UpdateType = "CONVERSATION_DELETED"
)

// MembersReason explains a chat:members_updated event.
type MembersReason string

const (
	ReasonAdded    MembersReason = "ADDED"
	ReasonLeft     MembersReason = "LEFT"
	ReasonRemoved  MembersReason = "REMOVED"
	ReasonNickname MembersReason = "NICKNAME"
	ReasonRole     MembersReason = "ROLE"
)

// Event is an outbound realtime event.
type Event interface {
	EventName() string
}

// Envelope is the wire shape of every frame.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Encode wraps e in its envelope.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(Envelope{Event: e.EventName(), Data: e})
}

type NewMessageEvent struct {
	ConversationID string          `json:"conversationId"`
	Message        *models.Message `json:"message"`
}

func (NewMessageEvent) EventName() string { return EventNewMessage }

// MessageUpdateEvent carries EDIT, DELETE, REACTIONS, HIDDEN and the
// conversation removal markers.
type MessageUpdateEvent struct {
	Type           UpdateType                `json:"type"`
	ConversationID string                    `json:"conversationId"`
	MessageID      string                    `json:"messageId,omitempty"`
	Message        *models.Message           `json:"message,omitempty"`
	Reactions      *[]models.MessageReaction `json:"reactions,omitempty"`
}

func (MessageUpdateEvent) EventName() string { return EventMessageUpdate }

type TypingEvent struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

func (TypingEvent) EventName() string { return EventTyping }

type ReadEvent struct {
	ConversationID   string                  `json:"conversationId"`
	UserID           string                  `json:"userId"`
	ReadAt           time.Time               `json:"readAt"`
	ConversationType models.ConversationType `json:"conversationType"`
}

func (ReadEvent) EventName() string { return EventRead }

type MembersUpdatedEvent struct {
	ConversationID string        `json:"conversationId"`
	Reason         MembersReason `json:"reason"`
	ActorID        string        `json:"actorId"`
	UserIDs        []string      `json:"userIds"`
	Nickname       *string       `json:"nickname,omitempty"`
	Role           string        `json:"role,omitempty"`
}

func (MembersUpdatedEvent) EventName() string { return EventMembersUpdated }

// ConversationUpdatedEvent is sent per member with that member's summary, and
// to the conversation room as a bare marker without one.
type ConversationUpdatedEvent struct {
	ConversationID string                      `json:"conversationId"`
	Summary        *models.ConversationSummary `json:"summary,omitempty"`
}

func (ConversationUpdatedEvent) EventName() string { return EventConversationUpdated }

type ConversationAddedEvent struct {
	ConversationID string                      `json:"conversationId"`
	Summary        *models.ConversationSummary `json:"summary,omitempty"`
}

func (ConversationAddedEvent) EventName() string { return EventConversationAdded }

type ConversationRemovedEvent struct {
	ConversationID string `json:"conversationId"`
}

func (ConversationRemovedEvent) EventName() string { return EventConversationRemoved }

type ConversationDeletedEvent struct {
	ConversationID string `json:"conversationId"`
}

func (ConversationDeletedEvent) EventName() string { return EventConversationDeleted }

type PresenceUpdateEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

func (PresenceUpdateEvent) EventName() string { return EventPresenceUpdate }

type PresenceSnapshotEvent struct {
	UserIDs []string `json:"userIds"`
}

func (PresenceSnapshotEvent) EventName() string { return EventPresenceSnapshot }

// AckEvent answers a client request that carried an ack id.
type AckEvent struct {
	Ack  string      `json:"ack"`
	OK   bool        `json:"ok"`
	Data interface{} `json:"data,omitempty"`
}

func (AckEvent) EventName() string { return EventAck }

// ErrorEvent reports a failed request. Ack is set when the request carried one.
type ErrorEvent struct {
	Ack     string `json:"ack,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (ErrorEvent) EventName() string { return EventError }
