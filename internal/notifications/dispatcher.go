package notifications

import (
	"context"
	"time"

	"lingochat/internal/models"
	"lingochat/internal/observability"
)

// Delivery is one event addressed to one room.
type Delivery struct {
	Room  string
	Event Event
}

// SummaryProvider renders a conversation from one member's point of view.
type SummaryProvider interface {
	SummaryForUser(ctx context.Context, userID, conversationID string) (*models.ConversationSummary, error)
}

// PlanNewMessage targets the conversation room and the private room of every receiver,
// so receivers not viewing the conversation still get the message.
func PlanNewMessage(conversationID string, msg *models.Message, receiverIDs []string) []Delivery {
	ev := NewMessageEvent{ConversationID: conversationID, Message: msg}
	out := make([]Delivery, 0, len(receiverIDs)+1)
	out = append(out, Delivery{Room: ChatRoom(conversationID), Event: ev})
	for _, id := range receiverIDs {
		out = append(out, Delivery{Room: UserRoom(id), Event: ev})
	}
	return out
}

func PlanMessageEdited(msg *models.Message) []Delivery {
	return []Delivery{{
		Room: ChatRoom(msg.ConversationID),
		Event: MessageUpdateEvent{
			Type:           UpdateEdit,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Message:        msg,
		},
	}}
}

func PlanMessageRevoked(msg *models.Message) []Delivery {
	return []Delivery{{
		Room: ChatRoom(msg.ConversationID),
		Event: MessageUpdateEvent{
			Type:           UpdateDelete,
			ConversationID: msg.ConversationID,
			MessageID:      msg.ID,
			Message:        msg,
		},
	}}
}

func PlanReactions(conversationID, messageID string, reactions []models.MessageReaction) []Delivery {
	if reactions == nil {
		reactions = []models.MessageReaction{}
	}
	return []Delivery{{
		Room: ChatRoom(conversationID),
		Event: MessageUpdateEvent{
			Type:           UpdateReactions,
			ConversationID: conversationID,
			MessageID:      messageID,
			Reactions:      &reactions,
		},
	}}
}

// PlanHidden only reaches the viewer who hid the message.
func PlanHidden(actorID, conversationID, messageID string) []Delivery {
	return []Delivery{{
		Room: UserRoom(actorID),
		Event: MessageUpdateEvent{
			Type:           UpdateHidden,
			ConversationID: conversationID,
			MessageID:      messageID,
		},
	}}
}

func PlanTyping(conversationID, userID string, isTyping bool) []Delivery {
	return []Delivery{{
		Room:  ChatRoom(conversationID),
		Event: TypingEvent{ConversationID: conversationID, UserID: userID, IsTyping: isTyping},
	}}
}

func PlanRead(conversationID, userID string, readAt time.Time, convType models.ConversationType) []Delivery {
	return []Delivery{{
		Room: ChatRoom(conversationID),
		Event: ReadEvent{
			ConversationID:   conversationID,
			UserID:           userID,
			ReadAt:           readAt,
			ConversationType: convType,
		},
	}}
}

// MembersChange describes a membership mutation for PlanMembersUpdated.
type MembersChange struct {
	ConversationID string
	Reason         MembersReason
	ActorID        string
	UserIDs        []string
	Nickname       *string
	Role           models.MemberRole
}

// PlanMembersUpdated targets the conversation room and every current member.
func PlanMembersUpdated(change MembersChange, memberIDs []string) []Delivery {
	userIDs := change.UserIDs
	if userIDs == nil {
		userIDs = []string{}
	}
	ev := MembersUpdatedEvent{
		ConversationID: change.ConversationID,
		Reason:         change.Reason,
		ActorID:        change.ActorID,
		UserIDs:        userIDs,
		Nickname:       change.Nickname,
		Role:           string(change.Role),
	}
	out := make([]Delivery, 0, len(memberIDs)+1)
	out = append(out, Delivery{Room: ChatRoom(change.ConversationID), Event: ev})
	for _, id := range memberIDs {
		out = append(out, Delivery{Room: UserRoom(id), Event: ev})
	}
	return out
}

// PlanConversationRemoved tells a user who left or was removed to drop the conversation.
func PlanConversationRemoved(conversationID, userID string) []Delivery {
	room := UserRoom(userID)
	return []Delivery{
		{Room: room, Event: ConversationRemovedEvent{ConversationID: conversationID}},
		{Room: room, Event: MessageUpdateEvent{Type: UpdateConversationRemoved, ConversationID: conversationID}},
	}
}

// PlanConversationDeleted reaches every former member of a deleted conversation.
func PlanConversationDeleted(conversationID string, formerMemberIDs []string) []Delivery {
	out := make([]Delivery, 0, 2*len(formerMemberIDs))
	for _, id := range formerMemberIDs {
		room := UserRoom(id)
		out = append(out,
			Delivery{Room: room, Event: ConversationDeletedEvent{ConversationID: conversationID}},
			Delivery{Room: room, Event: MessageUpdateEvent{Type: UpdateConversationDeleted, ConversationID: conversationID}},
		)
	}
	return out
}

// Dispatcher pushes planned deliveries through a Router.
type Dispatcher struct {
	router    *Router
	summaries SummaryProvider
}

func NewDispatcher(router *Router, summaries SummaryProvider) *Dispatcher {
	return &Dispatcher{router: router, summaries: summaries}
}

// Deliver broadcasts each delivery and returns the number of frames queued.
func (d *Dispatcher) Deliver(deliveries ...Delivery) int {
	sent := 0
	for _, dl := range deliveries {
		sent += d.router.Broadcast(dl.Room, dl.Event)
		observability.DispatchedEvents.WithLabelValues(dl.Event.EventName(), roomKind(dl.Room)).Inc()
	}
	return sent
}

// ConversationUpdated sends each member its own summary and a bare marker to
// the conversation room. Summary failures skip that member.
func (d *Dispatcher) ConversationUpdated(ctx context.Context, conversationID string, memberIDs []string) {
	deliveries := make([]Delivery, 0, len(memberIDs)+1)
	for _, id := range memberIDs {
		summary := d.summaryFor(ctx, id, conversationID)
		if summary == nil {
			continue
		}
		deliveries = append(deliveries, Delivery{
			Room:  UserRoom(id),
			Event: ConversationUpdatedEvent{ConversationID: conversationID, Summary: summary},
		})
	}
	deliveries = append(deliveries, Delivery{
		Room:  ChatRoom(conversationID),
		Event: ConversationUpdatedEvent{ConversationID: conversationID},
	})
	d.Deliver(deliveries...)
}

// ConversationAdded sends each new member the conversation it was added to.
func (d *Dispatcher) ConversationAdded(ctx context.Context, conversationID string, userIDs []string) {
	deliveries := make([]Delivery, 0, len(userIDs))
	for _, id := range userIDs {
		summary := d.summaryFor(ctx, id, conversationID)
		if summary == nil {
			continue
		}
		deliveries = append(deliveries, Delivery{
			Room:  UserRoom(id),
			Event: ConversationAddedEvent{ConversationID: conversationID, Summary: summary},
		})
	}
	d.Deliver(deliveries...)
}

func (d *Dispatcher) summaryFor(ctx context.Context, userID, conversationID string) *models.ConversationSummary {
	if d.summaries == nil {
		return nil
	}
	summary, err := d.summaries.SummaryForUser(ctx, userID, conversationID)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "conversation_summary", err, map[string]interface{}{
			"user_id":         userID,
			"conversation_id": conversationID,
		})
		return nil
	}
	return summary
}
