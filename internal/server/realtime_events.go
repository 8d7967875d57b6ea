package server

import (
	"context"

	"lingochat/internal/models"
	"lingochat/internal/notifications"
	"lingochat/internal/observability"
	"lingochat/internal/service"
)

// The emit helpers are shared by the HTTP handlers and the websocket gateway
// so both surfaces produce identical events for the same mutation.

func (s *Server) emitSent(ctx context.Context, res *service.SendResult) {
	msg := res.Message
	// a conversation opened by this send is announced before its first message
	if res.ConversationCreated {
		s.dispatcher.ConversationAdded(ctx, msg.ConversationID, append([]string{msg.SenderID}, res.ReceiverIDs...))
	}
	s.dispatcher.Deliver(notifications.PlanNewMessage(msg.ConversationID, msg, res.ReceiverIDs)...)
}

func (s *Server) emitRead(res *service.ReadResult) {
	s.dispatcher.Deliver(notifications.PlanRead(res.ConversationID, res.UserID, res.ReadAt, res.Type)...)
}

func (s *Server) emitTyping(conversationID, userID string, isTyping bool) {
	s.dispatcher.Deliver(notifications.PlanTyping(conversationID, userID, isTyping)...)
}

// emitMembersChange notifies current members and refreshes their summaries.
func (s *Server) emitMembersChange(ctx context.Context, change notifications.MembersChange) {
	memberIDs, err := s.conversations.MemberIDs(ctx, change.ConversationID)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "emit_members_updated", err, map[string]interface{}{
			"conversation_id": change.ConversationID,
		})
		return
	}
	s.dispatcher.Deliver(notifications.PlanMembersUpdated(change, memberIDs)...)
	s.dispatcher.ConversationUpdated(ctx, change.ConversationID, memberIDs)
}

// emitConversationUpdated refreshes every member's summary of the conversation.
func (s *Server) emitConversationUpdated(ctx context.Context, conversationID string) {
	memberIDs, err := s.conversations.MemberIDs(ctx, conversationID)
	if err != nil {
		observability.LogAsyncOperationError(ctx, "emit_conversation_updated", err, map[string]interface{}{
			"conversation_id": conversationID,
		})
		return
	}
	s.dispatcher.ConversationUpdated(ctx, conversationID, memberIDs)
}

// emitDeparture handles both a voluntary leave and a removal. The departed
// user's connections stop receiving the conversation room.
func (s *Server) emitDeparture(ctx context.Context, res *service.LeaveResult, actorID, departedID string, reason notifications.MembersReason) {
	room := notifications.ChatRoom(res.ConversationID)

	if res.Deleted {
		for _, id := range res.FormerMemberIDs {
			s.registry.EvictFromRoom(id, room)
		}
		s.dispatcher.Deliver(notifications.PlanConversationDeleted(res.ConversationID, res.FormerMemberIDs)...)
		return
	}

	s.registry.EvictFromRoom(departedID, room)
	s.dispatcher.Deliver(notifications.PlanConversationRemoved(res.ConversationID, departedID)...)
	s.dispatcher.Deliver(notifications.PlanMembersUpdated(notifications.MembersChange{
		ConversationID: res.ConversationID,
		Reason:         reason,
		ActorID:        actorID,
		UserIDs:        []string{departedID},
	}, res.RemainingMemberIDs)...)
	s.dispatcher.ConversationUpdated(ctx, res.ConversationID, res.RemainingMemberIDs)
}

func (s *Server) emitMessageEdited(msg *models.Message) {
	s.dispatcher.Deliver(notifications.PlanMessageEdited(msg)...)
}

func (s *Server) emitMessageRevoked(msg *models.Message) {
	s.dispatcher.Deliver(notifications.PlanMessageRevoked(msg)...)
}

func (s *Server) emitReactions(res *service.ReactionResult) {
	s.dispatcher.Deliver(notifications.PlanReactions(res.ConversationID, res.MessageID, res.Reactions)...)
}

func (s *Server) emitHidden(userID string, msg *models.Message) {
	s.dispatcher.Deliver(notifications.PlanHidden(userID, msg.ConversationID, msg.ID)...)
}
