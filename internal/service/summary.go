package service

import (
	"context"

	"lingochat/internal/models"
)

func toMemberView(m models.ConversationMember) models.MemberView {
	view := models.MemberView{
		UserID:      m.UserID,
		Role:        m.Role,
		Nickname:    m.Nickname,
		DisplayName: m.DisplayName(),
		JoinedAt:    m.JoinedAt,
		User:        models.UserSummary{ID: m.UserID, Name: models.DefaultDisplayName},
	}
	if m.User != nil {
		view.User = m.User.Summary()
	}
	return view
}

func memberViews(members []models.ConversationMember) []models.MemberView {
	views := make([]models.MemberView, 0, len(members))
	for _, m := range members {
		views = append(views, toMemberView(m))
	}
	return views
}

// displayNames maps member ids to the name shown next to their messages.
func displayNames(members []models.ConversationMember) map[string]string {
	names := make(map[string]string, len(members))
	for i := range members {
		names[members[i].UserID] = members[i].DisplayName()
	}
	return names
}

// senderName resolves a display name for senders that may have left the conversation.
func senderName(names map[string]string, msg *models.Message) string {
	if name, ok := names[msg.SenderID]; ok {
		return name
	}
	if msg.Sender != nil && msg.Sender.Name != "" {
		return msg.Sender.Name
	}
	return models.DefaultDisplayName
}

// SummaryForUser renders conversationID from userID's point of view.
func (s *ConversationService) SummaryForUser(ctx context.Context, userID, conversationID string) (*models.ConversationSummary, error) {
	conv, me, err := s.memberView(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.buildSummary(ctx, conv, me)
}

// ListConversations returns userID's conversations, most recent activity first.
func (s *ConversationService) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	convs, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	out := make([]models.ConversationSummary, 0, len(convs))
	for i := range convs {
		me := findMember(&convs[i], userID)
		if me == nil {
			continue
		}
		summary, err := s.buildSummary(ctx, &convs[i], me)
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}
	return out, nil
}

func (s *ConversationService) buildSummary(ctx context.Context, conv *models.Conversation, me *models.ConversationMember) (*models.ConversationSummary, error) {
	summary := &models.ConversationSummary{
		ID:            conv.ID,
		Type:          conv.Type,
		Title:         conv.Title,
		MemberCount:   len(conv.Members),
		Members:       memberViews(conv.Members),
		MyRole:        me.Role,
		MyNickname:    me.Nickname,
		LastMessageAt: conv.LastMessageAt,
		CreatedAt:     conv.CreatedAt,
	}

	if !conv.IsGroup() {
		for i := range conv.Members {
			if conv.Members[i].UserID == me.UserID {
				continue
			}
			other := toMemberView(conv.Members[i]).User
			summary.OtherUser = &other
			break
		}
	}

	latest, err := s.msgs.LatestVisible(ctx, conv.ID, me.UserID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if latest != nil {
		summary.LastMessage = &models.MessagePreview{
			ID:         latest.ID,
			SenderID:   latest.SenderID,
			SenderName: senderName(displayNames(conv.Members), latest),
			Text:       models.PreviewText(latest),
			Type:       latest.Type,
			Revoked:    latest.IsRevoked(),
			CreatedAt:  latest.CreatedAt,
		}
	}

	var unread int64
	if conv.IsGroup() {
		unread, err = s.msgs.CountUnreadGroup(ctx, conv.ID, me.UserID, me.ReadWatermark())
	} else {
		unread, err = s.msgs.CountUnreadDirect(ctx, conv.ID, me.UserID)
	}
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	summary.UnreadCount = unread

	return summary, nil
}
