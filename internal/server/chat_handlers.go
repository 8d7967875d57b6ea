package server

import (
	"lingochat/internal/models"
	"lingochat/internal/notifications"
	"lingochat/internal/service"

	"github.com/gofiber/fiber/v2"
)

// SendMessageRequest is the body of a message send, over HTTP or websocket.
type SendMessageRequest struct {
	ConversationID  string              `json:"conversationId,omitempty"`
	OtherUserID     string              `json:"otherUserId,omitempty"`
	Text            string              `json:"text"`
	Type            models.MessageType  `json:"type,omitempty"`
	Attachments     []models.Attachment `json:"attachments,omitempty"`
	ClientMessageID string              `json:"clientMessageId,omitempty"`
}

func (r SendMessageRequest) input(senderID string) service.SendInput {
	return service.SendInput{
		SenderID:        senderID,
		ConversationID:  r.ConversationID,
		OtherUserID:     r.OtherUserID,
		Text:            r.Text,
		Type:            r.Type,
		Attachments:     r.Attachments,
		ClientMessageID: r.ClientMessageID,
	}
}

// CreateGroupRequest is the body of POST /api/chat/groups.
type CreateGroupRequest struct {
	Title     string   `json:"title"`
	MemberIDs []string `json:"memberIds"`
}

type userIDsRequest struct {
	UserIDs []string `json:"userIds"`
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type titleRequest struct {
	Title string `json:"title"`
}

type roleRequest struct {
	Role models.MemberRole `json:"role"`
}

type ownerRequest struct {
	UserID string `json:"userId"`
}

type textRequest struct {
	Text string `json:"text"`
}

type emojiRequest struct {
	Emoji string `json:"emoji"`
}

func parseBody(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return models.NewValidationError("Invalid request body")
	}
	return nil
}

// ListConversations returns the caller's conversations, most recent activity first.
// @Summary List conversations
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Success 200 {array} models.ConversationSummary
// @Router /chat/conversations [get]
func (s *Server) ListConversations(c *fiber.Ctx) error {
	summaries, err := s.conversations.ListConversations(c.UserContext(), currentUserID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summaries)
}

// GetConversation returns the caller's summary of one conversation.
// @Summary Get a conversation
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} models.ConversationSummary
// @Router /chat/conversations/{id} [get]
func (s *Server) GetConversation(c *fiber.Ctx) error {
	summary, err := s.conversations.SummaryForUser(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(summary)
}

// OpenDirectConversation finds or creates the direct conversation with another user.
// @Summary Open a direct conversation
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param otherUserId path string true "Peer user ID"
// @Success 200 {object} models.ConversationSummary
// @Success 201 {object} models.ConversationSummary
// @Router /chat/with/{otherUserId} [post]
func (s *Server) OpenDirectConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	otherID, err := requiredParam(c, "otherUserId")
	if err != nil {
		return respondError(c, err)
	}

	conv, created, err := s.conversations.FindOrCreateDirect(ctx, userID, otherID)
	if err != nil {
		return respondError(c, err)
	}
	if created {
		s.dispatcher.ConversationAdded(ctx, conv.ID, []string{userID, otherID})
	}

	summary, err := s.conversations.SummaryForUser(ctx, userID, conv.ID)
	if err != nil {
		return respondError(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(summary)
}

// CreateGroup creates a group conversation owned by the caller.
// @Summary Create a group
// @Tags Chat
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param group body CreateGroupRequest true "Group"
// @Success 201 {object} map[string]interface{}
// @Router /chat/groups [post]
func (s *Server) CreateGroup(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var req CreateGroupRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	conv, err := s.conversations.CreateGroup(ctx, currentUserID(c), req.Title, req.MemberIDs)
	if err != nil {
		return respondError(c, err)
	}

	ids := make([]string, 0, len(conv.Members))
	for _, m := range conv.Members {
		ids = append(ids, m.UserID)
	}
	s.dispatcher.ConversationAdded(ctx, conv.ID, ids)

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversationId": conv.ID})
}

// ListMessages returns a window of history, oldest first.
// @Summary List messages
// @Description Returns a window of history, oldest first.
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Param limit query int false "Page size" default(40)
// @Param before query string false "RFC 3339 cursor"
// @Success 200 {array} models.Message
// @Router /chat/conversations/{id}/messages [get]
func (s *Server) ListMessages(c *fiber.Ctx) error {
	before, err := parseBefore(c)
	if err != nil {
		return respondError(c, err)
	}

	msgs, err := s.messages.ListMessages(c.UserContext(), currentUserID(c), c.Params("id"), service.ListMessagesInput{
		Limit:  service.ParseLimit(c.Query("limit")),
		Before: before,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msgs)
}

// SendMessage posts a message to a conversation.
// @Summary Send a message
// @Tags Chat
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Param message body SendMessageRequest true "Message"
// @Success 201 {object} models.Message
// @Router /chat/conversations/{id}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var req SendMessageRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	req.ConversationID = c.Params("id")
	req.OtherUserID = ""

	res, err := s.messages.Send(ctx, req.input(currentUserID(c)))
	if err != nil {
		return respondError(c, err)
	}
	s.emitSent(ctx, res)

	status := fiber.StatusCreated
	if !res.Created {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res.Message)
}

// MarkRead marks the conversation read for the caller.
// @Summary Mark a conversation read
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]interface{}
// @Router /chat/conversations/{id}/read [post]
func (s *Server) MarkRead(c *fiber.Ctx) error {
	res, err := s.messages.MarkRead(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	s.emitRead(res)
	return c.JSON(fiber.Map{"conversationId": res.ConversationID, "readAt": res.ReadAt})
}

// UpdateTitle renames a group.
func (s *Server) UpdateTitle(c *fiber.Ctx) error {
	ctx := c.UserContext()
	var req titleRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	conv, err := s.conversations.UpdateTitle(ctx, currentUserID(c), c.Params("id"), req.Title)
	if err != nil {
		return respondError(c, err)
	}
	s.emitConversationUpdated(ctx, conv.ID)
	return c.JSON(fiber.Map{"conversationId": conv.ID, "title": conv.Title})
}

// SetNickname sets the caller's own nickname in a conversation.
func (s *Server) SetNickname(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	var req nicknameRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	member, err := s.conversations.SetNickname(ctx, userID, c.Params("id"), req.Nickname)
	if err != nil {
		return respondError(c, err)
	}
	s.emitMembersChange(ctx, notifications.MembersChange{
		ConversationID: member.ConversationID,
		Reason:         notifications.ReasonNickname,
		ActorID:        userID,
		UserIDs:        []string{member.UserID},
		Nickname:       member.Nickname,
	})
	return c.JSON(member)
}

// SetNicknameForMember sets another member's nickname.
func (s *Server) SetNicknameForMember(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	var req nicknameRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	member, err := s.conversations.SetNicknameForMember(ctx, userID, c.Params("id"), c.Params("targetUserId"), req.Nickname)
	if err != nil {
		return respondError(c, err)
	}
	s.emitMembersChange(ctx, notifications.MembersChange{
		ConversationID: member.ConversationID,
		Reason:         notifications.ReasonNickname,
		ActorID:        userID,
		UserIDs:        []string{member.UserID},
		Nickname:       member.Nickname,
	})
	return c.JSON(member)
}

// ListMembers returns the members of a conversation.
func (s *Server) ListMembers(c *fiber.Ctx) error {
	members, err := s.conversations.ListMembers(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(members)
}

// AddMembers adds users to a group.
// @Summary Add group members
// @Tags Chat
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]interface{}
// @Router /chat/conversations/{id}/members [post]
func (s *Server) AddMembers(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	convID := c.Params("id")
	var req userIDsRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}

	res, err := s.conversations.AddMembers(ctx, userID, convID, req.UserIDs)
	if err != nil {
		return respondError(c, err)
	}
	if len(res.AddedIDs) > 0 {
		s.dispatcher.ConversationAdded(ctx, convID, res.AddedIDs)
		s.emitMembersChange(ctx, notifications.MembersChange{
			ConversationID: convID,
			Reason:         notifications.ReasonAdded,
			ActorID:        userID,
			UserIDs:        res.AddedIDs,
		})
	}

	added := res.AddedUsers
	if added == nil {
		added = []models.UserSummary{}
	}
	return c.JSON(fiber.Map{
		"addedUserIds": res.AddedIDs,
		"addedUsers":   added,
		"memberCount":  res.MemberCount,
	})
}

// RemoveMember removes another member from a group.
func (s *Server) RemoveMember(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	targetID := c.Params("userId")

	res, err := s.conversations.RemoveMember(ctx, userID, c.Params("id"), targetID)
	if err != nil {
		return respondError(c, err)
	}
	s.emitDeparture(ctx, res, userID, targetID, notifications.ReasonRemoved)
	return c.JSON(fiber.Map{"conversationId": res.ConversationID, "deleted": res.Deleted})
}

// SetMemberRole promotes or demotes a member.
func (s *Server) SetMemberRole(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	var req roleRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	member, err := s.conversations.SetMemberRole(ctx, userID, c.Params("id"), c.Params("userId"), req.Role)
	if err != nil {
		return respondError(c, err)
	}
	s.emitMembersChange(ctx, notifications.MembersChange{
		ConversationID: member.ConversationID,
		Reason:         notifications.ReasonRole,
		ActorID:        userID,
		UserIDs:        []string{member.UserID},
		Role:           member.Role,
	})
	return c.JSON(member)
}

// TransferOwnership hands the group to another member.
func (s *Server) TransferOwnership(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	convID := c.Params("id")
	var req ownerRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	if err := s.conversations.TransferOwnership(ctx, userID, convID, req.UserID); err != nil {
		return respondError(c, err)
	}
	s.emitMembersChange(ctx, notifications.MembersChange{
		ConversationID: convID,
		Reason:         notifications.ReasonRole,
		ActorID:        userID,
		UserIDs:        []string{req.UserID, userID},
		Role:           models.RoleOwner,
	})
	return c.JSON(fiber.Map{"conversationId": convID, "ownerId": req.UserID})
}

// LeaveConversation removes the caller from a conversation.
// @Summary Leave a conversation
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param id path string true "Conversation ID"
// @Success 200 {object} map[string]interface{}
// @Router /chat/conversations/{id}/leave [post]
func (s *Server) LeaveConversation(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	res, err := s.conversations.Leave(ctx, userID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	s.emitDeparture(ctx, res, userID, userID, notifications.ReasonLeft)
	return c.JSON(fiber.Map{"conversationId": res.ConversationID, "deleted": res.Deleted})
}

// EditMessage replaces the text of the caller's message.
func (s *Server) EditMessage(c *fiber.Ctx) error {
	var req textRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	msg, err := s.messages.Edit(c.UserContext(), currentUserID(c), c.Params("id"), req.Text)
	if err != nil {
		return respondError(c, err)
	}
	s.emitMessageEdited(msg)
	return c.JSON(msg)
}

// RevokeMessage deletes the caller's message for everyone.
// @Summary Revoke a message
// @Tags Chat
// @Security BearerAuth
// @Produce json
// @Param id path string true "Message ID"
// @Success 200 {object} models.Message
// @Router /chat/messages/{id} [delete]
func (s *Server) RevokeMessage(c *fiber.Ctx) error {
	msg, err := s.messages.Revoke(c.UserContext(), currentUserID(c), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	s.emitMessageRevoked(msg)
	return c.JSON(msg)
}

// HideMessage removes a message from the caller's own history.
func (s *Server) HideMessage(c *fiber.Ctx) error {
	userID := currentUserID(c)
	msg, err := s.messages.Hide(c.UserContext(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	s.emitHidden(userID, msg)
	return c.JSON(fiber.Map{"messageId": msg.ID, "hidden": true})
}

// ToggleReaction adds the caller's emoji or removes it when already present.
func (s *Server) ToggleReaction(c *fiber.Ctx) error {
	var req emojiRequest
	if err := parseBody(c, &req); err != nil {
		return respondError(c, err)
	}
	res, err := s.messages.ToggleReaction(c.UserContext(), currentUserID(c), c.Params("id"), req.Emoji)
	if err != nil {
		return respondError(c, err)
	}
	s.emitReactions(res)

	reactions := res.Reactions
	if reactions == nil {
		reactions = []models.MessageReaction{}
	}
	return c.JSON(fiber.Map{"messageId": res.MessageID, "added": res.Added, "reactions": reactions})
}
