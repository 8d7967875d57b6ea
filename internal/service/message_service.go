package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"lingochat/internal/database"
	"lingochat/internal/models"
	"lingochat/internal/observability"
	"lingochat/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	maxMessageTextLen   = 10000
	maxAttachments      = 10
	maxClientIDLen      = 64
	maxEmojiBytes       = 16
	defaultMessageLimit = 40
	maxMessageLimit     = 100
)

// AttachmentRemover deletes stored attachment files.
type AttachmentRemover interface {
	DeleteByURL(ctx context.Context, url string) error
}

// MessageService validates and persists chat messages.
type MessageService struct {
	convs     repository.ConversationRepository
	msgs      repository.MessageRepository
	directory *ConversationService
	files     AttachmentRemover
	now       func() time.Time
}

// NewMessageService returns a new MessageService. files may be nil.
func NewMessageService(
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	directory *ConversationService,
	files AttachmentRemover,
) *MessageService {
	return &MessageService{
		convs:     convs,
		msgs:      msgs,
		directory: directory,
		files:     files,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *MessageService) SetClock(now func() time.Time) {
	s.now = now
}

// SendInput is the input for sending a message. Exactly one of
// ConversationID and OtherUserID identifies the target.
type SendInput struct {
	SenderID        string
	ConversationID  string
	OtherUserID     string
	Text            string
	Type            models.MessageType
	Attachments     []models.Attachment
	ClientMessageID string
}

// SendResult is the outcome of Send.
type SendResult struct {
	Message          *models.Message
	ConversationType models.ConversationType
	ReceiverIDs      []string
	// Created is false when the client message id replayed an earlier send.
	Created bool
	// ConversationCreated is true when this send created a direct conversation or
	// restored a participant who had left it.
	ConversationCreated bool
}

// ListMessagesInput selects a window of history.
type ListMessagesInput struct {
	Limit  int
	Before *time.Time
}

// ReadResult is the outcome of MarkRead.
type ReadResult struct {
	ConversationID string
	UserID         string
	ReadAt         time.Time
	Type           models.ConversationType
}

// ReactionResult is the outcome of ToggleReaction.
type ReactionResult struct {
	MessageID      string
	ConversationID string
	Added          bool
	Reactions      []models.MessageReaction
}

func inferType(in models.MessageType, attachments []models.Attachment) (models.MessageType, error) {
	if in != "" {
		t := models.MessageType(strings.ToUpper(string(in)))
		if !t.Valid() {
			return "", models.NewValidationError("Unknown message type")
		}
		return t, nil
	}
	if len(attachments) == 0 {
		return models.MessageText, nil
	}
	for _, a := range attachments {
		if !strings.HasPrefix(a.Mime, "image/") {
			return models.MessageFile, nil
		}
	}
	return models.MessageImage, nil
}

// Send persists a message. A repeated ClientMessageID from the same sender
// returns the original message instead of creating a new one.
func (s *MessageService) Send(ctx context.Context, in SendInput) (*SendResult, error) {
	span, ctx := observability.NewSpan(ctx, "message.send")
	defer span.End()

	if strings.TrimSpace(in.Text) == "" && len(in.Attachments) == 0 {
		return nil, models.NewValidationError("Message text or an attachment is required")
	}
	if utf8.RuneCountInString(in.Text) > maxMessageTextLen {
		return nil, models.NewValidationError("Message text too long (max 10000 characters)")
	}
	if len(in.Attachments) > maxAttachments {
		return nil, models.NewValidationError("Too many attachments (max 10)")
	}
	for _, a := range in.Attachments {
		if strings.TrimSpace(a.URL) == "" {
			return nil, models.NewValidationError("Attachment url is required")
		}
	}
	msgType, err := inferType(in.Type, in.Attachments)
	if err != nil {
		return nil, err
	}
	clientID := strings.TrimSpace(in.ClientMessageID)
	if len(clientID) > maxClientIDLen {
		return nil, models.NewValidationError("clientMessageId is too long")
	}

	conv, convCreated, err := s.resolveConversation(ctx, in)
	if err != nil {
		span.SetError(err)
		return nil, err
	}
	sender := findMember(conv, in.SenderID)
	if sender == nil {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}

	receivers := make([]string, 0, len(conv.Members))
	for _, m := range conv.Members {
		if m.UserID != in.SenderID {
			receivers = append(receivers, m.UserID)
		}
	}
	result := &SendResult{
		ConversationType:    conv.Type,
		ReceiverIDs:         receivers,
		ConversationCreated: convCreated,
	}
	span.AddAttributes(attribute.String("conversation_id", conv.ID), attribute.Bool("client_id", clientID != ""))

	if clientID != "" {
		existing, err := s.replay(ctx, clientID, in.SenderID, conv.ID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.SenderDisplayName = sender.DisplayName()
			result.Message = existing
			observability.MessagesSent.WithLabelValues(string(existing.Type), "true").Inc()
			return result, nil
		}
	} else {
		clientID = uuid.NewString()
	}

	msg := &models.Message{
		ID:             clientID,
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Text:           in.Text,
		Type:           msgType,
		Attachments:    models.Attachments(in.Attachments),
		CreatedAt:      s.now(),
	}
	if !conv.IsGroup() && len(receivers) == 1 {
		receiver := receivers[0]
		msg.ReceiverID = &receiver
	}

	if err := s.msgs.Create(ctx, msg); err != nil {
		if !database.IsUniqueViolation(err) {
			span.SetError(err)
			return nil, models.NewInternalError(err)
		}
		existing, replayErr := s.replay(ctx, clientID, in.SenderID, conv.ID)
		if replayErr != nil {
			return nil, replayErr
		}
		if existing == nil {
			return nil, models.NewInternalError(err)
		}
		existing.SenderDisplayName = sender.DisplayName()
		result.Message = existing
		observability.MessagesSent.WithLabelValues(string(existing.Type), "true").Inc()
		return result, nil
	}

	if err := s.convs.TouchLastMessageAt(ctx, conv.ID, msg.CreatedAt); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to update conversation activity",
			slog.String("conversation_id", conv.ID),
			slog.String("error", err.Error()),
		)
	}

	stored, err := s.msgs.GetByID(ctx, msg.ID)
	if err != nil {
		return nil, repoError(err, "Message", msg.ID)
	}
	stored.SenderDisplayName = sender.DisplayName()

	result.Message = stored
	result.Created = true
	observability.MessagesSent.WithLabelValues(string(stored.Type), "false").Inc()
	return result, nil
}

func (s *MessageService) resolveConversation(ctx context.Context, in SendInput) (*models.Conversation, bool, error) {
	if in.ConversationID != "" {
		conv, err := s.convs.GetByID(ctx, in.ConversationID)
		if err != nil {
			return nil, false, repoError(err, "Conversation", in.ConversationID)
		}
		// a direct message still reaches a peer who left; only a current
		// participant can bring them back
		if findMember(conv, in.SenderID) == nil {
			return conv, false, nil
		}
		return s.directory.ReopenDirect(ctx, conv)
	}
	if in.OtherUserID == "" {
		return nil, false, models.NewValidationError("conversationId or otherUserId is required")
	}
	return s.directory.FindOrCreateDirect(ctx, in.SenderID, in.OtherUserID)
}

// replay returns the message stored under id when senderID sent it to
// conversationID, nil when no such message exists, and Conflict when the id
// belongs to another sender or conversation.
func (s *MessageService) replay(ctx context.Context, id, senderID, conversationID string) (*models.Message, error) {
	existing, err := s.msgs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, models.NewInternalError(err)
	}
	if existing.SenderID != senderID || existing.ConversationID != conversationID {
		return nil, models.NewConflictError("clientMessageId is already used by another message")
	}
	return existing, nil
}

// Edit replaces the text of one of the caller's messages.
func (s *MessageService) Edit(ctx context.Context, userID, messageID, text string) (*models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return nil, models.NewValidationError("Message text is required")
	}
	if utf8.RuneCountInString(text) > maxMessageTextLen {
		return nil, models.NewValidationError("Message text too long (max 10000 characters)")
	}

	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	if msg.IsRevoked() {
		return nil, models.NewValidationError("Cannot edit a revoked message")
	}
	if msg.SenderID != userID {
		return nil, models.NewForbiddenError("You can only edit your own messages")
	}

	if err := s.msgs.Update(ctx, messageID, map[string]interface{}{
		"text":      text,
		"edited_at": s.now(),
	}); err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	return s.reload(ctx, messageID)
}

// Revoke clears one of the caller's messages and removes attachment files no
// other message references.
// Revoking an already revoked message returns it unchanged.
func (s *MessageService) Revoke(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	if msg.SenderID != userID {
		return nil, models.NewForbiddenError("You can only revoke your own messages")
	}
	if msg.IsRevoked() {
		return s.annotate(ctx, msg), nil
	}

	s.removeFiles(ctx, msg)

	if err := s.msgs.Update(ctx, messageID, map[string]interface{}{
		"text":        "",
		"attachments": models.Attachments{},
		"deleted_at":  s.now(),
	}); err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	return s.reload(ctx, messageID)
}

func (s *MessageService) removeFiles(ctx context.Context, msg *models.Message) {
	if s.files == nil {
		return
	}
	for _, a := range msg.Attachments {
		// a file another message still shows stays on disk
		refs, err := s.msgs.CountAttachmentRefs(ctx, a.URL, msg.ID)
		if err != nil || refs > 0 {
			if err != nil {
				observability.GlobalLogger.WarnContext(ctx, "failed to check attachment references",
					slog.String("message_id", msg.ID),
					slog.String("url", a.URL),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if err := s.files.DeleteByURL(ctx, a.URL); err != nil {
			observability.AttachmentCleanupFailures.Inc()
			observability.GlobalLogger.WarnContext(ctx, "failed to delete attachment file",
				slog.String("message_id", msg.ID),
				slog.String("url", a.URL),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Hide removes a message from the caller's own history.
func (s *MessageService) Hide(ctx context.Context, userID, messageID string) (*models.Message, error) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	if _, err := s.directory.EnsureMember(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}
	if err := s.msgs.Hide(ctx, &models.MessageHidden{
		UserID:    userID,
		MessageID: messageID,
		CreatedAt: s.now(),
	}); err != nil {
		return nil, models.NewInternalError(err)
	}
	return msg, nil
}

// ToggleReaction adds the caller's emoji to a message, or removes it when already present.
func (s *MessageService) ToggleReaction(ctx context.Context, userID, messageID, emoji string) (*ReactionResult, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, models.NewValidationError("Emoji is required")
	}
	if len(emoji) > maxEmojiBytes {
		return nil, models.NewValidationError("Emoji is too long")
	}

	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	if _, err := s.directory.EnsureMember(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}
	if msg.IsRevoked() {
		return nil, models.NewValidationError("Cannot react to a revoked message")
	}

	added, err := s.msgs.ToggleReaction(ctx, &models.MessageReaction{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Emoji:     emoji,
		CreatedAt: s.now(),
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	reactions, err := s.msgs.ListReactions(ctx, messageID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return &ReactionResult{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		Added:          added,
		Reactions:      reactions,
	}, nil
}

// NormalizeLimit applies the default and the cap to a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultMessageLimit
	}
	if limit > maxMessageLimit {
		return maxMessageLimit
	}
	return limit
}

// ParseLimit parses a limit query value; malformed values fall back to the default.
func ParseLimit(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return defaultMessageLimit
	}
	return NormalizeLimit(n)
}

// ListMessages returns a window of history visible to userID in ascending order.
func (s *MessageService) ListMessages(ctx context.Context, userID, conversationID string, in ListMessagesInput) ([]models.Message, error) {
	if _, err := s.directory.EnsureMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.msgs.ListForViewer(ctx, conversationID, userID, in.Before, NormalizeLimit(in.Limit))
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	members, err := s.convs.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	names := displayNames(members)
	for i := range msgs {
		msgs[i].SenderDisplayName = senderName(names, &msgs[i])
	}
	return msgs, nil
}

// MarkRead moves the caller's read watermark to now. In direct conversations
// every message addressed to the caller is stamped read as well.
func (s *MessageService) MarkRead(ctx context.Context, userID, conversationID string) (*ReadResult, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoError(err, "Conversation", conversationID)
	}
	if findMember(conv, userID) == nil {
		return nil, models.NewForbiddenError("You are not a member of this conversation")
	}

	now := s.now()
	if !conv.IsGroup() {
		if _, err := s.msgs.MarkDirectRead(ctx, conversationID, userID, now); err != nil {
			return nil, models.NewInternalError(err)
		}
	}
	if err := s.convs.UpdateMember(ctx, conversationID, userID, map[string]interface{}{"last_read_at": now}); err != nil {
		return nil, repoError(err, "Member", userID)
	}

	return &ReadResult{
		ConversationID: conversationID,
		UserID:         userID,
		ReadAt:         now,
		Type:           conv.Type,
	}, nil
}

func (s *MessageService) reload(ctx context.Context, messageID string) (*models.Message, error) {
	msg, err := s.msgs.GetByID(ctx, messageID)
	if err != nil {
		return nil, repoError(err, "Message", messageID)
	}
	return s.annotate(ctx, msg), nil
}

// annotate fills the sender display name; lookup failures fall back to the profile name.
func (s *MessageService) annotate(ctx context.Context, msg *models.Message) *models.Message {
	names := map[string]string{}
	if member, err := s.convs.GetMember(ctx, msg.ConversationID, msg.SenderID); err == nil {
		names[member.UserID] = member.DisplayName()
	}
	msg.SenderDisplayName = senderName(names, msg)
	return msg
}
