// Package service provides the chat business logic shared by the HTTP and
// websocket surfaces.
package service

import (
	"context"
	"errors"
	"log/slog"
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
	minGroupMembers   = 3
	maxTitleLength    = 120
	maxNicknameLength = 60
)

// ConversationService resolves direct and group conversations and manages membership.
type ConversationService struct {
	convs repository.ConversationRepository
	msgs  repository.MessageRepository
	users repository.UserRepository
	now   func() time.Time
}

// NewConversationService returns a new ConversationService.
func NewConversationService(
	convs repository.ConversationRepository,
	msgs repository.MessageRepository,
	users repository.UserRepository,
) *ConversationService {
	return &ConversationService{
		convs: convs,
		msgs:  msgs,
		users: users,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source.
func (s *ConversationService) SetClock(now func() time.Time) {
	s.now = now
}

// AddMembersResult describes the outcome of AddMembers.
type AddMembersResult struct {
	AddedIDs    []string
	AddedUsers  []models.UserSummary
	MemberCount int
}

// LeaveResult describes the outcome of a member leaving or being removed.
type LeaveResult struct {
	ConversationID     string
	Type               models.ConversationType
	Deleted            bool
	RemainingMemberIDs []string
	// FormerMemberIDs is the membership before the removal.
	FormerMemberIDs []string
}

func repoError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewInternalError(err)
}

func findMember(conv *models.Conversation, userID string) *models.ConversationMember {
	for i := range conv.Members {
		if conv.Members[i].UserID == userID {
			return &conv.Members[i]
		}
	}
	return nil
}

func memberIDs(conv *models.Conversation) []string {
	ids := make([]string, 0, len(conv.Members))
	for _, m := range conv.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// FindOrCreateDirect returns the direct conversation between userA and userB,
// creating it when none exists. A participant who left an existing pair is
// restored. The bool reports whether this call opened the conversation for
// someone, either by creating it or by restoring a participant.
func (s *ConversationService) FindOrCreateDirect(ctx context.Context, userA, userB string) (*models.Conversation, bool, error) {
	span, ctx := observability.NewSpan(ctx, "conversation.find_or_create_direct")
	defer span.End()

	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, false, models.NewValidationError("Both participants are required")
	}
	if userA == userB {
		return nil, false, models.NewValidationError("Cannot start a conversation with yourself")
	}
	if _, err := s.users.GetByID(ctx, userB); err != nil {
		span.SetError(err)
		return nil, false, err
	}

	key := models.DirectKey(userA, userB)
	span.AddAttributes(attribute.String("direct_key", key))

	conv, err := s.convs.GetByDirectKey(ctx, key)
	if err == nil {
		return s.ReopenDirect(ctx, conv)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		span.SetError(err)
		return nil, false, models.NewInternalError(err)
	}

	legacy, err := s.adoptLegacyDirect(ctx, userA, userB, key)
	if err != nil {
		return nil, false, err
	}
	if legacy != nil {
		return s.ReopenDirect(ctx, legacy)
	}

	now := s.now()
	conv = &models.Conversation{
		ID:          uuid.NewString(),
		Type:        models.ConversationDirect,
		DirectKey:   &key,
		CreatedByID: userA,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	members := []models.ConversationMember{
		{ConversationID: conv.ID, UserID: userA, Role: models.RoleMember, JoinedAt: now},
		{ConversationID: conv.ID, UserID: userB, Role: models.RoleMember, JoinedAt: now},
	}

	if err := s.convs.Create(ctx, conv, members); err != nil {
		if database.IsUniqueViolation(err) {
			// another request created the pair first
			winner, getErr := s.convs.GetByDirectKey(ctx, key)
			if getErr != nil {
				return nil, false, repoError(getErr, "Conversation", key)
			}
			return s.ReopenDirect(ctx, winner)
		}
		span.SetError(err)
		return nil, false, models.NewInternalError(err)
	}

	created, err := s.convs.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, repoError(err, "Conversation", conv.ID)
	}
	return created, true, nil
}

// ReopenDirect restores whichever side of a keyed direct conversation has
// left it. Groups and keyless rows are returned unchanged. The bool reports
// whether a member was restored.
func (s *ConversationService) ReopenDirect(ctx context.Context, conv *models.Conversation) (*models.Conversation, bool, error) {
	if conv.IsGroup() || conv.DirectKey == nil {
		return conv, false, nil
	}
	a, b, ok := models.SplitDirectKey(*conv.DirectKey)
	if !ok {
		return conv, false, nil
	}

	now := s.now()
	var missing []models.ConversationMember
	for _, id := range []string{a, b} {
		if findMember(conv, id) == nil {
			missing = append(missing, models.ConversationMember{
				ConversationID: conv.ID,
				UserID:         id,
				Role:           models.RoleMember,
				JoinedAt:       now,
			})
		}
	}
	if len(missing) == 0 {
		return conv, false, nil
	}

	if err := s.convs.AddMembers(ctx, missing); err != nil {
		return nil, false, models.NewInternalError(err)
	}
	observability.GlobalLogger.InfoContext(ctx, "restored direct conversation participant",
		slog.String("conversation_id", conv.ID),
		slog.Int("restored", len(missing)),
	)

	reloaded, err := s.convs.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, repoError(err, "Conversation", conv.ID)
	}
	return reloaded, true, nil
}

// adoptLegacyDirect backfills the pair key on the oldest keyless direct row for
// the pair. Newer duplicates are reported and left untouched.
func (s *ConversationService) adoptLegacyDirect(ctx context.Context, userA, userB, key string) (*models.Conversation, error) {
	legacy, err := s.convs.FindLegacyDirect(ctx, userA, userB)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	if len(legacy) == 0 {
		return nil, nil
	}

	winner := legacy[0]
	if len(legacy) > 1 {
		duplicates := make([]string, 0, len(legacy)-1)
		for _, c := range legacy[1:] {
			duplicates = append(duplicates, c.ID)
		}
		observability.GlobalLogger.WarnContext(ctx, "multiple legacy direct conversations for pair",
			slog.String("direct_key", key),
			slog.String("kept", winner.ID),
			slog.Any("duplicates", duplicates),
		)
	}

	if _, err := s.convs.BackfillDirectKey(ctx, winner.ID, key); err != nil {
		if !database.IsUniqueViolation(err) {
			return nil, models.NewInternalError(err)
		}
	}

	conv, err := s.convs.GetByDirectKey(ctx, key)
	if err != nil {
		return nil, repoError(err, "Conversation", key)
	}
	return conv, nil
}

// CreateGroup creates a group owned by creatorID. The creator is always a member.
func (s *ConversationService) CreateGroup(ctx context.Context, creatorID, title string, memberIDs []string) (*models.Conversation, error) {
	span, ctx := observability.NewSpan(ctx, "conversation.create_group")
	defer span.End()

	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.NewValidationError("Group title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, models.NewValidationError("Group title is too long")
	}

	ids := dedupeIDs(append([]string{creatorID}, memberIDs...))
	if len(ids) < minGroupMembers {
		return nil, models.NewValidationError("A group needs at least 3 members including you")
	}
	if err := s.requireUsers(ctx, ids); err != nil {
		return nil, err
	}

	now := s.now()
	conv := &models.Conversation{
		ID:          uuid.NewString(),
		Type:        models.ConversationGroup,
		Title:       &title,
		CreatedByID: ids[0],
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	members := make([]models.ConversationMember, 0, len(ids))
	for i, id := range ids {
		role := models.RoleMember
		if i == 0 {
			role = models.RoleOwner
		}
		members = append(members, models.ConversationMember{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           role,
			JoinedAt:       now,
		})
	}

	if err := s.convs.Create(ctx, conv, members); err != nil {
		span.SetError(err)
		return nil, models.NewInternalError(err)
	}
	span.AddAttributes(attribute.String("conversation_id", conv.ID), attribute.Int("members", len(ids)))

	created, err := s.convs.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, repoError(err, "Conversation", conv.ID)
	}
	return created, nil
}

func (s *ConversationService) requireUsers(ctx context.Context, ids []string) error {
	users, err := s.users.GetByIDs(ctx, ids)
	if err != nil {
		return err
	}
	found := make(map[string]struct{}, len(users))
	for _, u := range users {
		found[u.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			return models.NewNotFoundError("User", id)
		}
	}
	return nil
}

// EnsureMember returns userID's membership in conversationID.
// It fails with NotFound when the conversation does not exist and Forbidden
// when the user is not a member.
func (s *ConversationService) EnsureMember(ctx context.Context, userID, conversationID string) (*models.ConversationMember, error) {
	member, err := s.convs.GetMember(ctx, conversationID, userID)
	if err == nil {
		return member, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.NewInternalError(err)
	}
	if _, err := s.convs.GetByID(ctx, conversationID); err != nil {
		return nil, repoError(err, "Conversation", conversationID)
	}
	return nil, models.NewForbiddenError("You are not a member of this conversation")
}

// memberView loads the conversation and the caller's membership in it.
func (s *ConversationService) memberView(ctx context.Context, userID, conversationID string) (*models.Conversation, *models.ConversationMember, error) {
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, nil, repoError(err, "Conversation", conversationID)
	}
	me := findMember(conv, userID)
	if me == nil {
		return nil, nil, models.NewForbiddenError("You are not a member of this conversation")
	}
	return conv, me, nil
}

func (s *ConversationService) groupManager(ctx context.Context, actorID, conversationID string) (*models.Conversation, *models.ConversationMember, error) {
	conv, me, err := s.memberView(ctx, actorID, conversationID)
	if err != nil {
		return nil, nil, err
	}
	if !conv.IsGroup() {
		return nil, nil, models.NewValidationError("This action is only available for group conversations")
	}
	if !me.Role.CanManage() {
		return nil, nil, models.NewForbiddenError("Only the owner or an admin can do this")
	}
	return conv, me, nil
}

// AddMembers adds users to a group. Users already in the group are skipped.
func (s *ConversationService) AddMembers(ctx context.Context, actorID, conversationID string, userIDs []string) (*AddMembersResult, error) {
	conv, _, err := s.groupManager(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}

	ids := dedupeIDs(userIDs)
	if len(ids) == 0 {
		return nil, models.NewValidationError("userIds is required")
	}

	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if findMember(conv, id) == nil {
			fresh = append(fresh, id)
		}
	}
	result := &AddMembersResult{AddedIDs: fresh, MemberCount: len(conv.Members)}
	if len(fresh) == 0 {
		return result, nil
	}

	users, err := s.users.GetByIDs(ctx, fresh)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	now := s.now()
	members := make([]models.ConversationMember, 0, len(fresh))
	for _, id := range fresh {
		u, ok := byID[id]
		if !ok {
			return nil, models.NewNotFoundError("User", id)
		}
		result.AddedUsers = append(result.AddedUsers, u.Summary())
		members = append(members, models.ConversationMember{
			ConversationID: conv.ID,
			UserID:         id,
			Role:           models.RoleMember,
			JoinedAt:       now,
		})
	}

	if err := s.convs.AddMembers(ctx, members); err != nil {
		return nil, models.NewInternalError(err)
	}
	result.MemberCount += len(members)
	return result, nil
}

// normalizeNickname returns the column value for nickname; nil clears it.
func normalizeNickname(nickname string) (interface{}, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, nil
	}
	if utf8.RuneCountInString(nickname) > maxNicknameLength {
		return nil, models.NewValidationError("Nickname is too long")
	}
	return nickname, nil
}

// SetNickname sets (or clears, when empty) the caller's own nickname.
func (s *ConversationService) SetNickname(ctx context.Context, userID, conversationID, nickname string) (*models.ConversationMember, error) {
	if _, err := s.EnsureMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.applyNickname(ctx, conversationID, userID, nickname)
}

// SetNicknameForMember lets any member set the nickname of any other member.
func (s *ConversationService) SetNicknameForMember(ctx context.Context, actorID, conversationID, targetID, nickname string) (*models.ConversationMember, error) {
	if _, err := s.EnsureMember(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	if _, err := s.convs.GetMember(ctx, conversationID, targetID); err != nil {
		return nil, repoError(err, "Member", targetID)
	}
	return s.applyNickname(ctx, conversationID, targetID, nickname)
}

func (s *ConversationService) applyNickname(ctx context.Context, conversationID, userID, nickname string) (*models.ConversationMember, error) {
	value, err := normalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	if err := s.convs.UpdateMember(ctx, conversationID, userID, map[string]interface{}{"nickname": value}); err != nil {
		return nil, repoError(err, "Member", userID)
	}
	member, err := s.convs.GetMember(ctx, conversationID, userID)
	if err != nil {
		return nil, repoError(err, "Member", userID)
	}
	return member, nil
}

// UpdateTitle renames a group.
func (s *ConversationService) UpdateTitle(ctx context.Context, actorID, conversationID, title string) (*models.Conversation, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, models.NewValidationError("Group title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, models.NewValidationError("Group title is too long")
	}
	if _, _, err := s.groupManager(ctx, actorID, conversationID); err != nil {
		return nil, err
	}
	if err := s.convs.Update(ctx, conversationID, map[string]interface{}{"title": title}); err != nil {
		return nil, repoError(err, "Conversation", conversationID)
	}
	conv, err := s.convs.GetByID(ctx, conversationID)
	if err != nil {
		return nil, repoError(err, "Conversation", conversationID)
	}
	return conv, nil
}

// Leave removes userID from the conversation. The conversation is deleted
// once nobody is left. A group owner must transfer ownership before leaving
// while other members remain.
func (s *ConversationService) Leave(ctx context.Context, userID, conversationID string) (*LeaveResult, error) {
	span, ctx := observability.NewSpan(ctx, "conversation.leave", attribute.String("conversation_id", conversationID))
	defer span.End()

	conv, me, err := s.memberView(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.IsGroup() && me.Role == models.RoleOwner && len(conv.Members) > 1 {
		return nil, models.NewForbiddenError("Transfer ownership before leaving the group")
	}
	return s.removeMember(ctx, conv, userID)
}

func (s *ConversationService) removeMember(ctx context.Context, conv *models.Conversation, userID string) (*LeaveResult, error) {
	remaining, deleted, err := s.convs.RemoveMember(ctx, conv.ID, userID)
	if err != nil {
		return nil, repoError(err, "Member", userID)
	}
	return &LeaveResult{
		ConversationID:     conv.ID,
		Type:               conv.Type,
		Deleted:            deleted,
		RemainingMemberIDs: remaining,
		FormerMemberIDs:    memberIDs(conv),
	}, nil
}

// RemoveMember removes targetID from a group. Owners can remove anyone but
// themselves; admins can only remove plain members.
func (s *ConversationService) RemoveMember(ctx context.Context, actorID, conversationID, targetID string) (*LeaveResult, error) {
	conv, me, err := s.groupManager(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}
	if targetID == actorID {
		return nil, models.NewValidationError("Use leave to remove yourself")
	}
	target := findMember(conv, targetID)
	if target == nil {
		return nil, models.NewNotFoundError("Member", targetID)
	}
	if target.Role == models.RoleOwner {
		return nil, models.NewForbiddenError("The owner cannot be removed")
	}
	if me.Role == models.RoleAdmin && target.Role == models.RoleAdmin {
		return nil, models.NewForbiddenError("Admins cannot remove other admins")
	}
	return s.removeMember(ctx, conv, targetID)
}

// TransferOwnership hands the OWNER role to another member; the previous owner becomes ADMIN.
func (s *ConversationService) TransferOwnership(ctx context.Context, actorID, conversationID, targetID string) error {
	conv, me, err := s.memberView(ctx, actorID, conversationID)
	if err != nil {
		return err
	}
	if !conv.IsGroup() {
		return models.NewValidationError("This action is only available for group conversations")
	}
	if me.Role != models.RoleOwner {
		return models.NewForbiddenError("Only the owner can transfer ownership")
	}
	if targetID == actorID {
		return models.NewValidationError("You already own this group")
	}
	if findMember(conv, targetID) == nil {
		return models.NewNotFoundError("Member", targetID)
	}
	if err := s.convs.TransferOwnership(ctx, conversationID, actorID, targetID); err != nil {
		return repoError(err, "Member", targetID)
	}
	return nil
}

// SetMemberRole lets the owner promote or demote members between ADMIN and MEMBER.
func (s *ConversationService) SetMemberRole(ctx context.Context, actorID, conversationID, targetID string, role models.MemberRole) (*models.ConversationMember, error) {
	if role != models.RoleAdmin && role != models.RoleMember {
		return nil, models.NewValidationError("Role must be ADMIN or MEMBER")
	}
	conv, me, err := s.memberView(ctx, actorID, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, models.NewValidationError("This action is only available for group conversations")
	}
	if me.Role != models.RoleOwner {
		return nil, models.NewForbiddenError("Only the owner can change roles")
	}
	if targetID == actorID {
		return nil, models.NewValidationError("Use transfer ownership to change your own role")
	}
	if findMember(conv, targetID) == nil {
		return nil, models.NewNotFoundError("Member", targetID)
	}
	if err := s.convs.UpdateMember(ctx, conversationID, targetID, map[string]interface{}{"role": role}); err != nil {
		return nil, repoError(err, "Member", targetID)
	}
	member, err := s.convs.GetMember(ctx, conversationID, targetID)
	if err != nil {
		return nil, repoError(err, "Member", targetID)
	}
	return member, nil
}

// ListMembers returns the members of a conversation the caller belongs to.
func (s *ConversationService) ListMembers(ctx context.Context, userID, conversationID string) ([]models.MemberView, error) {
	if _, err := s.EnsureMember(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	members, err := s.convs.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return memberViews(members), nil
}

// MemberIDs returns the ids of every current member.
func (s *ConversationService) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	ids, err := s.convs.MemberIDs(ctx, conversationID)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return ids, nil
}
