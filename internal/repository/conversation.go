package repository

import (
	"context"
	"time"

	"lingochat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationRepository defines persistence operations for conversations and their members.
type ConversationRepository interface {
	Create(ctx context.Context, conv *models.Conversation, members []models.ConversationMember) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	GetByDirectKey(ctx context.Context, key string) (*models.Conversation, error)
	FindLegacyDirect(ctx context.Context, userA, userB string) ([]models.Conversation, error)
	BackfillDirectKey(ctx context.Context, id, key string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	TouchLastMessageAt(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error

	GetMember(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error)
	ListMembers(ctx context.Context, conversationID string) ([]models.ConversationMember, error)
	MemberIDs(ctx context.Context, conversationID string) ([]string, error)
	AddMembers(ctx context.Context, members []models.ConversationMember) error
	UpdateMember(ctx context.Context, conversationID, userID string, updates map[string]interface{}) error
	RemoveMember(ctx context.Context, conversationID, userID string) (remaining []string, deleted bool, err error)
	TransferOwnership(ctx context.Context, conversationID, fromUserID, toUserID string) error
}

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

func preloadMembers(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, user_id ASC")
		}).
		Preload("Members.User")
}

// Create inserts the conversation and its members atomically.
func (r *conversationRepository) Create(ctx context.Context, conv *models.Conversation, members []models.ConversationMember) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(conv).Error; err != nil {
			return err
		}
		if len(members) > 0 {
			if err := tx.Omit(clause.Associations).Create(&members).Error; err != nil {
				return err
			}
		}
		conv.Members = members
		return nil
	})
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := preloadMembers(r.db.WithContext(ctx)).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepository) GetByDirectKey(ctx context.Context, key string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := preloadMembers(r.db.WithContext(ctx)).First(&conv, "direct_key = ?", key).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// FindLegacyDirect returns direct conversations created before the pair key
// existed whose membership is exactly {userA, userB}, oldest first.
func (r *conversationRepository) FindLegacyDirect(ctx context.Context, userA, userB string) ([]models.Conversation, error) {
	db := r.db.WithContext(ctx)

	pairMembers := db.Model(&models.ConversationMember{}).
		Select("conversation_id").
		Where("user_id IN ?", []string{userA, userB}).
		Group("conversation_id").
		Having("COUNT(*) = 2")

	var convs []models.Conversation
	err := preloadMembers(db).
		Where("type = ? AND direct_key IS NULL", models.ConversationDirect).
		Where("id IN (?)", pairMembers).
		Where("(SELECT COUNT(*) FROM conversation_members cm WHERE cm.conversation_id = conversations.id) = 2").
		Order("created_at ASC, id ASC").
		Find(&convs).Error
	return convs, err
}

// BackfillDirectKey sets the pair key on a legacy row. It reports false when
// the row already had a key.
func (r *conversationRepository) BackfillDirectKey(ctx context.Context, id, key string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND direct_key IS NULL", id).
		Update("direct_key", key)
	return res.RowsAffected > 0, res.Error
}

// ListForUser returns every conversation userID belongs to, most recent activity first.
func (r *conversationRepository) ListForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := preloadMembers(r.db.WithContext(ctx)).
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id AND cm.user_id = ?", userID).
		Order("COALESCE(conversations.last_message_at, conversations.created_at) DESC").
		Order("conversations.id ASC").
		Find(&convs).Error
	return convs, err
}

func (r *conversationRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchLastMessageAt moves the activity timestamp forward, never backward.
func (r *conversationRepository) TouchLastMessageAt(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)", id, at).
		Update("last_message_at", at).Error
}

func (r *conversationRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteConversation(tx, id)
	})
}

func deleteConversation(tx *gorm.DB, id string) error {
	messageIDs := tx.Model(&models.Message{}).Select("id").Where("conversation_id = ?", id)

	if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.MessageReaction{}).Error; err != nil {
		return err
	}
	if err := tx.Where("message_id IN (?)", messageIDs).Delete(&models.MessageHidden{}).Error; err != nil {
		return err
	}
	if err := tx.Where("conversation_id = ?", id).Delete(&models.Message{}).Error; err != nil {
		return err
	}
	if err := tx.Where("conversation_id = ?", id).Delete(&models.ConversationMember{}).Error; err != nil {
		return err
	}
	return tx.Where("id = ?", id).Delete(&models.Conversation{}).Error
}

func (r *conversationRepository) GetMember(ctx context.Context, conversationID, userID string) (*models.ConversationMember, error) {
	var member models.ConversationMember
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&member).Error
	if err != nil {
		return nil, err
	}
	return &member, nil
}

func (r *conversationRepository) ListMembers(ctx context.Context, conversationID string) ([]models.ConversationMember, error) {
	var members []models.ConversationMember
	err := r.db.WithContext(ctx).
		Preload("User").
		Where("conversation_id = ?", conversationID).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	return members, err
}

func (r *conversationRepository) MemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	return ids, err
}

// AddMembers inserts members, silently skipping ones that already exist.
func (r *conversationRepository) AddMembers(ctx context.Context, members []models.ConversationMember) error {
	if len(members) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&members).Error
}

func (r *conversationRepository) UpdateMember(ctx context.Context, conversationID, userID string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.ConversationMember{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RemoveMember deletes the membership and, when nobody is left, the whole
// conversation. It returns the remaining member ids.
func (r *conversationRepository) RemoveMember(ctx context.Context, conversationID, userID string) ([]string, bool, error) {
	var remaining []string
	deleted := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Delete(&models.ConversationMember{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&models.ConversationMember{}).
			Where("conversation_id = ?", conversationID).
			Order("user_id ASC").
			Pluck("user_id", &remaining).Error; err != nil {
			return err
		}

		if len(remaining) == 0 {
			deleted = true
			return deleteConversation(tx, conversationID)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return remaining, deleted, nil
}

// TransferOwnership promotes toUserID to OWNER and demotes fromUserID to ADMIN.
func (r *conversationRepository) TransferOwnership(ctx context.Context, conversationID, fromUserID, toUserID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ConversationMember{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, toUserID).
			Update("role", models.RoleOwner)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&models.ConversationMember{}).
			Where("conversation_id = ? AND user_id = ?", conversationID, fromUserID).
			Update("role", models.RoleAdmin).Error
	})
}
