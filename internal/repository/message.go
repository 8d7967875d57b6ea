package repository

import (
	"context"
	"encoding/json"
	"time"

	"lingochat/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MessageRepository defines persistence operations for messages, reactions and hides.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id string) (*models.Message, error)
	ListForViewer(ctx context.Context, conversationID, viewerID string, before *time.Time, limit int) ([]models.Message, error)
	LatestVisible(ctx context.Context, conversationID, viewerID string) (*models.Message, error)
	Update(ctx context.Context, id string, updates map[string]interface{}) error
	CountAttachmentRefs(ctx context.Context, url, excludeID string) (int64, error)

	CountUnreadDirect(ctx context.Context, conversationID, userID string) (int64, error)
	CountUnreadGroup(ctx context.Context, conversationID, userID string, since time.Time) (int64, error)
	MarkDirectRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)

	Hide(ctx context.Context, hidden *models.MessageHidden) error
	IsHidden(ctx context.Context, userID, messageID string) (bool, error)
	ToggleReaction(ctx context.Context, reaction *models.MessageReaction) (added bool, err error)
	ListReactions(ctx context.Context, messageID string) ([]models.MessageReaction, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func orderedReactions(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

func (r *messageRepository) Create(ctx context.Context, msg *models.Message) error {
	if msg.Attachments == nil {
		msg.Attachments = models.Attachments{}
	}
	return r.db.WithContext(ctx).Omit(clause.Associations).Create(msg).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var msg models.Message
	err := r.db.WithContext(ctx).
		Preload("Sender").
		Preload("Reactions", orderedReactions).
		First(&msg, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *messageRepository) visibleTo(ctx context.Context, conversationID, viewerID string) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Where("NOT EXISTS (SELECT 1 FROM message_hiddens mh WHERE mh.message_id = messages.id AND mh.user_id = ?)", viewerID)
}

// ListForViewer returns up to limit messages older than before (when set) that
// viewerID has not hidden, in ascending creation order.
func (r *messageRepository) ListForViewer(ctx context.Context, conversationID, viewerID string, before *time.Time, limit int) ([]models.Message, error) {
	q := r.visibleTo(ctx, conversationID, viewerID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var msgs []models.Message
	err := q.
		Preload("Sender").
		Preload("Reactions", orderedReactions).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// LatestVisible returns the newest message viewerID can see, revoked ones included.
// It returns nil without error when there is none.
func (r *messageRepository) LatestVisible(ctx context.Context, conversationID, viewerID string) (*models.Message, error) {
	var msgs []models.Message
	err := r.visibleTo(ctx, conversationID, viewerID).
		Preload("Sender").
		Order("created_at DESC, id DESC").
		Limit(1).
		Find(&msgs).Error
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return &msgs[0], nil
}

// CountAttachmentRefs counts messages other than excludeID whose attachments
// mention url. LIKE wildcards in url can only over-count.
func (r *messageRepository) CountAttachmentRefs(ctx context.Context, url, excludeID string) (int64, error) {
	quoted, err := json.Marshal(url)
	if err != nil {
		return 0, err
	}
	var count int64
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id <> ? AND attachments LIKE ?", excludeID, "%"+string(quoted)+"%").
		Count(&count).Error
	return count, err
}

func (r *messageRepository) Update(ctx context.Context, id string, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *messageRepository) CountUnreadDirect(ctx context.Context, conversationID, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND read_at IS NULL", conversationID, userID).
		Count(&n).Error
	return n, err
}

func (r *messageRepository) CountUnreadGroup(ctx context.Context, conversationID, userID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND sender_id <> ? AND created_at > ? AND deleted_at IS NULL", conversationID, userID, since).
		Count(&n).Error
	return n, err
}

// MarkDirectRead stamps readAt on every unread message addressed to userID.
func (r *messageRepository) MarkDirectRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND read_at IS NULL", conversationID, userID).
		Update("read_at", at)
	return res.RowsAffected, res.Error
}

func (r *messageRepository) Hide(ctx context.Context, hidden *models.MessageHidden) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(hidden).Error
}

func (r *messageRepository) IsHidden(ctx context.Context, userID, messageID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.MessageHidden{}).
		Where("user_id = ? AND message_id = ?", userID, messageID).
		Count(&n).Error
	return n > 0, err
}

// ToggleReaction removes the (message, user, emoji) reaction when present and
// inserts it otherwise. It reports whether the reaction is now present.
func (r *messageRepository) ToggleReaction(ctx context.Context, reaction *models.MessageReaction) (bool, error) {
	added := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("message_id = ? AND user_id = ? AND emoji = ?", reaction.MessageID, reaction.UserID, reaction.Emoji).
			Delete(&models.MessageReaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		added = true
		// a concurrent toggle may have inserted the same row first
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(reaction).Error
	})
	return added, err
}

func (r *messageRepository) ListReactions(ctx context.Context, messageID string) ([]models.MessageReaction, error) {
	var reactions []models.MessageReaction
	err := orderedReactions(r.db.WithContext(ctx)).
		Where("message_id = ?", messageID).
		Find(&reactions).Error
	return reactions, err
}
