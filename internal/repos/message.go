package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type MessageRepo interface {
	Create(ctx context.Context, tx *gorm.DB, message *types.Message) (*types.Message, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Message, error)
	CountBySessionIDAndRole(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, role string) (int64, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(ctx context.Context, tx *gorm.DB, message *types.Message) (*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(message).Error; err != nil {
		return nil, err
	}
	return message, nil
}

// GetBySessionID returns the conversation in creation order, which is the
// order the completion client replays it in.
func (r *messageRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Message, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var messages []*types.Message
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}

func (r *messageRepo) CountBySessionIDAndRole(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, role string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Message{}).
		Where("session_id = ? AND role = ?", sessionID, role).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
