package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type SessionRepo interface {
	Create(ctx context.Context, tx *gorm.DB, session *types.Session) (*types.Session, error)
	GetActiveByIDForUser(ctx context.Context, tx *gorm.DB, sessionID, userID uuid.UUID) (*types.Session, error)
	ListActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Session, error)
	CountActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error)
	Deactivate(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
	HardDelete(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error
}

type sessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSessionRepo(db *gorm.DB, baseLog *logger.Logger) SessionRepo {
	return &sessionRepo{db: db, log: baseLog.With("repo", "SessionRepo")}
}

func (r *sessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.Session) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

func (r *sessionRepo) GetActiveByIDForUser(ctx context.Context, tx *gorm.DB, sessionID, userID uuid.UUID) (*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var session types.Session
	err := transaction.WithContext(ctx).
		Preload("Sources").
		Where("id = ? AND user_id = ? AND is_active = ?", sessionID, userID, true).
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Session, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sessions []*types.Session
	err := transaction.WithContext(ctx).
		Preload("Sources").
		Where("user_id = ? AND is_active = ?", userID, true).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) CountActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("user_id = ? AND is_active = ?", userID, true).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *sessionRepo) Deactivate(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Session{}).
		Where("id = ?", sessionID).
		Update("is_active", false).Error
}

// HardDelete removes the session row outright, cascading through every
// derived table. Only the plan-generation cleanup path uses it.
func (r *sessionRepo) HardDelete(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Where("id = ?", sessionID).
		Delete(&types.Session{}).Error
}
