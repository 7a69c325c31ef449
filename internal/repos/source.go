package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type SourceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, sources []*types.Source) ([]*types.Source, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Source, error)
}

type sourceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSourceRepo(db *gorm.DB, baseLog *logger.Logger) SourceRepo {
	return &sourceRepo{db: db, log: baseLog.With("repo", "SourceRepo")}
}

func (r *sourceRepo) Create(ctx context.Context, tx *gorm.DB, sources []*types.Source) ([]*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(sources) == 0 {
		return []*types.Source{}, nil
	}

	sessionID := sources[0].SessionID
	var existing int64
	if err := transaction.WithContext(ctx).
		Model(&types.Source{}).
		Where("session_id = ?", sessionID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing+int64(len(sources)) > types.MaxSourcesPerSession {
		return nil, ErrSourceLimit
	}

	if err := transaction.WithContext(ctx).Create(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}

func (r *sourceRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.Source, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var sources []*types.Source
	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Find(&sources).Error; err != nil {
		return nil, err
	}
	return sources, nil
}
