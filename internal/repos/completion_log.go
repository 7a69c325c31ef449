package repos

import (
	"context"

	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type CompletionLogRepo interface {
	Create(ctx context.Context, tx *gorm.DB, entry *types.CompletionLog) (*types.CompletionLog, error)
}

type completionLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCompletionLogRepo(db *gorm.DB, baseLog *logger.Logger) CompletionLogRepo {
	return &completionLogRepo{db: db, log: baseLog.With("repo", "CompletionLogRepo")}
}

func (r *completionLogRepo) Create(ctx context.Context, tx *gorm.DB, entry *types.CompletionLog) (*types.CompletionLog, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}
