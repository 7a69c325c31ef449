package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type QuestionRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, questions []*types.Question) ([]*types.Question, error)
	GetBySubtopicID(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID) ([]*types.Question, error)
	CountBySubtopicID(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID) (int64, error)
}

type questionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	return &questionRepo{db: db, log: baseLog.With("repo", "QuestionRepo")}
}

// CreateBatch inserts questions with their answers. The batch is rejected
// whole when it would push the subtopic past its question cap.
func (r *questionRepo) CreateBatch(ctx context.Context, tx *gorm.DB, questions []*types.Question) ([]*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(questions) == 0 {
		return []*types.Question{}, nil
	}

	subtopicID := questions[0].SubtopicID
	existing, err := r.CountBySubtopicID(ctx, transaction, subtopicID)
	if err != nil {
		return nil, err
	}
	if existing+int64(len(questions)) > types.MaxQuestionsPerSubtopic {
		return nil, ErrQuestionLimit
	}

	if err := transaction.WithContext(ctx).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepo) GetBySubtopicID(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID) ([]*types.Question, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var questions []*types.Question
	if err := transaction.WithContext(ctx).
		Preload("Answers").
		Where("subtopic_id = ?", subtopicID).
		Order("created_at ASC").
		Find(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepo) CountBySubtopicID(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.Question{}).
		Where("subtopic_id = ?", subtopicID).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
