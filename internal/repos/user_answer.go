package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type UserAnswerRepo interface {
	Upsert(ctx context.Context, tx *gorm.DB, questionID, selectedAnswerID uuid.UUID) (*types.UserAnswer, error)
	GetByQuestionIDs(ctx context.Context, tx *gorm.DB, questionIDs []uuid.UUID) ([]*types.UserAnswer, error)
}

type userAnswerRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserAnswerRepo(db *gorm.DB, baseLog *logger.Logger) UserAnswerRepo {
	return &userAnswerRepo{db: db, log: baseLog.With("repo", "UserAnswerRepo")}
}

// Upsert keeps exactly one selection per question; resubmission replaces
// the previous one (last write wins).
func (r *userAnswerRepo) Upsert(ctx context.Context, tx *gorm.DB, questionID, selectedAnswerID uuid.UUID) (*types.UserAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	ua := &types.UserAnswer{
		ID:               uuid.New(),
		QuestionID:       questionID,
		SelectedAnswerID: selectedAnswerID,
		AnsweredAt:       time.Now(),
	}
	err := transaction.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "question_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"selected_answer_id", "answered_at"}),
		}).
		Create(ua).Error
	if err != nil {
		return nil, err
	}
	return ua, nil
}

func (r *userAnswerRepo) GetByQuestionIDs(ctx context.Context, tx *gorm.DB, questionIDs []uuid.UUID) ([]*types.UserAnswer, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var answers []*types.UserAnswer
	if len(questionIDs) == 0 {
		return answers, nil
	}
	if err := transaction.WithContext(ctx).
		Where("question_id IN ?", questionIDs).
		Find(&answers).Error; err != nil {
		return nil, err
	}
	return answers, nil
}
