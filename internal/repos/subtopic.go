package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type SubtopicRepo interface {
	Create(ctx context.Context, tx *gorm.DB, subtopic *types.Subtopic) (*types.Subtopic, error)
	GetActiveByIDForUser(ctx context.Context, tx *gorm.DB, subtopicID, userID uuid.UUID) (*types.Subtopic, error)
	PlanForSubtopic(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID) (*types.Plan, error)
	SetContent(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID, content string) error
}

type subtopicRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSubtopicRepo(db *gorm.DB, baseLog *logger.Logger) SubtopicRepo {
	return &subtopicRepo{db: db, log: baseLog.With("repo", "SubtopicRepo")}
}

func (r *subtopicRepo) Create(ctx context.Context, tx *gorm.DB, subtopic *types.Subtopic) (*types.Subtopic, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(subtopic).Error; err != nil {
		return nil, err
	}
	return subtopic, nil
}

// GetActiveByIDForUser resolves ownership through plan_item -> plan and
// requires the owning session to still be active.
func (r *subtopicRepo) GetActiveByIDForUser(ctx context.Context, tx *gorm.DB, subtopicID, userID uuid.UUID) (*types.Subtopic, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var subtopic types.Subtopic
	err := transaction.WithContext(ctx).
		Preload("Questions.Answers").
		Joins(`JOIN "plan_item" ON "plan_item".id = "subtopic".plan_item_id`).
		Joins(`JOIN "plan" ON "plan".id = "plan_item".plan_id AND "plan".user_id = ?`, userID).
		Joins(`JOIN "session" ON "session".id = "plan".session_id AND "session".is_active = ?`, true).
		Where(`"subtopic".id = ?`, subtopicID).
		First(&subtopic).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &subtopic, nil
}

func (r *subtopicRepo) PlanForSubtopic(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID) (*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var plan types.Plan
	err := transaction.WithContext(ctx).
		Joins(`JOIN "plan_item" ON "plan_item".plan_id = "plan".id`).
		Joins(`JOIN "subtopic" ON "subtopic".plan_item_id = "plan_item".id`).
		Where(`"subtopic".id = ?`, subtopicID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *subtopicRepo) SetContent(ctx context.Context, tx *gorm.DB, subtopicID uuid.UUID, content string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Subtopic{}).
		Where("id = ?", subtopicID).
		Update("content", content).Error
}
