package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type PlanRepo interface {
	Create(ctx context.Context, tx *gorm.DB, plan *types.Plan) (*types.Plan, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.Plan, error)
	GetActiveByIDForUser(ctx context.Context, tx *gorm.DB, planID, userID uuid.UUID) (*types.Plan, error)
	ListActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error)
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{db: db, log: baseLog.With("repo", "PlanRepo")}
}

func (r *planRepo) Create(ctx context.Context, tx *gorm.DB, plan *types.Plan) (*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if err := transaction.WithContext(ctx).Create(plan).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicatePlan
		}
		return nil, err
	}
	return plan, nil
}

func (r *planRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) (*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var plan types.Plan
	err := transaction.WithContext(ctx).
		Preload("Items.Subtopics").
		Where("session_id = ?", sessionID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &plan, nil
}

// Plans only surface while their session is still active; deactivating a
// session hides its plan from listings and retrieval.
func (r *planRepo) GetActiveByIDForUser(ctx context.Context, tx *gorm.DB, planID, userID uuid.UUID) (*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var plan types.Plan
	err := transaction.WithContext(ctx).
		Preload("Items.Subtopics").
		Joins(`JOIN "session" ON "session".id = "plan".session_id AND "session".is_active = ?`, true).
		Where(`"plan".id = ? AND "plan".user_id = ?`, planID, userID).
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &plan, nil
}

func (r *planRepo) ListActiveByUserID(ctx context.Context, tx *gorm.DB, userID uuid.UUID) ([]*types.Plan, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var plans []*types.Plan
	err := transaction.WithContext(ctx).
		Preload("Items.Subtopics").
		Joins(`JOIN "session" ON "session".id = "plan".session_id AND "session".is_active = ?`, true).
		Where(`"plan".user_id = ?`, userID).
		Order(`"plan".created_at DESC`).
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
