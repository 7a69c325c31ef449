package repos

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/types"
)

type PlanItemRepo interface {
	Create(ctx context.Context, tx *gorm.DB, item *types.PlanItem) (*types.PlanItem, error)
}

type planItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanItemRepo(db *gorm.DB, baseLog *logger.Logger) PlanItemRepo {
	return &planItemRepo{db: db, log: baseLog.With("repo", "PlanItemRepo")}
}

// Create checks the running hour total against the plan budget before
// inserting. Callers materializing a whole plan run every insert inside one
// transaction, so a budget violation aborts the batch with no partial rows.
func (r *planItemRepo) Create(ctx context.Context, tx *gorm.DB, item *types.PlanItem) (*types.PlanItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var plan types.Plan
	if err := transaction.WithContext(ctx).
		Where("id = ?", item.PlanID).
		First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	var allocated float64
	if err := transaction.WithContext(ctx).
		Model(&types.PlanItem{}).
		Where("plan_id = ?", item.PlanID).
		Select("COALESCE(SUM(hours), 0)").
		Scan(&allocated).Error; err != nil {
		return nil, err
	}
	if allocated+item.Hours > float64(plan.TotalHours) {
		return nil, ErrHourBudget
	}

	if err := transaction.WithContext(ctx).Create(item).Error; err != nil {
		return nil, err
	}
	return item, nil
}
