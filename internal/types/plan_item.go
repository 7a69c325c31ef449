package types

import (
	"github.com/google/uuid"
)

// PlanItem is one theme of a plan with its hour allocation. The sum of
// item hours never exceeds the plan's total hours; the repository checks
// the running total before every insert.
type PlanItem struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlanID uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_id"`
	Theme  string    `gorm:"not null" json:"theme"`
	Hours  float64   `gorm:"not null" json:"hours"`

	Subtopics []*Subtopic `gorm:"constraint:OnDelete:CASCADE;foreignKey:PlanItemID;references:ID" json:"subtopics,omitempty"`
}

func (PlanItem) TableName() string { return "plan_item" }
