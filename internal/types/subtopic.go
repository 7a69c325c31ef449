package types

import (
	"github.com/google/uuid"
)

// Subtopic belongs to a plan item. Content stays null until generated,
// then becomes immutable; repeated generation requests return the cached
// value instead of calling the model again.
type Subtopic struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PlanItemID uuid.UUID `gorm:"type:uuid;not null;index" json:"plan_item_id"`
	Name       string    `gorm:"not null" json:"name"`
	Preview    string    `gorm:"type:text;not null" json:"preview"`
	Content    *string   `gorm:"type:text" json:"content"`

	Questions []*Question `gorm:"constraint:OnDelete:CASCADE;foreignKey:SubtopicID;references:ID" json:"questions,omitempty"`
}

func (Subtopic) TableName() string { return "subtopic" }
