package types

import (
	"time"

	"github.com/google/uuid"
)

// Plan is the generated study curriculum for a session. At most one plan
// exists per session; generate is idempotent and the unique index on
// session_id backstops concurrent duplicate generations.
type Plan struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"session_id"`
	UserID     uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	Topic      string    `gorm:"not null" json:"topic"`
	TotalHours int       `gorm:"not null" json:"total_hours"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`

	Items []*PlanItem `gorm:"constraint:OnDelete:CASCADE;foreignKey:PlanID;references:ID" json:"items,omitempty"`
}

func (Plan) TableName() string { return "plan" }
