package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	CompletionKindChat      = "chat"
	CompletionKindPlan      = "plan"
	CompletionKindContent   = "content"
	CompletionKindQuestions = "questions"
)

// CompletionLog records one call to the completion API: what kind of
// generation asked for it, how long it took and how it ended. Written by
// the orchestrators, never by the client itself.
type CompletionLog struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID   uuid.UUID      `gorm:"type:uuid;not null;index" json:"session_id"`
	Kind        string         `gorm:"type:varchar(20);not null" json:"kind"`
	Model       string         `gorm:"not null" json:"model"`
	Stream      bool           `gorm:"not null;default:false" json:"stream"`
	Status      string         `gorm:"type:varchar(20);not null" json:"status"`
	DurationMs  int64          `gorm:"not null;default:0" json:"duration_ms"`
	PromptChars int            `gorm:"not null;default:0" json:"prompt_chars"`
	OutputChars int            `gorm:"not null;default:0" json:"output_chars"`
	Metadata    datatypes.JSON `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (CompletionLog) TableName() string { return "completion_log" }
