package types

import (
	"time"

	"github.com/google/uuid"
)

// UserAnswer records the user's selected answer for a question. One row
// per question; resubmission replaces the prior selection.
type UserAnswer struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"question_id"`
	SelectedAnswerID uuid.UUID `gorm:"type:uuid;not null" json:"selected_answer_id"`
	AnsweredAt       time.Time `gorm:"not null;autoCreateTime" json:"answered_at"`
}

func (UserAnswer) TableName() string { return "user_answer" }
