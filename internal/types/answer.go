package types

import (
	"github.com/google/uuid"
)

// Answer is one option for a question. IsCorrect never serializes to
// clients; grading results expose correctness explicitly instead.
type Answer struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	QuestionID uuid.UUID `gorm:"type:uuid;not null;index" json:"question_id"`
	Content    string    `gorm:"not null" json:"content"`
	IsCorrect  bool      `gorm:"not null;default:false" json:"-"`
}

func (Answer) TableName() string { return "answer" }
