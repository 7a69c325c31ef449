package types

import (
	"time"

	"github.com/google/uuid"
)

// Question is one generated multiple-choice question under a subtopic.
type Question struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubtopicID uuid.UUID `gorm:"type:uuid;not null;index" json:"subtopic_id"`
	Question   string    `gorm:"not null" json:"question"`
	CreatedAt  time.Time `gorm:"not null;autoCreateTime" json:"created_at"`

	Answers []*Answer `gorm:"constraint:OnDelete:CASCADE;foreignKey:QuestionID;references:ID" json:"answers,omitempty"`
}

func (Question) TableName() string { return "question" }

// MaxQuestionsPerSubtopic caps stored questions per subtopic; a batch that
// would cross it is rejected whole.
const MaxQuestionsPerSubtopic = 20
