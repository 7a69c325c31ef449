package types

import (
	"github.com/google/uuid"
)

// Source is one scraped web page used as grounding context for the model.
type Source struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	Title     string    `gorm:"not null" json:"title"`
	URL       string    `gorm:"not null" json:"url"`
	Content   string    `gorm:"type:text;not null" json:"-"`
}

func (Source) TableName() string { return "source" }

// MaxSourcesPerSession caps grounding pages per session; inserts past the
// cap fail at the repository.
const MaxSourcesPerSession = 10
