package types

import (
	"time"

	"github.com/google/uuid"
)

// Session is a single topic-scoped model conversation plus everything
// derived from it. Deleting a session from the API only deactivates it;
// historical rows stay behind, excluded from listings and quota counts.
type Session struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"user_id"`
	IsActive  bool      `gorm:"not null;default:true;index" json:"is_active"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`

	Sources  []*Source  `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"sources,omitempty"`
	Messages []*Message `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"messages,omitempty"`
}

func (Session) TableName() string { return "session" }

// MaxActiveSessionsPerUser caps concurrently active sessions per user.
const MaxActiveSessionsPerUser = 5
