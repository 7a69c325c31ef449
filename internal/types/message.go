package types

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleSystem    = "system"
	RoleAssistant = "assistant"
	RoleUser      = "user"
)

// Message is one turn in the model conversation. Creation time defines
// conversation order; the completion client replays messages in that order.
type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	Role      string    `gorm:"type:varchar(10);not null" json:"role"`
	Content   *string   `gorm:"type:text" json:"content"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime;index" json:"created_at"`
}

func (Message) TableName() string { return "message" }

// MaxUserMessagesPerSession caps user-authored turns per session, enforced
// at the orchestration layer.
const MaxUserMessagesPerSession = 20
