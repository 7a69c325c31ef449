package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/repos"
	"github.com/planforge/planforge-backend/internal/types"
)

// recordCompletion writes one completion-call audit row. Logging must never
// fail a generation, so errors are logged and dropped. The write uses a
// detached context because the caller's request may already be canceled by
// the time a stream finishes.
func recordCompletion(repo repos.CompletionLogRepo, log *logger.Logger, entry *types.CompletionLog) {
	if repo == nil {
		return
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := repo.Create(ctx, nil, entry); err != nil {
		log.Warn("Failed to record completion call", "session_id", entry.SessionID, "kind", entry.Kind, "error", err)
	}
}
