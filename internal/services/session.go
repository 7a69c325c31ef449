package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/repos"
	"github.com/planforge/planforge-backend/internal/requestdata"
	"github.com/planforge/planforge-backend/internal/types"
)

const (
	maxQueryLength = 120
	minStudyHours  = 1
	maxStudyHours  = 15
)

// SessionService owns the session lifecycle: creation with researched
// grounding context, listing, deactivation and the chat turn loop.
type SessionService interface {
	Create(ctx context.Context, query string, hours int) (*types.Session, error)
	List(ctx context.Context) ([]*types.Session, error)
	Get(ctx context.Context, sessionID uuid.UUID) (*types.Session, error)
	Deactivate(ctx context.Context, sessionID uuid.UUID) error
	// SendMessage appends a user turn, streams the assistant reply through
	// onDelta and persists the accumulated reply once the stream drains.
	SendMessage(ctx context.Context, sessionID uuid.UUID, message string, onDelta func(delta string)) error
}

type sessionService struct {
	db          *gorm.DB
	log         *logger.Logger
	sessionRepo repos.SessionRepo
	sourceRepo  repos.SourceRepo
	messageRepo repos.MessageRepo
	callLogRepo repos.CompletionLogRepo
	research    ResearchService
	completion  CompletionClient
}

func NewSessionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	sourceRepo repos.SourceRepo,
	messageRepo repos.MessageRepo,
	callLogRepo repos.CompletionLogRepo,
	research ResearchService,
	completion CompletionClient,
) SessionService {
	return &sessionService{
		db:          db,
		log:         baseLog.With("service", "SessionService"),
		sessionRepo: sessionRepo,
		sourceRepo:  sourceRepo,
		messageRepo: messageRepo,
		callLogRepo: callLogRepo,
		research:    research,
		completion:  completion,
	}
}

func (s *sessionService) Create(ctx context.Context, query string, hours int) (*types.Session, error) {
	userID := requestdata.UserID(ctx)
	if userID == uuid.Nil {
		return nil, apierr.NotFound("session")
	}

	if query == "" {
		return nil, apierr.Validation("the query value is required but was not provided")
	}
	if len(query) > maxQueryLength {
		return nil, apierr.Validation("the query length exceeds the allowed limit of %d characters", maxQueryLength)
	}
	if hours < minStudyHours || hours > maxStudyHours {
		return nil, apierr.Validation("the hours value must be between %d and %d", minStudyHours, maxStudyHours)
	}

	active, err := s.sessionRepo.CountActiveByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	if active >= types.MaxActiveSessionsPerUser {
		return nil, apierr.Quota("you have reached the maximum allowed limit of %d plans", types.MaxActiveSessionsPerUser)
	}

	sources, err := s.research.Collect(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, apierr.Validation("no relevant sources were found for your query, please refine your theme and try again")
	}

	seedPrompt := BuildStudyPlanPrompt(sources, hours, query)

	session := &types.Session{
		ID:        uuid.New(),
		UserID:    userID,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.sessionRepo.Create(ctx, tx, session); err != nil {
			return err
		}
		sourceRows := make([]*types.Source, len(sources))
		for i, src := range sources {
			sourceRows[i] = &types.Source{
				ID:        uuid.New(),
				SessionID: session.ID,
				Title:     src.Title,
				URL:       src.URL,
				Content:   src.Content,
			}
		}
		if _, err := s.sourceRepo.Create(ctx, tx, sourceRows); err != nil {
			return err
		}
		session.Sources = sourceRows

		seed := &types.Message{
			ID:        uuid.New(),
			SessionID: session.ID,
			Role:      types.RoleSystem,
			Content:   &seedPrompt,
			CreatedAt: time.Now(),
		}
		if _, err := s.messageRepo.Create(ctx, tx, seed); err != nil {
			return err
		}
		session.Messages = []*types.Message{seed}
		return nil
	})
	if err != nil {
		s.log.Error("Session creation failed", "user_id", userID, "error", err)
		return nil, err
	}

	s.log.Info("Session created", "session_id", session.ID, "sources", len(sources))
	return session, nil
}

func (s *sessionService) List(ctx context.Context) ([]*types.Session, error) {
	userID := requestdata.UserID(ctx)
	if userID == uuid.Nil {
		return nil, apierr.NotFound("session")
	}
	return s.sessionRepo.ListActiveByUserID(ctx, nil, userID)
}

func (s *sessionService) Get(ctx context.Context, sessionID uuid.UUID) (*types.Session, error) {
	userID := requestdata.UserID(ctx)
	session, err := s.sessionRepo.GetActiveByIDForUser(ctx, nil, sessionID, userID)
	if err != nil {
		if err == repos.ErrRecordNotFound {
			return nil, apierr.NotFound("session")
		}
		return nil, err
	}
	return session, nil
}

func (s *sessionService) Deactivate(ctx context.Context, sessionID uuid.UUID) error {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	return s.sessionRepo.Deactivate(ctx, nil, sessionID)
}

func (s *sessionService) SendMessage(ctx context.Context, sessionID uuid.UUID, message string, onDelta func(delta string)) error {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if message == "" {
		return apierr.Validation("the message parameter is required but was not provided")
	}

	userCount, err := s.messageRepo.CountBySessionIDAndRole(ctx, nil, sessionID, types.RoleUser)
	if err != nil {
		return err
	}
	if userCount >= types.MaxUserMessagesPerSession {
		return apierr.Quota("you have reached the maximum allowed limit of %d messages per session", types.MaxUserMessagesPerSession)
	}

	userMsg := &types.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      types.RoleUser,
		Content:   &message,
		CreatedAt: time.Now(),
	}
	if _, err := s.messageRepo.Create(ctx, nil, userMsg); err != nil {
		return err
	}

	history, err := loadHistory(ctx, s.messageRepo, sessionID)
	if err != nil {
		return err
	}

	start := time.Now()
	reply, err := s.completion.Stream(ctx, history, onDelta)
	status := "ok"
	if err != nil {
		status = "error"
	}

	// Whatever accumulated is flushed even when the consumer detached, so a
	// follow-up turn sees a consistent history. The save runs on a detached
	// context for the same reason.
	if reply != "" {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		assistantMsg := &types.Message{
			ID:        uuid.New(),
			SessionID: session.ID,
			Role:      types.RoleAssistant,
			Content:   &reply,
			CreatedAt: time.Now(),
		}
		if _, saveErr := s.messageRepo.Create(saveCtx, nil, assistantMsg); saveErr != nil {
			s.log.Error("Failed to persist assistant message", "session_id", sessionID, "error", saveErr)
		}
	}

	recordCompletion(s.callLogRepo, s.log, &types.CompletionLog{
		SessionID:   sessionID,
		Kind:        types.CompletionKindChat,
		Model:       s.completion.Model(),
		Stream:      true,
		Status:      status,
		DurationMs:  time.Since(start).Milliseconds(),
		PromptChars: historyChars(history),
		OutputChars: len(reply),
	})

	return err
}

// loadHistory converts the stored conversation into completion turns,
// oldest first.
func loadHistory(ctx context.Context, messageRepo repos.MessageRepo, sessionID uuid.UUID) ([]ChatTurn, error) {
	messages, err := messageRepo.GetBySessionID(ctx, nil, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]ChatTurn, 0, len(messages))
	for _, msg := range messages {
		content := ""
		if msg.Content != nil {
			content = *msg.Content
		}
		history = append(history, ChatTurn{Role: msg.Role, Content: content})
	}
	return history, nil
}

func historyChars(history []ChatTurn) int {
	total := 0
	for _, turn := range history {
		total += len(turn.Content)
	}
	return total
}
