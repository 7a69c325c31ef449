package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/jsonx"
	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/repos"
	"github.com/planforge/planforge-backend/internal/requestdata"
	"github.com/planforge/planforge-backend/internal/types"
)

// PlanSourceRef is the public summary of a grounding source attached to a
// plan payload: title and origin only, never the scraped text.
type PlanSourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PlanDetail is a plan with the source summaries of its session.
type PlanDetail struct {
	Plan    *types.Plan     `json:"plan"`
	Sources []PlanSourceRef `json:"sources"`
}

// PlanService turns a seeded session into a materialized study plan.
// Generate is idempotent per session.
type PlanService interface {
	Generate(ctx context.Context, sessionID uuid.UUID) (*PlanDetail, bool, error)
	Get(ctx context.Context, planID uuid.UUID) (*PlanDetail, error)
	List(ctx context.Context) ([]*PlanDetail, error)
}

type planService struct {
	db           *gorm.DB
	log          *logger.Logger
	sessionRepo  repos.SessionRepo
	messageRepo  repos.MessageRepo
	sourceRepo   repos.SourceRepo
	planRepo     repos.PlanRepo
	planItemRepo repos.PlanItemRepo
	subtopicRepo repos.SubtopicRepo
	callLogRepo  repos.CompletionLogRepo
	completion   CompletionClient
	lock         GenerationLock
}

func NewPlanService(
	db *gorm.DB,
	baseLog *logger.Logger,
	sessionRepo repos.SessionRepo,
	messageRepo repos.MessageRepo,
	sourceRepo repos.SourceRepo,
	planRepo repos.PlanRepo,
	planItemRepo repos.PlanItemRepo,
	subtopicRepo repos.SubtopicRepo,
	callLogRepo repos.CompletionLogRepo,
	completion CompletionClient,
	lock GenerationLock,
) PlanService {
	if lock == nil {
		lock = NoopGenerationLock{}
	}
	return &planService{
		db:           db,
		log:          baseLog.With("service", "PlanService"),
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		sourceRepo:   sourceRepo,
		planRepo:     planRepo,
		planItemRepo: planItemRepo,
		subtopicRepo: subtopicRepo,
		callLogRepo:  callLogRepo,
		completion:   completion,
		lock:         lock,
	}
}

// Generate returns the session's plan, creating it on first call. The bool
// reports whether a new plan was materialized by this call.
func (s *planService) Generate(ctx context.Context, sessionID uuid.UUID) (*PlanDetail, bool, error) {
	userID := requestdata.UserID(ctx)
	session, err := s.sessionRepo.GetActiveByIDForUser(ctx, nil, sessionID, userID)
	if err != nil {
		if errors.Is(err, repos.ErrRecordNotFound) {
			return nil, false, apierr.NotFound("session")
		}
		return nil, false, err
	}

	if existing, err := s.planRepo.GetBySessionID(ctx, nil, sessionID); err == nil {
		detail, err := s.withSources(ctx, existing)
		return detail, false, err
	} else if !errors.Is(err, repos.ErrRecordNotFound) {
		return nil, false, err
	}

	release, acquired, err := s.lock.TryAcquire(ctx, "plan:"+sessionID.String())
	if err != nil {
		s.log.Warn("Generation lock unavailable, proceeding without it", "session_id", sessionID, "error", err)
	} else if !acquired {
		// Another generation is in flight; it may have finished by now.
		if existing, err := s.planRepo.GetBySessionID(ctx, nil, sessionID); err == nil {
			detail, err := s.withSources(ctx, existing)
			return detail, false, err
		}
		return nil, false, apierr.New(http.StatusConflict, "generation_in_progress",
			fmt.Errorf("a plan generation for this session is already in progress"))
	} else {
		defer release()
	}

	history, err := loadHistory(ctx, s.messageRepo, sessionID)
	if err != nil {
		return nil, false, err
	}

	start := time.Now()
	raw, err := s.completion.Complete(ctx, history)
	status := "ok"
	if err != nil {
		status = "error"
	}
	recordCompletion(s.callLogRepo, s.log, &types.CompletionLog{
		SessionID:   sessionID,
		Kind:        types.CompletionKindPlan,
		Model:       s.completion.Model(),
		Status:      status,
		DurationMs:  time.Since(start).Milliseconds(),
		PromptChars: historyChars(history),
		OutputChars: len(raw),
	})
	if err != nil {
		s.cleanupFailedGeneration(sessionID)
		return nil, false, err
	}

	decoded, err := jsonx.DecodeObject(raw)
	if err != nil {
		s.cleanupFailedGeneration(sessionID)
		return nil, false, apierr.Parse(err)
	}

	if _, err := s.messageRepo.Create(ctx, nil, &types.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		Content:   &raw,
		CreatedAt: time.Now(),
	}); err != nil {
		return nil, false, err
	}

	payload, err := parsePlanPayload(decoded)
	if err != nil {
		return nil, false, apierr.Parse(err)
	}

	plan, err := s.materialize(ctx, payload, session)
	if err != nil {
		if errors.Is(err, repos.ErrDuplicatePlan) {
			// Lost a race; the winner's plan is the plan.
			if existing, getErr := s.planRepo.GetBySessionID(ctx, nil, sessionID); getErr == nil {
				detail, derr := s.withSources(ctx, existing)
				return detail, false, derr
			}
		}
		if errors.Is(err, repos.ErrHourBudget) {
			return nil, false, apierr.Validation("the study plan allocates more hours than the plan total allows")
		}
		return nil, false, err
	}

	s.log.Info("Plan materialized", "plan_id", plan.ID, "session_id", sessionID, "items", len(plan.Items))
	detail, err := s.withSources(ctx, plan)
	return detail, true, err
}

func (s *planService) Get(ctx context.Context, planID uuid.UUID) (*PlanDetail, error) {
	userID := requestdata.UserID(ctx)
	plan, err := s.planRepo.GetActiveByIDForUser(ctx, nil, planID, userID)
	if err != nil {
		if errors.Is(err, repos.ErrRecordNotFound) {
			return nil, apierr.NotFound("plan")
		}
		return nil, err
	}
	return s.withSources(ctx, plan)
}

func (s *planService) List(ctx context.Context) ([]*PlanDetail, error) {
	userID := requestdata.UserID(ctx)
	if userID == uuid.Nil {
		return nil, apierr.NotFound("plan")
	}
	plans, err := s.planRepo.ListActiveByUserID(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	details := make([]*PlanDetail, 0, len(plans))
	for _, plan := range plans {
		detail, err := s.withSources(ctx, plan)
		if err != nil {
			return nil, err
		}
		details = append(details, detail)
	}
	return details, nil
}

// cleanupFailedGeneration removes the session whose generation failed so
// the user does not keep a dead session pinned against their quota. Runs on
// a detached context; failure to clean up is logged, not surfaced.
func (s *planService) cleanupFailedGeneration(sessionID uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sessionRepo.HardDelete(ctx, nil, sessionID); err != nil {
		s.log.Error("Failed to delete session after failed generation", "session_id", sessionID, "error", err)
	}
}

func (s *planService) withSources(ctx context.Context, plan *types.Plan) (*PlanDetail, error) {
	sources, err := s.sourceRepo.GetBySessionID(ctx, nil, plan.SessionID)
	if err != nil {
		return nil, err
	}
	refs := make([]PlanSourceRef, len(sources))
	for i, src := range sources {
		refs[i] = PlanSourceRef{Title: src.Title, URL: src.URL}
	}
	return &PlanDetail{Plan: plan, Sources: refs}, nil
}

// materialize writes plan, items and subtopics in one transaction. The
// hour-budget check runs per item insert; any violation rolls the whole
// plan back.
func (s *planService) materialize(ctx context.Context, payload *planPayload, session *types.Session) (*types.Plan, error) {
	plan := &types.Plan{
		ID:         uuid.New(),
		SessionID:  session.ID,
		UserID:     session.UserID,
		Topic:      payload.Topic,
		TotalHours: payload.TotalHours,
		CreatedAt:  time.Now(),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.planRepo.Create(ctx, tx, plan); err != nil {
			return err
		}
		for _, item := range payload.Items {
			planItem := &types.PlanItem{
				ID:     uuid.New(),
				PlanID: plan.ID,
				Theme:  item.Theme,
				Hours:  item.Hours,
			}
			if _, err := s.planItemRepo.Create(ctx, tx, planItem); err != nil {
				return err
			}
			for _, sub := range item.Subtopics {
				subtopic := &types.Subtopic{
					ID:         uuid.New(),
					PlanItemID: planItem.ID,
					Name:       sub.Name,
					Preview:    sub.Preview,
				}
				if _, err := s.subtopicRepo.Create(ctx, tx, subtopic); err != nil {
					return err
				}
				planItem.Subtopics = append(planItem.Subtopics, subtopic)
			}
			plan.Items = append(plan.Items, planItem)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

type planPayload struct {
	Topic      string
	TotalHours int
	Items      []planItemPayload
}

type planItemPayload struct {
	Theme     string
	Hours     float64
	Subtopics []subtopicPayload
}

type subtopicPayload struct {
	Name    string
	Preview string
}

// parsePlanPayload validates the decoded model output into a strict shape,
// failing closed on any missing or mistyped field.
func parsePlanPayload(obj map[string]any) (*planPayload, error) {
	topic, ok := asString(obj["topic"])
	if !ok || topic == "" {
		return nil, fmt.Errorf("plan payload: missing topic")
	}
	totalHours, ok := asInt(obj["total_hours"])
	if !ok || totalHours <= 0 {
		return nil, fmt.Errorf("plan payload: missing or invalid total_hours")
	}
	rawItems, ok := obj["study_plan"].([]any)
	if !ok || len(rawItems) == 0 {
		return nil, fmt.Errorf("plan payload: missing study_plan")
	}

	payload := &planPayload{Topic: topic, TotalHours: totalHours}
	for i, rawItem := range rawItems {
		itemObj, ok := rawItem.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("plan payload: study_plan[%d] is not an object", i)
		}
		theme, ok := asString(itemObj["theme"])
		if !ok || theme == "" {
			return nil, fmt.Errorf("plan payload: study_plan[%d] missing theme", i)
		}
		hours, ok := asFloat(itemObj["hours"])
		if !ok || hours <= 0 {
			return nil, fmt.Errorf("plan payload: study_plan[%d] missing or invalid hours", i)
		}
		item := planItemPayload{Theme: theme, Hours: hours}

		rawSubs, ok := itemObj["subtopics"].([]any)
		if !ok {
			return nil, fmt.Errorf("plan payload: study_plan[%d] missing subtopics", i)
		}
		for j, rawSub := range rawSubs {
			subObj, ok := rawSub.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("plan payload: study_plan[%d].subtopics[%d] is not an object", i, j)
			}
			name, ok := asString(subObj["name"])
			if !ok || name == "" {
				return nil, fmt.Errorf("plan payload: study_plan[%d].subtopics[%d] missing name", i, j)
			}
			preview, ok := asString(subObj["preview"])
			if !ok {
				return nil, fmt.Errorf("plan payload: study_plan[%d].subtopics[%d] missing preview", i, j)
			}
			item.Subtopics = append(item.Subtopics, subtopicPayload{Name: name, Preview: preview})
		}
		payload.Items = append(payload.Items, item)
	}
	return payload, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

// asInt accepts the number forms the model actually emits: JSON numbers
// and numeric strings ("5").
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case string:
		i, err := strconv.Atoi(t)
		if err != nil {
			return 0, false
		}
		return i, true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
