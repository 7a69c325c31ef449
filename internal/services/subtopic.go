package services

import (
	"context"
	"errors"
	"fmt"
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

// PlanRef identifies the owning plan in subtopic payloads.
type PlanRef struct {
	ID    uuid.UUID `json:"id"`
	Topic string    `json:"topic"`
}

// AnswerOption is a question option with correctness stripped.
type AnswerOption struct {
	ID      uuid.UUID `json:"id"`
	Content string    `json:"content"`
}

// QuestionView is a question the user has not answered yet.
type QuestionView struct {
	ID       uuid.UUID      `json:"id"`
	Question string         `json:"question"`
	Answers  []AnswerOption `json:"answers"`
}

// SubtopicDetail is the public shape of a subtopic: its plan, its fields
// and the still-unanswered questions.
type SubtopicDetail struct {
	Plan      PlanRef        `json:"plan"`
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Preview   string         `json:"preview"`
	Content   *string        `json:"content"`
	Questions []QuestionView `json:"questions"`
}

// AnswerSubmission is one graded selection in a submit batch.
type AnswerSubmission struct {
	QuestionID       uuid.UUID `json:"question" binding:"required"`
	SelectedAnswerID uuid.UUID `json:"selected_answer" binding:"required"`
}

// GradeResult reports correctness of one submission plus every correct
// answer id for the question.
type GradeResult struct {
	QuestionID     uuid.UUID   `json:"question"`
	Correct        bool        `json:"correct"`
	CorrectAnswers []uuid.UUID `json:"correct_answers"`
}

// SubtopicService serves subtopic retrieval, one-shot content generation,
// quiz generation and answer grading.
type SubtopicService interface {
	Get(ctx context.Context, subtopicID uuid.UUID) (*SubtopicDetail, error)
	// GenerateContent returns the subtopic's long-form content, invoking
	// the model only on the first call; afterwards the stored value is
	// returned untouched. The bool reports whether this call generated.
	GenerateContent(ctx context.Context, subtopicID uuid.UUID) (string, bool, error)
	GenerateQuestions(ctx context.Context, subtopicID uuid.UUID) ([]QuestionView, error)
	SubmitAnswers(ctx context.Context, subtopicID uuid.UUID, submissions []AnswerSubmission) ([]GradeResult, error)
}

type subtopicService struct {
	db             *gorm.DB
	log            *logger.Logger
	subtopicRepo   repos.SubtopicRepo
	questionRepo   repos.QuestionRepo
	userAnswerRepo repos.UserAnswerRepo
	messageRepo    repos.MessageRepo
	callLogRepo    repos.CompletionLogRepo
	completion     CompletionClient
}

func NewSubtopicService(
	db *gorm.DB,
	baseLog *logger.Logger,
	subtopicRepo repos.SubtopicRepo,
	questionRepo repos.QuestionRepo,
	userAnswerRepo repos.UserAnswerRepo,
	messageRepo repos.MessageRepo,
	callLogRepo repos.CompletionLogRepo,
	completion CompletionClient,
) SubtopicService {
	return &subtopicService{
		db:             db,
		log:            baseLog.With("service", "SubtopicService"),
		subtopicRepo:   subtopicRepo,
		questionRepo:   questionRepo,
		userAnswerRepo: userAnswerRepo,
		messageRepo:    messageRepo,
		callLogRepo:    callLogRepo,
		completion:     completion,
	}
}

func (s *subtopicService) owned(ctx context.Context, subtopicID uuid.UUID) (*types.Subtopic, error) {
	userID := requestdata.UserID(ctx)
	subtopic, err := s.subtopicRepo.GetActiveByIDForUser(ctx, nil, subtopicID, userID)
	if err != nil {
		if errors.Is(err, repos.ErrRecordNotFound) {
			return nil, apierr.NotFound("subtopic")
		}
		return nil, err
	}
	return subtopic, nil
}

func (s *subtopicService) Get(ctx context.Context, subtopicID uuid.UUID) (*SubtopicDetail, error) {
	subtopic, err := s.owned(ctx, subtopicID)
	if err != nil {
		return nil, err
	}
	plan, err := s.subtopicRepo.PlanForSubtopic(ctx, nil, subtopicID)
	if err != nil {
		return nil, err
	}

	questions, err := s.questionRepo.GetBySubtopicID(ctx, nil, subtopicID)
	if err != nil {
		return nil, err
	}
	questionIDs := make([]uuid.UUID, len(questions))
	for i, q := range questions {
		questionIDs[i] = q.ID
	}
	answered, err := s.userAnswerRepo.GetByQuestionIDs(ctx, nil, questionIDs)
	if err != nil {
		return nil, err
	}
	answeredSet := make(map[uuid.UUID]bool, len(answered))
	for _, ua := range answered {
		answeredSet[ua.QuestionID] = true
	}

	detail := &SubtopicDetail{
		Plan:      PlanRef{ID: plan.ID, Topic: plan.Topic},
		ID:        subtopic.ID,
		Name:      subtopic.Name,
		Preview:   subtopic.Preview,
		Content:   subtopic.Content,
		Questions: []QuestionView{},
	}
	for _, q := range questions {
		if answeredSet[q.ID] {
			continue
		}
		detail.Questions = append(detail.Questions, toQuestionView(q))
	}
	return detail, nil
}

func toQuestionView(q *types.Question) QuestionView {
	view := QuestionView{ID: q.ID, Question: q.Question}
	for _, a := range q.Answers {
		view.Answers = append(view.Answers, AnswerOption{ID: a.ID, Content: a.Content})
	}
	return view
}

func (s *subtopicService) GenerateContent(ctx context.Context, subtopicID uuid.UUID) (string, bool, error) {
	subtopic, err := s.owned(ctx, subtopicID)
	if err != nil {
		return "", false, err
	}
	// Content is write-once; a second request never reaches the model.
	if subtopic.Content != nil && *subtopic.Content != "" {
		return *subtopic.Content, false, nil
	}

	plan, err := s.subtopicRepo.PlanForSubtopic(ctx, nil, subtopicID)
	if err != nil {
		return "", false, err
	}

	raw, err := s.generateTurn(ctx, plan.SessionID, types.CompletionKindContent, BuildContentPrompt(subtopic.Name))
	if err != nil {
		return "", false, err
	}

	if err := s.subtopicRepo.SetContent(ctx, nil, subtopicID, raw); err != nil {
		return "", false, err
	}
	s.log.Info("Subtopic content generated", "subtopic_id", subtopicID)
	return raw, true, nil
}

func (s *subtopicService) GenerateQuestions(ctx context.Context, subtopicID uuid.UUID) ([]QuestionView, error) {
	subtopic, err := s.owned(ctx, subtopicID)
	if err != nil {
		return nil, err
	}

	existing, err := s.questionRepo.CountBySubtopicID(ctx, nil, subtopicID)
	if err != nil {
		return nil, err
	}
	if existing >= types.MaxQuestionsPerSubtopic {
		return nil, apierr.Quota("the maximum number of questions (%d) has already been generated for this subtopic", types.MaxQuestionsPerSubtopic)
	}

	plan, err := s.subtopicRepo.PlanForSubtopic(ctx, nil, subtopicID)
	if err != nil {
		return nil, err
	}

	raw, err := s.generateTurn(ctx, plan.SessionID, types.CompletionKindQuestions, BuildQuestionsPrompt(subtopic.Name))
	if err != nil {
		return nil, err
	}

	decoded, err := jsonx.DecodeObject(raw)
	if err != nil {
		return nil, apierr.Parse(err)
	}
	questions, err := parseQuestionsPayload(decoded, subtopicID)
	if err != nil {
		return nil, apierr.Parse(err)
	}

	// Whole batch or nothing: the cap check inside CreateBatch runs in the
	// same transaction as the inserts.
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := s.questionRepo.CreateBatch(ctx, tx, questions)
		return err
	})
	if err != nil {
		if errors.Is(err, repos.ErrQuestionLimit) {
			return nil, apierr.Quota("the maximum number of questions (%d) has already been generated for this subtopic", types.MaxQuestionsPerSubtopic)
		}
		return nil, err
	}

	views := make([]QuestionView, len(questions))
	for i, q := range questions {
		views[i] = toQuestionView(q)
	}
	s.log.Info("Questions generated", "subtopic_id", subtopicID, "count", len(views))
	return views, nil
}

func (s *subtopicService) SubmitAnswers(ctx context.Context, subtopicID uuid.UUID, submissions []AnswerSubmission) ([]GradeResult, error) {
	subtopic, err := s.owned(ctx, subtopicID)
	if err != nil {
		return nil, err
	}
	if len(submissions) == 0 {
		return nil, apierr.Validation("no answers provided")
	}

	byQuestion := make(map[uuid.UUID]*types.Question, len(subtopic.Questions))
	for _, q := range subtopic.Questions {
		byQuestion[q.ID] = q
	}

	results := make([]GradeResult, 0, len(submissions))
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, sub := range submissions {
			question, ok := byQuestion[sub.QuestionID]
			if !ok {
				return apierr.Validation("question does not belong to the specified subtopic")
			}

			var selected *types.Answer
			correctIDs := []uuid.UUID{}
			for _, a := range question.Answers {
				if a.ID == sub.SelectedAnswerID {
					selected = a
				}
				if a.IsCorrect {
					correctIDs = append(correctIDs, a.ID)
				}
			}
			if selected == nil {
				return apierr.Validation("selected answer does not belong to the specified question")
			}

			if _, err := s.userAnswerRepo.Upsert(ctx, tx, question.ID, selected.ID); err != nil {
				return err
			}
			results = append(results, GradeResult{
				QuestionID:     question.ID,
				Correct:        selected.IsCorrect,
				CorrectAnswers: correctIDs,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// generateTurn appends a system instruction to the session conversation,
// runs one non-streaming completion over the full history and persists the
// assistant reply.
func (s *subtopicService) generateTurn(ctx context.Context, sessionID uuid.UUID, kind, instruction string) (string, error) {
	if _, err := s.messageRepo.Create(ctx, nil, &types.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      types.RoleSystem,
		Content:   &instruction,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", err
	}

	history, err := loadHistory(ctx, s.messageRepo, sessionID)
	if err != nil {
		return "", err
	}

	start := time.Now()
	raw, err := s.completion.Complete(ctx, history)
	status := "ok"
	if err != nil {
		status = "error"
	}
	recordCompletion(s.callLogRepo, s.log, &types.CompletionLog{
		SessionID:   sessionID,
		Kind:        kind,
		Model:       s.completion.Model(),
		Status:      status,
		DurationMs:  time.Since(start).Milliseconds(),
		PromptChars: historyChars(history),
		OutputChars: len(raw),
	})
	if err != nil {
		return "", err
	}

	if _, err := s.messageRepo.Create(ctx, nil, &types.Message{
		ID:        uuid.New(),
		SessionID: sessionID,
		Role:      types.RoleAssistant,
		Content:   &raw,
		CreatedAt: time.Now(),
	}); err != nil {
		return "", err
	}
	return raw, nil
}

// parseQuestionsPayload validates the decoded quiz and builds rows. Whether
// exactly one answer is marked correct is deliberately not checked here;
// the grader assumes the model honored the prompt.
func parseQuestionsPayload(obj map[string]any, subtopicID uuid.UUID) ([]*types.Question, error) {
	rawQuestions, ok := obj["questions"].([]any)
	if !ok || len(rawQuestions) == 0 {
		return nil, fmt.Errorf("questions payload: missing questions")
	}

	questions := make([]*types.Question, 0, len(rawQuestions))
	for i, rawQ := range rawQuestions {
		qObj, ok := rawQ.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("questions payload: questions[%d] is not an object", i)
		}
		text, ok := asString(qObj["question"])
		if !ok || text == "" {
			return nil, fmt.Errorf("questions payload: questions[%d] missing question text", i)
		}
		rawAnswers, ok := qObj["answers"].([]any)
		if !ok || len(rawAnswers) == 0 {
			return nil, fmt.Errorf("questions payload: questions[%d] missing answers", i)
		}

		question := &types.Question{
			ID:         uuid.New(),
			SubtopicID: subtopicID,
			Question:   text,
			CreatedAt:  time.Now(),
		}
		for j, rawA := range rawAnswers {
			aObj, ok := rawA.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("questions payload: questions[%d].answers[%d] is not an object", i, j)
			}
			content, ok := asString(aObj["content"])
			if !ok || content == "" {
				return nil, fmt.Errorf("questions payload: questions[%d].answers[%d] missing content", i, j)
			}
			isCorrect, ok := aObj["is_correct"].(bool)
			if !ok {
				return nil, fmt.Errorf("questions payload: questions[%d].answers[%d] missing is_correct", i, j)
			}
			question.Answers = append(question.Answers, &types.Answer{
				ID:         uuid.New(),
				QuestionID: question.ID,
				Content:    content,
				IsCorrect:  isCorrect,
			})
		}
		questions = append(questions, question)
	}
	return questions, nil
}
