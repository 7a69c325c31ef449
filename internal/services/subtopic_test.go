package services

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/planforge/planforge-backend/internal/types"
)

const validQuestionsJSON = `{
  "questions": [
    {
      "question": "What is a basis?",
      "answers": [
        {"content": "A minimal spanning set", "is_correct": true},
        {"content": "Any set of vectors", "is_correct": false},
        {"content": "The zero vector", "is_correct": false}
      ]
    },
    {
      "question": "What is dimension?",
      "answers": [
        {"content": "The size of a basis", "is_correct": true},
        {"content": "The number of rows", "is_correct": false},
        {"content": "Always three", "is_correct": false}
      ]
    }
  ]
}`

func newSubtopicService(t *testing.T, completion CompletionClient) (SubtopicService, *testRepos, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	r := newTestRepos(db)
	svc := NewSubtopicService(db, testLogger(), r.subtopic, r.question, r.userAnswer, r.message, r.callLog, completion)
	return svc, r, db
}

func seedQuestions(t *testing.T, db *gorm.DB, subtopicID uuid.UUID, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		q := &types.Question{
			ID:         uuid.New(),
			SubtopicID: subtopicID,
			Question:   fmt.Sprintf("seeded question %d", i),
			CreatedAt:  time.Now(),
		}
		if err := db.Create(q).Error; err != nil {
			t.Fatalf("seed question %d: %v", i, err)
		}
	}
}

func TestSubtopicGet_OtherUserLooksMissing(t *testing.T) {
	svc, _, db := newSubtopicService(t, &fakeCompletion{})
	_, subtopic := seedSubtopic(t, db, uuid.New())

	_, err := svc.Get(authedCtx(uuid.New()), subtopic.ID)
	wantStatus(t, err, http.StatusNotFound)
}

func TestSubtopicGet_HidesAnsweredQuestions(t *testing.T) {
	svc, _, db := newSubtopicService(t, &fakeCompletion{response: validQuestionsJSON})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	ctx := authedCtx(userID)

	questions, err := svc.GenerateQuestions(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}

	detail, err := svc.Get(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(detail.Questions) != 2 {
		t.Fatalf("expected 2 unanswered questions, got %d", len(detail.Questions))
	}

	_, err = svc.SubmitAnswers(ctx, subtopic.ID, []AnswerSubmission{
		{QuestionID: questions[0].ID, SelectedAnswerID: questions[0].Answers[0].ID},
	})
	if err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}

	detail, err = svc.Get(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("Get after answering: %v", err)
	}
	if len(detail.Questions) != 1 {
		t.Fatalf("answered question still listed: got %d", len(detail.Questions))
	}
	if detail.Questions[0].ID != questions[1].ID {
		t.Fatal("wrong question filtered out")
	}
}

func TestGenerateContent_CachedAfterFirstCall(t *testing.T) {
	completion := &fakeCompletion{response: "## Basis and Dimension\n\nA basis is a minimal spanning set."}
	svc, r, db := newSubtopicService(t, completion)
	userID := uuid.New()
	session, subtopic := seedSubtopic(t, db, userID)
	ctx := authedCtx(userID)

	content, createdNew, err := svc.GenerateContent(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("GenerateContent: %v", err)
	}
	if !createdNew || content != completion.response {
		t.Fatalf("first call: createdNew=%v content=%q", createdNew, content)
	}

	again, createdNew, err := svc.GenerateContent(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("second GenerateContent: %v", err)
	}
	if createdNew {
		t.Fatal("second call must serve the cached content")
	}
	if again != content {
		t.Fatalf("cached content changed: %q vs %q", again, content)
	}
	if completion.calls != 1 {
		t.Fatalf("model called %d times, want 1", completion.calls)
	}

	// The generation turn lands in the conversation: instruction + reply.
	messages, err := r.message.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected seed + instruction + reply, got %d messages", len(messages))
	}
}

func TestGenerateContent_CompletionFailureLeavesNoContent(t *testing.T) {
	completion := &fakeCompletion{err: fmt.Errorf("model down")}
	svc, _, db := newSubtopicService(t, completion)
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)

	_, _, err := svc.GenerateContent(authedCtx(userID), subtopic.ID)
	if err == nil {
		t.Fatal("expected error")
	}

	var reloaded types.Subtopic
	if err := db.First(&reloaded, "id = ?", subtopic.ID).Error; err != nil {
		t.Fatalf("reload subtopic: %v", err)
	}
	if reloaded.Content != nil {
		t.Fatalf("content set despite failure: %q", *reloaded.Content)
	}
}

func TestGenerateQuestions_PersistsBatch(t *testing.T) {
	svc, r, db := newSubtopicService(t, &fakeCompletion{response: validQuestionsJSON})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	ctx := authedCtx(userID)

	questions, err := svc.GenerateQuestions(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	if len(questions) != 2 {
		t.Fatalf("expected 2 questions, got %d", len(questions))
	}
	for _, q := range questions {
		if len(q.Answers) != 3 {
			t.Fatalf("question %s has %d answers, want 3", q.ID, len(q.Answers))
		}
	}

	count, err := r.question.CountBySubtopicID(ctx, nil, subtopic.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 stored questions, got %d", count)
	}
	if n := countRows(t, db, &types.Answer{}); n != 6 {
		t.Fatalf("expected 6 answer rows, got %d", n)
	}
}

func TestGenerateQuestions_QuotaBeforeModelCall(t *testing.T) {
	completion := &fakeCompletion{response: validQuestionsJSON}
	svc, _, db := newSubtopicService(t, completion)
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	seedQuestions(t, db, subtopic.ID, types.MaxQuestionsPerSubtopic)

	_, err := svc.GenerateQuestions(authedCtx(userID), subtopic.ID)
	wantStatus(t, err, http.StatusForbidden)
	if completion.calls != 0 {
		t.Fatalf("model must not be called at the cap, got %d calls", completion.calls)
	}
}

func TestGenerateQuestions_BatchOverCapRejectedWhole(t *testing.T) {
	svc, r, db := newSubtopicService(t, &fakeCompletion{response: validQuestionsJSON})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	// One slot left; the two-question batch must not fit partially.
	seedQuestions(t, db, subtopic.ID, types.MaxQuestionsPerSubtopic-1)
	ctx := authedCtx(userID)

	_, err := svc.GenerateQuestions(ctx, subtopic.ID)
	wantStatus(t, err, http.StatusForbidden)

	count, err := r.question.CountBySubtopicID(ctx, nil, subtopic.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != types.MaxQuestionsPerSubtopic-1 {
		t.Fatalf("partial batch inserted: %d questions", count)
	}
}

func TestGenerateQuestions_UnparseableOutput(t *testing.T) {
	svc, _, db := newSubtopicService(t, &fakeCompletion{response: "not json at all"})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)

	_, err := svc.GenerateQuestions(authedCtx(userID), subtopic.ID)
	wantStatus(t, err, http.StatusBadGateway)
}

func TestSubmitAnswers_GradesAndReportsCorrectIDs(t *testing.T) {
	svc, _, db := newSubtopicService(t, &fakeCompletion{response: validQuestionsJSON})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	ctx := authedCtx(userID)

	questions, err := svc.GenerateQuestions(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}

	// Answers come back in payload order: index 0 is the correct one.
	correct := questions[0].Answers[0]
	wrong := questions[1].Answers[1]

	results, err := svc.SubmitAnswers(ctx, subtopic.ID, []AnswerSubmission{
		{QuestionID: questions[0].ID, SelectedAnswerID: correct.ID},
		{QuestionID: questions[1].ID, SelectedAnswerID: wrong.ID},
	})
	if err != nil {
		t.Fatalf("SubmitAnswers: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if !results[0].Correct {
		t.Fatal("correct selection graded as wrong")
	}
	if results[1].Correct {
		t.Fatal("wrong selection graded as correct")
	}
	if len(results[1].CorrectAnswers) != 1 || results[1].CorrectAnswers[0] != questions[1].Answers[0].ID {
		t.Fatalf("correct answer ids wrong: %v", results[1].CorrectAnswers)
	}
}

func TestSubmitAnswers_ResubmissionReplaces(t *testing.T) {
	svc, _, db := newSubtopicService(t, &fakeCompletion{response: validQuestionsJSON})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	ctx := authedCtx(userID)

	questions, err := svc.GenerateQuestions(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}
	q := questions[0]

	if _, err := svc.SubmitAnswers(ctx, subtopic.ID, []AnswerSubmission{
		{QuestionID: q.ID, SelectedAnswerID: q.Answers[1].ID},
	}); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	results, err := svc.SubmitAnswers(ctx, subtopic.ID, []AnswerSubmission{
		{QuestionID: q.ID, SelectedAnswerID: q.Answers[0].ID},
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !results[0].Correct {
		t.Fatal("resubmission should grade the new selection")
	}

	if n := countRows(t, db, &types.UserAnswer{}); n != 1 {
		t.Fatalf("expected a single user answer row, got %d", n)
	}
	var ua types.UserAnswer
	if err := db.First(&ua, "question_id = ?", q.ID).Error; err != nil {
		t.Fatalf("reload user answer: %v", err)
	}
	if ua.SelectedAnswerID != q.Answers[0].ID {
		t.Fatal("resubmission did not replace the selection")
	}
}

func TestSubmitAnswers_RejectsForeignQuestionAndAnswer(t *testing.T) {
	svc, _, db := newSubtopicService(t, &fakeCompletion{response: validQuestionsJSON})
	userID := uuid.New()
	_, subtopic := seedSubtopic(t, db, userID)
	ctx := authedCtx(userID)

	questions, err := svc.GenerateQuestions(ctx, subtopic.ID)
	if err != nil {
		t.Fatalf("GenerateQuestions: %v", err)
	}

	_, err = svc.SubmitAnswers(ctx, subtopic.ID, []AnswerSubmission{
		{QuestionID: uuid.New(), SelectedAnswerID: questions[0].Answers[0].ID},
	})
	wantStatus(t, err, http.StatusBadRequest)

	// Answer from a different question.
	_, err = svc.SubmitAnswers(ctx, subtopic.ID, []AnswerSubmission{
		{QuestionID: questions[0].ID, SelectedAnswerID: questions[1].Answers[0].ID},
	})
	wantStatus(t, err, http.StatusBadRequest)

	_, err = svc.SubmitAnswers(ctx, subtopic.ID, nil)
	wantStatus(t, err, http.StatusBadRequest)
}
