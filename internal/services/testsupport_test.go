package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/repos"
	"github.com/planforge/planforge-backend/internal/requestdata"
	"github.com/planforge/planforge-backend/internal/types"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

// newTestDB opens a private in-memory database per test. A single
// connection keeps sqlite from handing each pooled conn its own empty
// memory database.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("unwrap sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	err = gdb.AutoMigrate(
		&types.Session{},
		&types.Source{},
		&types.Message{},
		&types.Plan{},
		&types.PlanItem{},
		&types.Subtopic{},
		&types.Question{},
		&types.Answer{},
		&types.UserAnswer{},
		&types.CompletionLog{},
	)
	if err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return gdb
}

type testRepos struct {
	session    repos.SessionRepo
	source     repos.SourceRepo
	message    repos.MessageRepo
	plan       repos.PlanRepo
	planItem   repos.PlanItemRepo
	subtopic   repos.SubtopicRepo
	question   repos.QuestionRepo
	userAnswer repos.UserAnswerRepo
	callLog    repos.CompletionLogRepo
}

func newTestRepos(db *gorm.DB) *testRepos {
	log := testLogger()
	return &testRepos{
		session:    repos.NewSessionRepo(db, log),
		source:     repos.NewSourceRepo(db, log),
		message:    repos.NewMessageRepo(db, log),
		plan:       repos.NewPlanRepo(db, log),
		planItem:   repos.NewPlanItemRepo(db, log),
		subtopic:   repos.NewSubtopicRepo(db, log),
		question:   repos.NewQuestionRepo(db, log),
		userAnswer: repos.NewUserAnswerRepo(db, log),
		callLog:    repos.NewCompletionLogRepo(db, log),
	}
}

func authedCtx(userID uuid.UUID) context.Context {
	return requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: userID})
}

// fakeCompletion plays back canned responses and counts calls so tests
// can assert how many times the model was actually invoked.
type fakeCompletion struct {
	response string
	deltas   []string
	err      error
	calls    int
}

func (f *fakeCompletion) Complete(ctx context.Context, history []ChatTurn) (string, error) {
	f.calls++
	return f.response, f.err
}

func (f *fakeCompletion) Stream(ctx context.Context, history []ChatTurn, onDelta func(delta string)) (string, error) {
	f.calls++
	var b strings.Builder
	for _, d := range f.deltas {
		if onDelta != nil {
			onDelta(d)
		}
		b.WriteString(d)
	}
	return b.String(), f.err
}

func (f *fakeCompletion) Model() string { return "fake-model" }

type fakeResearch struct {
	sources []SourceData
	err     error
}

func (f *fakeResearch) Collect(ctx context.Context, query string) ([]SourceData, error) {
	return f.sources, f.err
}

func seedSession(t *testing.T, db *gorm.DB, userID uuid.UUID) *types.Session {
	t.Helper()
	seed := "plan the study sessions"
	session := &types.Session{
		ID:        uuid.New(),
		UserID:    userID,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := db.Create(session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	msg := &types.Message{
		ID:        uuid.New(),
		SessionID: session.ID,
		Role:      types.RoleSystem,
		Content:   &seed,
		CreatedAt: time.Now(),
	}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("seed system message: %v", err)
	}
	return session
}

// seedSubtopic builds the full plan chain a subtopic hangs off of.
func seedSubtopic(t *testing.T, db *gorm.DB, userID uuid.UUID) (*types.Session, *types.Subtopic) {
	t.Helper()
	session := seedSession(t, db, userID)
	plan := &types.Plan{
		ID:         uuid.New(),
		SessionID:  session.ID,
		UserID:     userID,
		Topic:      "Linear Algebra",
		TotalHours: 10,
		CreatedAt:  time.Now(),
	}
	if err := db.Create(plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	item := &types.PlanItem{
		ID:     uuid.New(),
		PlanID: plan.ID,
		Theme:  "Vector Spaces",
		Hours:  4,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("seed plan item: %v", err)
	}
	subtopic := &types.Subtopic{
		ID:         uuid.New(),
		PlanItemID: item.ID,
		Name:       "Basis and Dimension",
		Preview:    "What a basis is and why dimension is well defined.",
	}
	if err := db.Create(subtopic).Error; err != nil {
		t.Fatalf("seed subtopic: %v", err)
	}
	return session, subtopic
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}
