package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/types"
)

func newSessionService(t *testing.T, research ResearchService, completion CompletionClient) (SessionService, *testRepos) {
	t.Helper()
	db := newTestDB(t)
	r := newTestRepos(db)
	svc := NewSessionService(db, testLogger(), r.session, r.source, r.message, r.callLog, research, completion)
	return svc, r
}

func wantStatus(t *testing.T, err error, status int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error with status %d, got nil", status)
	}
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected apierr.Error, got %T: %v", err, err)
	}
	if ae.Status != status {
		t.Fatalf("expected status %d, got %d (%v)", status, ae.Status, err)
	}
}

func TestSessionCreate_Validation(t *testing.T) {
	svc, _ := newSessionService(t, &fakeResearch{}, &fakeCompletion{})
	ctx := authedCtx(uuid.New())

	if _, err := svc.Create(ctx, "", 5); err == nil {
		t.Fatal("expected error for empty query")
	} else {
		wantStatus(t, err, http.StatusBadRequest)
	}

	long := strings.Repeat("x", 121)
	if _, err := svc.Create(ctx, long, 5); err == nil {
		t.Fatal("expected error for overlong query")
	} else {
		wantStatus(t, err, http.StatusBadRequest)
	}

	for _, hours := range []int{0, -1, 16} {
		if _, err := svc.Create(ctx, "graph theory", hours); err == nil {
			t.Fatalf("expected error for hours=%d", hours)
		} else {
			wantStatus(t, err, http.StatusBadRequest)
		}
	}
}

func TestSessionCreate_PersistsSourcesAndSeedPrompt(t *testing.T) {
	research := &fakeResearch{sources: []SourceData{
		{Title: "Intro", URL: "https://a.example/intro", Content: "graphs are sets of vertices and edges"},
		{Title: "Deep dive", URL: "https://b.example/deep", Content: "adjacency matrices encode edges"},
	}}
	svc, r := newSessionService(t, research, &fakeCompletion{})
	userID := uuid.New()
	ctx := authedCtx(userID)

	session, err := svc.Create(ctx, "graph theory", 7)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.UserID != userID || !session.IsActive {
		t.Fatalf("unexpected session: %+v", session)
	}
	if len(session.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(session.Sources))
	}

	messages, err := r.message.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(messages) != 1 || messages[0].Role != types.RoleSystem {
		t.Fatalf("expected a single system seed message, got %d messages", len(messages))
	}
	seed := *messages[0].Content
	for _, want := range []string{
		"graphs are sets of vertices and edges",
		"adjacency matrices encode edges",
		"<hours>7</hours>",
		"graph theory",
	} {
		if !strings.Contains(seed, want) {
			t.Fatalf("seed prompt missing %q", want)
		}
	}
	if strings.Contains(seed, `"`) {
		t.Fatal("seed prompt must not contain double quotes")
	}
}

func TestSessionCreate_NoSources(t *testing.T) {
	svc, _ := newSessionService(t, &fakeResearch{sources: nil}, &fakeCompletion{})
	_, err := svc.Create(authedCtx(uuid.New()), "extremely obscure topic", 3)
	wantStatus(t, err, http.StatusBadRequest)
}

func TestSessionCreate_ResearchFailure(t *testing.T) {
	svc, _ := newSessionService(t, &fakeResearch{err: apierr.Upstream(fmt.Errorf("search api down"))}, &fakeCompletion{})
	_, err := svc.Create(authedCtx(uuid.New()), "graph theory", 3)
	wantStatus(t, err, http.StatusBadGateway)
}

func TestSessionCreate_ActiveQuota(t *testing.T) {
	research := &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}
	svc, r := newSessionService(t, research, &fakeCompletion{})
	userID := uuid.New()
	ctx := authedCtx(userID)

	for i := 0; i < types.MaxActiveSessionsPerUser; i++ {
		if _, err := svc.Create(ctx, "topic", 5); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
	}
	_, err := svc.Create(ctx, "topic", 5)
	wantStatus(t, err, http.StatusForbidden)

	// Deactivating one frees a slot.
	sessions, err := r.session.ListActiveByUserID(ctx, nil, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := svc.Deactivate(ctx, sessions[0].ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if _, err := svc.Create(ctx, "topic", 5); err != nil {
		t.Fatalf("Create after deactivation: %v", err)
	}
}

func TestSessionGet_OtherUserLooksMissing(t *testing.T) {
	svc, _ := newSessionService(t, &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}, &fakeCompletion{})
	owner := authedCtx(uuid.New())
	session, err := svc.Create(owner, "topic", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err = svc.Get(authedCtx(uuid.New()), session.ID)
	wantStatus(t, err, http.StatusNotFound)
}

func TestSessionDeactivate_KeepsRows(t *testing.T) {
	svc, r := newSessionService(t, &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}, &fakeCompletion{})
	ctx := authedCtx(uuid.New())
	session, err := svc.Create(ctx, "topic", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Deactivate(ctx, session.ID); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if _, err := svc.Get(ctx, session.ID); err == nil {
		t.Fatal("deactivated session should not be retrievable")
	}
	sessions, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected empty listing, got %d", len(sessions))
	}

	// The row survives deactivation; it is only excluded from views.
	sources, err := r.source.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load sources: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("expected source rows to survive, got %d", len(sources))
	}
}

func TestSendMessage_StreamsAndPersists(t *testing.T) {
	completion := &fakeCompletion{deltas: []string{"Hel", "lo ", "there"}}
	svc, r := newSessionService(t, &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}, completion)
	ctx := authedCtx(uuid.New())
	session, err := svc.Create(ctx, "topic", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var streamed strings.Builder
	err = svc.SendMessage(ctx, session.ID, "explain the basics", func(delta string) {
		streamed.WriteString(delta)
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if streamed.String() != "Hello there" {
		t.Fatalf("streamed %q", streamed.String())
	}

	messages, err := r.message.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	// seed + user + assistant
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant || *last.Content != "Hello there" {
		t.Fatalf("unexpected final message: role=%s content=%v", last.Role, last.Content)
	}
}

func TestSendMessage_EmptyMessage(t *testing.T) {
	svc, _ := newSessionService(t, &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}, &fakeCompletion{})
	ctx := authedCtx(uuid.New())
	session, err := svc.Create(ctx, "topic", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	err = svc.SendMessage(ctx, session.ID, "", nil)
	wantStatus(t, err, http.StatusBadRequest)
}

func TestSendMessage_UserTurnQuota(t *testing.T) {
	completion := &fakeCompletion{deltas: []string{"ok"}}
	svc, r := newSessionService(t, &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}, completion)
	ctx := authedCtx(uuid.New())
	session, err := svc.Create(ctx, "topic", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Seed the quota directly instead of running twenty stream turns.
	for i := 0; i < types.MaxUserMessagesPerSession; i++ {
		content := fmt.Sprintf("question %d", i)
		if _, err := r.message.Create(ctx, nil, &types.Message{
			ID:        uuid.New(),
			SessionID: session.ID,
			Role:      types.RoleUser,
			Content:   &content,
			CreatedAt: time.Now(),
		}); err != nil {
			t.Fatalf("seed message %d: %v", i, err)
		}
	}

	err = svc.SendMessage(ctx, session.ID, "one more", nil)
	wantStatus(t, err, http.StatusForbidden)
	if completion.calls != 0 {
		t.Fatalf("model must not be called past the quota, got %d calls", completion.calls)
	}
}

func TestSendMessage_KeepsPartialReplyOnStreamError(t *testing.T) {
	completion := &fakeCompletion{deltas: []string{"partial "}, err: apierr.Upstream(fmt.Errorf("stream cut"))}
	svc, r := newSessionService(t, &fakeResearch{sources: []SourceData{{Title: "t", URL: "u", Content: "c"}}}, completion)
	ctx := authedCtx(uuid.New())
	session, err := svc.Create(ctx, "topic", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = svc.SendMessage(ctx, session.ID, "hello", nil)
	wantStatus(t, err, http.StatusBadGateway)

	messages, err := r.message.GetBySessionID(ctx, nil, session.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	last := messages[len(messages)-1]
	if last.Role != types.RoleAssistant || *last.Content != "partial " {
		t.Fatalf("partial reply was not persisted: role=%s content=%v", last.Role, last.Content)
	}
}
