package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agora/api/internal/auth"
	"agora/api/internal/config"
	"agora/api/internal/forum"
	"agora/api/internal/moderation"
	"agora/api/internal/notify"
	"agora/api/internal/rbac"
	"agora/api/internal/search"
	"agora/api/internal/store"
	"agora/api/internal/votes"
)

var (
	ana   = forum.Caller{UserID: "u-ana", Name: "Ana", Handle: "ana", Tier: 0, Role: rbac.RoleMember}
	joao  = forum.Caller{UserID: "u-joao", Name: "Joao", Handle: "joao", Tier: 2, Role: rbac.RoleMember}
	sarah = forum.Caller{UserID: "u-sarah", Name: "Sarah", Handle: "sarah", Tier: 1, Role: rbac.RoleMember}
	mod   = forum.Caller{UserID: "u-mod", Name: "Mo", Handle: "mo", Tier: 2, Role: rbac.RoleModerator}
)

type fixture struct {
	repo       store.Repositories
	service    *Service
	server     *HTTPServer
	verifier   *auth.Verifier
	dispatcher *notify.Dispatcher
}

type option func(*fixtureOptions)

type fixtureOptions struct {
	repo      store.Repositories
	presigner Presigner
}

func withRepo(repo store.Repositories) option {
	return func(o *fixtureOptions) { o.repo = repo }
}

func withPresigner(p Presigner) option {
	return func(o *fixtureOptions) { o.presigner = p }
}

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	o := fixtureOptions{repo: store.NewMemoryStore()}
	for _, opt := range opts {
		opt(&o)
	}

	ladder := rbac.DefaultLadder()
	verifier := auth.NewVerifier("test-secret", ladder)
	dispatcher := notify.NewDispatcher(o.repo, 64, 2)
	t.Cleanup(dispatcher.Close)
	generator := notify.NewGenerator(o.repo, notify.NewDirectory(), dispatcher, "https://forum.test")
	cfg := config.Config{UpvoteMilestones: []int{2}}

	svc := New(cfg, o.repo, ladder, votes.NewMemoryLedger(), verifier,
		search.NewIndex(o.repo), moderation.NewService(o.repo, 3), generator, o.presigner)
	err := svc.Seed(context.Background(), config.Seed{Categories: []config.SeedCategory{
		{ID: "cat-books", Name: "Book Club", Tier: "free"},
		{ID: "cat-core", Name: "Core Lounge", Tier: "community"},
		{ID: "cat-vault", Name: "The Vault", Tier: "premium"},
	}})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	return &fixture{
		repo:       o.repo,
		service:    svc,
		server:     NewHTTPServer(svc, "*"),
		verifier:   verifier,
		dispatcher: dispatcher,
	}
}

func (f *fixture) token(t *testing.T, c forum.Caller) string {
	t.Helper()
	token, err := f.verifier.Issue(c, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

// do sends a request as caller; a nil caller sends no Authorization header.
func (f *fixture) do(t *testing.T, method, path string, caller *forum.Caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = raw
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+f.token(t, *caller))
	}
	return f.send(req)
}

func (f *fixture) send(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rr.Code, rr.Body.String())
	}
}

func expectCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rr, status)
	body := decode[map[string]any](t, rr)
	if body["code"] != code {
		t.Fatalf("expected code %s, got %v", code, body["code"])
	}
}

func (f *fixture) createTopic(t *testing.T, caller forum.Caller, categoryID, title, body string) store.Topic {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/topics", &caller, forum.CreateTopicInput{CategoryID: categoryID, Title: title, Body: body})
	expectStatus(t, rr, http.StatusCreated)
	return decode[store.Topic](t, rr)
}

func (f *fixture) createPost(t *testing.T, caller forum.Caller, topicID, parentID, body string) store.Post {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/api/topics/"+topicID+"/posts", &caller, map[string]string{"parentId": parentID, "body": body})
	expectStatus(t, rr, http.StatusCreated)
	return decode[store.Post](t, rr)
}

// notifications drains the dispatcher and reads what was persisted for userID.
func (f *fixture) notifications(t *testing.T, userID string) []store.Notification {
	t.Helper()
	f.dispatcher.Close()
	items, err := f.repo.ListNotifications(context.Background(), userID, false)
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return items
}
