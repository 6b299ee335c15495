package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/casetutor/casetutor/internal/i18n"
	"github.com/casetutor/casetutor/internal/model"
	"github.com/casetutor/casetutor/internal/oracle"
	"github.com/casetutor/casetutor/internal/storage"
	"github.com/casetutor/casetutor/internal/tutor"
)

type scriptedOracle struct {
	score int
	err   error
}

func (o *scriptedOracle) Evaluate(_ context.Context, _ model.ClinicalCase, _ int, _ string) (*oracle.Feedback, error) {
	if o.err != nil {
		return nil, o.err
	}
	return &oracle.Feedback{Feedback: "well reasoned", Score: o.score, Justification: "covers the key findings"}, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *storage.Adapter) {
	return newTestServerWithOracle(t, &scriptedOracle{score: 2})
}

func newTestServerWithOracle(t *testing.T, o oracle.Oracle) (*httptest.Server, *storage.Adapter) {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n init: %v", err)
	}
	local, err := storage.NewLocal(":memory:")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	t.Cleanup(func() { local.Close() })
	store, err := storage.NewAdapter(nil, local)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}

	engine := tutor.New(store, o)
	h, err := New(store, engine, nil, Config{})
	if err != nil {
		t.Fatalf("handler.New: %v", err)
	}

	r := chi.NewRouter()
	r.Use(appI18n.Middleware("en"))
	h.Routes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store
}

// newClient returns an http.Client that carries the session cookie.
func newClient(t *testing.T, _ *httptest.Server) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func doJSON(t *testing.T, c *http.Client, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func register(t *testing.T, c *http.Client, srv *httptest.Server, email string) {
	t.Helper()
	resp := doJSON(t, c, http.MethodPost, srv.URL+"/api/auth/register", map[string]string{
		"email":    email,
		"password": "secret123",
		"name":     "Test Student",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
}

func TestAuthFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv)

	// Unauthenticated requests are rejected.
	resp := doJSON(t, c, http.MethodGet, srv.URL+"/api/me", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", resp.StatusCode)
	}

	register(t, c, srv, "student@example.com")

	resp = doJSON(t, c, http.MethodGet, srv.URL+"/api/me", nil)
	var me struct {
		User model.User `json:"user"`
	}
	decodeBody(t, resp, &me)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 after register, got %d", resp.StatusCode)
	}
	if me.User.Email != "student@example.com" || me.User.Role != model.RoleStudent {
		t.Errorf("unexpected user: %+v", me.User)
	}

	// Logout invalidates the cookie.
	resp = doJSON(t, c, http.MethodPost, srv.URL+"/api/auth/logout", nil)
	resp.Body.Close()
	resp = doJSON(t, c, http.MethodGet, srv.URL+"/api/me", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", resp.StatusCode)
	}

	// Wrong password is rejected, right one works.
	resp = doJSON(t, c, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
		"email": "student@example.com", "password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", resp.StatusCode)
	}
	resp = doJSON(t, c, http.MethodPost, srv.URL+"/api/auth/login", map[string]string{
		"email": "student@example.com", "password": "secret123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for login, got %d", resp.StatusCode)
	}
}

func TestDuplicateRegistration(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv)

	register(t, c, srv, "dup@example.com")
	resp := doJSON(t, c, http.MethodPost, srv.URL+"/api/auth/register", map[string]string{
		"email": "dup@example.com", "password": "secret123",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", resp.StatusCode)
	}
}

func TestSessionFlow(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv)
	register(t, c, srv, "student@example.com")

	resp := doJSON(t, c, http.MethodPost, srv.URL+"/api/sessions/start", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start session: status %d", resp.StatusCode)
	}
	var view sessionView
	decodeBody(t, resp, &view)

	if view.Session.Status != model.StatusActive {
		t.Errorf("expected active session, got %q", view.Session.Status)
	}
	if len(view.Stages) != 1 || view.Stages[0].Index != 0 {
		t.Fatalf("a fresh session must reveal only stage 0, got %d stages", len(view.Stages))
	}
	if view.MaxScore != oracle.MaxStageScore*model.StageCount {
		t.Errorf("maxScore: got %d", view.MaxScore)
	}

	answerURL := fmt.Sprintf("%s/api/sessions/%s/answer", srv.URL, view.Session.ID.Value)

	// Blank answers are rejected.
	resp = doJSON(t, c, http.MethodPost, answerURL, map[string]string{"response": "  "})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for blank answer, got %d", resp.StatusCode)
	}

	// Answer all five stages.
	for i := 0; i < model.StageCount; i++ {
		resp = doJSON(t, c, http.MethodPost, answerURL, map[string]string{"response": "my answer"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("answer stage %d: status %d", i, resp.StatusCode)
		}
		var out struct {
			Session sessionView              `json:"session"`
			Record  model.SessionStageRecord `json:"record"`
			Message string                   `json:"message"`
		}
		decodeBody(t, resp, &out)
		if out.Record.StageIndex != i || out.Record.Score != 2 {
			t.Errorf("stage %d: record %+v", i, out.Record)
		}
		if i < model.StageCount-1 {
			if got := len(out.Session.Stages); got != i+2 {
				t.Errorf("stage %d: expected %d revealed stages, got %d", i, i+2, got)
			}
		} else {
			if out.Session.Session.Status != model.StatusFinished {
				t.Errorf("expected finished session, got %q", out.Session.Session.Status)
			}
			if out.Message == "" {
				t.Error("expected a completion message")
			}
		}
	}

	// A sixth answer hits the finished guard.
	resp = doJSON(t, c, http.MethodPost, answerURL, map[string]string{"response": "extra"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for finished session, got %d", resp.StatusCode)
	}

	// The student sees the session and a grade in their list.
	resp = doJSON(t, c, http.MethodGet, srv.URL+"/api/sessions", nil)
	var list struct {
		Sessions []model.Session `json:"sessions"`
		Grade    *float64        `json:"grade"`
	}
	decodeBody(t, resp, &list)
	if len(list.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list.Sessions))
	}
	if list.Grade == nil {
		t.Error("expected a grade after finishing a session")
	}
}

func TestSessionOwnership(t *testing.T) {
	srv, _ := newTestServer(t)

	owner := newClient(t, srv)
	register(t, owner, srv, "owner@example.com")
	resp := doJSON(t, owner, http.MethodPost, srv.URL+"/api/sessions/start", nil)
	var view sessionView
	decodeBody(t, resp, &view)

	intruder := newClient(t, srv)
	register(t, intruder, srv, "other@example.com")
	resp = doJSON(t, intruder, http.MethodGet, srv.URL+"/api/sessions/"+view.Session.ID.Value, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for another student's session, got %d", resp.StatusCode)
	}
}

func TestAdminEndpointsRequireRole(t *testing.T) {
	srv, _ := newTestServer(t)
	c := newClient(t, srv)
	register(t, c, srv, "student@example.com")

	resp := doJSON(t, c, http.MethodGet, srv.URL+"/api/admin/users", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403 for student on admin route, got %d", resp.StatusCode)
	}
}

func TestOracleFailureKeepsSessionActive(t *testing.T) {
	srv, _ := newTestServerWithOracle(t, &scriptedOracle{err: oracle.ErrMalformedResponse})
	c := newClient(t, srv)
	register(t, c, srv, "student@example.com")

	resp := doJSON(t, c, http.MethodPost, srv.URL+"/api/sessions/start", nil)
	var view sessionView
	decodeBody(t, resp, &view)

	answerURL := fmt.Sprintf("%s/api/sessions/%s/answer", srv.URL, view.Session.ID.Value)
	resp = doJSON(t, c, http.MethodPost, answerURL, map[string]string{"response": "my answer"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 when the oracle fails, got %d", resp.StatusCode)
	}

	// The session was not mutated by the failed submission.
	resp = doJSON(t, c, http.MethodGet, srv.URL+"/api/sessions/"+view.Session.ID.Value, nil)
	var after sessionView
	decodeBody(t, resp, &after)
	if after.Session.Status != model.StatusActive ||
		after.Session.CurrentStageIndex != 0 ||
		len(after.Session.Records) != 0 {
		t.Errorf("session mutated by failed submission: %+v", after.Session)
	}
}
