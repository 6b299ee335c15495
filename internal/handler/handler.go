package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	appI18n "github.com/casetutor/casetutor/internal/i18n"
	"github.com/casetutor/casetutor/internal/model"
	"github.com/casetutor/casetutor/internal/oracle"
	"github.com/casetutor/casetutor/internal/storage"
	"github.com/casetutor/casetutor/internal/tutor"
)

// Config holds HTTP-facing settings.
type Config struct {
	SecureCookies bool
}

// Pinger reports whether the evaluation backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *storage.Adapter
	engine *tutor.Engine
	oracle Pinger // nil when no oracle is configured
	config Config
}

// New creates a new Handler.
func New(s *storage.Adapter, e *tutor.Engine, p Pinger, cfg Config) (*Handler, error) {
	return &Handler{store: s, engine: e, oracle: p, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/health", h.handleHealth)
	r.Post("/api/auth/register", h.handleRegister)
	r.Post("/api/auth/login", h.handleLogin)
	r.Post("/api/auth/logout", h.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Get("/api/me", h.handleMe)
		r.Post("/api/sessions/start", h.handleStartSession)
		r.Get("/api/sessions", h.handleListSessions)
		r.Get("/api/sessions/{sessionID}", h.handleSessionView)
		r.Post("/api/sessions/{sessionID}/answer", h.handleAnswer)

		r.Group(func(r chi.Router) {
			r.Use(requireRole(model.RoleAdmin))

			r.Get("/api/admin/users", h.handleListUsers)
			r.Post("/api/admin/users", h.handleCreateUser)
			r.Delete("/api/admin/users/{userID}", h.handleDeleteUser)
			r.Get("/api/admin/cases", h.handleListCases)
			r.Post("/api/admin/cases", h.handleSaveCase)
			r.Delete("/api/admin/cases/{caseID}", h.handleDeleteCase)
			r.Post("/api/admin/cases/import", h.handleImportCases)
			r.Get("/api/admin/sessions", h.handleListAllSessions)
			r.Get("/api/admin/stats", h.handleStats)
		})
	})
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// respondError sends a localized error message under the "error" key.
func respondError(w http.ResponseWriter, r *http.Request, status int, msgID string) {
	respondJSON(w, status, map[string]string{"error": appI18n.T(r.Context(), msgID)})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	oracleStatus := "unconfigured"
	if h.oracle != nil {
		if err := h.oracle.Ping(r.Context()); err != nil {
			slog.Warn("oracle ping failed", "error", err)
			oracleStatus = "unavailable"
		} else {
			oracleStatus = "ok"
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"oracle": oracleStatus,
		"store":  h.storeMode(),
	})
}

func (h *Handler) storeMode() string {
	if h.store.RemoteConfigured() {
		return "remote"
	}
	return "local"
}

// stageView is a stage as revealed to the student.
type stageView struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Question string `json:"question"`
}

// sessionView pairs a session with the case material the student is allowed
// to see: stages up to and including the current one. Later stages stay
// server-side until the preceding answer is scored.
type sessionView struct {
	Session    model.Session    `json:"session"`
	CaseTitle  string           `json:"caseTitle"`
	CaseTheme  string           `json:"caseTheme"`
	Difficulty model.Difficulty `json:"difficulty"`
	Stages     []stageView      `json:"stages"`
	MaxScore   int              `json:"maxScore"`
}

func (h *Handler) sessionView(ctx context.Context, s model.Session) (sessionView, error) {
	c, err := h.store.GetCase(ctx, s.CaseID)
	if err != nil {
		return sessionView{}, err
	}
	view := sessionView{
		Session:    s,
		CaseTitle:  c.Title,
		CaseTheme:  c.Theme,
		Difficulty: c.Difficulty,
		MaxScore:   oracle.MaxStageScore * model.StageCount,
	}
	for _, st := range c.Stages {
		if st.Index > s.CurrentStageIndex {
			break
		}
		view.Stages = append(view.Stages, stageView{
			Index:    st.Index,
			Title:    st.Title,
			Content:  st.Content,
			Question: st.Question,
		})
	}
	return view, nil
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	session, _, err := h.engine.StartSession(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, tutor.ErrEmptyCaseBank) {
			respondError(w, r, http.StatusBadRequest, "ErrEmptyCaseBank")
			return
		}
		slog.Error("start session", "student", user.ID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	view, err := h.sessionView(r.Context(), session)
	if err != nil {
		slog.Error("build session view", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())

	sessions, err := h.store.ListSessionsForStudent(r.Context(), user.ID)
	if err != nil {
		slog.Error("list sessions", "student", user.ID, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"grade":    tutor.StudentGrade(sessions),
	})
}

// ownSession loads a session by URL param and checks it belongs to the
// requesting student. Admins may read any session.
func (h *Handler) ownSession(w http.ResponseWriter, r *http.Request) (model.Session, bool) {
	user := model.UserFromContext(r.Context())
	id := chi.URLParam(r, "sessionID")

	session, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "ErrSessionNotFound")
		} else {
			slog.Error("get session", "id", id, "error", err)
			respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		}
		return model.Session{}, false
	}
	if session.StudentID != user.ID && user.Role != model.RoleAdmin {
		respondError(w, r, http.StatusForbidden, "ErrForbidden")
		return model.Session{}, false
	}
	return session, true
}

func (h *Handler) handleSessionView(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownSession(w, r)
	if !ok {
		return
	}
	view, err := h.sessionView(r.Context(), session)
	if err != nil {
		slog.Error("build session view", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	session, ok := h.ownSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrEmptyResponse")
		return
	}

	updated, err := h.engine.SubmitAnswer(r.Context(), session, req.Response)
	if err != nil {
		switch {
		case errors.Is(err, tutor.ErrEmptyResponse):
			respondError(w, r, http.StatusBadRequest, "ErrEmptyResponse")
		case errors.Is(err, tutor.ErrSessionFinished):
			respondError(w, r, http.StatusConflict, "ErrSessionFinished")
		case errors.Is(err, tutor.ErrSubmissionInProgress):
			respondError(w, r, http.StatusConflict, "ErrSubmissionInProgress")
		default:
			slog.Error("submit answer", "session", session.ID.Value, "error", err)
			respondError(w, r, http.StatusBadGateway, "ErrOracleUnavailable")
		}
		return
	}

	view, err := h.sessionView(r.Context(), updated)
	if err != nil {
		slog.Error("build session view", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	resp := map[string]any{
		"session": view,
		"record":  updated.Records[len(updated.Records)-1],
	}
	if updated.Status == model.StatusFinished {
		resp["message"] = appI18n.Td(r.Context(), "SessionFinished", map[string]any{
			"Score": updated.TotalScore,
			"Max":   oracle.MaxStageScore * model.StageCount,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
