package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/go-chi/chi/v5"

	"github.com/casetutor/casetutor/internal/caseimport"
	appI18n "github.com/casetutor/casetutor/internal/i18n"
	"github.com/casetutor/casetutor/internal/model"
	"github.com/casetutor/casetutor/internal/storage"
	"github.com/casetutor/casetutor/internal/tutor"
)

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		credentials
		Role model.UserRole `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidCredentials")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidCredentials")
		return
	}
	role := req.Role
	if role != model.RoleAdmin {
		role = model.RoleStudent
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		slog.Error("failed to hash password", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = req.Email
	}
	user, err := h.store.CreateUser(r.Context(), model.User{
		Email:        req.Email,
		Name:         name,
		Role:         role,
		PasswordHash: string(hash),
		ClassGroup:   strings.TrimSpace(req.ClassGroup),
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateEmail) {
			respondError(w, r, http.StatusConflict, "ErrEmailTaken")
			return
		}
		slog.Error("failed to create user", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"user": user})
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "userID")
	if err := h.store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "ErrInternal")
			return
		}
		slog.Error("failed to delete user", "id", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) handleListCases(w http.ResponseWriter, r *http.Request) {
	cases, err := h.store.ListCases(r.Context())
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (h *Handler) handleSaveCase(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrImportNoCases")
		return
	}
	cases, err := caseimport.ParseJSON(body)
	if err != nil || len(cases) != 1 {
		respondError(w, r, http.StatusBadRequest, "ErrImportNoCases")
		return
	}
	c := cases[0]
	if err := caseimport.Validate(c); err != nil {
		slog.Warn("rejected case", "title", c.Title, "error", err)
		respondError(w, r, http.StatusBadRequest, "ErrImportNoCases")
		return
	}

	saved, err := h.store.SaveCase(r.Context(), c)
	if err != nil {
		slog.Error("failed to save case", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"case": saved})
}

func (h *Handler) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "caseID")
	if err := h.store.DeleteCase(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "ErrCaseNotFound")
			return
		}
		slog.Error("failed to delete case", "id", id, "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleImportCases ingests an uploaded case bank file. Re-uploading an
// unchanged file is detected by content hash and skipped.
func (h *Handler) handleImportCases(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrImportNoCases")
		return
	}

	file, header, err := r.FormFile("cases_file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrImportNoCases")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	hashBytes := sha256.Sum256(data)
	hash := hex.EncodeToString(hashBytes[:])

	storedHash, err := h.store.Local().GetImportedFileHash(header.Filename)
	if err != nil {
		slog.Error("failed to check import status", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if storedHash == hash {
		respondJSON(w, http.StatusOK, map[string]any{
			"imported": 0,
			"message":  appI18n.T(r.Context(), "ImportSkippedDuplicate"),
		})
		return
	}

	cases, err := caseimport.Parse(header.Filename, data)
	if err != nil {
		slog.Warn("case import rejected", "filename", header.Filename, "error", err)
		respondError(w, r, http.StatusBadRequest, "ErrImportNoCases")
		return
	}

	for _, c := range cases {
		if _, err := h.store.SaveCase(r.Context(), c); err != nil {
			slog.Error("failed to save imported case", "title", c.Title, "error", err)
			respondError(w, r, http.StatusInternalServerError, "ErrInternal")
			return
		}
	}

	if err := h.store.Local().SetImportedFileHash(header.Filename, hash); err != nil {
		slog.Error("failed to record import", "error", err)
	}

	slog.Info("imported case bank", "filename", header.Filename, "count", len(cases))
	respondJSON(w, http.StatusOK, map[string]any{
		"imported": len(cases),
		"message":  appI18n.Tp(r.Context(), "ImportedCases", len(cases)),
	})
}

func (h *Handler) handleListAllSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type studentStats struct {
	Email        string   `json:"email"`
	Name         string   `json:"name"`
	ClassGroup   string   `json:"classGroup"`
	SessionCount int      `json:"sessionCount"`
	Grade        *float64 `json:"grade"`
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	cases, err := h.store.ListCases(r.Context())
	if err != nil {
		slog.Error("failed to list cases", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		slog.Error("failed to list sessions", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	byStudent := make(map[string][]model.Session)
	for _, s := range sessions {
		byStudent[s.StudentID] = append(byStudent[s.StudentID], s)
	}

	var students []studentStats
	var studentUsers []model.User
	for _, u := range users {
		if u.Role != model.RoleStudent {
			continue
		}
		studentUsers = append(studentUsers, u)
		own := byStudent[u.ID]
		students = append(students, studentStats{
			Email:        u.Email,
			Name:         u.Name,
			ClassGroup:   u.ClassGroup,
			SessionCount: len(own),
			Grade:        tutor.StudentGrade(own),
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"overview":    tutor.Summarize(sessions),
		"cases":       tutor.CaseAverages(cases, sessions),
		"students":    students,
		"classGroups": tutor.ClassGroupAverages(studentUsers, byStudent),
	})
}
