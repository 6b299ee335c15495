package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	appI18n "github.com/casetutor/casetutor/internal/i18n"
	"github.com/casetutor/casetutor/internal/model"
	"github.com/casetutor/casetutor/internal/storage"
)

const sessionCookieName = "session"

// requireAuth is middleware that checks for a valid session cookie.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			respondError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		authSess, err := h.store.Local().GetAuthSession(cookie.Value)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			respondError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}
		if authSess == nil {
			respondError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		user, err := h.userByID(r, authSess.UserID)
		if err != nil || user == nil {
			respondError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has one of the allowed roles.
func requireRole(allowed ...model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := model.UserFromContext(r.Context())
			if user == nil {
				respondError(w, r, http.StatusUnauthorized, "ErrUnauthorized")
				return
			}
			for _, role := range allowed {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, r, http.StatusForbidden, "ErrForbidden")
		})
	}
}

func (h *Handler) userByID(r *http.Request, id string) (*model.User, error) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].ID == id {
			return &users[i], nil
		}
	}
	return nil, nil
}

func (h *Handler) userByEmail(r *http.Request, email string) (*model.User, error) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		return nil, err
	}
	for i := range users {
		if strings.EqualFold(users[i].Email, email) {
			return &users[i], nil
		}
	}
	return nil, nil
}

type credentials struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	ClassGroup string `json:"classGroup"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidCredentials")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidCredentials")
		return
	}

	existing, err := h.userByEmail(r, req.Email)
	if err != nil {
		slog.Error("lookup user", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if existing != nil {
		respondError(w, r, http.StatusConflict, "ErrEmailTaken")
		return
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
		Role:         model.RoleStudent,
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

	h.startAuthSession(w, r, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, r, http.StatusBadRequest, "ErrInvalidCredentials")
		return
	}

	user, err := h.userByEmail(r, strings.TrimSpace(strings.ToLower(req.Email)))
	if err != nil {
		slog.Error("lookup user", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}
	if user == nil {
		respondError(w, r, http.StatusUnauthorized, "ErrInvalidCredentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		respondError(w, r, http.StatusUnauthorized, "ErrInvalidCredentials")
		return
	}

	h.startAuthSession(w, r, *user)
}

func (h *Handler) startAuthSession(w http.ResponseWriter, r *http.Request, user model.User) {
	token, err := h.store.Local().CreateAuthSession(user.ID)
	if err != nil {
		slog.Error("failed to create auth session", "error", err)
		respondError(w, r, http.StatusInternalServerError, "ErrInternal")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	respondJSON(w, http.StatusOK, map[string]any{
		"user":    user,
		"message": appI18n.Td(r.Context(), "WelcomeBack", map[string]any{"Name": user.Name}),
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil && cookie.Value != "" {
		_ = h.store.Local().DeleteAuthSession(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	user := model.UserFromContext(r.Context())
	respondJSON(w, http.StatusOK, map[string]any{"user": user})
}
