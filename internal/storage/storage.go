package storage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/casetutor/casetutor/internal/model"
)

// ErrNotFound is returned when an entity does not exist in the active backend.
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
)

// Backend is the CRUD contract both stores implement. Every read returns
// entities in the canonical model shapes; backend-specific naming (snake_case
// columns, storage keys) stays inside the implementation.
type Backend interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	DeleteUser(ctx context.Context, id string) error

	ListCases(ctx context.Context) ([]model.ClinicalCase, error)
	SaveCase(ctx context.Context, c model.ClinicalCase) (model.ClinicalCase, error)
	DeleteCase(ctx context.Context, id string) error

	ListSessions(ctx context.Context) ([]model.Session, error)
	ListSessionsForStudent(ctx context.Context, studentID string) ([]model.Session, error)
	UpsertSession(ctx context.Context, s model.Session) (model.Session, error)
}

// Adapter fronts the configured primary backend with the local store as a
// fallback. The selection happens once at construction; call sites never
// branch on which backend is active.
//
// Failure policy: reads degrade to the local store (and ultimately to empty
// results) so the client can still render; user/case create and delete
// failures are surfaced to the caller; session and case upserts fall back to
// the local store with a logged warning, since losing a student's progress is
// worse than a temporary split brain.
type Adapter struct {
	remote Backend // nil when no remote store is configured
	local  *LocalBackend
}

// NewAdapter wires the adapter. remote may be nil for local-only operation.
// An empty local store is seeded with a starter case so the application is
// usable with zero configuration.
func NewAdapter(remote Backend, local *LocalBackend) (*Adapter, error) {
	a := &Adapter{remote: remote, local: local}
	if err := a.seedLocal(context.Background()); err != nil {
		return nil, err
	}
	return a, nil
}

// RemoteConfigured reports whether a remote backend is active.
func (a *Adapter) RemoteConfigured() bool {
	return a.remote != nil
}

func (a *Adapter) ListUsers(ctx context.Context) ([]model.User, error) {
	if a.remote != nil {
		users, err := a.remote.ListUsers(ctx)
		if err == nil {
			return users, nil
		}
		slog.Warn("remote user list failed, degrading to local", "error", err)
	}
	users, err := a.local.ListUsers(ctx)
	if err != nil {
		slog.Warn("local user list failed, returning empty", "error", err)
		return []model.User{}, nil
	}
	return users, nil
}

func (a *Adapter) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if a.remote != nil {
		return a.remote.CreateUser(ctx, u)
	}
	return a.local.CreateUser(ctx, u)
}

func (a *Adapter) DeleteUser(ctx context.Context, id string) error {
	if a.remote != nil {
		return a.remote.DeleteUser(ctx, id)
	}
	return a.local.DeleteUser(ctx, id)
}

func (a *Adapter) ListCases(ctx context.Context) ([]model.ClinicalCase, error) {
	if a.remote != nil {
		cases, err := a.remote.ListCases(ctx)
		if err == nil {
			return cases, nil
		}
		slog.Warn("remote case list failed, degrading to local", "error", err)
	}
	cases, err := a.local.ListCases(ctx)
	if err != nil {
		slog.Warn("local case list failed, returning empty", "error", err)
		return []model.ClinicalCase{}, nil
	}
	return cases, nil
}

// GetCase returns a case by id.
func (a *Adapter) GetCase(ctx context.Context, id string) (model.ClinicalCase, error) {
	cases, err := a.ListCases(ctx)
	if err != nil {
		return model.ClinicalCase{}, err
	}
	for _, c := range cases {
		if c.ID == id {
			return c, nil
		}
	}
	return model.ClinicalCase{}, ErrNotFound
}

// SaveCase creates or updates a case. A remote failure falls back to the
// local store so authored content is not lost.
func (a *Adapter) SaveCase(ctx context.Context, c model.ClinicalCase) (model.ClinicalCase, error) {
	if a.remote != nil {
		saved, err := a.remote.SaveCase(ctx, c)
		if err == nil {
			return saved, nil
		}
		slog.Warn("remote case save failed, writing to local store", "case_id", c.ID, "error", err)
	}
	return a.local.SaveCase(ctx, c)
}

func (a *Adapter) DeleteCase(ctx context.Context, id string) error {
	if a.remote != nil {
		return a.remote.DeleteCase(ctx, id)
	}
	return a.local.DeleteCase(ctx, id)
}

func (a *Adapter) ListSessions(ctx context.Context) ([]model.Session, error) {
	if a.remote != nil {
		sessions, err := a.remote.ListSessions(ctx)
		if err == nil {
			return sessions, nil
		}
		slog.Warn("remote session list failed, degrading to local", "error", err)
	}
	sessions, err := a.local.ListSessions(ctx)
	if err != nil {
		slog.Warn("local session list failed, returning empty", "error", err)
		return []model.Session{}, nil
	}
	return sessions, nil
}

func (a *Adapter) ListSessionsForStudent(ctx context.Context, studentID string) ([]model.Session, error) {
	if a.remote != nil {
		sessions, err := a.remote.ListSessionsForStudent(ctx, studentID)
		if err == nil {
			return sessions, nil
		}
		slog.Warn("remote session list failed, degrading to local", "student_id", studentID, "error", err)
	}
	sessions, err := a.local.ListSessionsForStudent(ctx, studentID)
	if err != nil {
		slog.Warn("local session list failed, returning empty", "error", err)
		return []model.Session{}, nil
	}
	return sessions, nil
}

// GetSession returns a session by id value.
func (a *Adapter) GetSession(ctx context.Context, idValue string) (model.Session, error) {
	sessions, err := a.ListSessions(ctx)
	if err != nil {
		return model.Session{}, err
	}
	for _, s := range sessions {
		if s.ID.Value == idValue {
			return s, nil
		}
	}
	return model.Session{}, ErrNotFound
}

// UpsertSession persists a session and returns the stored copy, which may
// carry a backend-assigned id when the input had a local one. A remote
// failure falls back to the local store; the fallback is logged because it
// creates a split brain between the two stores.
func (a *Adapter) UpsertSession(ctx context.Context, s model.Session) (model.Session, error) {
	if a.remote != nil {
		saved, err := a.remote.UpsertSession(ctx, s)
		if err == nil {
			return saved, nil
		}
		slog.Warn("remote session upsert failed, writing to local store",
			"session_id", s.ID.Value, "student_id", s.StudentID, "error", err)
	}
	return a.local.UpsertSession(ctx, s)
}

// Local exposes the local backend for concerns that always live locally
// (auth sessions, import bookkeeping).
func (a *Adapter) Local() *LocalBackend {
	return a.local
}

func (a *Adapter) seedLocal(ctx context.Context) error {
	cases, err := a.local.ListCases(ctx)
	if err != nil {
		return err
	}
	if len(cases) > 0 {
		return nil
	}
	if _, err := a.local.SaveCase(ctx, seedCase()); err != nil {
		return err
	}
	slog.Info("seeded local store with starter case")
	return nil
}
