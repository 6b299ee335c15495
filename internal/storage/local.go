package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/casetutor/casetutor/internal/model"

	_ "modernc.org/sqlite"
)

// Namespaced collection keys. Each value is a JSON-serialized ordered list,
// matching the canonical entity shapes with no translation.
const (
	collUsers    = "casetutor_users"
	collCases    = "casetutor_cases"
	collSessions = "casetutor_sessions"
)

// LocalBackend is the fallback store: three JSON collections in a sqlite
// key-value table, plus auth sessions and import bookkeeping that always
// live locally regardless of the configured primary backend.
type LocalBackend struct {
	db *sql.DB
	mu sync.Mutex
}

// NewLocal opens (or creates) the local store at dbPath.
func NewLocal(dbPath string) (*LocalBackend, error) {
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping local store: %w", err)
	}
	b := &LocalBackend{db: db}
	if err := b.migrate(); err != nil {
		return nil, fmt.Errorf("migrate local store: %w", err)
	}
	return b, nil
}

func (b *LocalBackend) Close() error {
	return b.db.Close()
}

func (b *LocalBackend) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS auth_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := b.db.Exec(schema)
	return err
}

func readColl[T any](b *LocalBackend, key string) ([]T, error) {
	var raw string
	err := b.db.QueryRow(`SELECT value FROM collections WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var items []T
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decode collection %s: %w", key, err)
	}
	return items, nil
}

func writeColl[T any](b *LocalBackend, key string, items []T) error {
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode collection %s: %w", key, err)
	}
	_, err = b.db.Exec(
		`INSERT INTO collections (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = ?`,
		key, string(raw), string(raw),
	)
	return err
}

func (b *LocalBackend) ListUsers(_ context.Context) ([]model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return readColl[model.User](b, collUsers)
}

func (b *LocalBackend) CreateUser(_ context.Context, u model.User) (model.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	users, err := readColl[model.User](b, collUsers)
	if err != nil {
		return model.User{}, err
	}
	for _, existing := range users {
		if existing.Email == u.Email {
			return model.User{}, fmt.Errorf("create user %s: %w", u.Email, ErrDuplicateEmail)
		}
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	users = append(users, u)
	if err := writeColl(b, collUsers, users); err != nil {
		return model.User{}, err
	}
	return u, nil
}

func (b *LocalBackend) DeleteUser(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	users, err := readColl[model.User](b, collUsers)
	if err != nil {
		return err
	}
	kept := users[:0]
	found := false
	for _, u := range users {
		if u.ID == id {
			found = true
			continue
		}
		kept = append(kept, u)
	}
	if !found {
		return ErrNotFound
	}
	return writeColl(b, collUsers, kept)
}

func (b *LocalBackend) ListCases(_ context.Context) ([]model.ClinicalCase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cases, err := readColl[model.ClinicalCase](b, collCases)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(cases, func(i, j int) bool {
		return cases[i].CreatedAt.After(cases[j].CreatedAt)
	})
	return cases, nil
}

func (b *LocalBackend) SaveCase(_ context.Context, c model.ClinicalCase) (model.ClinicalCase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cases, err := readColl[model.ClinicalCase](b, collCases)
	if err != nil {
		return model.ClinicalCase{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	replaced := false
	for i, existing := range cases {
		if existing.ID == c.ID {
			cases[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		cases = append(cases, c)
	}
	if err := writeColl(b, collCases, cases); err != nil {
		return model.ClinicalCase{}, err
	}
	return c, nil
}

func (b *LocalBackend) DeleteCase(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cases, err := readColl[model.ClinicalCase](b, collCases)
	if err != nil {
		return err
	}
	kept := cases[:0]
	found := false
	for _, c := range cases {
		if c.ID == id {
			found = true
			continue
		}
		kept = append(kept, c)
	}
	if !found {
		return ErrNotFound
	}
	return writeColl(b, collCases, kept)
}

func (b *LocalBackend) ListSessions(_ context.Context) ([]model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return readColl[model.Session](b, collSessions)
}

func (b *LocalBackend) ListSessionsForStudent(_ context.Context, studentID string) ([]model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessions, err := readColl[model.Session](b, collSessions)
	if err != nil {
		return nil, err
	}
	var out []model.Session
	for _, s := range sessions {
		if s.StudentID == studentID {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpsertSession stores the session as-is. The local store is schema-free, so
// a local-temp id is kept rather than replaced; sessions later confirmed by a
// remote backend arrive with their backend-assigned id and simply coexist.
func (b *LocalBackend) UpsertSession(_ context.Context, s model.Session) (model.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sessions, err := readColl[model.Session](b, collSessions)
	if err != nil {
		return model.Session{}, err
	}
	replaced := false
	for i, existing := range sessions {
		if existing.ID.Value == s.ID.Value {
			sessions[i] = s
			replaced = true
			break
		}
	}
	if !replaced {
		sessions = append(sessions, s)
	}
	if err := writeColl(b, collSessions, sessions); err != nil {
		return model.Session{}, err
	}
	return s, nil
}
