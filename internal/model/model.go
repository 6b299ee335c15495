package model

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// RoleStudent is a student user role.
	RoleStudent UserRole = "student"
	// RoleAdmin is a teacher/admin user role.
	RoleAdmin UserRole = "admin"
)

// User represents a registered user.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	ClassGroup   string    `json:"classGroup,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// Difficulty represents case difficulty level.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// StageCount is the fixed number of stages in every clinical case.
const StageCount = 5

// CaseStage is one step of a clinical case: a vignette increment plus the
// question posed to the student.
type CaseStage struct {
	Index    int    `json:"index"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Question string `json:"question"`
}

// ClinicalCase is an authored case with an ordered sequence of exactly five
// stages. Stage indices are contiguous 0..4 and never reordered.
type ClinicalCase struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	Theme      string      `json:"theme"`
	Difficulty Difficulty  `json:"difficulty"`
	Tags       []string    `json:"tags"`
	Stages     []CaseStage `json:"stages"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// SessionStatus represents the status of a discussion session.
type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusFinished SessionStatus = "finished"
)

// IDOrigin tags where a session identifier was minted.
type IDOrigin string

const (
	// IDOriginLocal marks an identifier generated before the backend
	// confirmed the session.
	IDOriginLocal IDOrigin = "local-temp"
	// IDOriginBackend marks an identifier assigned by the storage backend.
	IDOriginBackend IDOrigin = "backend-assigned"
)

// SessionID is an identifier with an explicit origin tag. The origin decides
// whether a write is an insert (local) or an update (backend-assigned);
// nothing ever inspects the string shape of Value.
type SessionID struct {
	Origin IDOrigin `json:"origin"`
	Value  string   `json:"value"`
}

// NewLocalSessionID mints a temporary local identifier.
func NewLocalSessionID() SessionID {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return SessionID{Origin: IDOriginLocal, Value: "tmp-" + hex.EncodeToString(b)}
}

// BackendSessionID wraps a backend-assigned identifier.
func BackendSessionID(value string) SessionID {
	return SessionID{Origin: IDOriginBackend, Value: value}
}

// SessionStageRecord is one answered stage. Immutable once appended.
type SessionStageRecord struct {
	StageIndex      int       `json:"stageIndex"`
	StudentResponse string    `json:"studentResponse"`
	Feedback        string    `json:"feedback"`
	Score           int       `json:"score"`
	Justification   string    `json:"justification,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Session is one student's attempt at one case.
//
// CurrentStageIndex means "next open stage" while active and "last answered
// stage" once finished: it is never advanced past the final stage, so a
// finished five-stage session has index 4 and five records.
type Session struct {
	ID                SessionID            `json:"id"`
	StudentID         string               `json:"studentId"`
	CaseID            string               `json:"caseId"`
	Status            SessionStatus        `json:"status"`
	CurrentStageIndex int                  `json:"currentStageIndex"`
	TotalScore        int                  `json:"totalScore"`
	Records           []SessionStageRecord `json:"records"`
	CreatedAt         time.Time            `json:"createdAt"`
	FinishedAt        *time.Time           `json:"finishedAt,omitempty"`
}

// AnsweredStages returns how many stages have been answered.
func (s Session) AnsweredStages() int {
	return len(s.Records)
}

// Clone returns a deep copy of the session so state machine updates never
// reach the caller's copy before persistence succeeds.
func (s Session) Clone() Session {
	out := s
	out.Records = make([]SessionStageRecord, len(s.Records))
	copy(out.Records, s.Records)
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	return out
}
